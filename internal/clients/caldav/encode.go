package caldav

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/tazhate/calmirror/internal/translate"
)

const remoteDateLayout = "2006-01-02"

// encode converts a remote body into a single-event calendar, preceded by a
// VTIMEZONE for each zone the event refers to.
func (c *Client) encode(body translate.Body) (*ical.Calendar, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, objectUID(body.Identity))
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, c.now().UTC())
	vevent.Props.SetText(ical.PropSummary, body.Summary)
	if body.Description != "" {
		vevent.Props.SetText(ical.PropDescription, body.Description)
	}
	if body.Location != "" {
		vevent.Props.SetText(ical.PropLocation, body.Location)
	}
	if body.Status != "" {
		vevent.Props.SetText(ical.PropStatus, strings.ToUpper(body.Status))
	}
	if body.Transparency != "" {
		vevent.Props.SetText(ical.PropTransparency, strings.ToUpper(body.Transparency))
	}

	if err := setTime(vevent, ical.PropDateTimeStart, body.Start); err != nil {
		return nil, err
	}
	if err := setTime(vevent, ical.PropDateTimeEnd, body.End); err != nil {
		return nil, err
	}

	for _, line := range body.Recurrence {
		prop, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		vevent.Props.Add(prop)
	}

	cal.Children = append(cal.Children, timezones(vevent.Component, startYear(body.Start, c.now()))...)
	cal.Children = append(cal.Children, vevent.Component)
	return cal, nil
}

func startYear(dt translate.DateTime, now time.Time) int {
	value := dt.DateTime
	if dt.Date != "" {
		value = dt.Date
	}
	if len(value) >= 4 {
		if y, err := strconv.Atoi(value[:4]); err == nil {
			return y
		}
	}
	return now.Year()
}

func setTime(vevent *ical.Event, name string, dt translate.DateTime) error {
	if dt.Date != "" {
		d, err := time.Parse(remoteDateLayout, dt.Date)
		if err != nil {
			return fmt.Errorf("parse %s date: %w", name, err)
		}
		vevent.Props.SetDate(name, d)
		return nil
	}
	t, err := time.Parse(time.RFC3339, dt.DateTime)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	if dt.TimeZone != "" {
		if loc, err := time.LoadLocation(dt.TimeZone); err == nil {
			t = t.In(loc)
		}
	}
	vevent.Props.SetDateTime(name, t)
	return nil
}

// parseLine turns a content line such as "EXDATE;TZID=Europe/Berlin:20250121T090000"
// into a property. Parameter values never contain ':' or ';' here.
func parseLine(line string) (*ical.Prop, error) {
	head, value, ok := strings.Cut(line, ":")
	if !ok {
		return nil, fmt.Errorf("malformed recurrence line %q", line)
	}
	parts := strings.Split(head, ";")
	prop := ical.NewProp(strings.ToUpper(parts[0]))
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("malformed parameter %q in %q", p, line)
		}
		prop.Params.Set(strings.ToUpper(k), v)
	}
	prop.Value = value
	return prop, nil
}
