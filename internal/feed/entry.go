package feed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"go.uber.org/zap"

	"github.com/tazhate/calmirror/internal/domain"
	"github.com/tazhate/calmirror/internal/tzname"
)

// utcZone is the declared zone of values written with a trailing "Z".
const utcZone = "UTC"

// Entry is one VEVENT after vendor differences have been normalized away.
type Entry struct {
	UID          string
	Summary      string
	Description  string
	Location     string
	Status       string
	Transparent  bool
	Start        domain.EventTime
	End          domain.EventTime
	RRule        string
	ExDates      []time.Time
	Sequence     *int
	LastModified *time.Time
	Organizer    string
	Attendees    []Attendee

	// RecurrenceID is the raw occurrence reference of an override.
	RecurrenceID *ical.Prop
	// Overrides are VEVENTs nested inside a master.
	Overrides []Entry
	// OverrideErrors holds nested overrides that could not be parsed.
	OverrideErrors []error
}

// Attendee is an ATTENDEE line reduced to address and participation status.
type Attendee struct {
	Email    string
	PartStat string
}

// IsOverride reports whether the entry replaces one occurrence of a series.
func (e *Entry) IsOverride() bool {
	return e.RecurrenceID != nil
}

// PartStatOf returns the participation status of email, or "" if not invited.
func (e *Entry) PartStatOf(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range e.Attendees {
		if a.Email == email {
			return a.PartStat
		}
	}
	return ""
}

// adapter converts go-ical components into entries. It lives for one
// resolve pass and counts what it had to approximate.
type adapter struct {
	defaultLoc *time.Location
	logger     *zap.Logger

	unknownZones   map[string]bool
	skippedExDates int
}

func newAdapter(defaultLoc *time.Location, logger *zap.Logger) *adapter {
	return &adapter{
		defaultLoc:   defaultLoc,
		logger:       logger,
		unknownZones: make(map[string]bool),
	}
}

// zone resolves a TZID parameter. Unknown names fall back to the default
// location and are reported once per pass.
func (a *adapter) zone(raw string) (*time.Location, string) {
	loc, err := tzname.Load(raw)
	if err == nil {
		return loc, loc.String()
	}
	if !a.unknownZones[raw] {
		a.unknownZones[raw] = true
		a.logger.Warn("unknown timezone, using default",
			zap.String("tzid", raw),
			zap.String("default", a.defaultLoc.String()))
	}
	return a.defaultLoc, ""
}

func (a *adapter) entry(comp *ical.Component, parentUID string) (Entry, error) {
	var e Entry

	e.UID = propText(comp, ical.PropUID)
	if e.UID == "" {
		e.UID = parentUID
	}
	e.Summary = propText(comp, ical.PropSummary)
	e.Description = propText(comp, ical.PropDescription)
	e.Location = propText(comp, ical.PropLocation)
	e.Status = strings.ToUpper(propText(comp, ical.PropStatus))
	if e.Status == "" {
		e.Status = domain.StatusConfirmed
	}
	e.Transparent = strings.EqualFold(propText(comp, ical.PropTransparency), "TRANSPARENT")
	e.RRule = propText(comp, ical.PropRecurrenceRule)
	e.Organizer = mailAddress(propText(comp, ical.PropOrganizer))

	if v := propText(comp, ical.PropSequence); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			e.Sequence = &n
		}
	}
	if prop := comp.Props.Get(ical.PropLastModified); prop != nil {
		if t, err := a.parseTime(prop); err == nil {
			modified := t.Time.UTC()
			e.LastModified = &modified
		}
	}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return e, fmt.Errorf("missing DTSTART")
	}
	start, err := a.parseTime(startProp)
	if err != nil {
		return e, fmt.Errorf("DTSTART: %w", err)
	}
	e.Start = start

	end, err := a.endTime(comp, start)
	if err != nil {
		return e, err
	}
	e.End = end

	for _, prop := range comp.Props.Values(ical.PropAttendee) {
		e.Attendees = append(e.Attendees, Attendee{
			Email:    mailAddress(prop.Value),
			PartStat: strings.ToUpper(prop.Params.Get("PARTSTAT")),
		})
	}

	for _, prop := range comp.Props.Values(ical.PropExceptionDates) {
		for _, value := range strings.Split(prop.Value, ",") {
			single := ical.NewProp(ical.PropExceptionDates)
			single.Params = prop.Params
			single.Value = strings.TrimSpace(value)
			t, err := a.parseTime(single)
			if err != nil {
				a.skippedExDates++
				a.logger.Warn("unparseable EXDATE skipped",
					zap.String("uid", e.UID),
					zap.String("value", single.Value),
					zap.Error(err))
				continue
			}
			e.ExDates = append(e.ExDates, t.Time)
		}
	}

	if prop := comp.Props.Get(ical.PropRecurrenceID); prop != nil {
		e.RecurrenceID = prop
	}

	for _, child := range comp.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		override, err := a.entry(child, e.UID)
		if err != nil {
			e.OverrideErrors = append(e.OverrideErrors, fmt.Errorf("nested override: %w", err))
			continue
		}
		if !override.IsOverride() {
			continue
		}
		e.Overrides = append(e.Overrides, override)
	}

	return e, nil
}

// endTime resolves DTEND or DURATION. Date-only ends are converted from the
// exclusive iCalendar form to the last included day.
func (a *adapter) endTime(comp *ical.Component, start domain.EventTime) (domain.EventTime, error) {
	end := start
	if prop := comp.Props.Get(ical.PropDateTimeEnd); prop != nil {
		t, err := a.parseTime(prop)
		if err != nil {
			return end, fmt.Errorf("DTEND: %w", err)
		}
		end = t
	} else if v := propText(comp, ical.PropDuration); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return end, fmt.Errorf("DURATION: %w", err)
		}
		end.Time = start.Time.Add(d)
	} else if start.DateOnly {
		end.Time = start.Time.AddDate(0, 0, 1)
	}

	if start.DateOnly {
		end.DateOnly = true
		last := end.Time.AddDate(0, 0, -1)
		if last.Before(start.Time) {
			last = start.Time
		}
		end.Time = last
	}
	return end, nil
}

var timeLayouts = []string{
	"20060102T150405",
	"2006-01-02T15:04:05",
	"20060102T1504",
}

// parseTime reads DATE, DATE-TIME (UTC, zoned, floating) and a few vendor
// variants. UTC values carry "UTC" as their declared zone.
func (a *adapter) parseTime(prop *ical.Prop) (domain.EventTime, error) {
	value := strings.TrimSpace(prop.Value)
	if value == "" {
		return domain.EventTime{}, fmt.Errorf("empty value")
	}

	loc := a.defaultLoc
	tzid := ""
	if raw := prop.Params.Get(ical.ParamTimezoneID); raw != "" {
		loc, tzid = a.zone(raw)
	}

	isDate := strings.EqualFold(prop.Params.Get(ical.ParamValue), string(ical.ValueDate)) ||
		!strings.Contains(value, "T")
	if isDate {
		for _, layout := range []string{"20060102", domain.DateLayout} {
			if t, err := time.ParseInLocation(layout, value, loc); err == nil {
				return domain.EventTime{Time: t, DateOnly: true}, nil
			}
		}
		return domain.EventTime{}, fmt.Errorf("invalid date %q", value)
	}

	if strings.HasSuffix(value, "Z") {
		for _, layout := range []string{"20060102T150405Z", time.RFC3339} {
			if t, err := time.Parse(layout, value); err == nil {
				return domain.EventTime{Time: t.UTC(), TZID: utcZone}, nil
			}
		}
		return domain.EventTime{}, fmt.Errorf("invalid UTC date-time %q", value)
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return domain.EventTime{Time: t.In(loc), TZID: tzid}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return domain.EventTime{Time: t, TZID: tzid}, nil
		}
	}
	return domain.EventTime{}, fmt.Errorf("invalid date-time %q", value)
}

func propText(comp *ical.Component, name string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}
	return strings.TrimSpace(prop.Value)
}

func mailAddress(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.TrimPrefix(v, "mailto:")
}

// parseDuration handles the RFC 5545 dur-value subset used by feeds, e.g.
// "PT1H30M", "P1D", "P2W".
func parseDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(s, "-"):
		sign = -1
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'T':
			inTime = true
		default:
			n, err := strconv.Atoi(num)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			num = ""
			var unit time.Duration
			switch {
			case r == 'W' && !inTime:
				unit = 7 * 24 * time.Hour
			case r == 'D' && !inTime:
				unit = 24 * time.Hour
			case r == 'H' && inTime:
				unit = time.Hour
			case r == 'M' && inTime:
				unit = time.Minute
			case r == 'S' && inTime:
				unit = time.Second
			default:
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			total += time.Duration(n) * unit
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return sign * total, nil
}
