package caldav

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-ical"
)

const observanceLayout = "20060102T150405"

var icalWeekdays = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// transition is one offset change of a zone.
type transition struct {
	at       time.Time
	from, to int
	name     string
	dst      bool
}

// timezones returns a VTIMEZONE for every TZID parameter used in comp.
func timezones(comp *ical.Component, year int) []*ical.Component {
	names := make(map[string]bool)
	for _, props := range comp.Props {
		for _, prop := range props {
			if tzid := prop.Params.Get(ical.ParamTimezoneID); tzid != "" {
				names[tzid] = true
			}
		}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	var out []*ical.Component
	for _, name := range sorted {
		loc, err := time.LoadLocation(name)
		if err != nil {
			continue
		}
		out = append(out, vtimezone(name, loc, year))
	}
	return out
}

// vtimezone describes loc with one observance per offset change found in the
// year before year. Each observance repeats yearly on the same weekday of the
// month, which covers the zones that follow weekday-based DST rules.
func vtimezone(name string, loc *time.Location, year int) *ical.Component {
	tz := ical.NewComponent(ical.CompTimezone)
	tz.Props.SetText(ical.PropTimezoneID, name)

	changes := zoneTransitions(loc, year-1)
	if len(changes) == 0 {
		abbr, offset := time.Date(year, 1, 1, 0, 0, 0, 0, loc).Zone()
		epoch := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
		tz.Children = append(tz.Children, observance(ical.CompTimezoneStandard, epoch, offset, offset, abbr, ""))
		return tz
	}

	for _, tr := range changes {
		kind := ical.CompTimezoneStandard
		if tr.dst {
			kind = ical.CompTimezoneDaylight
		}
		wall := tr.at.Add(time.Duration(tr.from) * time.Second).UTC()
		tz.Children = append(tz.Children, observance(kind, wall, tr.from, tr.to, tr.name, yearlyRule(wall)))
	}
	return tz
}

func observance(kind string, wall time.Time, from, to int, abbr, rule string) *ical.Component {
	obs := ical.NewComponent(kind)
	setRaw(obs, ical.PropDateTimeStart, wall.Format(observanceLayout))
	setRaw(obs, ical.PropTimezoneOffsetFrom, utcOffset(from))
	setRaw(obs, ical.PropTimezoneOffsetTo, utcOffset(to))
	if abbr != "" {
		obs.Props.SetText(ical.PropTimezoneName, abbr)
	}
	if rule != "" {
		setRaw(obs, ical.PropRecurrenceRule, rule)
	}
	return obs
}

func setRaw(comp *ical.Component, name, value string) {
	prop := ical.NewProp(name)
	prop.Value = value
	comp.Props.Set(prop)
}

// zoneTransitions finds the offset changes of loc during year.
func zoneTransitions(loc *time.Location, year int) []transition {
	var out []transition
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	for day := start; day.Before(end); day = day.Add(24 * time.Hour) {
		next := day.Add(24 * time.Hour)
		_, before := day.In(loc).Zone()
		_, after := next.In(loc).Zone()
		if before == after {
			continue
		}
		lo, hi := day, next
		for hi.Sub(lo) > time.Second {
			mid := lo.Add(hi.Sub(lo) / 2)
			if _, off := mid.In(loc).Zone(); off == before {
				lo = mid
			} else {
				hi = mid
			}
		}
		at := hi.Truncate(time.Second)
		name, _ := at.In(loc).Zone()
		out = append(out, transition{at: at, from: before, to: after, name: name, dst: at.In(loc).IsDST()})
	}
	return out
}

// yearlyRule expresses the date of wall as "nth weekday of the month", using
// -1 for the last one.
func yearlyRule(wall time.Time) string {
	day := wall.Day()
	daysInMonth := time.Date(wall.Year(), wall.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	n := strconv.Itoa((day-1)/7 + 1)
	if day+7 > daysInMonth {
		n = "-1"
	}
	return fmt.Sprintf("FREQ=YEARLY;BYMONTH=%d;BYDAY=%s%s", int(wall.Month()), n, icalWeekdays[wall.Weekday()])
}

func utcOffset(seconds int) string {
	sign := "+"
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("%s%02d%02d", sign, seconds/3600, seconds/60%60)
}
