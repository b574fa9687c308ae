// Package translate maps canonical events onto the remote calendar's event
// representation.
package translate

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tazhate/calmirror/internal/domain"
	"github.com/tazhate/calmirror/internal/tzname"
)

const (
	remoteDateLayout = "2006-01-02"
	icalDateLayout   = "20060102"
	icalLocalLayout  = "20060102T150405"
	icalUTCLayout    = "20060102T150405Z"
	quirkEndHour     = 23
	transparentValue = "transparent"
	opaqueValue      = "opaque"
)

// DateTime is either an all-day Date or a DateTime with its IANA zone.
type DateTime struct {
	Date     string
	DateTime string
	TimeZone string
}

// Body is the remote representation of one event.
type Body struct {
	Identity     string
	Summary      string
	Description  string
	Location     string
	Start        DateTime
	End          DateTime
	AllDay       bool
	Transparency string
	Status       string
	// Recurrence holds RRULE and EXDATE lines for masters.
	Recurrence []string
}

// Translator converts canonical events. Its default zone is used when
// neither the rule nor the event declares one.
type Translator struct {
	defaultZone *time.Location
}

// New creates a translator.
func New(defaultZone *time.Location) *Translator {
	if defaultZone == nil {
		defaultZone = time.UTC
	}
	return &Translator{defaultZone: defaultZone}
}

// Body translates e. For masters, exclusions are the dates of linked
// exceptions; they are merged with the master's own excluded dates.
func (t *Translator) Body(e *domain.CanonicalEvent, exclusions []time.Time) Body {
	loc := t.Zone(e)
	f := e.Fields

	body := Body{
		Identity:     e.Identity,
		Summary:      f.Title,
		Description:  f.Description,
		Location:     f.Location,
		Status:       strings.ToLower(f.Status),
		Transparency: opaqueValue,
	}
	if f.Transparent {
		body.Transparency = transparentValue
	}
	if body.Status == "" {
		body.Status = strings.ToLower(domain.StatusConfirmed)
	}

	body.AllDay = IsAllDay(f, t.eventZone(e))
	if body.AllDay {
		first, last := allDaySpan(f, t.eventZone(e))
		body.Start = DateTime{Date: first.Format(remoteDateLayout)}
		// The remote end date is exclusive.
		body.End = DateTime{Date: last.AddDate(0, 0, 1).Format(remoteDateLayout)}
	} else {
		end := f.End.Time
		if end.Before(f.Start.Time) || end.IsZero() {
			end = f.Start.Time
		}
		body.Start = DateTime{DateTime: f.Start.Time.In(loc).Format(time.RFC3339), TimeZone: loc.String()}
		body.End = DateTime{DateTime: end.In(loc).Format(time.RFC3339), TimeZone: loc.String()}
	}

	if e.IsMaster() && e.Rule != nil {
		all := append(append([]time.Time(nil), e.ExcludedDates...), exclusions...)
		body.Recurrence = t.Recurrence(e.Rule, body.AllDay, loc, all)
	}
	return body
}

// Zone resolves the zone of e: rule zone, then the event's own zone, then
// the default zone.
func (t *Translator) Zone(e *domain.CanonicalEvent) *time.Location {
	if e.Rule != nil && e.Rule.TZID != "" {
		if loc, err := tzname.Load(e.Rule.TZID); err == nil {
			return loc
		}
	}
	return t.eventZone(e)
}

func (t *Translator) eventZone(e *domain.CanonicalEvent) *time.Location {
	for _, name := range []string{e.Fields.Start.TZID, e.Fields.End.TZID} {
		if name == "" {
			continue
		}
		if loc, err := tzname.Load(name); err == nil {
			return loc
		}
	}
	return t.defaultZone
}

// Recurrence renders the RRULE line followed by one EXDATE line per
// exclusion. EXDATEs use the rule's zone so the remote side matches them
// against the generated occurrences.
func (t *Translator) Recurrence(rule *domain.RecurrenceRule, allDay bool, loc *time.Location, exclusions []time.Time) []string {
	if loc == nil {
		loc = t.defaultZone
	}
	parts := []string{"FREQ=" + string(rule.Freq)}
	if rule.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(rule.Interval))
	}
	if len(rule.ByDay) > 0 {
		parts = append(parts, "BYDAY="+strings.Join(rule.ByDay, ","))
	}
	parts = append(parts, rule.Extra...)
	if rule.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(rule.Count))
	}
	if rule.Until != nil {
		parts = append(parts, "UNTIL="+untilValue(rule.Until, allDay, loc))
	}
	lines := []string{"RRULE:" + strings.Join(parts, ";")}

	seen := make(map[string]bool)
	var values []string
	for _, d := range exclusions {
		var v string
		if allDay {
			v = d.In(loc).Format(icalDateLayout)
		} else {
			v = d.In(loc).Format(icalLocalLayout)
		}
		if !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
	}
	sort.Strings(values)
	for _, v := range values {
		if allDay {
			lines = append(lines, "EXDATE;VALUE=DATE:"+v)
		} else {
			lines = append(lines, "EXDATE;TZID="+loc.String()+":"+v)
		}
	}
	return lines
}

// untilValue keeps the declared clock time. A floating or date-only UNTIL is
// read in the rule's zone before converting to UTC; appending "Z" to the raw
// value would move the last occurrence across a day boundary.
func untilValue(u *domain.Until, allDay bool, loc *time.Location) string {
	if allDay {
		if u.UTC && !u.DateOnly {
			return u.Time.In(loc).Format(icalDateLayout)
		}
		return u.Time.Format(icalDateLayout)
	}
	if u.UTC {
		return u.Time.UTC().Format(icalUTCLayout)
	}
	y, m, d := u.Time.Date()
	h, mi, s := u.Time.Clock()
	if u.DateOnly {
		h, mi, s = 23, 59, 59
	}
	return time.Date(y, m, d, h, mi, s, 0, loc).UTC().Format(icalUTCLayout)
}

// IsAllDay reports whether f should be sent as an all-day event: date-only
// values, midnight-to-midnight spans, whole multiples of 24 hours and the
// single-day 00:00-23:00 block some feeds emit around DST changes.
func IsAllDay(f domain.Fields, loc *time.Location) bool {
	if f.Start.DateOnly {
		return true
	}
	start := f.Start.Time.In(loc)
	end := f.End.Time.In(loc)
	d := end.Sub(start)
	if d <= 0 {
		return false
	}
	if isMidnight(start) && isMidnight(end) {
		return true
	}
	if d%(24*time.Hour) == 0 {
		return true
	}
	return isMidnight(start) && sameDate(start, end) &&
		end.Hour() == quirkEndHour && end.Minute() == 0 && end.Second() == 0
}

// allDaySpan returns the first and last covered day (inclusive) in loc.
func allDaySpan(f domain.Fields, loc *time.Location) (time.Time, time.Time) {
	if f.Start.DateOnly {
		first := dateOf(f.Start.Time)
		last := dateOf(f.End.Time)
		if f.End.IsZero() || last.Before(first) {
			last = first
		}
		return first, last
	}
	start := f.Start.Time.In(loc)
	end := f.End.Time.In(loc)
	first := dateOf(start)
	last := dateOf(end)
	if isMidnight(end) {
		last = last.AddDate(0, 0, -1)
	}
	if last.Before(first) {
		last = first
	}
	return first, last
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
