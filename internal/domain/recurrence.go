package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Frequency of a recurrence rule.
type Frequency string

const (
	FreqDaily   Frequency = "DAILY"
	FreqWeekly  Frequency = "WEEKLY"
	FreqMonthly Frequency = "MONTHLY"
	FreqYearly  Frequency = "YEARLY"
)

const (
	untilUTCLayout   = "20060102T150405Z"
	untilLocalLayout = "20060102T150405"
	untilDateLayout  = "20060102"
)

// ErrUnsupportedRule is returned for recurrence rules outside the supported subset.
var ErrUnsupportedRule = errors.New("unsupported recurrence rule")

// Until is the last-occurrence bound of a rule.
type Until struct {
	// Time is in UTC when UTC is set, otherwise a wall clock in the rule's zone.
	Time     time.Time
	UTC      bool
	DateOnly bool
}

// RecurrenceRule is a normalized FREQ/INTERVAL/BYDAY/UNTIL descriptor.
type RecurrenceRule struct {
	Freq     Frequency
	Interval int
	ByDay    []string
	Until    *Until
	Count    int
	// Extra keeps other RRULE parts verbatim, e.g. "BYMONTHDAY=15" or "WKST=SU".
	Extra []string
	// TZID is the zone the rule was declared in (the master's DTSTART zone).
	TZID string
}

// ParseRecurrenceRule normalizes an RRULE value. Floating UNTIL values are
// read as wall-clock times in loc.
func ParseRecurrenceRule(raw, tzid string, loc *time.Location) (*RecurrenceRule, error) {
	if loc == nil {
		loc = time.UTC
	}
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "RRULE:")

	opt, err := rrule.StrToROptionInLocation(raw, loc)
	if err != nil {
		return nil, fmt.Errorf("parse rrule %q: %w", raw, err)
	}

	rule := &RecurrenceRule{
		Interval: opt.Interval,
		Count:    opt.Count,
		TZID:     tzid,
	}
	switch opt.Freq {
	case rrule.DAILY:
		rule.Freq = FreqDaily
	case rrule.WEEKLY:
		rule.Freq = FreqWeekly
	case rrule.MONTHLY:
		rule.Freq = FreqMonthly
	case rrule.YEARLY:
		rule.Freq = FreqYearly
	default:
		return nil, fmt.Errorf("%w: FREQ=%s", ErrUnsupportedRule, opt.Freq)
	}
	if rule.Interval <= 0 {
		rule.Interval = 1
	}
	for _, wd := range opt.Byweekday {
		rule.ByDay = append(rule.ByDay, wd.String())
	}

	for _, part := range strings.Split(raw, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToUpper(key) {
		case "FREQ", "INTERVAL", "BYDAY", "COUNT":
		case "UNTIL":
			rule.Until = &Until{
				Time:     opt.Until,
				UTC:      strings.HasSuffix(value, "Z"),
				DateOnly: len(value) == len(untilDateLayout),
			}
			if rule.Until.UTC {
				rule.Until.Time = rule.Until.Time.UTC()
			}
		default:
			rule.Extra = append(rule.Extra, strings.ToUpper(key)+"="+value)
		}
	}

	return rule, nil
}

// String renders the rule in RRULE grammar with a fixed part order. UNTIL is
// rendered exactly as declared (UTC, floating or date).
func (r *RecurrenceRule) String() string {
	if r == nil {
		return ""
	}
	parts := []string{"FREQ=" + string(r.Freq)}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if len(r.ByDay) > 0 {
		parts = append(parts, "BYDAY="+strings.Join(r.ByDay, ","))
	}
	parts = append(parts, r.Extra...)
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.raw())
	}
	return strings.Join(parts, ";")
}

func (u *Until) raw() string {
	switch {
	case u.DateOnly:
		return u.Time.Format(untilDateLayout)
	case u.UTC:
		return u.Time.UTC().Format(untilUTCLayout)
	default:
		return u.Time.Format(untilLocalLayout)
	}
}

// Occurrences expands the rule from dtstart and returns the occurrences in [from, to].
func (r *RecurrenceRule) Occurrences(dtstart, from, to time.Time) ([]time.Time, error) {
	opt, err := rrule.StrToROptionInLocation(r.String(), dtstart.Location())
	if err != nil {
		return nil, err
	}
	opt.Dtstart = dtstart
	if r.Until != nil && r.Until.DateOnly {
		// A date-only bound includes the whole day.
		opt.Until = opt.Until.AddDate(0, 0, 1).Add(-time.Second)
	}
	set, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, err
	}
	return set.Between(from, to, true), nil
}
