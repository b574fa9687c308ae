package domain

import (
	"sort"
	"time"
)

// Kind classifies a canonical event.
type Kind string

const (
	KindSingle             Kind = "single"
	KindRecurringMaster    Kind = "master"
	KindRecurringException Kind = "exception"
)

// Status values as they appear in the feed.
const (
	StatusConfirmed = "CONFIRMED"
	StatusTentative = "TENTATIVE"
	StatusCancelled = "CANCELLED"
)

// DateLayout is the layout used for date-only values.
const DateLayout = "2006-01-02"

// EventTime is either a timestamp or a date-only marker.
type EventTime struct {
	Time     time.Time
	DateOnly bool
	TZID     string // declared zone, "UTC" for Z values, empty for floating values
}

// IsZero reports whether the time is unset.
func (t EventTime) IsZero() bool {
	return t.Time.IsZero()
}

// Date returns the calendar date of t in its own location.
func (t EventTime) Date() string {
	return t.Time.Format(DateLayout)
}

// Fields holds the sync-relevant content of an event.
//
// For date-only values End is the last day the event covers (inclusive).
type Fields struct {
	Title        string
	Description  string
	Location     string
	Start        EventTime
	End          EventTime
	Transparent  bool
	Status       string
	Sequence     *int
	LastModified *time.Time
}

// CanonicalEvent is one classified entry of a reconciliation run.
type CanonicalEvent struct {
	Identity string
	Kind     Kind
	Fields   Fields

	// Rule is set for recurring masters only.
	Rule *RecurrenceRule
	// ExcludedDates are occurrences the source itself cancelled (EXDATE on the master).
	ExcludedDates []time.Time

	// ExceptionOf and ExceptionDate are set for recurring exceptions only.
	ExceptionOf   string
	ExceptionDate time.Time

	Fingerprint string
}

// IsMaster reports whether e defines a recurring series.
func (e *CanonicalEvent) IsMaster() bool {
	return e.Kind == KindRecurringMaster
}

// IsException reports whether e overrides one occurrence of a series.
func (e *CanonicalEvent) IsException() bool {
	return e.Kind == KindRecurringException
}

// EventSet is the resolver output consumed by reconciliation.
type EventSet struct {
	Singles    []CanonicalEvent
	Masters    []CanonicalEvent
	Exceptions []CanonicalEvent
}

// Len returns the total number of events in the set.
func (s EventSet) Len() int {
	return len(s.Singles) + len(s.Masters) + len(s.Exceptions)
}

// Identities returns every identity present in the set.
func (s EventSet) Identities() map[string]struct{} {
	ids := make(map[string]struct{}, s.Len())
	for _, group := range [][]CanonicalEvent{s.Singles, s.Masters, s.Exceptions} {
		for _, e := range group {
			ids[e.Identity] = struct{}{}
		}
	}
	return ids
}

// ExceptionsByMaster groups exceptions by the identity of their master,
// each group ordered by exception date.
func (s EventSet) ExceptionsByMaster() map[string][]CanonicalEvent {
	grouped := make(map[string][]CanonicalEvent)
	for _, e := range s.Exceptions {
		grouped[e.ExceptionOf] = append(grouped[e.ExceptionOf], e)
	}
	for _, group := range grouped {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].ExceptionDate.Before(group[j].ExceptionDate)
		})
	}
	return grouped
}
