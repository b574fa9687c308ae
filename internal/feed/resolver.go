package feed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/tazhate/calmirror/internal/domain"
	"github.com/tazhate/calmirror/internal/fingerprint"
	"go.uber.org/zap"
)

// ErrNotCalendar is returned when the feed body is not iCalendar data.
var ErrNotCalendar = errors.New("feed is not an iCalendar document")

// ParseError describes an entry dropped because it could not be parsed.
type ParseError struct {
	UID string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse entry %s: %v", e.UID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Stats counts what the resolver did with the raw entries.
type Stats struct {
	Entries             int
	MissingUID          int
	ParseErrors         int
	Filtered            int
	Duplicates          int
	DateFallbacks       int
	UnmatchedExceptions int
	// UnknownZones counts distinct TZID values that fell back to the default zone.
	UnknownZones   int
	SkippedExDates int
}

// Resolution is the classified feed.
type Resolution struct {
	domain.EventSet
	Stats    Stats
	Problems []*ParseError
}

// Options configures a Resolver.
type Options struct {
	Filter Filter
	// DefaultZone is used for floating times and unknown zone names.
	DefaultZone *time.Location
	// IncludeFiltered keeps excluded entries. Only inspection tooling sets it.
	IncludeFiltered bool
	Logger          *zap.Logger
	Now             func() time.Time
}

// Resolver turns raw feed bytes into canonical events.
type Resolver struct {
	filter          Filter
	includeFiltered bool
	defaultZone     *time.Location
	logger          *zap.Logger
	now             func() time.Time
}

// NewResolver creates a resolver.
func NewResolver(opts Options) *Resolver {
	if opts.Filter == nil {
		opts.Filter = AllowAll{}
	}
	if opts.DefaultZone == nil {
		opts.DefaultZone = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		filter:          opts.Filter,
		includeFiltered: opts.IncludeFiltered,
		defaultZone:     opts.DefaultZone,
		logger:          opts.Logger,
		now:             opts.Now,
	}
}

// pendingException is an override waiting for its master to be known.
type pendingException struct {
	entry  Entry
	nested bool
}

type resolveRun struct {
	r          *Resolver
	adapter    *adapter
	res        *Resolution
	byIdentity map[string]int // index into tops
	tops       []domain.CanonicalEvent
	pending    []pendingException
	// excluded holds UIDs of masters dropped by the filter.
	excluded map[string]bool
}

// Resolve parses data and classifies its entries into singles, masters and
// exceptions. Only an undecodable document is an error; bad entries are
// dropped and reported in Problems.
func (r *Resolver) Resolve(data []byte) (Resolution, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if !bytes.HasPrefix(bytes.ToUpper(trimmed), []byte("BEGIN:VCALENDAR")) {
		return Resolution{}, ErrNotCalendar
	}

	run := &resolveRun{
		r:          r,
		adapter:    newAdapter(r.defaultZone, r.logger),
		res:        &Resolution{},
		byIdentity: make(map[string]int),
		excluded:   make(map[string]bool),
	}

	dec := ical.NewDecoder(bytes.NewReader(trimmed))
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Resolution{}, fmt.Errorf("decode feed: %w", err)
		}
		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			run.add(comp)
		}
	}

	run.linkExceptions()
	run.finish()
	run.res.Stats.UnknownZones = len(run.adapter.unknownZones)
	run.res.Stats.SkippedExDates = run.adapter.skippedExDates

	r.logger.Info("feed resolved",
		zap.Int("entries", run.res.Stats.Entries),
		zap.Int("singles", len(run.res.Singles)),
		zap.Int("masters", len(run.res.Masters)),
		zap.Int("exceptions", len(run.res.Exceptions)),
		zap.Int("filtered", run.res.Stats.Filtered),
		zap.Int("parse_errors", run.res.Stats.ParseErrors),
		zap.Int("date_fallbacks", run.res.Stats.DateFallbacks),
		zap.Int("unknown_zones", run.res.Stats.UnknownZones),
	)
	return *run.res, nil
}

func (run *resolveRun) add(comp *ical.Component) {
	run.res.Stats.Entries++

	uid := propText(comp, ical.PropUID)
	if uid == "" {
		run.res.Stats.MissingUID++
		return
	}

	entry, err := run.adapter.entry(comp, "")
	if err != nil {
		run.problem(uid, err)
		return
	}
	for _, nestedErr := range entry.OverrideErrors {
		run.problem(uid, nestedErr)
	}

	if entry.IsOverride() {
		run.pending = append(run.pending, pendingException{entry: entry})
		return
	}

	if reason, excluded := run.r.filter.Exclude(&entry); excluded && !run.r.includeFiltered {
		run.res.Stats.Filtered++
		run.excluded[entry.UID] = true
		run.r.logger.Debug("entry filtered", zap.String("uid", entry.UID), zap.String("reason", reason))
		return
	}

	event := canonical(entry.UID, domain.KindSingle, &entry)
	if entry.RRule != "" {
		rule, err := domain.ParseRecurrenceRule(entry.RRule, entry.Start.TZID, entry.Start.Time.Location())
		if err != nil {
			run.problem(uid, err)
			return
		}
		event.Kind = domain.KindRecurringMaster
		event.Rule = rule
		event.ExcludedDates = entry.ExDates
		for _, override := range entry.Overrides {
			run.pending = append(run.pending, pendingException{entry: override, nested: true})
		}
	}

	if idx, ok := run.byIdentity[event.Identity]; ok {
		run.res.Stats.Duplicates++
		if sequenceOf(&event) < sequenceOf(&run.tops[idx]) {
			return
		}
		run.tops[idx] = event
		return
	}
	run.byIdentity[event.Identity] = len(run.tops)
	run.tops = append(run.tops, event)
}

func (run *resolveRun) problem(uid string, err error) {
	perr := &ParseError{UID: uid, Err: err}
	run.res.Stats.ParseErrors++
	run.res.Problems = append(run.res.Problems, perr)
	run.r.logger.Warn("feed entry dropped", zap.String("uid", uid), zap.Error(err))
}

// linkExceptions turns pending overrides into exceptions. Top-level
// overrides are processed first so they win over nested duplicates.
func (run *resolveRun) linkExceptions() {
	sort.SliceStable(run.pending, func(i, j int) bool {
		return !run.pending[i].nested && run.pending[j].nested
	})

	seen := make(map[string]bool)
	for _, p := range run.pending {
		entry := p.entry
		var master *domain.CanonicalEvent
		if idx, ok := run.byIdentity[entry.UID]; ok && run.tops[idx].IsMaster() {
			master = &run.tops[idx]
		}

		date := run.occurrenceDate(&entry, master)
		identity := ExceptionIdentity(entry.UID, date)
		if seen[identity] {
			run.res.Stats.Duplicates++
			continue
		}
		seen[identity] = true

		if run.excluded[entry.UID] {
			run.res.Stats.Filtered++
			continue
		}
		reason, excluded := run.r.filter.Exclude(&entry)
		if entry.Status == domain.StatusCancelled || (excluded && !run.r.includeFiltered) {
			// The occurrence is gone for us; keep the master from generating it.
			if master != nil {
				master.ExcludedDates = append(master.ExcludedDates, date)
			}
			if excluded {
				run.res.Stats.Filtered++
				run.r.logger.Debug("exception filtered", zap.String("identity", identity), zap.String("reason", reason))
			}
			continue
		}

		event := canonical(identity, domain.KindRecurringException, &entry)
		event.ExceptionOf = entry.UID
		event.ExceptionDate = date
		if master != nil && !run.isOccurrence(master, date) {
			run.res.Stats.UnmatchedExceptions++
			run.r.logger.Debug("exception does not match an occurrence of its master",
				zap.String("identity", identity), zap.Time("date", date))
		}
		run.res.Exceptions = append(run.res.Exceptions, event)
	}
}

// occurrenceDate parses RECURRENCE-ID in the basis of the master's start.
// An unparseable value falls back to the current time.
func (run *resolveRun) occurrenceDate(entry *Entry, master *domain.CanonicalEvent) time.Time {
	ref, err := run.adapter.parseTime(entry.RecurrenceID)
	if err != nil {
		run.res.Stats.DateFallbacks++
		run.r.logger.Warn("unparseable occurrence reference, using current time",
			zap.String("uid", entry.UID),
			zap.String("value", entry.RecurrenceID.Value),
			zap.Error(err),
		)
		ref = domain.EventTime{Time: run.r.now()}
	}
	if master == nil {
		return ref.Time
	}

	start := master.Fields.Start
	loc := start.Time.Location()
	if ref.DateOnly && !start.DateOnly {
		y, m, d := ref.Time.Date()
		h, mi, s := start.Time.Clock()
		return time.Date(y, m, d, h, mi, s, 0, loc)
	}
	if start.DateOnly {
		y, m, d := ref.Time.In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	return ref.Time.In(loc)
}

func (run *resolveRun) isOccurrence(master *domain.CanonicalEvent, date time.Time) bool {
	occurrences, err := master.Rule.Occurrences(master.Fields.Start.Time, date.Add(-time.Minute), date.Add(time.Minute))
	if err != nil {
		return true
	}
	for _, o := range occurrences {
		if o.Equal(date) {
			return true
		}
	}
	return false
}

func (run *resolveRun) finish() {
	for i := range run.tops {
		e := run.tops[i]
		e.Fingerprint = fingerprint.Event(&e)
		if e.IsMaster() {
			sort.Slice(e.ExcludedDates, func(a, b int) bool { return e.ExcludedDates[a].Before(e.ExcludedDates[b]) })
			run.res.Masters = append(run.res.Masters, e)
		} else {
			run.res.Singles = append(run.res.Singles, e)
		}
	}
	for i := range run.res.Exceptions {
		run.res.Exceptions[i].Fingerprint = fingerprint.Event(&run.res.Exceptions[i])
	}

	sort.Slice(run.res.Singles, func(i, j int) bool { return run.res.Singles[i].Identity < run.res.Singles[j].Identity })
	sort.Slice(run.res.Masters, func(i, j int) bool { return run.res.Masters[i].Identity < run.res.Masters[j].Identity })
	sort.Slice(run.res.Exceptions, func(i, j int) bool { return run.res.Exceptions[i].Identity < run.res.Exceptions[j].Identity })
}

// ExceptionIdentity names the override of uid's occurrence at date.
func ExceptionIdentity(uid string, date time.Time) string {
	return uid + "::" + date.UTC().Format("20060102T150405Z")
}

func canonical(identity string, kind domain.Kind, e *Entry) domain.CanonicalEvent {
	return domain.CanonicalEvent{
		Identity: identity,
		Kind:     kind,
		Fields: domain.Fields{
			Title:        strings.TrimSpace(e.Summary),
			Description:  e.Description,
			Location:     e.Location,
			Start:        e.Start,
			End:          e.End,
			Transparent:  e.Transparent,
			Status:       e.Status,
			Sequence:     e.Sequence,
			LastModified: e.LastModified,
		},
	}
}

func sequenceOf(e *domain.CanonicalEvent) int {
	if e.Fields.Sequence == nil {
		return 0
	}
	return *e.Fields.Sequence
}
