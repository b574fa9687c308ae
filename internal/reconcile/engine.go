// Package reconcile applies a resolved event set to the remote calendar and
// keeps the mapping store in step with it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tazhate/calmirror/internal/domain"
	"github.com/tazhate/calmirror/internal/fingerprint"
	"github.com/tazhate/calmirror/internal/ratelimit"
	"github.com/tazhate/calmirror/internal/translate"
)

// ErrRemoteGone is returned by remote clients when the event no longer exists.
var ErrRemoteGone = errors.New("remote event gone")

// RemoteClient is the authenticated remote calendar.
type RemoteClient interface {
	CreateEvent(ctx context.Context, body translate.Body) (string, error)
	UpdateEvent(ctx context.Context, remoteID string, body translate.Body) error
	// DeleteEvent returns ErrRemoteGone when the event is already absent.
	DeleteEvent(ctx context.Context, remoteID string) error
}

// MappingStore persists mapping records.
type MappingStore interface {
	Upsert(ctx context.Context, rec domain.MappingRecord) error
	Delete(ctx context.Context, identity string) error
}

// MissingMasterError is recorded for an exception whose master has no remote event.
type MissingMasterError struct {
	Exception string
	Master    string
}

func (e *MissingMasterError) Error() string {
	return fmt.Sprintf("master %q has no remote event", e.Master)
}

// Options configures an Engine.
type Options struct {
	Translator *translate.Translator
	Executor   *ratelimit.Executor
	Store      MappingStore
	// Workers bounds concurrent remote calls for singles and deletions.
	Workers int
	Logger  *zap.Logger
}

// Engine runs reconciliation passes.
type Engine struct {
	translator *translate.Translator
	executor   *ratelimit.Executor
	store      MappingStore
	workers    int
	logger     *zap.Logger
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Translator == nil {
		opts.Translator = translate.New(time.UTC)
	}
	if opts.Executor == nil {
		opts.Executor = ratelimit.New(ratelimit.Options{Logger: opts.Logger})
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		translator: opts.Translator,
		executor:   opts.Executor,
		store:      opts.Store,
		workers:    opts.Workers,
		logger:     opts.Logger,
	}
}

// Reconcile makes the remote calendar match set. Phases run in order:
// masters, exceptions, singles, deletions. Per-event failures are recorded
// in the result and never stop the run.
func (e *Engine) Reconcile(ctx context.Context, set domain.EventSet, snapshot []domain.MappingRecord, client RemoteClient) domain.ReconciliationResult {
	r := &run{
		engine:    e,
		client:    client,
		mappings:  make(map[string]domain.MappingRecord, len(snapshot)),
		masterIDs: make(map[string]string),
	}
	for _, rec := range snapshot {
		r.mappings[rec.Identity] = rec
	}

	byMaster := set.ExceptionsByMaster()
	for i := range set.Masters {
		m := &set.Masters[i]
		r.record(r.applyMaster(ctx, m, byMaster[m.Identity]))
	}
	for i := range set.Exceptions {
		r.record(r.applyException(ctx, &set.Exceptions[i]))
	}
	r.parallel(len(set.Singles), func(i int) outcome {
		return r.applySingle(ctx, &set.Singles[i])
	})

	stale := r.stale(set.Identities())
	r.parallel(len(stale), func(i int) outcome {
		return r.remove(ctx, stale[i])
	})

	e.logger.Info("reconciliation finished",
		zap.Int("created", r.result.Created),
		zap.Int("updated", r.result.Updated),
		zap.Int("deleted", r.result.Deleted),
		zap.Int("skipped", r.result.Skipped),
		zap.Int("errors", len(r.result.Errors)))

	result := r.result
	result.Errors = append([]string(nil), r.result.Errors...)
	return result
}

type action int

const (
	actionNone action = iota
	actionCreated
	actionUpdated
	actionDeleted
	actionSkipped
)

type outcome struct {
	action action
	errs   []string
}

func (o *outcome) fail(identity string, err error) {
	o.errs = append(o.errs, fmt.Sprintf("%s: %v", identity, err))
}

func failed(identity string, err error) outcome {
	var o outcome
	o.fail(identity, err)
	return o
}

// run holds the state of one Reconcile call.
type run struct {
	engine   *Engine
	client   RemoteClient
	mappings map[string]domain.MappingRecord
	// masterIDs resolves master identities to remote ids within this run.
	masterIDs map[string]string
	result    domain.ReconciliationResult
}

func (r *run) record(o outcome) {
	switch o.action {
	case actionCreated:
		r.result.Created++
	case actionUpdated:
		r.result.Updated++
	case actionDeleted:
		r.result.Deleted++
	case actionSkipped:
		r.result.Skipped++
	}
	r.result.Errors = append(r.result.Errors, o.errs...)
}

// parallel runs n independent steps on the worker pool and records their
// outcomes in index order.
func (r *run) parallel(n int, step func(i int) outcome) {
	outcomes := make([]outcome, n)
	var g errgroup.Group
	g.SetLimit(r.engine.workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			outcomes[i] = step(i)
			return nil
		})
	}
	_ = g.Wait()
	for _, o := range outcomes {
		r.record(o)
	}
}

func (r *run) applyMaster(ctx context.Context, m *domain.CanonicalEvent, exceptions []domain.CanonicalEvent) outcome {
	if m.Fingerprint == "" {
		m.Fingerprint = fingerprint.Event(m)
	}
	composite := fingerprint.Composite(m, exceptions)
	existing, mapped := r.mappings[m.Identity]
	if mapped {
		r.masterIDs[m.Identity] = existing.RemoteEventID
		if existing.LastAppliedFingerprint == composite {
			return outcome{action: actionSkipped}
		}
	}

	dates := make([]time.Time, 0, len(exceptions))
	for _, ex := range exceptions {
		dates = append(dates, ex.ExceptionDate)
	}
	body := r.engine.translator.Body(m, dates)

	id, o := r.apply(ctx, m, body, composite, existing, mapped)
	if id != "" {
		r.masterIDs[m.Identity] = id
	}
	return o
}

func (r *run) applyException(ctx context.Context, ex *domain.CanonicalEvent) outcome {
	masterID, ok := r.masterIDs[ex.ExceptionOf]
	if !ok {
		if rec, found := r.mappings[ex.ExceptionOf]; found {
			masterID, ok = rec.RemoteEventID, true
		}
	}
	if !ok {
		return failed(ex.Identity, &MissingMasterError{Exception: ex.Identity, Master: ex.ExceptionOf})
	}

	fp := eventFingerprint(ex)
	existing, mapped := r.mappings[ex.Identity]
	if mapped && existing.LastAppliedFingerprint == fp {
		return outcome{action: actionSkipped}
	}

	r.engine.logger.Debug("applying exception",
		zap.String("identity", ex.Identity),
		zap.String("master_remote_id", masterID))
	_, o := r.apply(ctx, ex, r.engine.translator.Body(ex, nil), fp, existing, mapped)
	return o
}

func (r *run) applySingle(ctx context.Context, ev *domain.CanonicalEvent) outcome {
	fp := eventFingerprint(ev)
	existing, mapped := r.mappings[ev.Identity]
	if mapped && existing.LastAppliedFingerprint == fp {
		return outcome{action: actionSkipped}
	}
	_, o := r.apply(ctx, ev, r.engine.translator.Body(ev, nil), fp, existing, mapped)
	return o
}

// apply creates or updates the remote event of ev and stores the mapping.
// An update of an event that no longer exists remotely re-creates it.
func (r *run) apply(ctx context.Context, ev *domain.CanonicalEvent, body translate.Body, fp string, existing domain.MappingRecord, mapped bool) (string, outcome) {
	log := r.engine.logger.With(zap.String("identity", ev.Identity), zap.String("kind", string(ev.Kind)))

	if mapped {
		err := r.engine.executor.Do(ctx, "update event", func(ctx context.Context) error {
			return r.client.UpdateEvent(ctx, existing.RemoteEventID, body)
		})
		switch {
		case err == nil:
			o := outcome{action: actionUpdated}
			r.store(ctx, &o, domain.NewMapping(ev, existing.RemoteEventID, fp))
			log.Info("event updated", zap.String("remote_id", existing.RemoteEventID))
			return existing.RemoteEventID, o
		case errors.Is(err, ErrRemoteGone):
			log.Warn("remote event gone, re-creating", zap.String("remote_id", existing.RemoteEventID))
		default:
			log.Error("update failed", zap.Error(err))
			return "", failed(ev.Identity, err)
		}
	}

	id, err := ratelimit.Execute(ctx, r.engine.executor, "create event", func(ctx context.Context) (string, error) {
		return r.client.CreateEvent(ctx, body)
	})
	if err != nil {
		log.Error("create failed", zap.Error(err))
		return "", failed(ev.Identity, err)
	}
	o := outcome{action: actionCreated}
	r.store(ctx, &o, domain.NewMapping(ev, id, fp))
	log.Info("event created", zap.String("remote_id", id))
	return id, o
}

// store writes rec. A failure after a successful remote call keeps the
// operation counted and records the error.
func (r *run) store(ctx context.Context, o *outcome, rec domain.MappingRecord) {
	if r.engine.store == nil {
		return
	}
	if err := r.engine.store.Upsert(ctx, rec); err != nil {
		r.engine.logger.Error("store mapping failed", zap.String("identity", rec.Identity), zap.Error(err))
		o.fail(rec.Identity, fmt.Errorf("store mapping: %w", err))
	}
}

// stale returns the mappings whose identity is absent from the run, ordered
// by identity.
func (r *run) stale(present map[string]struct{}) []domain.MappingRecord {
	var out []domain.MappingRecord
	for id, rec := range r.mappings {
		if _, ok := present[id]; !ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

func (r *run) remove(ctx context.Context, rec domain.MappingRecord) outcome {
	log := r.engine.logger.With(zap.String("identity", rec.Identity), zap.String("remote_id", rec.RemoteEventID))

	err := r.engine.executor.Do(ctx, "delete event", func(ctx context.Context) error {
		return r.client.DeleteEvent(ctx, rec.RemoteEventID)
	})
	switch {
	case err == nil:
		log.Info("event deleted")
	case errors.Is(err, ErrRemoteGone):
		log.Info("event already gone")
	default:
		log.Error("delete failed", zap.Error(err))
		return failed(rec.Identity, err)
	}

	o := outcome{action: actionDeleted}
	if r.engine.store != nil {
		if err := r.engine.store.Delete(ctx, rec.Identity); err != nil {
			o.fail(rec.Identity, fmt.Errorf("delete mapping: %w", err))
		}
	}
	return o
}

func eventFingerprint(e *domain.CanonicalEvent) string {
	if e.Fingerprint != "" {
		return e.Fingerprint
	}
	return fingerprint.Event(e)
}
