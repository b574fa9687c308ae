package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tazhate/calmirror/internal/domain"
	"github.com/tazhate/calmirror/internal/feed"
	"github.com/tazhate/calmirror/internal/reconcile"
)

// ErrRunInProgress is returned when a run is triggered while another is active.
var ErrRunInProgress = errors.New("sync run already in progress")

// FeedSource returns the raw feed.
type FeedSource interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Store is the persistence the sync service needs.
type Store interface {
	reconcile.MappingStore
	LoadAll(ctx context.Context) ([]domain.MappingRecord, error)
	RecordRun(ctx context.Context, run domain.RunRecord) error
}

// Reporter is told about every finished run.
type Reporter interface {
	Report(ctx context.Context, run domain.RunRecord) error
}

// SyncService runs fetch, resolve and reconcile as one guarded unit.
type SyncService struct {
	source   FeedSource
	resolver *feed.Resolver
	engine   *reconcile.Engine
	client   reconcile.RemoteClient
	store    Store
	reporter Reporter
	timeout  time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

// SyncDeps holds the collaborators of a SyncService.
type SyncDeps struct {
	Source   FeedSource
	Resolver *feed.Resolver
	Engine   *reconcile.Engine
	Client   reconcile.RemoteClient
	Store    Store
	// Reporter is optional.
	Reporter Reporter
	Timeout  time.Duration
	Logger   *zap.Logger
}

// NewSyncService creates a new sync service
func NewSyncService(deps SyncDeps) *SyncService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 10 * time.Minute
	}
	return &SyncService{
		source:   deps.Source,
		resolver: deps.Resolver,
		engine:   deps.Engine,
		client:   deps.Client,
		store:    deps.Store,
		reporter: deps.Reporter,
		timeout:  deps.Timeout,
		logger:   deps.Logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Run performs one reconciliation run and records it. Only one run executes
// at a time; overlapping calls get ErrRunInProgress. The returned error is
// set only when the run aborted before reconciliation.
func (s *SyncService) Run(ctx context.Context) (domain.RunRecord, error) {
	if !s.mu.TryLock() {
		return domain.RunRecord{}, ErrRunInProgress
	}
	defer s.mu.Unlock()

	run := domain.RunRecord{ID: s.newID(), StartedAt: s.now()}
	log := s.logger.With(zap.String("run_id", run.ID))
	log.Info("sync run started")

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	result, err := s.reconcile(runCtx)
	cancel()

	run.FinishedAt = s.now()
	run.Result = result
	if err != nil {
		run.Status = domain.RunFailure
		run.Failure = err.Error()
		log.Error("sync run aborted", zap.Error(err))
	} else {
		run.Status = domain.StatusOf(result)
		log.Info("sync run finished",
			zap.String("status", string(run.Status)),
			zap.String("summary", result.Summary()),
			zap.Duration("took", run.FinishedAt.Sub(run.StartedAt)))
	}

	// The run context may have expired; history and reports are still written.
	bg := context.WithoutCancel(ctx)
	if recErr := s.store.RecordRun(bg, run); recErr != nil {
		log.Error("failed to record run", zap.Error(recErr))
	}
	if s.reporter != nil {
		if repErr := s.reporter.Report(bg, run); repErr != nil {
			log.Warn("failed to report run", zap.Error(repErr))
		}
	}
	return run, err
}

func (s *SyncService) reconcile(ctx context.Context) (domain.ReconciliationResult, error) {
	data, err := s.source.Fetch(ctx)
	if err != nil {
		return domain.ReconciliationResult{}, fmt.Errorf("fetch feed: %w", err)
	}

	res, err := s.resolver.Resolve(data)
	if err != nil {
		return domain.ReconciliationResult{}, fmt.Errorf("parse feed: %w", err)
	}

	snapshot, err := s.store.LoadAll(ctx)
	if err != nil {
		return domain.ReconciliationResult{}, fmt.Errorf("load mappings: %w", err)
	}

	return s.engine.Reconcile(ctx, res.EventSet, snapshot, s.client), nil
}
