// Package scheduler triggers sync runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tazhate/calmirror/internal/domain"
	"github.com/tazhate/calmirror/internal/service"
)

// Runner performs one sync run.
type Runner interface {
	Run(ctx context.Context) (domain.RunRecord, error)
}

type Scheduler struct {
	cron     *cron.Cron
	schedule string
	runner   Runner
	logger   *zap.Logger

	// inflight tracks the startup run, which cron does not know about.
	inflight sync.WaitGroup
}

func New(schedule string, location *time.Location, runner Runner, logger *zap.Logger) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := cron.New(
		cron.WithLocation(location),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
	)

	return &Scheduler{
		cron:     c,
		schedule: schedule,
		runner:   runner,
		logger:   logger,
	}
}

// Start registers the sync job, optionally runs it once immediately, and
// blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context, runNow bool) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.sync(ctx) }); err != nil {
		return fmt.Errorf("add sync job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.String("schedule", s.schedule),
		zap.String("timezone", s.cron.Location().String()))

	if runNow {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.sync(ctx)
		}()
	}

	<-ctx.Done()
	return nil
}

// Stop halts the schedule and waits for running syncs to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.inflight.Wait()
	s.logger.Info("scheduler stopped")
}

// Next returns the next scheduled run time.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) sync(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		s.logger.Info("sync skipped, previous run still active")
	case err != nil:
		s.logger.Error("scheduled sync failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron's logger interface.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
