// Package ratelimit paces remote calls and retries rate-limit failures with
// exponential backoff.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Defaults used when Options leaves a field unset.
const (
	DefaultMinInterval = 200 * time.Millisecond
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 32 * time.Second
	DefaultMaxRetries  = 5
)

// retryableMarkers are matched case-insensitively against error messages.
var retryableMarkers = []string{
	"rate limit",
	"ratelimitexceeded",
	"quota",
	"too many requests",
	"usage limits",
}

// IsRetryable reports whether err signals a rate-limit or quota condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Retryable
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// OperationError is returned when an operation fails for good.
type OperationError struct {
	Label     string
	Attempts  int
	Retryable bool
	Err       error
}

func (e *OperationError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Label, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Label, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Options configures an Executor.
type Options struct {
	MinInterval time.Duration
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxRetries  int
	Logger      *zap.Logger
}

// Executor runs remote operations through a shared pacing gate. It is safe
// for concurrent use; all callers share the same gate.
type Executor struct {
	limiter    *rate.Limiter
	baseDelay  time.Duration
	maxDelay   time.Duration
	maxRetries int
	logger     *zap.Logger

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an executor.
func New(opts Options) *Executor {
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Executor{
		limiter:    rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger,
		sleep:      sleepContext,
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. Every attempt passes the pacing gate first.
func (x *Executor) Do(ctx context.Context, label string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := x.limiter.Wait(ctx); err != nil {
			if lastErr != nil {
				return &OperationError{Label: label, Attempts: attempt, Retryable: true, Err: lastErr}
			}
			return fmt.Errorf("%s: %w", label, err)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return &OperationError{Label: label, Attempts: attempt + 1, Err: err}
		}
		if attempt >= x.maxRetries {
			return &OperationError{Label: label, Attempts: attempt + 1, Retryable: true, Err: err}
		}

		delay := x.backoff(attempt)
		if deadline, ok := ctx.Deadline(); ok && time.Now().Add(delay).After(deadline) {
			x.logger.Warn("backoff exceeds deadline",
				zap.String("operation", label),
				zap.Duration("delay", delay))
			return &OperationError{Label: label, Attempts: attempt + 1, Retryable: true, Err: err}
		}

		x.logger.Info("rate limited, backing off",
			zap.String("operation", label),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := x.sleep(ctx, delay); err != nil {
			return &OperationError{Label: label, Attempts: attempt + 1, Retryable: true, Err: lastErr}
		}
	}
}

// Execute is Do for operations that return a value.
func Execute[T any](ctx context.Context, x *Executor, label string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := x.Do(ctx, label, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func (x *Executor) backoff(attempt int) time.Duration {
	delay := x.baseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= x.maxDelay {
			return x.maxDelay
		}
	}
	if delay > x.maxDelay {
		return x.maxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
