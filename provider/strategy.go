package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// ExecutionStrategy runs physical operations that may fail transiently.
type ExecutionStrategy interface {
	// RetriesOnFailure reports whether Execute may run op more than once.
	RetriesOnFailure() bool
	// Execute runs op, retrying according to the strategy.
	Execute(ctx context.Context, op func(context.Context) error) error
}

// DefaultStrategy runs operations exactly once.
type DefaultStrategy struct{}

// RetriesOnFailure implements ExecutionStrategy.
func (DefaultStrategy) RetriesOnFailure() bool { return false }

// Execute implements ExecutionStrategy.
func (DefaultStrategy) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return op(ctx)
}

// Retry defaults.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 100 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
)

// RetryStrategy retries transient failures with exponential backoff. The context is
// checked before every attempt; errors not classified as transient are returned
// immediately.
type RetryStrategy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// IsTransient classifies errors. A nil classifier retries nothing.
	IsTransient func(error) bool
	Logger      *slog.Logger
}

// NewRetryStrategy returns a RetryStrategy with default delays.
func NewRetryStrategy(maxAttempts int, isTransient func(error) bool) *RetryStrategy {
	return &RetryStrategy{
		MaxAttempts: maxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		IsTransient: isTransient,
	}
}

// RetriesOnFailure implements ExecutionStrategy.
func (s *RetryStrategy) RetriesOnFailure() bool { return s.attempts() > 1 }

// RetryLimitExceededError is returned when every attempt of a RetryStrategy failed
// with a transient error.
type RetryLimitExceededError struct {
	Attempts int
	Err      error
}

// Error returns the error string.
func (e *RetryLimitExceededError) Error() string {
	return fmt.Sprintf("veloxdb: operation failed after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last failure.
func (e *RetryLimitExceededError) Unwrap() error { return e.Err }

// Execute implements ExecutionStrategy.
func (s *RetryStrategy) Execute(ctx context.Context, op func(context.Context) error) error {
	var (
		attempt     int
		transient   bool
		maxAttempts = s.attempts()
	)
	err := retry.Do(ctx, s.backoff(maxAttempts), func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		transient = err != nil && s.IsTransient != nil && s.IsTransient(err)
		if !transient {
			return err
		}
		if attempt < maxAttempts {
			s.logger().WarnContext(ctx, "retrying transient failure",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", maxAttempts),
				slog.Any("error", err),
			)
		}
		return retry.RetryableError(err)
	})
	if err != nil && transient && attempt >= maxAttempts && maxAttempts > 1 && !errors.Is(err, ctx.Err()) {
		return &RetryLimitExceededError{Attempts: attempt, Err: err}
	}
	return err
}

func (s *RetryStrategy) attempts() int {
	if s.MaxAttempts < 1 {
		return 1
	}
	return s.MaxAttempts
}

func (s *RetryStrategy) backoff(attempts int) retry.Backoff {
	base, limit := s.BaseDelay, s.MaxDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if limit <= 0 {
		limit = DefaultMaxDelay
	}
	return retry.WithMaxRetries(uint64(attempts-1), retry.WithCappedDuration(limit, retry.NewExponential(base)))
}

func (s *RetryStrategy) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

var (
	_ ExecutionStrategy = DefaultStrategy{}
	_ ExecutionStrategy = (*RetryStrategy)(nil)
)
