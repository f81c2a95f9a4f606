package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultSlowThreshold is the duration above which a command counts as slow.
const DefaultSlowThreshold = 100 * time.Millisecond

// QueryStats holds command execution statistics.
type QueryStats struct {
	// TotalQueries is the total number of row-returning commands executed.
	TotalQueries atomic.Int64
	// TotalExecs is the total number of non-query commands executed.
	TotalExecs atomic.Int64
	// TotalDuration is the total time spent executing commands.
	TotalDuration atomic.Int64 // nanoseconds
	// SlowQueries is the count of commands exceeding the slow threshold.
	SlowQueries atomic.Int64
	// Errors is the count of failed commands.
	Errors atomic.Int64
}

// Stats returns a snapshot of the current statistics.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *QueryStats) Reset() {
	s.TotalQueries.Store(0)
	s.TotalExecs.Store(0)
	s.TotalDuration.Store(0)
	s.SlowQueries.Store(0)
	s.Errors.Store(0)
}

// StatsSnapshot is a point-in-time snapshot of command statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
}

// AvgQueryDuration returns the average command duration.
func (s StatsSnapshot) AvgQueryDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgQueryDuration(),
		s.SlowQueries, s.Errors,
	)
}

// SlowQueryHook is called when a command exceeds the slow threshold.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// WithSlowThreshold sets the threshold for slow command detection.
// Default is DefaultSlowThreshold.
func WithSlowThreshold(d time.Duration) Option {
	return func(p *Provider) {
		p.slowThreshold = d
	}
}

// WithSlowQueryHook sets a callback for slow commands.
func WithSlowQueryHook(hook SlowQueryHook) Option {
	return func(p *Provider) {
		p.slowHook = hook
	}
}

// WithSlowQueryLog logs slow commands to the provider logger. Arguments are not
// logged.
func WithSlowQueryLog() Option {
	return func(p *Provider) {
		p.slowHook = func(ctx context.Context, query string, _ []any, duration time.Duration) {
			p.logger.WarnContext(ctx, "slow query detected",
				slog.Duration("duration", duration),
				slog.String("query", query),
			)
		}
	}
}

// WithStats makes the provider record into stats, e.g. to aggregate several providers.
func WithStats(stats *QueryStats) Option {
	return func(p *Provider) {
		p.stats = stats
	}
}

// QueryStats returns the statistics of the commands executed by the provider.
func (p *Provider) QueryStats() *QueryStats {
	return p.stats
}

func (p *Provider) record(ctx context.Context, query string, args []any, start time.Time, err error, isQuery bool) {
	duration := time.Since(start)
	if isQuery {
		p.stats.TotalQueries.Add(1)
	} else {
		p.stats.TotalExecs.Add(1)
	}
	p.stats.TotalDuration.Add(int64(duration))
	if err != nil {
		p.stats.Errors.Add(1)
	}
	if duration > p.slowThreshold {
		p.stats.SlowQueries.Add(1)
		if p.slowHook != nil {
			p.slowHook(ctx, query, args, duration)
		}
	}
}
