// Package sweep runs periodic in-memory eviction passes, such as
// Engine.CleanupInactive and the client limiter's Evict, on a fixed interval
// until the context is cancelled.
package sweep

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/sms-ratelimiter/internal/log"
	"github.com/keithlinneman/sms-ratelimiter/internal/xerrors"
)

// DefaultInterval is used when Options.Interval is not set.
const DefaultInterval = 5 * time.Minute

// Metrics is implemented by the metrics package to observe sweeps.
type Metrics interface {
	ObserveSweep(name string, removed int, seconds float64)
	IncSweepPanic(name string)
}

// Options configures a Sweeper.
type Options struct {
	// Name identifies the sweeper in logs and metrics, e.g. "numbers" or "clients".
	Name     string
	Interval time.Duration
	Logger   log.Logger
	Metrics  Metrics

	// Fn performs one pass and returns how many entries it removed.
	Fn func(ctx context.Context) int
}

// Sweeper calls Fn every Interval.
type Sweeper struct {
	name     string
	interval time.Duration
	logger   log.Logger
	metrics  Metrics
	fn       func(ctx context.Context) int

	passes  atomic.Int64
	removed atomic.Int64
}

// New creates a sweeper. Call Run to start the loop.
func New(opts Options) (*Sweeper, error) {
	if opts.Fn == nil {
		return nil, xerrors.Newf("sweep %q: Fn is required", opts.Name)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	name := opts.Name
	if name == "" {
		name = "sweep"
	}
	return &Sweeper{
		name:     name,
		interval: interval,
		logger:   opts.Logger.With("sweeper", name),
		metrics:  opts.Metrics,
		fn:       opts.Fn,
	}, nil
}

// Passes is the number of completed passes.
func (s *Sweeper) Passes() int64 { return s.passes.Load() }

// Interval returns the effective interval.
func (s *Sweeper) Interval() time.Duration { return s.interval }

// Run blocks until ctx is cancelled, running one pass per tick.
// Intended to be launched as: go sweeper.Run(ctx)
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info(ctx, "sweeper starting", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "sweeper stopping",
				"reason", ctx.Err(),
				"passes", s.passes.Load(),
				"removed_total", s.removed.Load(),
			)
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass and returns how many entries were removed.
// A panic inside Fn is logged and counted, and the pass reports zero.
func (s *Sweeper) RunOnce(ctx context.Context) (removed int) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			removed = 0
			err := xerrors.Newf("sweep %q panicked: %v", s.name, rec)
			s.logger.Error(ctx, err, "sweep pass panicked")
			if s.metrics != nil {
				s.metrics.IncSweepPanic(s.name)
			}
		}
	}()

	removed = s.fn(ctx)
	elapsed := time.Since(start)

	s.passes.Add(1)
	s.removed.Add(int64(removed))

	if s.metrics != nil {
		s.metrics.ObserveSweep(s.name, removed, elapsed.Seconds())
	}
	if removed > 0 {
		s.logger.Info(ctx, "sweep removed idle entries",
			"removed", removed,
			"duration_ms", elapsed.Milliseconds(),
		)
	} else {
		s.logger.Debug(ctx, "sweep pass complete", "duration", elapsed.String())
	}
	return removed
}
