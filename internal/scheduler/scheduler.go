package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PassFunc is invoked on every scheduled tick.
type PassFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Name         string
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives periodic execution of one pass. Ingestion and alert
// passes each get their own instance so their cadences stay independent.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts: opts,
		logger: logger.With().
			Str("component", "scheduler").
			Str("pass", opts.Name).
			Logger(),
	}
}

// Run blocks, invoking the pass at each interval until ctx is cancelled.
// A failed pass is logged and the loop continues; overlap with a previous
// still-running instance elsewhere is prevented by the pass's own
// advisory lock, not by the scheduler.
func (s *Scheduler) Run(ctx context.Context, pass PassFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		s.logger.Info().Time("tick", next).Msg("executing scheduled pass")
		if err := pass(ctx, next); err != nil {
			s.logger.Error().Err(err).Time("tick", next).Msg("pass execution failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	tick := now.Truncate(s.opts.Interval)
	if !tick.After(now) {
		tick = tick.Add(s.opts.Interval)
	}
	return tick
}
