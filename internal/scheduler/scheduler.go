// Package scheduler drives the periodic cycles. Each job runs on its own
// cadence; a tick failure is logged and the loop keeps going.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TickFunc is invoked on every interval of a job.
type TickFunc func(ctx context.Context, tick time.Time) error

// Job is one periodic unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	Tick     TickFunc
}

// Options tune runner behaviour.
type Options struct {
	AlignToInterval bool
	StartupDelay    time.Duration
}

// Runner executes a set of jobs until the context is cancelled.
type Runner struct {
	opts   Options
	jobs   []Job
	logger zerolog.Logger
}

// New constructs a Runner.
func New(opts Options, logger zerolog.Logger) *Runner {
	return &Runner{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Add registers a job. Must be called before Run.
func (r *Runner) Add(job Job) {
	if job.Interval <= 0 {
		panic("scheduler job interval must be positive")
	}
	r.jobs = append(r.jobs, job)
}

// Run blocks, driving every registered job on its own cadence until ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if r.opts.StartupDelay > 0 {
		timer := time.NewTimer(r.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	for _, job := range r.jobs {
		job := job
		group.Go(func() error {
			return r.runJob(ctx, job)
		})
	}
	return group.Wait()
}

func (r *Runner) runJob(ctx context.Context, job Job) error {
	logger := r.logger.With().Str("job", job.Name).Logger()

	next := r.nextTick(time.Now().UTC(), job.Interval)
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = r.nextTick(time.Now().UTC(), job.Interval)
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		logger.Info().Time("tick", next).Msg("executing scheduled tick")
		if err := job.Tick(ctx, next); err != nil {
			logger.Error().Err(err).Time("tick", next).Msg("tick execution failed")
		}

		next = next.Add(job.Interval)
	}
}

func (r *Runner) nextTick(now time.Time, interval time.Duration) time.Time {
	if !r.opts.AlignToInterval {
		return now.Add(interval)
	}
	tick := now.Truncate(interval)
	if !tick.After(now) {
		tick = tick.Add(interval)
	}
	return tick
}
