package common

import (
	"context"
	"log/slog"
	randv2 "math/rand/v2"
	"runtime/debug"
	"time"
)

// OneOffJob runs once, InitialPause after the maintenance loop starts.
type OneOffJob interface {
	Name() string
	InitialPause() time.Duration
	NewParams() any
	RunOnce(ctx context.Context, params any) error
}

type PeriodicJob interface {
	NewParams() any
	RunOnce(ctx context.Context, params any) error
	// For jobs guarded by a DB lock this is how often a run is attempted,
	// the effective period is the lock duration.
	Interval() time.Duration
	// soft timeout, applied to the context of each run
	Timeout() time.Duration
	// must be positive
	Jitter() time.Duration
	Name() string
	// nil when the job cannot be triggered manually
	Trigger() <-chan struct{}
}

// JobTrigger forces the next run of a periodic job. At most one forced run
// is pending at a time.
type JobTrigger chan struct{}

func NewJobTrigger() JobTrigger {
	return make(JobTrigger, 1)
}

// Fire returns false if a forced run is already pending.
func (t JobTrigger) Fire() bool {
	select {
	case t <- struct{}{}:
		return true
	default:
		return false
	}
}

func (t JobTrigger) Chan() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t
}

func recoverJob(ctx context.Context, kind string) {
	if rvr := recover(); rvr != nil {
		slog.ErrorContext(ctx, "Job crashed", "kind", kind, "panic", rvr, "stack", string(debug.Stack()))
	}
}

func jobContext(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, TraceIDContextKey, name)
}

func nextRunDelay(j PeriodicJob) time.Duration {
	jitter := j.Jitter()
	if jitter <= 0 {
		jitter = 1
	}
	return j.Interval() + time.Duration(randv2.Int64N(int64(jitter)))
}

func runPeriodicOnce(ctx context.Context, j PeriodicJob, params any) error {
	if timeout := j.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return j.RunOnce(ctx, params)
}

func RunOneOffJob(ctx context.Context, j OneOffJob, params any) {
	ctx = jobContext(ctx, j.Name())
	defer recoverJob(ctx, "oneoff")

	if pause := j.InitialPause(); pause > 0 {
		timer := time.NewTimer(pause)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "One-off job cancelled before start")
			return
		case <-timer.C:
		}
	}

	start := time.Now()
	if err := j.RunOnce(ctx, params); err != nil {
		slog.ErrorContext(ctx, "One-off job failed", ErrAttr(err))
		return
	}

	slog.DebugContext(ctx, "One-off job finished", "duration", time.Since(start).String())
}

// RunAdHocFunc is `go f(ctx)` that survives panics in f.
func RunAdHocFunc(ctx context.Context, f func(ctx context.Context) error) {
	defer recoverJob(ctx, "adhoc")

	if err := f(ctx); err != nil {
		slog.ErrorContext(ctx, "Ad-hoc func failed", ErrAttr(err))
	}
}

// RunPeriodicJob blocks until ctx is done.
func RunPeriodicJob(ctx context.Context, j PeriodicJob) {
	ctx = jobContext(ctx, j.Name())
	defer recoverJob(ctx, "periodic")

	slog.DebugContext(ctx, "Starting periodic job", "interval", j.Interval().String())

	trigger := j.Trigger()

	for {
		timer := time.NewTimer(nextRunDelay(j))

		select {
		case <-ctx.Done():
			timer.Stop()
			slog.DebugContext(ctx, "Periodic job finished")
			return
		case <-trigger:
			timer.Stop()
			slog.DebugContext(ctx, "Periodic job triggered manually")
		case <-timer.C:
		}

		if err := runPeriodicOnce(ctx, j, j.NewParams()); err != nil {
			slog.WarnContext(ctx, "Periodic job run failed", ErrAttr(err))
		}
	}
}

// RunPeriodicJobOnce runs j outside of its schedule with explicit params.
func RunPeriodicJobOnce(ctx context.Context, j PeriodicJob, params any) error {
	ctx = jobContext(ctx, j.Name())
	defer recoverJob(ctx, "periodic")

	if params == nil {
		params = j.NewParams()
	}

	err := runPeriodicOnce(ctx, j, params)
	if err != nil {
		slog.ErrorContext(ctx, "Periodic job failed", ErrAttr(err))
	}

	return err
}
