package solver

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
)

const progressBufferSize = 64

var errSolverCrashed = errors.New("solver crashed")

// Task runs Solve on its own goroutine and streams progress over a channel.
type Task struct {
	progress chan Progress
	done     chan struct{}
	cancel   context.CancelFunc
	salt     uint64
	err      error
}

// Start launches the search. Progress heartbeats are dropped while the
// channel buffer is full, improvements wait until the consumer reads them
// or the task is cancelled, so callers must either drain Progress() or
// cancel the task.
func Start(ctx context.Context, ch Challenge, opts ...Option) *Task {
	ctx, cancel := context.WithCancel(ctx)

	t := &Task{
		progress: make(chan Progress, progressBufferSize),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	opts = append(opts[:len(opts):len(opts)], WithProgress(func(p Progress) {
		t.send(ctx, p)
	}))

	go t.run(ctx, ch, opts)

	return t
}

func (t *Task) send(ctx context.Context, p Progress) {
	if p.Improved {
		select {
		case t.progress <- p:
		case <-ctx.Done():
		}
		return
	}

	select {
	case t.progress <- p:
	default:
	}
}

func (t *Task) run(ctx context.Context, ch Challenge, opts []Option) {
	defer close(t.done)
	defer t.cancel()

	func() {
		defer close(t.progress)
		defer func() {
			if rvr := recover(); rvr != nil {
				slog.ErrorContext(ctx, "Solver crashed", "panic", rvr, "stack", string(debug.Stack()))
				t.err = errSolverCrashed
			}
		}()

		t.salt, t.err = Solve(ctx, ch, opts...)
	}()

	if t.err == nil {
		slog.DebugContext(ctx, "Challenge solved", "salt", t.salt, "difficulty", ch.MinDifficulty)
	} else {
		slog.DebugContext(ctx, "Challenge not solved", "difficulty", ch.MinDifficulty, "error", t.err)
	}
}

// Progress is closed before the outcome becomes available via Wait.
func (t *Task) Progress() <-chan Progress {
	return t.progress
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the search ends and returns its single outcome.
func (t *Task) Wait() (uint64, error) {
	<-t.done
	return t.salt, t.err
}

// SafeProgress isolates a progress callback so that a panic inside it is
// logged instead of aborting the search.
func SafeProgress(ctx context.Context, f func(Progress)) func(Progress) {
	if f == nil {
		return nil
	}

	return func(p Progress) {
		defer func() {
			if rvr := recover(); rvr != nil {
				slog.WarnContext(ctx, "Progress callback crashed", "panic", rvr, "iterations", p.Iterations)
			}
		}()

		f(p)
	}
}
