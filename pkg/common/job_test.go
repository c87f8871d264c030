package common

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type triggeredJob struct {
	runs    chan any
	trigger JobTrigger
}

func (j *triggeredJob) NewParams() any           { return "scheduled" }
func (j *triggeredJob) Name() string             { return "triggered_job" }
func (j *triggeredJob) Jitter() time.Duration    { return 1 }
func (j *triggeredJob) Trigger() <-chan struct{} { return j.trigger.Chan() }
func (j *triggeredJob) Interval() time.Duration  { return time.Hour }
func (j *triggeredJob) Timeout() time.Duration   { return 0 }

func (j *triggeredJob) RunOnce(ctx context.Context, params any) error {
	j.runs <- params
	return nil
}

func TestPeriodicJobTrigger(t *testing.T) {
	t.Parallel()

	job := &triggeredJob{
		runs:    make(chan any),
		trigger: NewJobTrigger(),
	}

	go RunPeriodicJob(t.Context(), job)

	// timer has to be re-armed after a forced run
	for i := 0; i < 2; i++ {
		if !job.trigger.Fire() {
			t.Fatalf("Trigger %d was not accepted", i)
		}

		select {
		case params := <-job.runs:
			if params != "scheduled" {
				t.Errorf("Unexpected params: %v", params)
			}
		case <-time.After(time.Second):
			t.Fatalf("Job did not run after trigger %d", i)
		}
	}
}

func TestJobTriggerPending(t *testing.T) {
	t.Parallel()

	trigger := NewJobTrigger()
	if !trigger.Fire() {
		t.Fatal("First trigger was not accepted")
	}
	if trigger.Fire() {
		t.Error("Second trigger was accepted while first is pending")
	}

	var nilTrigger JobTrigger
	if nilTrigger.Chan() != nil {
		t.Error("Nil trigger has a channel")
	}
}

type slowJob struct {
	deadline atomic.Bool
}

func (j *slowJob) NewParams() any { return nil }

func (j *slowJob) RunOnce(ctx context.Context, _ any) error {
	<-ctx.Done()
	j.deadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
	return ctx.Err()
}

func (j *slowJob) Interval() time.Duration  { return time.Hour }
func (j *slowJob) Jitter() time.Duration    { return 0 }
func (j *slowJob) Timeout() time.Duration   { return 30 * time.Millisecond }
func (j *slowJob) Name() string             { return "slow_job" }
func (j *slowJob) Trigger() <-chan struct{} { return nil }

func TestRunPeriodicJobOnceTimeout(t *testing.T) {
	t.Parallel()

	job := &slowJob{}

	start := time.Now()
	err := RunPeriodicJobOnce(context.Background(), job, nil)

	if !errors.Is(err, context.DeadlineExceeded) || !job.deadline.Load() {
		t.Errorf("Unexpected error: %v", err)
	}

	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Job took too long: %v", elapsed)
	}
}

type panickingJob struct{}

func (panickingJob) Name() string                       { return "panicking_job" }
func (panickingJob) InitialPause() time.Duration        { return 0 }
func (panickingJob) NewParams() any                     { return nil }
func (panickingJob) RunOnce(context.Context, any) error { panic("boom") }

type pausedJob struct {
	ran atomic.Bool
}

func (j *pausedJob) Name() string                { return "paused_job" }
func (j *pausedJob) InitialPause() time.Duration { return time.Hour }
func (j *pausedJob) NewParams() any              { return nil }
func (j *pausedJob) RunOnce(context.Context, any) error {
	j.ran.Store(true)
	return nil
}

func TestOneOffJob(t *testing.T) {
	t.Parallel()

	t.Run("panic", func(t *testing.T) {
		RunOneOffJob(t.Context(), panickingJob{}, nil)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()

		job := &pausedJob{}
		RunOneOffJob(ctx, job, job.NewParams())

		if job.ran.Load() {
			t.Error("Job ran despite cancelled context")
		}
	})
}
