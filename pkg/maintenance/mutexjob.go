package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/common"
)

type mutexPeriodicJob struct {
	job common.PeriodicJob
	mux *sync.Mutex
}

var _ common.PeriodicJob = (*mutexPeriodicJob)(nil)

func (j *mutexPeriodicJob) Interval() time.Duration  { return j.job.Interval() }
func (j *mutexPeriodicJob) Jitter() time.Duration    { return j.job.Jitter() }
func (j *mutexPeriodicJob) Timeout() time.Duration   { return j.job.Timeout() }
func (j *mutexPeriodicJob) Name() string             { return j.job.Name() }
func (j *mutexPeriodicJob) NewParams() any           { return j.job.NewParams() }
func (j *mutexPeriodicJob) Trigger() <-chan struct{} { return j.job.Trigger() }

func (j *mutexPeriodicJob) RunOnce(ctx context.Context, params any) error {
	slog.Log(ctx, common.LevelTrace, "Waiting for exclusive maintenance slot", "job", j.Name())

	j.mux.Lock()
	defer j.mux.Unlock()

	return j.job.RunOnce(ctx, params)
}
