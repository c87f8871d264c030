package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/db"
)

type LockStore interface {
	AcquireLock(ctx context.Context, name string, expiration time.Time) error
	ReleaseLock(ctx context.Context, name string) error
}

var _ LockStore = (*db.BusinessStore)(nil)

// UniquePeriodicJob holds a named DB lock for LockDuration on every
// successful run so that only one faucet instance runs the job per period.
type UniquePeriodicJob struct {
	Job          common.PeriodicJob
	Store        LockStore
	LockDuration time.Duration
}

var _ common.PeriodicJob = (*UniquePeriodicJob)(nil)

func (j *UniquePeriodicJob) Interval() time.Duration  { return j.Job.Interval() }
func (j *UniquePeriodicJob) Jitter() time.Duration    { return j.Job.Jitter() }
func (j *UniquePeriodicJob) Timeout() time.Duration   { return j.Job.Timeout() }
func (j *UniquePeriodicJob) Name() string             { return j.Job.Name() }
func (j *UniquePeriodicJob) NewParams() any           { return j.Job.NewParams() }
func (j *UniquePeriodicJob) Trigger() <-chan struct{} { return j.Job.Trigger() }

func (j *UniquePeriodicJob) lockName() string {
	return "job:" + j.Job.Name()
}

func (j *UniquePeriodicJob) RunOnce(ctx context.Context, params any) error {
	lockName := j.lockName()
	expiration := time.Now().UTC().Add(j.LockDuration)

	if err := j.Store.AcquireLock(ctx, lockName, expiration); err != nil {
		level := slog.LevelError
		if errors.Is(err, db.ErrLocked) {
			level = slog.LevelDebug
		}
		slog.Log(ctx, level, "Failed to acquire a lock for periodic job", "lock", lockName, common.ErrAttr(err))
		return nil
	}

	err := j.Job.RunOnce(ctx, params)
	if err != nil {
		// the lock normally expires by itself, a failed run lets another instance retry sooner
		if rerr := j.Store.ReleaseLock(ctx, lockName); rerr != nil {
			slog.ErrorContext(ctx, "Failed to release the lock for periodic job", "lock", lockName, common.ErrAttr(rerr))
		}
	}

	return err
}
