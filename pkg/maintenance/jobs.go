package maintenance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/common"
)

const maxParamsSize = 4 * 1024

func NewJobs(store LockStore) *Jobs {
	return &Jobs{
		store:        store,
		periodicJobs: make([]common.PeriodicJob, 0),
		oneOffJobs:   make([]common.OneOffJob, 0),
	}
}

type Jobs struct {
	store        LockStore
	periodicJobs []common.PeriodicJob
	oneOffJobs   []common.OneOffJob
	exclusive    sync.Mutex
	cancel       context.CancelFunc
	ctx          context.Context
}

// AddLocked runs the job at most once per lockDuration across all faucet
// instances. The job Interval only defines how often a run is attempted.
func (j *Jobs) AddLocked(lockDuration time.Duration, job common.PeriodicJob) {
	if j.store == nil {
		slog.Warn("Lock store is not configured, adding job without a lock", "job", job.Name())
		j.Add(job)
		return
	}

	j.periodicJobs = append(j.periodicJobs, &UniquePeriodicJob{
		Job:          job,
		Store:        j.store,
		LockDuration: lockDuration,
	})
}

// AddExclusive serializes the job with other exclusive jobs of this instance.
func (j *Jobs) AddExclusive(job common.PeriodicJob) {
	j.periodicJobs = append(j.periodicJobs, &mutexPeriodicJob{job: job, mux: &j.exclusive})
}

func (j *Jobs) Add(job common.PeriodicJob) {
	j.periodicJobs = append(j.periodicJobs, job)
}

func (j *Jobs) AddOneOff(job common.OneOffJob) {
	j.oneOffJobs = append(j.oneOffJobs, job)
}

func (j *Jobs) Run() {
	j.ctx, j.cancel = context.WithCancel(common.TraceContext(context.Background(), "maintenance"))

	slog.DebugContext(j.ctx, "Starting maintenance jobs", "periodic", len(j.periodicJobs), "oneoff", len(j.oneOffJobs))

	for _, job := range j.periodicJobs {
		go common.RunPeriodicJob(j.ctx, job)
	}

	for _, job := range j.oneOffJobs {
		go common.RunOneOffJob(j.ctx, job, job.NewParams())
	}
}

func (j *Jobs) Setup(mux *http.ServeMux) {
	mux.Handle(http.MethodPost+" /maintenance/periodic/{job}", common.Recovered(j.launchHandler(j.periodicLauncher)))
	mux.Handle(http.MethodPost+" /maintenance/oneoff/{job}", common.Recovered(j.launchHandler(j.oneOffLauncher)))
}

// decodeParams keeps job defaults for an empty body.
func decodeParams(w http.ResponseWriter, r *http.Request, params any) error {
	if r.ContentLength == 0 {
		return nil
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxParamsSize))
	decoder.DisallowUnknownFields()

	return decoder.Decode(params)
}

// launcher starts a job with decoded params in the background.
type launcher struct {
	newParams func() any
	run       func(ctx context.Context, params any)
}

func (j *Jobs) periodicLauncher(name string) (launcher, bool) {
	for _, job := range j.periodicJobs {
		if job.Name() == name {
			return launcher{
				newParams: job.NewParams,
				run: func(ctx context.Context, params any) {
					_ = common.RunPeriodicJobOnce(ctx, job, params)
				},
			}, true
		}
	}
	return launcher{}, false
}

func (j *Jobs) oneOffLauncher(name string) (launcher, bool) {
	for _, job := range j.oneOffJobs {
		if job.Name() == name {
			return launcher{
				newParams: job.NewParams,
				run: func(ctx context.Context, params any) {
					common.RunOneOffJob(ctx, job, params)
				},
			}, true
		}
	}
	return launcher{}, false
}

func (j *Jobs) launchHandler(find func(name string) (launcher, bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobName, err := common.StrPathArg(r, "job")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		l, ok := find(jobName)
		if !ok {
			http.Error(w, fmt.Sprintf("job %v not found", jobName), http.StatusNotFound)
			return
		}

		params := l.newParams()
		if err := decodeParams(w, r, params); err != nil {
			slog.WarnContext(ctx, "Failed to decode job params", "job", jobName, common.ErrAttr(err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		slog.InfoContext(ctx, "Launching job on demand", "job", jobName)
		// the job outlives the request
		go l.run(common.CopyTraceID(ctx, context.Background()), params)

		_, _ = w.Write([]byte("started"))
	}
}

func (j *Jobs) Shutdown() {
	slog.Debug("Shutting down maintenance jobs")

	if j.cancel != nil {
		j.cancel()
	}
}
