package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/config"
)

type BusinessPinger interface {
	Ping(ctx context.Context) error
	CacheHitRatio() float64
}

type HealthCheckJob struct {
	BusinessDB      BusinessPinger
	TimeSeriesDB    common.TimeSeriesStore
	CheckInterval   common.ConfigItem
	Metrics         common.PlatformMetrics
	StrictReadiness bool
	postgresOK      atomic.Bool
	clickhouseOK    atomic.Bool
	shuttingDown    atomic.Bool
	recheck         common.JobTrigger
}

const (
	greenPage  = `<!DOCTYPE html><html><body style="background-color: green;"></body></html>`
	orangePage = `<!DOCTYPE html><html><body style="background-color: orange;"></body></html>`
	redPage    = `<!DOCTYPE html><html><body style="background-color: red;"></body></html>`
)

var _ common.PeriodicJob = (*HealthCheckJob)(nil)

func NewHealthCheckJob(business BusinessPinger, timeseries common.TimeSeriesStore, cfg common.ConfigStore, metrics common.PlatformMetrics) *HealthCheckJob {
	return &HealthCheckJob{
		BusinessDB:    business,
		TimeSeriesDB:  timeseries,
		CheckInterval: cfg.Get(common.HealthCheckIntervalKey),
		Metrics:       metrics,
		recheck:       common.NewJobTrigger(),
	}
}

func (hc *HealthCheckJob) Interval() time.Duration {
	return time.Duration(max(1, config.AsInt(hc.CheckInterval, 60))) * time.Second
}

func (hc *HealthCheckJob) Jitter() time.Duration    { return 1 }
func (hc *HealthCheckJob) Timeout() time.Duration   { return 10 * time.Second }
func (hc *HealthCheckJob) Name() string             { return "health_check_job" }
func (hc *HealthCheckJob) NewParams() any           { return struct{}{} }
func (hc *HealthCheckJob) Trigger() <-chan struct{} { return hc.recheck.Chan() }

func (hc *HealthCheckJob) RunOnce(ctx context.Context, _ any) error {
	pgOK := ping(ctx, "Postgres", hc.BusinessDB.Ping)
	hc.postgresOK.Store(pgOK)

	chOK := ping(ctx, "ClickHouse", hc.TimeSeriesDB.Ping)
	hc.clickhouseOK.Store(chOK)

	if hc.Metrics != nil {
		hc.Metrics.ObserveHealth(pgOK, chOK)
		hc.Metrics.ObserveCacheHitRatio("business", hc.BusinessDB.CacheHitRatio())
	}

	return nil
}

func ping(ctx context.Context, name string, f func(context.Context) error) bool {
	if err := f(ctx); err != nil {
		slog.ErrorContext(ctx, "Failed to ping "+name, common.ErrAttr(err))
		return false
	}
	return true
}

func (hc *HealthCheckJob) Healthy() bool {
	return hc.postgresOK.Load() && hc.clickhouseOK.Load()
}

func (hc *HealthCheckJob) Shutdown(ctx context.Context) {
	slog.DebugContext(ctx, "Shutting down health check job")
	hc.shuttingDown.Store(true)
}

func (hc *HealthCheckJob) LiveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (hc *HealthCheckJob) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(common.HeaderContentType, common.ContentTypeHTML)

	shuttingDown := hc.shuttingDown.Load()
	healthy := hc.Healthy()

	if !healthy && !shuttingDown && hc.recheck.Fire() {
		slog.Log(r.Context(), common.LevelTrace, "Requested out of schedule health check")
	}

	if !shuttingDown && (healthy || !hc.StrictReadiness) {
		w.WriteHeader(http.StatusOK)
		if healthy {
			fmt.Fprintln(w, greenPage)
		} else {
			fmt.Fprintln(w, orangePage)
		}
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, redPage)
	}
}
