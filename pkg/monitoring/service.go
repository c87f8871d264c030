package monitoring

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	prometheus_metrics "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"
	"github.com/tokenprinter/powfaucet/pkg/common"
)

const (
	MetricsNamespaceServer   = "server"
	MetricsNamespaceAPI      = "api"
	faucetMetricsSubsystem   = "faucet"
	platformMetricsSubsystem = "platform"
	apiMetricsSubsystem      = "api"
	resultLabel              = "result"
	clientLabel              = "client"
	databaseLabel            = "database"
)

type Service struct {
	Registry               *prometheus.Registry
	fineAPIMiddleware      middleware.Middleware
	coarseServerMiddleware middleware.Middleware
	transferCounter        *prometheus.CounterVec
	difficultyHistogram    prometheus.Histogram
	minDifficultyGauge     prometheus.Gauge
	hitRatioGauge          *prometheus.GaugeVec
	healthGauge            *prometheus.GaugeVec
}

var _ common.PlatformMetrics = (*Service)(nil)
var _ common.APIMetrics = (*Service)(nil)

func traceID() string {
	return xid.New().String()
}

func Traced(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, tid := common.TraceContextFunc(r.Context(), traceID)
		headers := w.Header()
		headers[common.HeaderTraceID] = []string{tid}
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

func NewService() *Service {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	transferCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespaceAPI,
			Subsystem: faucetMetricsSubsystem,
			Name:      "transfer_total",
			Help:      "Total number of transfer requests by verification result",
		},
		[]string{resultLabel, clientLabel},
	)
	reg.MustRegister(transferCounter)

	difficultyHistogram := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespaceAPI,
			Subsystem: faucetMetricsSubsystem,
			Name:      "proof_difficulty",
			Help:      "Leading zero bits of submitted proofs",
			Buckets:   prometheus.LinearBuckets(0, 4, 16),
		},
	)
	reg.MustRegister(difficultyHistogram)

	minDifficultyGauge := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespaceAPI,
			Subsystem: faucetMetricsSubsystem,
			Name:      "min_difficulty",
			Help:      "Currently required proof difficulty",
		},
	)
	reg.MustRegister(minDifficultyGauge)

	healthGauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespaceServer,
			Subsystem: platformMetricsSubsystem,
			Name:      "database_up",
			Help:      "1 if the last health check of the database succeeded",
		},
		[]string{databaseLabel},
	)
	reg.MustRegister(healthGauge)

	hitRatioGauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: MetricsNamespaceServer,
			Subsystem: platformMetricsSubsystem,
			Name:      "cache_hit_ratio",
			Help:      "In-memory cache hit ratio",
		},
		[]string{"cache"},
	)
	reg.MustRegister(hitRatioGauge)

	fineRecorder := prometheus_metrics.NewRecorder(prometheus_metrics.Config{
		Prefix:          "fine",
		Registry:        reg,
		DurationBuckets: []float64{.05, .1, .25, .5, 1, 2.5},
	})

	coarseRecorder := prometheus_metrics.NewRecorder(prometheus_metrics.Config{
		Prefix:          "coarse",
		Registry:        reg,
		DurationBuckets: []float64{.05, .1, .5, 1, 2.5},
	})

	return &Service{
		Registry: reg,
		fineAPIMiddleware: middleware.New(middleware.Config{
			Service:            MetricsNamespaceAPI,
			DisableMeasureSize: true,
			Recorder:           fineRecorder,
		}),
		coarseServerMiddleware: middleware.New(middleware.Config{
			Service:                MetricsNamespaceServer,
			GroupedStatus:          true,
			DisableMeasureSize:     true,
			DisableMeasureInflight: true,
			Recorder:               coarseRecorder,
		}),
		transferCounter:     transferCounter,
		difficultyHistogram: difficultyHistogram,
		minDifficultyGauge:  minDifficultyGauge,
		hitRatioGauge:       hitRatioGauge,
		healthGauge:         healthGauge,
	}
}

func (s *Service) Handler(h http.Handler) http.Handler {
	// handlerID is taken from the request path in this case
	return std.Handler("", s.fineAPIMiddleware, h)
}

// HandlerIDFunc labels requests with the route template, handlerIDFunc is
// called once when the chain is built.
func (s *Service) HandlerIDFunc(handlerIDFunc func() string) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return std.Handler(handlerIDFunc(), s.fineAPIMiddleware, h)
	}
}

func (s *Service) IgnoredHandler(h http.Handler) http.Handler {
	return std.Handler("_ignored", s.coarseServerMiddleware, h)
}

func (s *Service) ObserveTransfer(result string, client string) {
	s.transferCounter.With(prometheus.Labels{
		resultLabel: result,
		clientLabel: client,
	}).Inc()
}

func (s *Service) ObserveDifficulty(difficulty uint32) {
	s.difficultyHistogram.Observe(float64(difficulty))
}

func (s *Service) ObserveMinDifficulty(difficulty uint32) {
	s.minDifficultyGauge.Set(float64(difficulty))
}

func (s *Service) ObserveCacheHitRatio(cache string, ratio float64) {
	s.hitRatioGauge.With(prometheus.Labels{"cache": cache}).Set(ratio)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (s *Service) ObserveHealth(postgres, clickhouse bool) {
	s.healthGauge.WithLabelValues("postgres").Set(boolValue(postgres))
	s.healthGauge.WithLabelValues("clickhouse").Set(boolValue(clickhouse))
}

func (s *Service) Setup(mux *http.ServeMux) {
	mux.Handle(http.MethodGet+" /metrics", common.Recovered(promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{Registry: s.Registry})))
	s.setupProfiling(context.TODO(), mux)
}
