package monitoring

import (
	"net/http"

	"github.com/tokenprinter/powfaucet/pkg/common"
)

type stubMetrics struct{}

func NewStub() *stubMetrics {
	return &stubMetrics{}
}

var _ common.PlatformMetrics = (*stubMetrics)(nil)
var _ common.APIMetrics = (*stubMetrics)(nil)

func (sm *stubMetrics) Handler(h http.Handler) http.Handler {
	return h
}

func (sm *stubMetrics) HandlerIDFunc(func() string) func(http.Handler) http.Handler {
	return common.NoopMiddleware
}

func (sm *stubMetrics) ObserveTransfer(result string, client string) {}

func (sm *stubMetrics) ObserveDifficulty(difficulty uint32) {}

func (sm *stubMetrics) ObserveMinDifficulty(difficulty uint32) {}

func (sm *stubMetrics) ObserveHealth(postgres, clickhouse bool) {}

func (sm *stubMetrics) ObserveCacheHitRatio(cache string, ratio float64) {}
