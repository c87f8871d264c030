package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tokenprinter/powfaucet/pkg/common"
)

func TestTraced(t *testing.T) {
	t.Parallel()

	var tid string
	handler := Traced(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid, _ = r.Context().Value(common.TraceIDContextKey).(string)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/settings", nil))

	if len(tid) == 0 {
		t.Fatal("Trace ID is not set in context")
	}

	if header := w.Header().Get(common.HeaderTraceID); header != tid {
		t.Errorf("Trace header (%v) is different from context (%v)", header, tid)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	service := NewService()
	service.ObserveTransfer("success", ClientPrinter)
	service.ObserveMinDifficulty(20)
	service.ObserveHealth(true /*postgres*/, false /*clickhouse*/)

	mux := http.NewServeMux()
	service.Setup(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Unexpected status code: %v", w.Code)
	}

	body := w.Body.String()
	for _, metric := range []string{
		"api_faucet_transfer_total",
		"api_faucet_min_difficulty 20",
		`server_platform_database_up{database="postgres"} 1`,
		`server_platform_database_up{database="clickhouse"} 0`,
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("Metric %v is missing", metric)
		}
	}
}

func TestClientFamily(t *testing.T) {
	t.Parallel()

	if c := ClientFamily(""); c != ClientUnknown {
		t.Errorf("Unexpected client for empty agent: %v", c)
	}

	if c := ClientFamily(PrinterUserAgent + "1.0"); c != ClientPrinter {
		t.Errorf("Unexpected client for printer: %v", c)
	}
}
