package common

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/justinas/alice"
)

func TestRouteGenerator(t *testing.T) {
	testCases := []struct {
		parts    []string
		expected string
	}{
		{[]string{"settings"}, "settings"},
		{[]string{"account", "{id}"}, "account/{id}"},
		{[]string{"transfer", "{id}"}, "transfer/{id}"},
		{[]string{"admin", "difficulty"}, "admin/difficulty"},
	}

	rg := &RouteGenerator{
		Prefix: "api.tokenprinter.dev/",
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("route_path_%v", i), func(t *testing.T) {
			rg.Route("any", tc.parts...)

			if actual := rg.LastPath(); actual != tc.expected {
				t.Errorf("Actual path (%v) is different from expected (%v)", actual, tc.expected)
			}
		})
	}
}

func TestRouteGeneratorRegister(t *testing.T) {
	t.Parallel()

	rg := &RouteGenerator{Prefix: "/"}
	chain := alice.New(Recovered)

	rg.Handle(rg.Get("ping"), chain, HttpStatus(http.StatusTeapot))
	// re-registering the same pattern replaces the handler
	rg.Handle(rg.Get("ping"), chain, HttpStatus(http.StatusAccepted))

	router := http.NewServeMux()
	rg.Register(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Code != http.StatusAccepted {
		t.Errorf("Unexpected status code: %v", w.Code)
	}
}

func TestRouteGeneratorHandlerID(t *testing.T) {
	t.Parallel()

	rg := &RouteGenerator{Prefix: "/"}
	ids := make([]string, 0)
	chain := alice.New(func(h http.Handler) http.Handler {
		ids = append(ids, rg.LastPath())
		return h
	})

	rg.Handle(rg.Get(AccountEndpoint, "{id}"), chain, HttpStatus(http.StatusOK))
	rg.Handle(rg.Post(TransferEndpoint), chain, HttpStatus(http.StatusOK))

	if len(ids) != 2 || ids[0] != "account/{id}" || ids[1] != "transfer" {
		t.Errorf("Unexpected handler IDs: %v", ids)
	}
}

func TestRecovered(t *testing.T) {
	t.Parallel()

	handler := Recovered(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Unexpected status code: %v", w.Code)
	}
}

func TestTimeoutHandler(t *testing.T) {
	t.Parallel()

	handler := TimeoutHandler(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("Unexpected status code: %v", w.Code)
	}
}

type staticItem struct {
	key   ConfigKey
	value string
}

func (i *staticItem) Key() ConfigKey { return i.key }
func (i *staticItem) Value() string  { return i.value }

func TestCatchAll(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		path   string
		status int
	}{
		{"/", http.StatusOK},
		{"/wp-admin", http.StatusNotFound},
	} {
		t.Run(fmt.Sprintf("catchall_%v", tc.status), func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)

			NoCache(http.HandlerFunc(CatchAll)).ServeHTTP(w, req)

			if w.Code != tc.status {
				t.Errorf("Unexpected status: %v", w.Code)
			}
			if cc := w.Header().Get(HeaderCacheControl); len(cc) == 0 {
				t.Error("Cache-Control header is missing")
			}
		})
	}
}
