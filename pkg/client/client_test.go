package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}

	c.MinBackoff = time.Millisecond
	c.MaxBackoff = 5 * time.Millisecond

	return c
}

func TestNewClientEmpty(t *testing.T) {
	t.Parallel()

	if _, err := NewClient("  "); !errors.Is(err, errEmptyBaseURL) {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestClientSettings(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+common.SettingsEndpoint {
			t.Errorf("Unexpected path: %v", r.URL.Path)
		}
		if ua := r.Header.Get(common.HeaderUserAgent); ua != DefaultUserAgent {
			t.Errorf("Unexpected user agent: %v", ua)
		}
		fmt.Fprint(w, `{"min_difficulty":20,"transfer_amount":"340282366920938463463374607431768211455","num_transfers":7}`)
	})

	settings, err := c.Settings(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	if settings.MinDifficulty != 20 || settings.NumTransfers != 7 ||
		settings.TransferAmount != "340282366920938463463374607431768211455" {
		t.Errorf("Unexpected settings: %+v", settings)
	}
}

func TestClientAccountExists(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/"+common.AccountEndpoint+"/")
		fmt.Fprintf(w, `{"account_id":%q,"exists":%v}`, id, id == "alice.test")
	})

	for _, tc := range []struct {
		id     string
		exists bool
	}{
		{"alice.test", true},
		{"bob.test", false},
	} {
		exists, err := c.AccountExists(t.Context(), tc.id)
		if err != nil {
			t.Fatal(err)
		}
		if exists != tc.exists {
			t.Errorf("Unexpected existence of %v: %v", tc.id, exists)
		}
	}
}

func TestClientRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"min_difficulty":1,"transfer_amount":"1","num_transfers":0}`)
	})

	if _, err := c.Settings(t.Context()); err != nil {
		t.Fatal(err)
	}

	if calls.Load() != 3 {
		t.Errorf("Unexpected number of calls: %v", calls.Load())
	}
}

func TestClientGivesUp(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c.MaxAttempts = 3

	_, err := c.Settings(t.Context())

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests {
		t.Errorf("Unexpected error: %v", err)
	}

	if calls.Load() != 3 {
		t.Errorf("Unexpected number of calls: %v", calls.Load())
	}
}

func TestClientTransfer(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Unexpected method: %v", r.Method)
		}

		req := &transferRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			t.Error(err)
		}

		if req.AccountID != "alice.test" || req.Salt != "18446744073709551615" {
			t.Errorf("Unexpected request: %+v", req)
		}

		fmt.Fprint(w, `{"success":true,"code":"no-error","receipt":{"id":"xyz","account_id":"alice.test","amount":"5","difficulty":21,"timestamp":"2024-01-02T03:04:05Z"}}`)
	})

	result, err := c.RequestTransfer(t.Context(), "alice.test", 18446744073709551615)
	if err != nil {
		t.Fatal(err)
	}

	if !result.Success || result.Receipt == nil || result.Receipt.ID != "xyz" || result.Receipt.Difficulty != 21 {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestClientTransferNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"success":false,"code":"internal-error"}`)
	})

	_, err := c.RequestTransfer(t.Context(), "alice.test", 1)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "internal-error" {
		t.Errorf("Unexpected error: %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("Transfer was retried: %v calls", calls.Load())
	}
}

func TestClientBadRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"success":false,"code":"account-invalid"}`)
	})

	_, err := c.AccountExists(t.Context(), "A")

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest || apiErr.Code != "account-invalid" {
		t.Errorf("Unexpected error: %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("Bad request was retried: %v calls", calls.Load())
	}
}
