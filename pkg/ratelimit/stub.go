package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/leakybucket"
)

// StubRateLimiter never rejects, but still puts the client IP into the
// request context like the real one does.
type StubRateLimiter struct {
	Header string
}

var _ HTTPRateLimiter = (*StubRateLimiter)(nil)

func (srl *StubRateLimiter) context(r *http.Request) context.Context {
	var value string
	if len(srl.Header) > 0 {
		value = r.Header.Get(srl.Header)
	}

	ctx := r.Context()
	if len(value) == 0 {
		slog.Log(ctx, common.LevelTrace, "Test IP address from header is empty")
		value = r.RemoteAddr
	}

	if addrPort, err := netip.ParseAddrPort(value); err == nil {
		ctx = context.WithValue(ctx, common.RateLimitKeyContextKey, addrPort.Addr())
	} else if ip, err := netip.ParseAddr(value); err == nil {
		ctx = context.WithValue(ctx, common.RateLimitKeyContextKey, ip)
	}
	return ctx
}

func (srl *StubRateLimiter) Shutdown() {}

func (srl *StubRateLimiter) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(srl.context(r)))
	})
}

func (srl *StubRateLimiter) RateLimitExFunc(leakybucket.Limits) func(next http.Handler) http.Handler {
	return srl.RateLimit
}

func (srl *StubRateLimiter) UpdateLimits(leakybucket.Limits) {}
