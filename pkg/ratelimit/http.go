package ratelimit

import (
	"context"
	"log/slog"
	"math"
	randv2 "math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	realclientip "github.com/realclientip/realclientip-go"
	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/leakybucket"
)

const (
	CodeRateLimited = "rate-limited"
)

var (
	defaultRejectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		common.SendJSONResponseCode(r.Context(), w, http.StatusTooManyRequests, map[string]any{
			"success": false,
			"code":    CodeRateLimited,
		})
	})

	rateLimitHeader          = http.CanonicalHeaderKey("X-RateLimit-Limit")
	rateLimitRemainingHeader = http.CanonicalHeaderKey("X-RateLimit-Remaining")
	rateLimitResetHeader     = http.CanonicalHeaderKey("X-RateLimit-Reset")
)

func clientIP(strategy realclientip.Strategy, r *http.Request) string {
	if strategy == nil {
		return ""
	}

	clientIP := strategy.ClientIP(r.Header, r.RemoteAddr)

	// zone is not part of the limiter key
	clientIP, _ = realclientip.SplitHostZone(clientIP)

	return clientIP
}

type HTTPRateLimiter interface {
	Shutdown()
	RateLimit(next http.Handler) http.Handler
	// RateLimitExFunc returns a stricter limiter sharing the same key strategy
	RateLimitExFunc(limits leakybucket.Limits) func(next http.Handler) http.Handler
	UpdateLimits(limits leakybucket.Limits)
}

type httpRateLimiter[TKey comparable] struct {
	name            string
	rejectedHandler http.HandlerFunc
	buckets         *leakybucket.Manager[TKey]
	cleanupCancel   context.CancelFunc
	keyFunc         func(r *http.Request) TKey
	newBuckets      func(limits leakybucket.Limits) *leakybucket.Manager[TKey]
	childrenMux     sync.Mutex
	children        []*httpRateLimiter[TKey]
}

var _ HTTPRateLimiter = (*httpRateLimiter[string])(nil)

func (l *httpRateLimiter[TKey]) Shutdown() {
	l.cleanupCancel()

	l.childrenMux.Lock()
	defer l.childrenMux.Unlock()

	for _, child := range l.children {
		child.Shutdown()
	}
}

func (l *httpRateLimiter[TKey]) UpdateLimits(limits leakybucket.Limits) {
	l.buckets.SetLimits(limits)
	slog.Debug("Updated rate limits", "ratelimiter", l.name, "capacity", limits.Capacity,
		"leakInterval", limits.LeakInterval.String())
}

func (l *httpRateLimiter[TKey]) startCleanup() {
	var ctx context.Context
	ctx, l.cleanupCancel = context.WithCancel(
		common.TraceContext(context.Background(), l.name+"_rate_limiter_cleanup"))
	go l.cleanup(ctx)
}

func (l *httpRateLimiter[TKey]) cleanup(ctx context.Context) {
	const jitter = 4 * time.Second
	// don't overload server on start
	select {
	case <-ctx.Done():
		return
	case <-time.After(10*time.Second + time.Duration(randv2.Int64N(int64(jitter)))):
	}

	common.ChunkedCleanup(ctx, 1*time.Second, 10*time.Second, 100 /*chunkSize*/, func(ctx context.Context, t time.Time, size int) int {
		return l.buckets.Cleanup(t, size)
	})
}

func (l *httpRateLimiter[TKey]) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.keyFunc(r)

		addResult := l.buckets.Add(key, 1, time.Now())

		setRateLimitHeaders(w, addResult)

		if addResult.Added > 0 {
			ctx := context.WithValue(r.Context(), common.RateLimitKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		} else {
			slog.Log(r.Context(), common.LevelTrace, "Rate limiting request", "ratelimiter", l.name,
				"key", key, "host", r.Host, "path", r.URL.Path, "method", r.Method,
				"level", addResult.CurrLevel, "capacity", addResult.Capacity,
				"retryAfter", addResult.RetryAfter.String(), "found", addResult.Found)
			l.rejectedHandler.ServeHTTP(w, r)
		}
	})
}

func (l *httpRateLimiter[TKey]) RateLimitExFunc(limits leakybucket.Limits) func(next http.Handler) http.Handler {
	child := &httpRateLimiter[TKey]{
		name:            l.name + "_ex",
		rejectedHandler: l.rejectedHandler,
		buckets:         l.newBuckets(limits),
		keyFunc:         l.keyFunc,
		newBuckets:      l.newBuckets,
	}
	child.startCleanup()

	l.childrenMux.Lock()
	l.children = append(l.children, child)
	l.childrenMux.Unlock()

	return child.RateLimit
}

// headerSeconds rounds d to whole seconds, never below one.
func headerSeconds(d time.Duration) []string {
	return []string{strconv.Itoa(max(1, int(math.Round(d.Seconds()))))}
}

func setRateLimitHeaders(w http.ResponseWriter, r leakybucket.AddResult) {
	headers := w.Header()

	if r.Capacity > 0 {
		headers[rateLimitHeader] = []string{strconv.FormatUint(uint64(r.Capacity), 10)}
	}

	if remaining := r.Remaining(); remaining > 0 {
		headers[rateLimitRemainingHeader] = []string{strconv.FormatUint(uint64(remaining), 10)}
	}

	if r.ResetAfter > 0 {
		headers[rateLimitResetHeader] = headerSeconds(r.ResetAfter)
	}

	if r.RetryAfter > 0 {
		headers[common.HeaderRetryAfter] = headerSeconds(r.RetryAfter)
	}
}
