package common

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/justinas/alice"
)

var (
	errPathArgEmpty = errors.New("path argument is empty")
	epoch           = time.Unix(0, 0).UTC().Format(http.TimeFormat)
	// taken from chi, which took it from nginx
	NoCacheHeaders = map[string][]string{
		http.CanonicalHeaderKey("Expires"):         []string{epoch},
		http.CanonicalHeaderKey("Cache-Control"):   []string{"no-cache, no-store, no-transform, must-revalidate, private, max-age=0"},
		http.CanonicalHeaderKey("Pragma"):          []string{"no-cache"},
		http.CanonicalHeaderKey("X-Accel-Expires"): []string{"0"},
	}
	CachedHeaders = map[string][]string{
		HeaderCacheControl: []string{"public, max-age=86400"},
	}
	SecurityHeaders = map[string][]string{
		http.CanonicalHeaderKey("X-Frame-Options"):        []string{"DENY"},
		http.CanonicalHeaderKey("X-Content-Type-Options"): []string{"nosniff"},
	}
)

func NoopMiddleware(next http.Handler) http.Handler {
	return next
}

func Recovered(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				slog.ErrorContext(r.Context(), "Crash", "panic", rvr, "stack", string(debug.Stack()))

				if r.Header.Get("Connection") != "Upgrade" {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func TimeoutHandler(timeout time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		h := func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer func() {
				cancel()
				if ctx.Err() == context.DeadlineExceeded {
					w.WriteHeader(http.StatusGatewayTimeout)
				}
			}()

			r = r.WithContext(ctx)
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(h)
	}
}

func WriteHeaders(w http.ResponseWriter, headers map[string][]string) {
	maps.Copy(w.Header(), headers)
}

// WithHeaders returns a middleware that sets headers before calling next.
func WithHeaders(headers map[string][]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			WriteHeaders(w, headers)
			next.ServeHTTP(w, r)
		})
	}
}

var (
	Cached  = WithHeaders(CachedHeaders)
	NoCache = WithHeaders(NoCacheHeaders)
	Secured = WithHeaders(SecurityHeaders)
)

func HttpStatus(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

func StrPathArg(r *http.Request, name string) (string, error) {
	value := r.PathValue(name)

	if len(value) == 0 {
		return "", errPathArgEmpty
	}

	return value, nil
}

// CatchAll answers everything no route matched. The root is an empty 200 for
// load balancers that probe it.
func CatchAll(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		return
	}

	slog.WarnContext(r.Context(), "Unknown route", "path", r.URL.Path, "method", r.Method, "host", r.Host)
	http.NotFound(w, r)
}

type routeAndHandler struct {
	pattern string
	handler http.Handler
}

// RouteGenerator builds "METHOD prefix/path" patterns and remembers the last
// path so that a metrics middleware in the chain can use it as handler ID.
// Handle applies the chain right away, while LastPath still holds the path.
type RouteGenerator struct {
	Prefix string
	Path   string
	routes []*routeAndHandler
}

func (rg *RouteGenerator) Route(method string, parts ...string) string {
	rg.Path = strings.Join(parts, "/")
	return method + " " + rg.Prefix + rg.Path
}

func (rg *RouteGenerator) Options(parts ...string) string {
	return rg.Route(http.MethodOptions, parts...)
}

func (rg *RouteGenerator) Get(parts ...string) string {
	return rg.Route(http.MethodGet, parts...)
}

func (rg *RouteGenerator) Post(parts ...string) string {
	return rg.Route(http.MethodPost, parts...)
}

// LastPath resets the path, a second call returns an empty string.
func (rg *RouteGenerator) LastPath() string {
	result := rg.Path
	rg.Path = ""
	return result
}

// Handle replaces the handler of an already registered pattern.
func (rg *RouteGenerator) Handle(pattern string, chain alice.Chain, handler http.Handler) {
	composed := chain.Then(handler)

	for _, route := range rg.routes {
		if route.pattern == pattern {
			route.handler = composed
			return
		}
	}

	rg.routes = append(rg.routes, &routeAndHandler{
		pattern: pattern,
		handler: composed,
	})
}

func (rg *RouteGenerator) Register(router *http.ServeMux) {
	for _, route := range rg.routes {
		router.Handle(route.pattern, route.handler)
	}
}
