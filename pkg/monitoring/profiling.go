package monitoring

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/pprof"
)

func (s *Service) setupProfiling(ctx context.Context, mux *http.ServeMux) {
	slog.DebugContext(ctx, "Setting up profiling endpoints")

	mux.HandleFunc(http.MethodGet+" /debug/pprof/", pprof.Index)
	mux.HandleFunc(http.MethodGet+" /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc(http.MethodGet+" /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc(http.MethodGet+" /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc(http.MethodGet+" /debug/pprof/trace", pprof.Trace)
}
