package common

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

const (
	LevelTrace = slog.Level(-8)
)

// context values copied into every log record
var logContextKeys = []struct {
	key  ContextKey
	attr string
}{
	{TraceIDContextKey, "traceID"},
	{AccountContextKey, "accountID"},
}

type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx == nil {
		return h.Handler.Handle(ctx, r)
	}

	for _, ck := range logContextKeys {
		if v, ok := ctx.Value(ck.key).(string); ok && (len(v) > 0) {
			r.AddAttrs(slog.String(ck.attr, v))
		}
	}

	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.Handler.Enabled(ctx, level)
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{h.Handler.WithGroup(name)}
}

func TraceContextFunc(ctx context.Context, traceID func() string) (context.Context, string) {
	tid, ok := ctx.Value(TraceIDContextKey).(string)
	if !ok || (len(tid) == 0) {
		tid = traceID()
	}

	return context.WithValue(ctx, TraceIDContextKey, tid), tid
}

func TraceContext(ctx context.Context, traceID string) context.Context {
	if tid, ok := ctx.Value(TraceIDContextKey).(string); !ok || (len(tid) == 0) {
		ctx = context.WithValue(ctx, TraceIDContextKey, traceID)
	}

	return ctx
}

func CopyTraceID(from context.Context, to context.Context) context.Context {
	if tid, ok := from.Value(TraceIDContextKey).(string); ok && (len(tid) > 0) {
		return context.WithValue(to, TraceIDContextKey, tid)
	}

	return to
}

func AccountContext(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountContextKey, accountID)
}

func SetLogLevel(level *slog.LevelVar, verbose bool) {
	if verbose {
		level.Set(LevelTrace)
	} else {
		level.Set(slog.LevelDebug)
	}
}

func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(&contextHandler{handler})
}

// SetupLogs installs the default JSON logger. The returned level can be
// changed later, e.g. on config reload.
func SetupLogs(stage string, verbose bool) *slog.LevelVar {
	level := &slog.LevelVar{}
	SetLogLevel(level, verbose)
	logger := newLogger(os.Stdout, level).With("stage", stage)
	slog.SetDefault(logger)
	return level
}

// SetupCLILogs is used by command line tools where stdout belongs to the user.
func SetupCLILogs(verbose bool) *slog.LevelVar {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelWarn)
	}
	slog.SetDefault(newLogger(os.Stderr, level))
	return level
}

func ErrAttr(err error) slog.Attr {
	return slog.Any("error", err)
}

func TraceIDAttr(tid string) slog.Attr { return slog.String("traceID", tid) }

func AccountIDAttr(aid string) slog.Attr { return slog.String("accountID", aid) }

// FmtLogger adapts slog to printf-style loggers of third-party libraries.
type FmtLogger struct {
	Ctx   context.Context
	Level slog.Level
}

func (l *FmtLogger) Printf(s string, args ...interface{}) {
	msg := fmt.Sprintf(s, args...)
	slog.Log(l.Ctx, l.Level, msg)
}
