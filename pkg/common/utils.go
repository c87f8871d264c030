package common

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jpillora/backoff"
)

var (
	HeaderValueContentTypeJSON = []string{ContentTypeJSON}
)

func SendJSONResponse(ctx context.Context, w http.ResponseWriter, data interface{}, headers ...map[string][]string) {
	SendJSONResponseCode(ctx, w, http.StatusOK, data, headers...)
}

func SendJSONResponseCode(ctx context.Context, w http.ResponseWriter, code int, data interface{}, headers ...map[string][]string) {
	response, err := json.Marshal(data)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to serialise response", ErrAttr(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header()[HeaderContentType] = HeaderValueContentTypeJSON
	for _, h := range headers {
		WriteHeaders(w, h)
	}

	if code != http.StatusOK {
		w.WriteHeader(code)
	}

	n, err := w.Write(response)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to send response", ErrAttr(err))
	} else {
		slog.Log(ctx, LevelTrace, "Sent response", "serialized", len(response), "sent", n)
	}
}

func EnvToBool(value string) bool {
	switch value {
	case "1", "Y", "y", "yes", "true", "YES", "TRUE":
		return true
	default:
		return false
	}
}

// ChunkedCleanup calls deleter with a growing chunk size while it keeps
// deleting and backs off between empty rounds.
func ChunkedCleanup(ctx context.Context, minInterval, maxInterval time.Duration, defaultChunkSize int, deleter func(context.Context, time.Time, int) int) {
	b := &backoff.Backoff{
		Min:    minInterval,
		Max:    maxInterval,
		Factor: 2,
		Jitter: true,
	}

	slog.DebugContext(ctx, "Starting chunked clean up", "maxInterval", maxInterval.String(), "size", defaultChunkSize)

	chunk := defaultChunkSize
	timer := time.NewTimer(b.Duration())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "Finished cleaning up")
			return
		case <-timer.C:
		}

		switch deleted := deleter(ctx, time.Now(), chunk); {
		case deleted == 0:
			chunk = defaultChunkSize
		case deleted == chunk:
			// there is probably more, grow the chunk and come back soon
			chunk += chunk / 2
			b.Reset()
		default:
			slog.Log(ctx, LevelTrace, "Deleted records", "count", deleted)
			b.Reset()
		}

		timer.Reset(b.Duration())
	}
}

// RetriableError is a wrapper for errors that should be retried.
type RetriableError struct {
	err error
}

func NewRetriableError(err error) RetriableError {
	return RetriableError{err}
}

func (e RetriableError) Error() string {
	return e.err.Error()
}

func (e RetriableError) Unwrap() error {
	return e.err
}
