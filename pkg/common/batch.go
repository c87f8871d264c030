package common

import (
	"context"
	"log/slog"
	"time"
)

// ProcessBatchArray groups items from channel and hands them to processor
// when triggerSize items are pending or delay passes without a flush. A failed
// batch is retried with the next flush until it grows past maxBatchSize.
// Closing the channel flushes what is pending, cancelling ctx drops it.
func ProcessBatchArray[T any](ctx context.Context, channel <-chan T, delay time.Duration, triggerSize, maxBatchSize int, processor func(context.Context, []T) error) {
	var batch []T
	slog.DebugContext(ctx, "Processing batch", "interval", delay.String())

	flush := func(reason string) {
		if len(batch) == 0 {
			return
		}
		slog.Log(ctx, LevelTrace, "Processing batch", "count", len(batch), "reason", reason)
		if err := processor(ctx, batch); err == nil {
			batch = nil
		} else if len(batch) > maxBatchSize {
			slog.ErrorContext(ctx, "Dropping pending batch due to errors", "count", len(batch))
			batch = nil
		}
	}

	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				slog.WarnContext(ctx, "Discarding pending batch", "count", len(batch))
			}
			return
		case item, ok := <-channel:
			if !ok {
				flush("closed")
				slog.InfoContext(ctx, "Finished processing batch")
				return
			}

			batch = append(batch, item)
			if len(batch) >= triggerSize {
				flush("size")
			}
		case <-ticker.C:
			flush("timeout")
		}
	}
}
