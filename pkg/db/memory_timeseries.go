package db

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/common"
)

// MemoryTimeSeries is used when ClickHouse is not configured.
type MemoryTimeSeries struct {
	lock    sync.Mutex
	records []*common.TransferRecord
}

var _ common.TimeSeriesStore = (*MemoryTimeSeries)(nil)

func NewMemoryTimeSeries() *MemoryTimeSeries {
	return &MemoryTimeSeries{
		records: make([]*common.TransferRecord, 0),
	}
}

func (ts *MemoryTimeSeries) Ping(context.Context) error { return nil }

func (ts *MemoryTimeSeries) WriteTransferLogBatch(ctx context.Context, records []*common.TransferRecord) error {
	ts.lock.Lock()
	defer ts.lock.Unlock()

	ts.records = append(ts.records, records...)

	slog.Log(ctx, common.LevelTrace, "Stored transfer records in memory", "size", len(records))

	return nil
}

func (ts *MemoryTimeSeries) ReadTransferStats(ctx context.Context, from time.Time) ([]*common.TimeCount, error) {
	ts.lock.Lock()
	defer ts.lock.Unlock()

	counts := make(map[time.Time]uint32)
	for _, r := range ts.records {
		if r.Result != transferResultSuccess || r.Timestamp.Before(from) {
			continue
		}
		counts[r.Timestamp.UTC().Truncate(time.Hour)]++
	}

	results := make([]*common.TimeCount, 0, len(counts))
	for t, c := range counts {
		results = append(results, &common.TimeCount{Timestamp: t, Count: c})
	}

	slices.SortFunc(results, func(a, b *common.TimeCount) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	return results, nil
}

func (ts *MemoryTimeSeries) DeleteTransferLogs(ctx context.Context, before time.Time) error {
	ts.lock.Lock()
	defer ts.lock.Unlock()

	ts.records = slices.DeleteFunc(ts.records, func(r *common.TransferRecord) bool {
		return r.Timestamp.Before(before)
	})

	return nil
}

func (ts *MemoryTimeSeries) Len() int {
	ts.lock.Lock()
	defer ts.lock.Unlock()

	return len(ts.records)
}
