package db

import (
	"testing"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/common"
)

func TestMemoryTimeSeries(t *testing.T) {
	t.Parallel()

	ts := NewMemoryTimeSeries()
	tnow := time.Now().UTC().Truncate(time.Hour)

	records := []*common.TransferRecord{
		{AccountID: "a.near", Result: transferResultSuccess, Timestamp: tnow.Add(-3 * time.Hour)},
		{AccountID: "b.near", Result: transferResultSuccess, Timestamp: tnow.Add(10 * time.Minute)},
		{AccountID: "c.near", Result: transferResultSuccess, Timestamp: tnow.Add(20 * time.Minute)},
		{AccountID: "d.near", Result: 3, Timestamp: tnow.Add(30 * time.Minute)},
	}

	if err := ts.WriteTransferLogBatch(t.Context(), records); err != nil {
		t.Fatal(err)
	}

	stats, err := ts.ReadTransferStats(t.Context(), tnow.Add(-4*time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	if len(stats) != 2 {
		t.Fatalf("Unexpected number of stats: %v", len(stats))
	}

	if !stats[0].Timestamp.Equal(tnow.Add(-3*time.Hour)) || stats[0].Count != 1 {
		t.Errorf("Unexpected first stat: %+v", stats[0])
	}

	if !stats[1].Timestamp.Equal(tnow) || stats[1].Count != 2 {
		t.Errorf("Unexpected second stat: %+v", stats[1])
	}

	if err := ts.DeleteTransferLogs(t.Context(), tnow); err != nil {
		t.Fatal(err)
	}

	if ts.Len() != 3 {
		t.Errorf("Unexpected number of records after cleanup: %v", ts.Len())
	}
}
