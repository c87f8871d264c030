package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/denisbrodbeck/machineid"
	"github.com/tokenprinter/powfaucet/pkg/common"
)

const (
	TransferLogTableName = "powfaucet.transfer_logs"
	// results are faucet.VerifyError values, zero is an accepted transfer
	transferResultSuccess = 0
)

type TimeSeriesDB struct {
	Clickhouse      *sql.DB
	instance        string
	maintenanceMode atomic.Bool
}

var _ common.TimeSeriesStore = (*TimeSeriesDB)(nil)

// instanceID tags transfer logs with the host that accepted them
func instanceID() string {
	id, err := machineid.ProtectedID(common.TokenPrinter)
	if err == nil && len(id) >= 16 {
		return id[:16]
	}

	slog.Warn("Failed to read machine ID", common.ErrAttr(err))

	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}

	return "unknown"
}

func NewTimeSeries(clickhouse *sql.DB) *TimeSeriesDB {
	return &TimeSeriesDB{
		Clickhouse: clickhouse,
		instance:   instanceID(),
	}
}

func (ts *TimeSeriesDB) UpdateConfig(maintenanceMode bool) {
	ts.maintenanceMode.Store(maintenanceMode)
}

func (ts *TimeSeriesDB) IsAvailable() bool {
	return !ts.maintenanceMode.Load()
}

func (ts *TimeSeriesDB) Ping(ctx context.Context) error {
	var v uint8
	if err := ts.Clickhouse.QueryRowContext(ctx, "SELECT 1").Scan(&v); err != nil {
		slog.ErrorContext(ctx, "Failed to ping ClickHouse", common.ErrAttr(err))
		return err
	}

	slog.Log(ctx, common.LevelTrace, "Pinged ClickHouse", "result", v)
	return nil
}

func (ts *TimeSeriesDB) WriteTransferLogBatch(ctx context.Context, records []*common.TransferRecord) error {
	if len(records) == 0 {
		slog.WarnContext(ctx, "Attempt to insert empty transfer log batch")
		return nil
	}

	if !ts.IsAvailable() {
		return ErrMaintenance
	}

	tx, err := ts.Clickhouse.BeginTx(ctx, nil)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to begin batch insert", common.ErrAttr(err))
		return err
	}

	if err := insertTransferRecords(ctx, tx, ts.instance, records); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		slog.ErrorContext(ctx, "Failed to commit transfer log batch", common.ErrAttr(err))
		return err
	}

	slog.DebugContext(ctx, "Inserted batch of transfer records", "size", len(records))

	return nil
}

// clickhouse-go sends all rows of a prepared INSERT as one block on commit
func insertTransferRecords(ctx context.Context, tx *sql.Tx, instance string, records []*common.TransferRecord) error {
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+TransferLogTableName)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to prepare insert query", common.ErrAttr(err))
		return err
	}
	defer stmt.Close()

	for i, r := range records {
		if _, err := stmt.ExecContext(ctx, r.AccountID, r.Salt, r.Difficulty, r.Result, r.Client, instance, r.Timestamp.UTC()); err != nil {
			slog.ErrorContext(ctx, "Failed to insert transfer record", "index", i, common.ErrAttr(err))
			return err
		}
	}

	return nil
}

// ReadTransferStats returns hourly counts of accepted transfers
func (ts *TimeSeriesDB) ReadTransferStats(ctx context.Context, from time.Time) ([]*common.TimeCount, error) {
	if !ts.IsAvailable() {
		return nil, ErrMaintenance
	}

	query := `SELECT toStartOfHour(timestamp) AS agg_time, toUInt32(count()) AS count
FROM %s
WHERE result = {result:UInt8} AND timestamp >= {timestamp:DateTime}
GROUP BY agg_time
ORDER BY agg_time`
	rows, err := ts.Clickhouse.QueryContext(ctx, fmt.Sprintf(query, TransferLogTableName),
		clickhouse.Named("result", transferResultSuccess),
		clickhouse.Named("timestamp", from.UTC().Format(time.DateTime)))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to execute transfer stats query", common.ErrAttr(err))
		return nil, err
	}

	defer rows.Close()

	results := make([]*common.TimeCount, 0)

	for rows.Next() {
		tc := &common.TimeCount{}
		if err := rows.Scan(&tc.Timestamp, &tc.Count); err != nil {
			slog.ErrorContext(ctx, "Failed to read row from transfer stats query", common.ErrAttr(err))
			return nil, err
		}
		results = append(results, tc)
	}

	return results, rows.Err()
}

func (ts *TimeSeriesDB) DeleteTransferLogs(ctx context.Context, before time.Time) error {
	if !ts.IsAvailable() {
		return ErrMaintenance
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE timestamp < {timestamp:DateTime}", TransferLogTableName)
	if _, err := ts.Clickhouse.ExecContext(ctx, query, clickhouse.Named("timestamp", before.UTC().Format(time.DateTime))); err != nil {
		slog.ErrorContext(ctx, "Failed to delete transfer logs", "before", before, common.ErrAttr(err))
		return err
	}

	slog.InfoContext(ctx, "Deleted transfer logs in ClickHouse", "before", before)

	return nil
}
