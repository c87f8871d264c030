package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/config"
)

const defaultRetentionDays = 90

// TransferLogRetentionJob drops transfer log records older than the
// configured number of days. Business transfers are never deleted.
type TransferLogRetentionJob struct {
	TimeSeries common.TimeSeriesStore
	Days       common.ConfigItem
}

var _ common.PeriodicJob = (*TransferLogRetentionJob)(nil)

func (j *TransferLogRetentionJob) Interval() time.Duration  { return 6 * time.Hour }
func (j *TransferLogRetentionJob) Jitter() time.Duration    { return 1 * time.Hour }
func (j *TransferLogRetentionJob) Timeout() time.Duration   { return 5 * time.Minute }
func (j *TransferLogRetentionJob) Name() string             { return "transfer_log_retention_job" }
func (j *TransferLogRetentionJob) Trigger() <-chan struct{} { return nil }

type TransferLogRetentionParams struct {
	Days int `json:"days"`
}

func (j *TransferLogRetentionJob) NewParams() any {
	days := defaultRetentionDays
	if j.Days != nil {
		days = config.AsInt(j.Days, defaultRetentionDays)
	}
	return &TransferLogRetentionParams{Days: days}
}

func (j *TransferLogRetentionJob) RunOnce(ctx context.Context, params any) error {
	p, ok := params.(*TransferLogRetentionParams)
	if !ok || (p == nil) {
		slog.ErrorContext(ctx, "Job parameter has incorrect type", "params", params, "job", j.Name())
		p = j.NewParams().(*TransferLogRetentionParams)
	}

	if p.Days <= 0 {
		slog.DebugContext(ctx, "Transfer log retention is disabled", "days", p.Days)
		return nil
	}

	before := time.Now().UTC().AddDate(0, 0, -p.Days)

	if err := j.TimeSeries.DeleteTransferLogs(ctx, before); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Deleted old transfer logs", "before", before)

	return nil
}
