package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/db"
	"github.com/tokenprinter/powfaucet/pkg/email"
)

type ReportStore interface {
	RetrieveSettings(ctx context.Context) (*db.Settings, error)
	CountTransfers(ctx context.Context, since time.Time) (int64, error)
}

type ReportMailer interface {
	SendDailyReport(ctx context.Context, report *email.Report) error
}

var _ ReportMailer = (*email.ReportMailer)(nil)

// DailyReportJob mails transfer totals to the admin. It is meant to be
// added with a day long lock.
type DailyReportJob struct {
	Store      ReportStore
	TimeSeries common.TimeSeriesStore
	Mailer     ReportMailer
	Now        func() time.Time
}

var _ common.PeriodicJob = (*DailyReportJob)(nil)

func (j *DailyReportJob) Interval() time.Duration  { return 1 * time.Hour }
func (j *DailyReportJob) Jitter() time.Duration    { return 10 * time.Minute }
func (j *DailyReportJob) Timeout() time.Duration   { return 1 * time.Minute }
func (j *DailyReportJob) Name() string             { return "daily_report_job" }
func (j *DailyReportJob) Trigger() <-chan struct{} { return nil }

type DailyReportParams struct {
	Hours int `json:"hours"`
}

func (j *DailyReportJob) NewParams() any {
	return &DailyReportParams{Hours: 24}
}

func (j *DailyReportJob) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

func (j *DailyReportJob) RunOnce(ctx context.Context, params any) error {
	p, ok := params.(*DailyReportParams)
	if !ok || (p == nil) || (p.Hours <= 0) {
		slog.ErrorContext(ctx, "Job parameter has incorrect type", "params", params, "job", j.Name())
		p = j.NewParams().(*DailyReportParams)
	}

	tnow := j.now().UTC()
	from := tnow.Add(-time.Duration(p.Hours) * time.Hour)

	settings, err := j.Store.RetrieveSettings(ctx)
	if err != nil {
		return err
	}

	total, err := j.Store.CountTransfers(ctx, time.Time{})
	if err != nil {
		return err
	}

	recent, err := j.Store.CountTransfers(ctx, from)
	if err != nil {
		return err
	}

	// hourly stats are optional, ClickHouse may be down
	hourly, err := j.TimeSeries.ReadTransferStats(ctx, from)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read transfer stats", common.ErrAttr(err))
		hourly = nil
	}

	report := &email.Report{
		Date:            tnow,
		MinDifficulty:   settings.MinDifficulty,
		NumTransfers:    total,
		RecentTransfers: recent,
		Hourly:          hourly,
	}
	if settings.TransferAmount != nil {
		report.TransferAmount = settings.TransferAmount.String()
	}

	if err := j.Mailer.SendDailyReport(ctx, report); err != nil {
		if errors.Is(err, email.ErrNoAdminEmail) {
			slog.WarnContext(ctx, "Skipping daily report", common.ErrAttr(err))
			return nil
		}
		return err
	}

	slog.InfoContext(ctx, "Sent daily report", "transfers", recent, "total", total)

	return nil
}
