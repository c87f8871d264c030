package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"text/template"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/common"
)

var (
	ErrNoAdminEmail = errors.New("admin email is not configured")
)

type Report struct {
	Date            time.Time
	MinDifficulty   uint32
	TransferAmount  string
	NumTransfers    int64
	RecentTransfers int64
	Hourly          []*common.TimeCount
}

// ReportMailer sends operator reports to the admin email.
type ReportMailer struct {
	Sender       Sender
	EmailFrom    common.ConfigItem
	AdminEmail   common.ConfigItem
	htmlTemplate *htmltemplate.Template
	textTemplate *template.Template
}

func NewReportMailer(sender Sender, cfg common.ConfigStore) *ReportMailer {
	return &ReportMailer{
		Sender:       sender,
		EmailFrom:    cfg.Get(common.EmailFromKey),
		AdminEmail:   cfg.Get(common.AdminEmailKey),
		htmlTemplate: htmltemplate.Must(htmltemplate.New("HtmlBody").Parse(reportHTMLTemplate)),
		textTemplate: template.Must(template.New("TextBody").Parse(reportTextTemplate)),
	}
}

func (rm *ReportMailer) SendDailyReport(ctx context.Context, report *Report) error {
	adminEmail := rm.AdminEmail.Value()
	if len(adminEmail) == 0 {
		return ErrNoAdminEmail
	}

	data := struct {
		*Report
		Date string
	}{
		Report: report,
		Date:   report.Date.UTC().Format(time.DateOnly),
	}

	var htmlBody bytes.Buffer
	if err := rm.htmlTemplate.Execute(&htmlBody, data); err != nil {
		slog.ErrorContext(ctx, "Failed to execute HTML template", common.ErrAttr(err))
		return err
	}

	var textBody bytes.Buffer
	if err := rm.textTemplate.Execute(&textBody, data); err != nil {
		slog.ErrorContext(ctx, "Failed to execute Text template", common.ErrAttr(err))
		return err
	}

	msg := &Message{
		HTML:     htmlBody.String(),
		Text:     textBody.String(),
		Subject:  fmt.Sprintf("[%s] %d transfers on %s", common.TokenPrinter, report.RecentTransfers, data.Date),
		To:       adminEmail,
		From:     rm.EmailFrom.Value(),
		FromName: common.TokenPrinter,
	}

	if err := rm.Sender.SendEmail(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to send daily report", "email", adminEmail, common.ErrAttr(err))
		return err
	}

	slog.InfoContext(ctx, "Sent daily report", "email", adminEmail, "transfers", report.RecentTransfers)

	return nil
}
