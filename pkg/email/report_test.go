package email

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/config"
)

func newTestReport() *Report {
	tnow := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	return &Report{
		Date:            tnow,
		MinDifficulty:   20,
		TransferAmount:  "1000000",
		NumTransfers:    42,
		RecentTransfers: 7,
		Hourly: []*common.TimeCount{
			{Timestamp: tnow.Add(-2 * time.Hour), Count: 3},
			{Timestamp: tnow.Add(-1 * time.Hour), Count: 4},
		},
	}
}

func TestSendDailyReport(t *testing.T) {
	t.Parallel()

	sender := &StubSender{}
	cfg := config.NewStaticConfig(map[common.ConfigKey]string{
		common.AdminEmailKey: "admin@example.com",
		common.EmailFromKey:  "printer@example.com",
	})

	mailer := NewReportMailer(sender, cfg)
	if err := mailer.SendDailyReport(t.Context(), newTestReport()); err != nil {
		t.Fatal(err)
	}

	messages := sender.Messages()
	if len(messages) != 1 {
		t.Fatalf("Unexpected number of messages: %v", len(messages))
	}

	msg := messages[0]
	if msg.To != "admin@example.com" || !strings.Contains(msg.Subject, "2024-05-06") {
		t.Errorf("Unexpected message: %+v", msg)
	}

	for _, body := range []string{msg.Text, msg.HTML} {
		if !strings.Contains(body, "2024-05-06 10:00") || !strings.Contains(body, "1000000") {
			t.Errorf("Report body is missing data: %v", body)
		}
	}
}

func TestSendDailyReportNoAdmin(t *testing.T) {
	t.Parallel()

	sender := &StubSender{}
	mailer := NewReportMailer(sender, config.NewStaticConfig(map[common.ConfigKey]string{}))

	if err := mailer.SendDailyReport(t.Context(), newTestReport()); !errors.Is(err, ErrNoAdminEmail) {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestInvalidAddress(t *testing.T) {
	t.Parallel()

	sender := &StubSender{}
	cfg := config.NewStaticConfig(map[common.ConfigKey]string{
		common.AdminEmailKey: "not an email",
		common.EmailFromKey:  "printer@example.com",
	})

	mailer := NewReportMailer(sender, cfg)
	if err := mailer.SendDailyReport(t.Context(), newTestReport()); !errors.Is(err, errInvalidEmail) {
		t.Errorf("Unexpected error: %v", err)
	}

	if len(sender.Messages()) != 0 {
		t.Error("Invalid message was sent")
	}
}
