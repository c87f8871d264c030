package maintenance

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/db"
	"github.com/tokenprinter/powfaucet/pkg/email"
	"github.com/tokenprinter/powfaucet/pkg/monitoring"
)

func TestMain(m *testing.M) {
	flag.Parse()

	common.SetupLogs(common.StageTest, testing.Verbose())

	os.Exit(m.Run())
}

type stubOneOffJob struct {
	executed atomic.Bool
}

func (j *stubOneOffJob) Name() string                { return "stub_oneoff_job" }
func (j *stubOneOffJob) InitialPause() time.Duration { return 0 }
func (j *stubOneOffJob) NewParams() any              { return struct{}{} }

func (j *stubOneOffJob) RunOnce(ctx context.Context, _ any) error {
	j.executed.Store(true)
	return nil
}

type stubPeriodicJob struct {
	name     string
	interval time.Duration
	err      error
	runs     atomic.Int32
}

func (j *stubPeriodicJob) Name() string             { return j.name }
func (j *stubPeriodicJob) Interval() time.Duration  { return j.interval }
func (j *stubPeriodicJob) Jitter() time.Duration    { return 1 }
func (j *stubPeriodicJob) Timeout() time.Duration   { return 0 }
func (j *stubPeriodicJob) NewParams() any           { return struct{}{} }
func (j *stubPeriodicJob) Trigger() <-chan struct{} { return nil }

func (j *stubPeriodicJob) RunOnce(ctx context.Context, _ any) error {
	j.runs.Add(1)
	return j.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	for i := 0; i < 100; i++ {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("Condition was not met in time")
}

func TestOneOffJobExecution(t *testing.T) {
	t.Parallel()

	jobs := NewJobs(nil)
	defer jobs.Shutdown()

	job := &stubOneOffJob{}
	jobs.AddOneOff(job)
	jobs.Run()

	waitFor(t, job.executed.Load)
}

func TestPeriodicJobExecution(t *testing.T) {
	t.Parallel()

	jobs := NewJobs(db.NewMemoryBusiness())
	defer jobs.Shutdown()

	plain := &stubPeriodicJob{name: "plain", interval: 10 * time.Millisecond}
	exclusive := &stubPeriodicJob{name: "exclusive", interval: 10 * time.Millisecond}
	locked := &stubPeriodicJob{name: "locked", interval: 10 * time.Millisecond}

	jobs.Add(plain)
	jobs.AddExclusive(exclusive)
	jobs.AddLocked(time.Hour, locked)
	jobs.Run()

	waitFor(t, func() bool { return plain.runs.Load() > 1 && exclusive.runs.Load() > 1 })

	// lock is held for an hour after the first successful run
	time.Sleep(50 * time.Millisecond)
	if runs := locked.runs.Load(); runs != 1 {
		t.Errorf("Locked job ran %d times", runs)
	}
}

func TestUniqueJobAcrossInstances(t *testing.T) {
	t.Parallel()

	store := db.NewMemoryBusiness()
	job := &stubPeriodicJob{name: "shared_job"}

	first := &UniquePeriodicJob{Job: job, Store: store, LockDuration: time.Hour}
	second := &UniquePeriodicJob{Job: job, Store: store, LockDuration: time.Hour}

	for _, j := range []*UniquePeriodicJob{first, second, first} {
		if err := j.RunOnce(t.Context(), j.NewParams()); err != nil {
			t.Fatal(err)
		}
	}

	if runs := job.runs.Load(); runs != 1 {
		t.Errorf("Job ran %d times", runs)
	}
}

func TestUniqueJobFailureReleasesLock(t *testing.T) {
	t.Parallel()

	store := db.NewMemoryBusiness()
	errFailed := errors.New("failed")
	job := &stubPeriodicJob{name: "failing_job", err: errFailed}
	unique := &UniquePeriodicJob{Job: job, Store: store, LockDuration: time.Hour}

	for i := 0; i < 2; i++ {
		if err := unique.RunOnce(t.Context(), nil); !errors.Is(err, errFailed) {
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if runs := job.runs.Load(); runs != 2 {
		t.Errorf("Failed job was not retried: %d runs", runs)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	job := &HealthCheckJob{
		BusinessDB:      db.NewMemoryBusiness(),
		TimeSeriesDB:    db.NewMemoryTimeSeries(),
		Metrics:         monitoring.NewStub(),
		StrictReadiness: true,
		recheck:         common.NewJobTrigger(),
	}

	w := httptest.NewRecorder()
	job.ReadyHandler(w, httptest.NewRequest(http.MethodGet, "/"+common.ReadyEndpoint, nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Unexpected status before first check: %v", w.Code)
	}

	select {
	case <-job.Trigger():
	default:
		t.Error("Failed readiness did not request a recheck")
	}

	if err := job.RunOnce(t.Context(), job.NewParams()); err != nil {
		t.Fatal(err)
	}

	w = httptest.NewRecorder()
	job.ReadyHandler(w, httptest.NewRequest(http.MethodGet, "/"+common.ReadyEndpoint, nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "green") {
		t.Errorf("Unexpected readiness: %v %v", w.Code, w.Body.String())
	}

	job.Shutdown(t.Context())

	w = httptest.NewRecorder()
	job.ReadyHandler(w, httptest.NewRequest(http.MethodGet, "/"+common.ReadyEndpoint, nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Unexpected status after shutdown: %v", w.Code)
	}
}

type recordingMailer struct {
	reports []*email.Report
	err     error
}

func (m *recordingMailer) SendDailyReport(ctx context.Context, report *email.Report) error {
	m.reports = append(m.reports, report)
	return m.err
}

func TestDailyReport(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := db.NewMemoryBusiness()

	if _, err := store.EnsureSettings(ctx, 7, big.NewInt(500)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateAccount(ctx, "alice.test"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		hash := sha256.Sum256([]byte(fmt.Sprintf("report-%d", i)))
		if _, err := store.CreateTransfer(ctx, &db.Transfer{AccountID: "alice.test", Hash: hash[:], Amount: big.NewInt(500), Difficulty: 7}); err != nil {
			t.Fatal(err)
		}
	}

	mailer := &recordingMailer{}
	job := &DailyReportJob{
		Store:      store,
		TimeSeries: db.NewMemoryTimeSeries(),
		Mailer:     mailer,
	}

	if err := job.RunOnce(ctx, job.NewParams()); err != nil {
		t.Fatal(err)
	}

	if len(mailer.reports) != 1 {
		t.Fatalf("Unexpected number of reports: %v", len(mailer.reports))
	}

	report := mailer.reports[0]
	if report.NumTransfers != 3 || report.RecentTransfers != 3 || report.MinDifficulty != 7 || report.TransferAmount != "500" {
		t.Errorf("Unexpected report: %+v", report)
	}
}

func TestDailyReportWithoutAdmin(t *testing.T) {
	t.Parallel()

	store := db.NewMemoryBusiness()
	if _, err := store.EnsureSettings(t.Context(), 1, big.NewInt(1)); err != nil {
		t.Fatal(err)
	}

	job := &DailyReportJob{
		Store:      store,
		TimeSeries: db.NewMemoryTimeSeries(),
		Mailer:     &recordingMailer{err: email.ErrNoAdminEmail},
	}

	if err := job.RunOnce(t.Context(), nil); err != nil {
		t.Errorf("Missing admin email was not skipped: %v", err)
	}
}

func TestTransferLogRetention(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	ts := db.NewMemoryTimeSeries()
	tnow := time.Now().UTC()

	if err := ts.WriteTransferLogBatch(ctx, []*common.TransferRecord{
		{AccountID: "alice.test", Timestamp: tnow.AddDate(0, 0, -10)},
		{AccountID: "alice.test", Timestamp: tnow.Add(-time.Hour)},
	}); err != nil {
		t.Fatal(err)
	}

	job := &TransferLogRetentionJob{TimeSeries: ts}
	if p := job.NewParams().(*TransferLogRetentionParams); p.Days != defaultRetentionDays {
		t.Errorf("Unexpected default retention: %v", p.Days)
	}

	if err := job.RunOnce(ctx, &TransferLogRetentionParams{Days: 0}); err != nil {
		t.Fatal(err)
	}
	if ts.Len() != 2 {
		t.Errorf("Disabled retention deleted records: %v left", ts.Len())
	}

	if err := job.RunOnce(ctx, &TransferLogRetentionParams{Days: 1}); err != nil {
		t.Fatal(err)
	}
	if ts.Len() != 1 {
		t.Errorf("Unexpected number of records: %v", ts.Len())
	}
}

func TestJobHandlers(t *testing.T) {
	t.Parallel()

	ts := db.NewMemoryTimeSeries()
	if err := ts.WriteTransferLogBatch(t.Context(), []*common.TransferRecord{
		{AccountID: "alice.test", Timestamp: time.Now().AddDate(0, 0, -3)},
	}); err != nil {
		t.Fatal(err)
	}

	jobs := NewJobs(nil)
	jobs.Add(&TransferLogRetentionJob{TimeSeries: ts})

	mux := http.NewServeMux()
	jobs.Setup(mux)

	testCases := []struct {
		path string
		body string
		code int
	}{
		{"/maintenance/periodic/unknown_job", "", http.StatusNotFound},
		{"/maintenance/oneoff/transfer_log_retention_job", "", http.StatusNotFound},
		{"/maintenance/periodic/transfer_log_retention_job", `{"age":1}`, http.StatusBadRequest},
		{"/maintenance/periodic/transfer_log_retention_job", `{"days":1}`, http.StatusOK},
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("job_handler_%v", i), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			if w.Code != tc.code {
				t.Errorf("Unexpected status: %v", w.Code)
			}
		})
	}

	waitFor(t, func() bool { return ts.Len() == 0 })
}
