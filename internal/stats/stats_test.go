package stats

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bybit-signal-engine/internal/durablestore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// withinReportWindow is a fixed instant inside the [00:00, 00:10) daily
// report firing window, used so tests don't depend on wall-clock time.
func withinReportWindow() time.Time {
	return time.Date(2026, 1, 15, 0, 5, 0, 0, time.UTC)
}

func newTestMonitor(t *testing.T) (*Monitor, *durablestore.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := durablestore.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stateFile := filepath.Join(t.TempDir(), ".daily_report_sent")
	m := New(db, nil, stateFile, testLogger())
	m.now = withinReportWindow
	return m, db
}

func TestCanSendDailyReportDefaultsToTrue(t *testing.T) {
	t.Parallel()
	m, _ := newTestMonitor(t)
	if !m.CanSendDailyReport() {
		t.Error("a fresh monitor with no prior state should allow sending today's report")
	}
}

func TestMarkDailyReportSentBlocksSameDayResend(t *testing.T) {
	t.Parallel()
	m, _ := newTestMonitor(t)
	m.MarkDailyReportSent()
	if m.CanSendDailyReport() {
		t.Error("report should not be resendable on the same calendar day")
	}
}

func TestMarkDailyReportSentPersistsAcrossNewMonitor(t *testing.T) {
	t.Parallel()
	stateFile := filepath.Join(t.TempDir(), ".daily_report_sent")
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := durablestore.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	m1 := New(db, nil, stateFile, testLogger())
	m1.now = withinReportWindow
	m1.MarkDailyReportSent()

	m2 := New(db, nil, stateFile, testLogger())
	m2.now = withinReportWindow
	if m2.CanSendDailyReport() {
		t.Error("second monitor instance should restore the persisted sent-date and refuse a resend")
	}
}

func TestCanSendDailyReportFalseOutsideFiringWindow(t *testing.T) {
	t.Parallel()
	m, _ := newTestMonitor(t)
	m.now = func() time.Time { return time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC) }
	if m.CanSendDailyReport() {
		t.Error("report should not fire outside the [00:00, 00:10) local window")
	}
}

func TestCanSendDailyReportFalseAtWindowBoundary(t *testing.T) {
	t.Parallel()
	m, _ := newTestMonitor(t)
	m.now = func() time.Time { return time.Date(2026, 1, 15, 0, 10, 0, 0, time.UTC) }
	if m.CanSendDailyReport() {
		t.Error("report should not fire at or after minute 10")
	}
}

func TestRestoreLastReportDateToleratesMissingFile(t *testing.T) {
	t.Parallel()
	m, _ := newTestMonitor(t)
	if m.lastReportDate != "" {
		t.Errorf("lastReportDate = %q, want empty with no prior state file", m.lastReportDate)
	}
}

func TestGetComprehensiveReportWithNoOrders(t *testing.T) {
	t.Parallel()
	m, _ := newTestMonitor(t)
	report, err := m.GetComprehensiveReport()
	if err != nil {
		t.Fatalf("GetComprehensiveReport: %v", err)
	}
	if report.Today.TotalTrades != 0 || report.Last7Days.TotalTrades != 0 || report.Last30Days.TotalTrades != 0 {
		t.Error("expected zero trades across all windows with an empty database")
	}
}

func TestFormatReportIncludesAllPeriods(t *testing.T) {
	t.Parallel()
	report := ComprehensiveReport{
		GeneratedAt: time.Now(),
		Today:       PeriodStats{TotalTrades: 3, ProfitableTrades: 2, WinRate: 66.6, TotalPnL: 12.5},
		Last7Days:   PeriodStats{TotalTrades: 10},
		Last30Days:  PeriodStats{TotalTrades: 40},
	}
	out := FormatReport(report)
	for _, want := range []string{"TODAY", "LAST 7 DAYS", "LAST 30 DAYS", "TRADING STATISTICS REPORT"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatted report missing %q", want)
		}
	}
}
