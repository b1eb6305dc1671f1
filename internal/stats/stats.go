// Package stats is the daily statistics digest: today/7-day/30-day
// performance summaries, a formatted report, and a crash-safe
// idempotency flag so the daily Telegram report goes out at most once
// per calendar day even across restarts.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bybit-signal-engine/internal/durablestore"
	"bybit-signal-engine/internal/notify"
	"bybit-signal-engine/internal/store"
)

const defaultStateFile = ".daily_report_sent"

// dailyReportWindowMinutes bounds the local-time window after midnight
// during which the daily report is allowed to fire: [00:00, 00:10).
const dailyReportWindowMinutes = 10

// Monitor is the Statistics Monitor (§D.2).
type Monitor struct {
	db        *durablestore.Store
	notifier  *notify.Notifier
	stateFile string
	logger    *slog.Logger
	now       func() time.Time

	lastReportDate string // YYYY-MM-DD, empty if never sent
}

// New builds a Monitor, restoring the last-sent date from stateFile
// (defaultStateFile if empty).
func New(db *durablestore.Store, notifier *notify.Notifier, stateFile string, logger *slog.Logger) *Monitor {
	if stateFile == "" {
		stateFile = defaultStateFile
	}
	m := &Monitor{db: db, notifier: notifier, stateFile: stateFile, now: time.Now, logger: logger.With("component", "stats")}
	m.restoreLastReportDate()
	return m
}

func (m *Monitor) restoreLastReportDate() {
	data, ok, err := store.ReadIfExists(m.stateFile)
	if err != nil {
		m.logger.Warn("failed to restore last daily report date", "error", err)
		return
	}
	if !ok {
		return
	}
	m.lastReportDate = strings.TrimSpace(string(data))
}

func (m *Monitor) saveLastReportDate(date string) {
	if err := store.WriteAtomic(m.stateFile, []byte(date)); err != nil {
		m.logger.Warn("failed to persist last daily report date", "error", err)
	}
}

// CanSendDailyReport reports whether today's report has not yet gone out
// and the current local time falls within the [00:00, 00:10) firing
// window, mirroring the original's now.hour == 0 and now.minute < 10 gate.
func (m *Monitor) CanSendDailyReport() bool {
	t := m.now()
	if t.Hour() != 0 || t.Minute() >= dailyReportWindowMinutes {
		return false
	}
	return m.lastReportDate != t.Format("2006-01-02")
}

// MarkDailyReportSent records today as sent, both in memory and on disk.
func (m *Monitor) MarkDailyReportSent() {
	today := m.now().Format("2006-01-02")
	m.lastReportDate = today
	m.saveLastReportDate(today)
}

// PeriodStats is one period's slice of the comprehensive report.
type PeriodStats struct {
	TotalTrades      int
	ProfitableTrades int
	WinRate          float64
	TotalPnL         float64
	AvgPnLPercent    float64
	BestTrade        float64
	WorstTrade       float64
}

func (m *Monitor) periodStats(days int) (PeriodStats, error) {
	summary, err := m.db.GetStatisticsSummary(days)
	if err != nil {
		return PeriodStats{}, fmt.Errorf("get statistics summary (%dd): %w", days, err)
	}
	avgPnLPercent := 0.0
	if summary.TotalTrades > 0 {
		avgPnLPercent = summary.TotalPnL / float64(summary.TotalTrades)
	}
	return PeriodStats{
		TotalTrades:      summary.TotalTrades,
		ProfitableTrades: summary.ProfitableTrades,
		WinRate:          summary.WinRate,
		TotalPnL:         summary.TotalPnL,
		AvgPnLPercent:    avgPnLPercent,
		BestTrade:        summary.BestTrade,
		WorstTrade:       summary.WorstTrade,
	}, nil
}

// ComprehensiveReport bundles today/7-day/30-day performance.
type ComprehensiveReport struct {
	GeneratedAt time.Time
	Today       PeriodStats
	Last7Days   PeriodStats
	Last30Days  PeriodStats
}

// GetComprehensiveReport aggregates all three trailing windows.
func (m *Monitor) GetComprehensiveReport() (ComprehensiveReport, error) {
	today, err := m.periodStats(1)
	if err != nil {
		return ComprehensiveReport{}, err
	}
	week, err := m.periodStats(7)
	if err != nil {
		return ComprehensiveReport{}, err
	}
	month, err := m.periodStats(30)
	if err != nil {
		return ComprehensiveReport{}, err
	}
	return ComprehensiveReport{GeneratedAt: time.Now(), Today: today, Last7Days: week, Last30Days: month}, nil
}

// FormatReport renders report as the plain-text block the final
// shutdown log and the "report" CLI subcommand both print.
func FormatReport(report ComprehensiveReport) string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "TRADING STATISTICS REPORT")
	fmt.Fprintf(&b, "Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintln(&b, rule)

	periods := []struct {
		name string
		p    PeriodStats
	}{
		{"TODAY", report.Today},
		{"LAST 7 DAYS", report.Last7Days},
		{"LAST 30 DAYS", report.Last30Days},
	}
	for _, pd := range periods {
		fmt.Fprintf(&b, "\n%s:\n", pd.name)
		fmt.Fprintf(&b, "  Total Trades: %d\n", pd.p.TotalTrades)
		fmt.Fprintf(&b, "  Profitable: %d\n", pd.p.ProfitableTrades)
		fmt.Fprintf(&b, "  Win Rate: %.2f%%\n", pd.p.WinRate)
		fmt.Fprintf(&b, "  Total P&L: %+.2f USDT\n", pd.p.TotalPnL)
		fmt.Fprintf(&b, "  Avg P&L%%: %+.2f%%\n", pd.p.AvgPnLPercent)
		fmt.Fprintf(&b, "  Best Trade: %+.2f USDT\n", pd.p.BestTrade)
		fmt.Fprintf(&b, "  Worst Trade: %+.2f USDT\n", pd.p.WorstTrade)
	}
	fmt.Fprintf(&b, "\n%s\n", rule)
	return b.String()
}

// CheckDailyReport sends the daily Telegram report exactly once per
// calendar day. The engine's main loop polls it once a minute.
func (m *Monitor) CheckDailyReport(ctx context.Context) {
	if !m.CanSendDailyReport() {
		return
	}
	stats, err := m.db.CalculateAndSaveDailyStats(time.Time{})
	if err != nil {
		m.logger.Error("failed to calculate daily stats for report", "error", err)
		return
	}
	m.notifier.NotifyDailyReport(ctx, stats)
	m.MarkDailyReportSent()
	m.logger.Info("daily report sent", "date", stats.Date, "total_trades", stats.TotalTrades)
}
