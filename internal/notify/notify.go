// Package notify sends Telegram messages for position opens/closes,
// errors, and the daily report. It reuses the same resty client the
// exchange package builds, rather than standing up a second HTTP client
// just for Telegram.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"bybit-signal-engine/internal/config"
	"bybit-signal-engine/internal/durablestore"
	"bybit-signal-engine/pkg/types"
)

// Notifier sends Telegram notifications, respecting the per-category
// enable flags in config.TelegramConfig. It is a no-op when disabled or
// unconfigured.
type Notifier struct {
	cfg     config.TelegramConfig
	http    *resty.Client
	logger  *slog.Logger
	enabled bool
	apiBase string // overridable in tests; defaults to the real Telegram API
}

// New builds a Notifier. http should be the shared resty client used
// for exchange calls; notify only adds a base URL override per request.
func New(cfg config.TelegramConfig, http *resty.Client, logger *slog.Logger) *Notifier {
	enabled := cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != ""
	return &Notifier{cfg: cfg, http: http, logger: logger.With("component", "notify"), enabled: enabled, apiBase: "https://api.telegram.org"}
}

func (n *Notifier) send(ctx context.Context, message string) {
	if !n.enabled {
		return
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.cfg.BotToken)
	resp, err := n.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"chat_id": n.cfg.ChatID, "text": message, "parse_mode": "HTML"}).
		Post(url)
	if err != nil {
		n.logger.Error("telegram send failed", "error", err)
		return
	}
	if resp.StatusCode() != 200 {
		n.logger.Error("telegram send rejected", "status", resp.StatusCode())
	}
}

// NotifySignalOpened reports a newly opened position.
func (n *Notifier) NotifySignalOpened(ctx context.Context, strategyName string, side types.Side, entryPrice, quantity, takeProfit, stopLoss float64) {
	if !n.cfg.NotifyTrades {
		return
	}
	message := fmt.Sprintf(
		"✅ <b>Position opened</b>\n\n📊 Strategy: <code>%s</code>\n📍 Side: <b>%s</b>\n💵 Entry: <code>$%.6f</code>\n📦 Qty: <code>%.4f</code>\n\n🎯 TP: <code>$%.6f</code>\n⛔ SL: <code>$%.6f</code>\n\n⏰ %s",
		strategyName, side, entryPrice, quantity, takeProfit, stopLoss, time.Now().Format("15:04:05"),
	)
	n.send(ctx, message)
}

// NotifyTradeClosed reports a position's close outcome.
func (n *Notifier) NotifyTradeClosed(ctx context.Context, strategyName string, pnl, pnlPercent float64, reason types.CloseReason, duration time.Duration) {
	if !n.cfg.NotifyTrades {
		return
	}
	emoji := "❌"
	if pnl > 0 {
		emoji = "✅"
	}
	message := fmt.Sprintf(
		"%s <b>Position closed</b>\n\n📊 Strategy: <code>%s</code>\n💰 P&L: <b>%+.2f USDT (%+.2f%%)</b>\n📍 Reason: <b>%s</b>\n⏱ Duration: <code>%ds</code>\n\n⏰ %s",
		emoji, strategyName, pnl, pnlPercent, reason, int(duration.Seconds()), time.Now().Format("15:04:05"),
	)
	n.send(ctx, message)
}

// NotifyError reports an operational error.
func (n *Notifier) NotifyError(ctx context.Context, message string) {
	if !n.cfg.NotifyErrors {
		return
	}
	n.send(ctx, fmt.Sprintf("⚠️ <b>Error</b>\n\n%s\n\n⏰ %s", message, time.Now().Format("15:04:05")))
}

// NotifyDailyReport sends the daily statistics digest.
func (n *Notifier) NotifyDailyReport(ctx context.Context, stats types.DailyStats) {
	if !n.cfg.NotifyDailyReport {
		return
	}
	message := fmt.Sprintf(
		"📊 <b>Daily report</b>\n\n📈 Trades: <b>%d</b>\n✅ Profitable: <b>%d</b>\n📊 Win rate: <b>%.1f%%</b>\n\n💰 Total P&L: <b>%+.2f USDT</b>\n🏆 Best: <b>%+.2f USDT</b>\n📉 Worst: <b>%+.2f USDT</b>\n\n⏰ %s",
		stats.TotalTrades, stats.ProfitableTrades, stats.WinRate, stats.TotalPnL, stats.BestTrade, stats.WorstTrade, time.Now().Format("2006-01-02 15:04"),
	)
	n.send(ctx, message)
}

// DailyStatsForNotification is a thin adapter so callers building a
// report from durablestore.StatisticsSummary (days-window aggregate)
// rather than a persisted DailyStats row can still reuse NotifyDailyReport.
func DailyStatsForNotification(date string, summary durablestore.StatisticsSummary) types.DailyStats {
	return types.DailyStats{
		Date:             date,
		TotalTrades:      summary.TotalTrades,
		ProfitableTrades: summary.ProfitableTrades,
		TotalPnL:         summary.TotalPnL,
		WinRate:          summary.WinRate,
		BestTrade:        summary.BestTrade,
		WorstTrade:       summary.WorstTrade,
	}
}
