// Package telemetry exposes the bot's Prometheus metrics: request/error
// counters from the exchange client, signals generated per strategy,
// trade outcomes and exit reasons, and gauges for open positions and
// the stop-loss streak (§D.5). Registered once in init()
// and served at /metrics by an http.ServeMux the caller wires up.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_exchange_requests_total",
		Help: "Exchange API requests issued.",
	})

	errorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_exchange_errors_total",
		Help: "Exchange API requests that failed (transport error or non-zero retCode).",
	})

	signalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_signals_total",
		Help: "Signals generated per strategy, regardless of whether they led to an open attempt.",
	}, []string{"strategy"})

	tradesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_trades_total",
		Help: "Trades counted by result (win|loss).",
	}, []string{"result"})

	exitReasonsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_exit_reasons_total",
		Help: "Closed positions split by close reason and side.",
	}, []string{"reason", "side"})

	openPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_open_positions",
		Help: "Currently open positions across all strategies.",
	})

	stopLossStreak = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_stop_loss_streak",
		Help: "Current consecutive stop-loss count (circuit breaker state).",
	})

	walletBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_wallet_balance_usdt",
		Help: "Last observed wallet total equity in USDT.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, errorsTotal)
	prometheus.MustRegister(signalsTotal, tradesTotal, exitReasonsTotal)
	prometheus.MustRegister(openPositions, stopLossStreak, walletBalance)
}

// SetExchangeCounters overwrites the exchange request/error totals from
// a (requestCount, errorCount) cumulative snapshot (exchange.Client.Stats).
// Intended to be polled from a single goroutine, so the last-seen
// values need no locking of their own.
func SetExchangeCounters(requests, errors int64) {
	requestsTotal.Add(float64(requests - lastRequests))
	errorsTotal.Add(float64(errors - lastErrors))
	lastRequests, lastErrors = requests, errors
}

var lastRequests, lastErrors int64

// IncSignal records one evaluated signal for strategyName.
func IncSignal(strategyName string) { signalsTotal.WithLabelValues(strategyName).Inc() }

// IncTrade records one closed trade's win/loss result.
func IncTrade(won bool) {
	result := "loss"
	if won {
		result = "win"
	}
	tradesTotal.WithLabelValues(result).Inc()
}

// IncExitReason records a closed position's reason and side.
func IncExitReason(reason, side string) {
	exitReasonsTotal.WithLabelValues(reason, side).Inc()
}

// SetOpenPositions updates the open-positions gauge.
func SetOpenPositions(n int) { openPositions.Set(float64(n)) }

// SetStopLossStreak updates the stop-loss streak gauge.
func SetStopLossStreak(n int) { stopLossStreak.Set(float64(n)) }

// SetWalletBalance updates the wallet balance gauge.
func SetWalletBalance(v float64) { walletBalance.Set(v) }
