package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIncSignalIncrementsLabeledCounter(t *testing.T) {
	before := testutil.ToFloat64(signalsTotal.WithLabelValues("strat-a"))
	IncSignal("strat-a")
	after := testutil.ToFloat64(signalsTotal.WithLabelValues("strat-a"))
	if after != before+1 {
		t.Errorf("signalsTotal[strat-a] = %v, want %v", after, before+1)
	}
}

func TestIncTradeSplitsWinLoss(t *testing.T) {
	beforeWin := testutil.ToFloat64(tradesTotal.WithLabelValues("win"))
	beforeLoss := testutil.ToFloat64(tradesTotal.WithLabelValues("loss"))
	IncTrade(true)
	IncTrade(false)
	if got := testutil.ToFloat64(tradesTotal.WithLabelValues("win")); got != beforeWin+1 {
		t.Errorf("win count = %v, want %v", got, beforeWin+1)
	}
	if got := testutil.ToFloat64(tradesTotal.WithLabelValues("loss")); got != beforeLoss+1 {
		t.Errorf("loss count = %v, want %v", got, beforeLoss+1)
	}
}

func TestIncExitReasonLabelsReasonAndSide(t *testing.T) {
	before := testutil.ToFloat64(exitReasonsTotal.WithLabelValues("TP", "Buy"))
	IncExitReason("TP", "Buy")
	after := testutil.ToFloat64(exitReasonsTotal.WithLabelValues("TP", "Buy"))
	if after != before+1 {
		t.Errorf("exitReasonsTotal[TP,Buy] = %v, want %v", after, before+1)
	}
}

func TestSetOpenPositionsUpdatesGauge(t *testing.T) {
	SetOpenPositions(3)
	if got := testutil.ToFloat64(openPositions); got != 3 {
		t.Errorf("openPositions = %v, want 3", got)
	}
	SetOpenPositions(0)
	if got := testutil.ToFloat64(openPositions); got != 0 {
		t.Errorf("openPositions = %v, want 0", got)
	}
}

func TestSetStopLossStreakUpdatesGauge(t *testing.T) {
	SetStopLossStreak(2)
	if got := testutil.ToFloat64(stopLossStreak); got != 2 {
		t.Errorf("stopLossStreak = %v, want 2", got)
	}
}

func TestSetWalletBalanceUpdatesGauge(t *testing.T) {
	SetWalletBalance(1234.5)
	if got := testutil.ToFloat64(walletBalance); got != 1234.5 {
		t.Errorf("walletBalance = %v, want 1234.5", got)
	}
}

func TestSetExchangeCountersAccumulatesDeltas(t *testing.T) {
	lastRequests, lastErrors = 0, 0
	beforeReq := testutil.ToFloat64(requestsTotal)
	beforeErr := testutil.ToFloat64(errorsTotal)

	SetExchangeCounters(10, 2)
	if got := testutil.ToFloat64(requestsTotal); got != beforeReq+10 {
		t.Errorf("requestsTotal after first snapshot = %v, want %v", got, beforeReq+10)
	}
	if got := testutil.ToFloat64(errorsTotal); got != beforeErr+2 {
		t.Errorf("errorsTotal after first snapshot = %v, want %v", got, beforeErr+2)
	}

	SetExchangeCounters(15, 3)
	if got := testutil.ToFloat64(requestsTotal); got != beforeReq+15 {
		t.Errorf("requestsTotal after second snapshot = %v, want %v", got, beforeReq+15)
	}
	if got := testutil.ToFloat64(errorsTotal); got != beforeErr+3 {
		t.Errorf("errorsTotal after second snapshot = %v, want %v", got, beforeErr+3)
	}
}
