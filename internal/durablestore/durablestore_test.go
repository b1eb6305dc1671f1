package durablestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bybit-signal-engine/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetOpenOrders(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	id, err := s.SaveOrder(types.OrderRecord{
		StrategyName: "strat-a",
		Symbol:       "BTCUSDT",
		OrderID:      "ord-1",
		Side:         types.Buy,
		Quantity:     1,
		EntryPrice:   60000,
		Status:       types.StatusOpen,
		OpenedAt:     time.Now(),
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	orders, err := s.GetOpenOrders("")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, "BTCUSDT", orders[0].Symbol)
	require.Equal(t, types.StatusOpen, orders[0].Status)
}

func TestUpdateOrderClosesPosition(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	id, err := s.SaveOrder(types.OrderRecord{
		StrategyName: "strat-a",
		Symbol:       "BTCUSDT",
		OrderID:      "ord-1",
		Side:         types.Buy,
		Quantity:     1,
		EntryPrice:   60000,
		Status:       types.StatusOpen,
		OpenedAt:     time.Now(),
	})
	require.NoError(t, err)

	closedAt := time.Now()
	closePrice := 61000.0
	pnl := 1000.0
	pnlPct := 1.67
	reason := types.CloseTP
	err = s.UpdateOrder(id, OrderUpdate{
		Status: types.StatusClosed, ClosedAt: &closedAt, ClosePrice: &closePrice,
		PnL: &pnl, PnLPercent: &pnlPct, CloseReason: &reason,
	})
	require.NoError(t, err)

	orders, err := s.GetOpenOrders("")
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestSaveSignalAndMarkExecuted(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	id, err := s.SaveSignal(types.SignalRecord{
		StrategyName: "strat-a",
		Action:       types.Buy,
		IndexChange:  1.5,
		TargetChange: 0.8,
		TargetPrice:  100,
	})
	require.NoError(t, err)
	require.NoError(t, s.MarkSignalExecuted(id))
}

func TestCalculateAndSaveDailyStatsWithNoOrders(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	stats, err := s.CalculateAndSaveDailyStats(time.Now())
	require.NoError(t, err)
	require.Zero(t, stats.TotalTrades)
	require.Zero(t, stats.WinRate)
}

func TestParseDatetimeAcceptsEpochAndISO(t *testing.T) {
	t.Parallel()

	_, ok := parseDatetime(nil)
	require.False(t, ok, "nil should not parse")

	_, ok = parseDatetime(int64(1700000000))
	require.True(t, ok, "epoch seconds should parse")

	_, ok = parseDatetime("2026-07-29T10:00:00Z")
	require.True(t, ok, "ISO-8601 string should parse")

	_, ok = parseDatetime("2026-07-29")
	require.True(t, ok, "date-only string should parse")

	_, ok = parseDatetime("not-a-date")
	require.False(t, ok, "garbage string should not parse")
}
