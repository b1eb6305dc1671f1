package ordertracker

import (
	"log/slog"
	"os"
	"testing"

	"bybit-signal-engine/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestTracker() *Tracker {
	return &Tracker{
		orders: make(map[string]types.OrderRecord),
		logger: testLogger(),
	}
}

func TestTrackOrderIgnoresEmptyOrderID(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()
	tr.TrackOrder(types.OrderRecord{StrategyName: "strat-a"})
	if len(tr.orders) != 0 {
		t.Error("order with empty id should not be tracked")
	}
}

func TestTrackAndUntrackOrder(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()
	tr.TrackOrder(types.OrderRecord{StrategyName: "strat-a", OrderID: "o1"})
	if len(tr.orders) != 1 {
		t.Fatalf("expected 1 tracked order, got %d", len(tr.orders))
	}
	tr.Untrack("o1")
	if len(tr.orders) != 0 {
		t.Error("order should no longer be tracked after Untrack")
	}
}

func TestSnapshotGroupsBySymbol(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()
	tr.TrackOrder(types.OrderRecord{StrategyName: "strat-a", Symbol: "BTCUSDT", OrderID: "o1"})
	tr.TrackOrder(types.OrderRecord{StrategyName: "strat-a", Symbol: "BTCUSDT", OrderID: "o2"})
	tr.TrackOrder(types.OrderRecord{StrategyName: "strat-a", Symbol: "ETHUSDT", OrderID: "o3"})

	groups := tr.snapshot()
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups["BTCUSDT"]) != 2 {
		t.Errorf("expected 2 orders grouped under BTCUSDT, got %d", len(groups["BTCUSDT"]))
	}
	if len(groups["ETHUSDT"]) != 1 {
		t.Errorf("expected 1 order grouped under ETHUSDT, got %d", len(groups["ETHUSDT"]))
	}
}

func TestProcessOrderUpdateFilledUntracks(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()
	order := types.OrderRecord{
		StrategyName: "strat-a", Symbol: "BTCUSDT", OrderID: "o1", Side: types.Buy,
		Quantity: 2, EntryPrice: 100, TakeProfit: 110, StopLoss: 90,
	}
	tr.TrackOrder(order)

	// order.ID == 0, so handleFilled logs but skips the store write path.
	tr.processOrderUpdate(order, types.HistoryOrder{OrderID: "o1", OrderStatus: "Filled", AvgPrice: 111})

	if _, stillTracked := tr.orders["o1"]; stillTracked {
		t.Error("filled order should be untracked")
	}
}

func TestProcessOrderUpdateCancelledUntracks(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()
	order := types.OrderRecord{StrategyName: "strat-a", Symbol: "BTCUSDT", OrderID: "o1"}
	tr.TrackOrder(order)

	tr.processOrderUpdate(order, types.HistoryOrder{OrderID: "o1", OrderStatus: "Cancelled"})

	if _, stillTracked := tr.orders["o1"]; stillTracked {
		t.Error("cancelled order should be untracked")
	}
}

func TestProcessOrderUpdateIgnoresNonTerminalStatus(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()
	order := types.OrderRecord{StrategyName: "strat-a", Symbol: "BTCUSDT", OrderID: "o1"}
	tr.TrackOrder(order)

	tr.processOrderUpdate(order, types.HistoryOrder{OrderID: "o1", OrderStatus: "New"})

	if _, stillTracked := tr.orders["o1"]; !stillTracked {
		t.Error("order with a non-terminal status should remain tracked")
	}
}

func TestStatsReportsTrackingCountAndActiveFlag(t *testing.T) {
	t.Parallel()
	tr := newTestTracker()
	tr.TrackOrder(types.OrderRecord{StrategyName: "strat-a", OrderID: "o1"})
	tr.TrackOrder(types.OrderRecord{StrategyName: "strat-a", OrderID: "o2"})

	stats := tr.Stats(true)
	if stats.TrackingOrders != 2 {
		t.Errorf("TrackingOrders = %d, want 2", stats.TrackingOrders)
	}
	if !stats.MonitoringActive {
		t.Error("MonitoringActive should be true")
	}
}
