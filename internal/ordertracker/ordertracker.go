// Package ordertracker runs a secondary, independent watch over
// recently placed orders: every 5s it re-fetches each tracked order's
// symbol order history (always in the linear category) and reconciles
// any that have reached a terminal exchange status (Filled, Cancelled).
// It exists alongside lifecycle.Coordinator.CheckPositions (which
// detects closes from position size going to zero) as a second
// detection path; both persist their findings to the durable store.
package ordertracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bybit-signal-engine/internal/durablestore"
	"bybit-signal-engine/internal/exchange"
	"bybit-signal-engine/pkg/types"
)

const checkInterval = 5 * time.Second

// orderHistoryCategory is the market category every order-history
// lookup uses, per spec §4.5's literal getOrderHistory(linear, symbol,
// 50) contract — never resolved per-strategy.
const orderHistoryCategory = "linear"

// Tracker is the Order Tracker (spec §4.5).
type Tracker struct {
	client *exchange.Client
	store  *durablestore.Store
	logger *slog.Logger

	mu     sync.Mutex
	orders map[string]types.OrderRecord // orderID -> order
}

// New builds a Tracker.
func New(client *exchange.Client, store *durablestore.Store, logger *slog.Logger) *Tracker {
	return &Tracker{
		client: client,
		store:  store,
		orders: make(map[string]types.OrderRecord),
		logger: logger.With("component", "ordertracker"),
	}
}

// TrackOrder begins monitoring order for a terminal status transition.
// Satisfies lifecycle.OrderTracker.
func (t *Tracker) TrackOrder(order types.OrderRecord) {
	if order.OrderID == "" {
		return
	}
	t.mu.Lock()
	t.orders[order.OrderID] = order
	t.mu.Unlock()
	t.logger.Debug("tracking order", "order_id", order.OrderID, "strategy", order.StrategyName)
}

// Untrack stops monitoring orderID, e.g. once some other path (the
// lifecycle coordinator's own close-flow) has already reconciled it.
func (t *Tracker) Untrack(orderID string) {
	t.mu.Lock()
	_, ok := t.orders[orderID]
	delete(t.orders, orderID)
	t.mu.Unlock()
	if ok {
		t.logger.Debug("stopped tracking order", "order_id", orderID)
	}
}

// Run blocks, polling at checkInterval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.checkOrders(ctx)
		}
	}
}

func (t *Tracker) snapshot() map[string][]types.OrderRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	bySymbol := make(map[string][]types.OrderRecord)
	for _, o := range t.orders {
		bySymbol[o.Symbol] = append(bySymbol[o.Symbol], o)
	}
	return bySymbol
}

func (t *Tracker) checkOrders(ctx context.Context) {
	groups := t.snapshot()
	if len(groups) == 0 {
		return
	}
	for symbol, orders := range groups {
		history := t.client.GetOrderHistory(ctx, orderHistoryCategory, symbol, 50)
		for _, order := range orders {
			for _, h := range history {
				if h.OrderID == order.OrderID {
					t.processOrderUpdate(order, h)
					break
				}
			}
		}
	}
}

func (t *Tracker) processOrderUpdate(order types.OrderRecord, h types.HistoryOrder) {
	switch h.OrderStatus {
	case "Filled":
		t.handleFilled(order, h)
	case "Cancelled":
		t.handleCancelled(order)
	default:
		return
	}
	t.Untrack(order.OrderID)
}

func (t *Tracker) handleFilled(order types.OrderRecord, h types.HistoryOrder) {
	closePrice := h.AvgPrice
	if closePrice == 0 {
		closePrice = order.EntryPrice
	}
	reason := types.InferCloseReason(order, closePrice)

	var pnl float64
	if order.Side == types.Buy {
		pnl = (closePrice - order.EntryPrice) * order.Quantity
	} else {
		pnl = (order.EntryPrice - closePrice) * order.Quantity
	}
	pnlPercent := 0.0
	if order.EntryPrice != 0 && order.Quantity != 0 {
		pnlPercent = pnl / (order.EntryPrice * order.Quantity) * 100
	}

	closedAt := time.Now()
	if order.ID != 0 {
		if err := t.store.UpdateOrder(order.ID, durablestore.OrderUpdate{
			Status: types.StatusClosed, ClosedAt: &closedAt, ClosePrice: &closePrice,
			PnL: &pnl, PnLPercent: &pnlPercent, CloseReason: &reason,
		}); err != nil {
			t.logger.Error("failed to persist tracked order close", "order_id", order.OrderID, "error", err)
		}
	}
	t.logger.Info("order filled", "order_id", order.OrderID, "strategy", order.StrategyName,
		"pnl", pnl, "pnl_percent", pnlPercent, "reason", reason)
}

func (t *Tracker) handleCancelled(order types.OrderRecord) {
	closedAt := time.Now()
	if order.ID != 0 {
		if err := t.store.UpdateOrder(order.ID, durablestore.OrderUpdate{
			Status: types.StatusCancelled, ClosedAt: &closedAt,
		}); err != nil {
			t.logger.Error("failed to persist tracked order cancellation", "order_id", order.OrderID, "error", err)
		}
	}
	t.logger.Info("order cancelled", "order_id", order.OrderID, "strategy", order.StrategyName)
}

// Stats mirrors get_stats(): a cheap diagnostic snapshot.
type Stats struct {
	TrackingOrders   int
	MonitoringActive bool
}

func (t *Tracker) Stats(active bool) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{TrackingOrders: len(t.orders), MonitoringActive: active}
}
