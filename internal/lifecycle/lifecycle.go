// Package lifecycle coordinates the open and close flow for every
// strategy's positions: executeMultiSignal (open) and checkPositions
// (close), plus the stop-loss streak circuit breaker and the wallet
// balance cache. It never touches market-data buffers — that's the
// strategy engine's job; it only consumes the SignalResults the engine emits.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bybit-signal-engine/internal/durablestore"
	"bybit-signal-engine/internal/exchange"
	"bybit-signal-engine/internal/normalize"
	"bybit-signal-engine/internal/notify"
	"bybit-signal-engine/internal/telemetry"
	"bybit-signal-engine/internal/tradeerr"
	"bybit-signal-engine/pkg/types"
)

const (
	minPositionSizeUSDT = 5.0
	walletCacheTTL      = 5 * time.Second
	streakResetAfter    = 24 * time.Hour
)

// OrderTracker is the subset of the order tracker the coordinator needs:
// hand off a freshly opened order for monitoring.
type OrderTracker interface {
	TrackOrder(types.OrderRecord)
}

// Coordinator is the Position Lifecycle Coordinator (spec §4.4).
type Coordinator struct {
	strategies map[string]types.StrategyConfig
	client     *exchange.Client
	store      *durablestore.Store
	notifier   *notify.Notifier
	tracker    OrderTracker
	logger     *slog.Logger

	maxStopLossStreak int
	onPositionOpened  func(strategyName string)

	mu            sync.Mutex
	openPositions map[string]types.OrderRecord // strategyName -> order

	statsMu            sync.Mutex
	totalTrades        int
	profitableTrades   int
	stopLossStreak     int
	maxObservedStreak  int
	lastStopLossTime   time.Time

	walletMu        sync.Mutex
	walletBalance   float64
	walletFetchedAt time.Time
}

// New builds a Coordinator. onPositionOpened is invoked (outside any
// lock) after a position opens successfully, so callers can reset the
// originating strategy's signal buffers per the §4.3 reset contract.
func New(strategies map[string]types.StrategyConfig, client *exchange.Client, store *durablestore.Store,
	notifier *notify.Notifier, tracker OrderTracker, maxStopLossStreak int, logger *slog.Logger,
	onPositionOpened func(strategyName string)) *Coordinator {
	return &Coordinator{
		strategies:        strategies,
		client:            client,
		store:             store,
		notifier:          notifier,
		tracker:           tracker,
		maxStopLossStreak: maxStopLossStreak,
		onPositionOpened:  onPositionOpened,
		openPositions:     make(map[string]types.OrderRecord),
		logger:            logger.With("component", "lifecycle"),
	}
}

// Initialize sets leverage once per distinct trade-pair symbol across
// every enabled strategy, and restores openPositions (and hands each
// restored order to the tracker) from any OPEN rows left over from a
// prior run, per I2.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.refreshWalletBalance(ctx)

	processed := make(map[string]bool)
	for _, strat := range c.strategies {
		for _, pair := range strat.TradePairs {
			if processed[pair] {
				continue
			}
			processed[pair] = true
			if strat.IsSpot() {
				continue
			}
			if ok := c.client.SetLeverage(ctx, strat.CategoryFor(pair), pair, strat.Leverage); !ok {
				c.logger.Warn("failed to set leverage, continuing", "symbol", pair, "leverage", strat.Leverage)
			}
		}
	}

	open, err := c.store.GetOpenOrders("")
	if err != nil {
		return fmt.Errorf("restore open orders: %w", err)
	}
	c.mu.Lock()
	for _, o := range open {
		c.openPositions[o.StrategyName] = o
	}
	c.mu.Unlock()
	for _, o := range open {
		c.tracker.TrackOrder(o)
	}
	c.logger.Info("restored open positions", "count", len(open))
	return nil
}

func (c *Coordinator) refreshWalletBalance(ctx context.Context) {
	wb := c.client.GetWalletBalance(ctx, "UNIFIED")
	c.walletMu.Lock()
	defer c.walletMu.Unlock()
	if wb != nil {
		c.walletBalance = wb.TotalEquity
		telemetry.SetWalletBalance(wb.TotalEquity)
	}
	c.walletFetchedAt = time.Now()
}

func (c *Coordinator) wallet(ctx context.Context) float64 {
	c.walletMu.Lock()
	stale := time.Since(c.walletFetchedAt) > walletCacheTTL
	c.walletMu.Unlock()
	if stale {
		c.refreshWalletBalance(ctx)
	}
	c.walletMu.Lock()
	defer c.walletMu.Unlock()
	return c.walletBalance
}

// MaybeResetStreak is the circuit breaker's auto-reset routine: if more
// than 24h have elapsed since the last stop-loss, the streak resets to
// zero. Called at the top of every evaluation and at the main loop's cadence.
func (c *Coordinator) MaybeResetStreak() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if !c.lastStopLossTime.IsZero() && time.Since(c.lastStopLossTime) > streakResetAfter {
		c.stopLossStreak = 0
	}
}

func (c *Coordinator) updateStopLossStreak(increment bool) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if increment {
		c.stopLossStreak++
		c.lastStopLossTime = time.Now()
		if c.stopLossStreak > c.maxObservedStreak {
			c.maxObservedStreak = c.stopLossStreak
		}
	} else {
		c.stopLossStreak = 0
	}
}

// ExecuteMultiSignal runs the open-flow contract for one triggered
// signal. It returns true iff a position was opened.
func (c *Coordinator) ExecuteMultiSignal(ctx context.Context, result types.SignalResult) bool {
	c.MaybeResetStreak()

	signalID, err := c.store.SaveSignal(types.SignalRecord{
		StrategyName: result.StrategyName,
		Action:       result.Action,
		IndexChange:  result.IndexChange,
		TargetChange: result.TargetChange,
		TargetPrice:  result.TargetPrice,
		Executed:     false,
	})
	if err != nil {
		c.logger.Error("failed to persist signal record", "error", err)
	}

	c.statsMu.Lock()
	streak := c.stopLossStreak
	c.statsMu.Unlock()
	if streak >= c.maxStopLossStreak {
		c.logger.Error("stop-loss streak limit reached, trading halted", "streak", streak)
		c.notifier.NotifyError(ctx, fmt.Sprintf("trading halted: %d consecutive stop-losses", streak))
		return false
	}

	c.mu.Lock()
	_, alreadyOpen := c.openPositions[result.StrategyName]
	c.mu.Unlock()
	if alreadyOpen {
		c.logger.Warn("position already open, skipping signal", "strategy", result.StrategyName)
		return false
	}

	strat, ok := c.strategies[result.StrategyName]
	if !ok {
		c.logger.Error("strategy config not found", "strategy", result.StrategyName)
		return false
	}

	c.refreshWalletBalance(ctx)
	walletBalance := c.wallet(ctx)
	if walletBalance <= 0 {
		c.logger.Error("invalid wallet balance, refusing to open", "strategy", result.StrategyName, "balance", walletBalance)
		return false
	}

	positionSizeUSDT := strat.PositionSize
	if positionSizeUSDT < minPositionSizeUSDT {
		c.logger.Warn("position size too small", "strategy", result.StrategyName, "size", positionSizeUSDT)
		return false
	}

	targetPair := strat.TradePairs[0]
	if len(result.TargetPairs) > 0 {
		targetPair = result.TargetPairs[0]
	}
	category := strat.CategoryFor(targetPair)

	takeProfit, stopLoss := rawTPSL(result.Action, result.TargetPrice, strat.StopTakePercent)

	spec := c.instrumentSpec(ctx, category, targetPair)
	normalized, err := normalize.NormalizeOrder(result.Action, result.TargetPrice, positionSizeUSDT, takeProfit, stopLoss, spec)
	if err != nil {
		c.logger.Error("failed to normalize order", "strategy", result.StrategyName, "error", err)
		return false
	}

	placed := c.client.PlaceMarketOrder(ctx, category, targetPair, result.Action, normalized.Qty, normalized.TP, normalized.SL, 0)
	if placed == nil {
		c.logger.Error("failed to place order", "strategy", result.StrategyName)
		return false
	}

	quantity := positionSizeUSDT / result.TargetPrice
	order := types.OrderRecord{
		StrategyName: result.StrategyName,
		Symbol:       targetPair,
		OrderID:      placed.OrderID,
		Side:         result.Action,
		Quantity:     quantity,
		EntryPrice:   result.TargetPrice,
		TakeProfit:   takeProfit,
		StopLoss:     stopLoss,
		Status:       types.StatusOpen,
		OpenedAt:     time.Now(),
		CreatedAt:    time.Now(),
	}
	id, err := c.store.SaveOrder(order)
	if err != nil {
		c.logger.Error("failed to persist order", "error", err)
	}
	order.ID = id

	c.mu.Lock()
	c.openPositions[result.StrategyName] = order
	c.mu.Unlock()

	c.tracker.TrackOrder(order)

	c.statsMu.Lock()
	c.totalTrades++
	c.statsMu.Unlock()

	if signalID != 0 {
		if err := c.store.MarkSignalExecuted(signalID); err != nil {
			c.logger.Error("failed to mark signal executed", "error", err)
		}
	}

	c.logger.Info("position opened", "strategy", result.StrategyName, "symbol", targetPair,
		"side", result.Action, "qty", normalized.Qty, "entry", result.TargetPrice)
	c.notifier.NotifySignalOpened(ctx, result.StrategyName, result.Action, result.TargetPrice, quantity, takeProfit, stopLoss)

	if c.onPositionOpened != nil {
		c.onPositionOpened(result.StrategyName)
	}
	return true
}

func rawTPSL(side types.Side, entry, stopTakePercent float64) (takeProfit, stopLoss float64) {
	if side == types.Buy {
		return entry * (1 + stopTakePercent), entry * (1 - stopTakePercent)
	}
	return entry * (1 - stopTakePercent), entry * (1 + stopTakePercent)
}

func (c *Coordinator) instrumentSpec(ctx context.Context, category, symbol string) types.InstrumentSpec {
	if spec := c.client.GetInstrumentsInfo(ctx, category, symbol); spec != nil {
		return *spec
	}
	c.logger.Warn("instrument spec missing, using defaults", "category", category, "symbol", symbol)
	return types.DefaultInstrumentSpec(category, symbol)
}

// CheckPositions is the close-flow contract, polled by the main loop:
// for every open position, ask the exchange whether it still has size;
// if not, reconcile the close via order history and update statistics.
func (c *Coordinator) CheckPositions(ctx context.Context) {
	c.mu.Lock()
	snapshot := make(map[string]types.OrderRecord, len(c.openPositions))
	for k, v := range c.openPositions {
		snapshot[k] = v
	}
	c.mu.Unlock()

	for strategyName, order := range snapshot {
		strat, ok := c.strategies[strategyName]
		category := "linear"
		if ok {
			category = strat.CategoryFor(order.Symbol)
		}
		pos := c.client.GetPosition(ctx, category, order.Symbol)
		if pos != nil && pos.Size != 0 {
			continue
		}
		c.handlePositionClosed(ctx, category, order)
		c.mu.Lock()
		delete(c.openPositions, strategyName)
		c.mu.Unlock()
	}
}

func (c *Coordinator) handlePositionClosed(ctx context.Context, category string, order types.OrderRecord) {
	history := c.client.GetOrderHistory(ctx, category, order.Symbol, 10)

	closePrice := order.EntryPrice
	reason := types.CloseUnknown
	found := false
	for _, h := range history {
		if h.OrderID == order.OrderID {
			closePrice = h.AvgPrice
			reason = types.InferCloseReason(order, closePrice)
			found = true
			break
		}
	}
	if !found {
		c.logger.Warn("reconciliation failed", "strategy", order.StrategyName, "error", tradeerr.ReconciliationUnknown(order.OrderID))
	}

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
	if err := c.store.UpdateOrder(order.ID, durablestore.OrderUpdate{
		Status: types.StatusClosed, ClosedAt: &closedAt, ClosePrice: &closePrice,
		PnL: &pnl, PnLPercent: &pnlPercent, CloseReason: &reason,
	}); err != nil {
		c.logger.Error("failed to persist order close", "error", err)
	}

	if pnl > 0 {
		c.statsMu.Lock()
		c.profitableTrades++
		c.statsMu.Unlock()
		c.updateStopLossStreak(false)
	} else if reason == types.CloseSL {
		c.updateStopLossStreak(true)
	}
	telemetry.IncTrade(pnl > 0)
	telemetry.IncExitReason(string(reason), string(order.Side))

	duration := closedAt.Sub(order.OpenedAt)
	c.logger.Info("position closed", "strategy", order.StrategyName, "pnl", pnl, "pnl_percent", pnlPercent,
		"reason", reason, "duration", duration)
	c.notifier.NotifyTradeClosed(ctx, order.StrategyName, pnl, pnlPercent, reason, duration)

	if _, err := c.store.CalculateAndSaveDailyStats(time.Time{}); err != nil {
		c.logger.Error("failed to recalculate daily stats", "error", err)
	}
}

// Stats is a snapshot of trading performance, mirroring get_stats().
type Stats struct {
	TotalTrades       int
	ProfitableTrades  int
	WinRate           float64
	StopLossStreak    int
	MaxObservedStreak int
	OpenPositions     int
}

func (c *Coordinator) Stats() Stats {
	c.statsMu.Lock()
	total, profitable, streak, maxStreak := c.totalTrades, c.profitableTrades, c.stopLossStreak, c.maxObservedStreak
	c.statsMu.Unlock()

	c.mu.Lock()
	open := len(c.openPositions)
	c.mu.Unlock()

	winRate := 0.0
	if total > 0 {
		winRate = float64(profitable) / float64(total) * 100
	}
	return Stats{
		TotalTrades: total, ProfitableTrades: profitable, WinRate: winRate,
		StopLossStreak: streak, MaxObservedStreak: maxStreak, OpenPositions: open,
	}
}

// HasPosition reports whether strategyName currently has an open position.
func (c *Coordinator) HasPosition(strategyName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.openPositions[strategyName]
	return ok
}
