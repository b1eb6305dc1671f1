// Package engine is the central orchestrator of the trading bot.
//
// It wires together all subsystems:
//
//  1. FanOut acquires market data (websocket klines + REST polling) and
//     dedups it down to distinct (symbol, timeframe, category) keys.
//  2. One strategyengine.Engine per configured strategy evaluates the
//     five trigger gates on every confirmed bar and emits SignalResults.
//  3. lifecycle.Coordinator turns a triggered signal into an order,
//     then polls open positions for closes (the 1s main-loop cadence).
//  4. ordertracker.Tracker independently watches recently placed orders
//     for terminal exchange status (5s cadence).
//  5. stats.Monitor sends the once-daily Telegram digest.
//
// Lifecycle: New() → Start() → [runs until ctx cancelled] → Stop()
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bybit-signal-engine/internal/config"
	"bybit-signal-engine/internal/durablestore"
	"bybit-signal-engine/internal/exchange"
	"bybit-signal-engine/internal/fanout"
	"bybit-signal-engine/internal/lifecycle"
	"bybit-signal-engine/internal/notify"
	"bybit-signal-engine/internal/ordertracker"
	"bybit-signal-engine/internal/stats"
	"bybit-signal-engine/internal/strategyengine"
	"bybit-signal-engine/internal/telemetry"
	"bybit-signal-engine/pkg/types"
)

const (
	mainLoopInterval   = 1 * time.Second
	statusLogEveryTick = 60 // cycles, i.e. once a minute at 1s cadence
	haltCooldown       = 5 * time.Minute
)

// Engine orchestrates every component of the trading system. It owns
// the lifecycle of all background goroutines.
type Engine struct {
	cfg    config.Config
	client *exchange.Client
	auth   *exchange.Auth

	fan         *fanout.FanOut
	strategies  map[string]*strategyengine.Engine
	coordinator *lifecycle.Coordinator
	tracker     *ordertracker.Tracker
	monitor     *stats.Monitor
	db          *durablestore.Store
	notifier    *notify.Notifier
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every component but starts nothing. cfg must already have
// passed Validate.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth := exchange.NewAuth(cfg.API.APIKey, cfg.API.APISecret)
	client := exchange.NewClient(cfg, auth, logger)

	db, err := durablestore.Open(cfg.Global.DatabasePath)
	if err != nil {
		return nil, err
	}

	notifier := notify.New(cfg.Telegram, client.HTTPClient(), logger)
	monitor := stats.New(db, notifier, "", logger)

	strategyConfigs, err := cfg.EnabledStrategies()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	tracker := ordertracker.New(client, db, logger)
	fan := fanout.New(client, cfg.API.WSBaseURL, logger)

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:        cfg,
		client:     client,
		auth:       auth,
		fan:        fan,
		strategies: make(map[string]*strategyengine.Engine, len(strategyConfigs)),
		tracker:    tracker,
		monitor:    monitor,
		db:         db,
		notifier:   notifier,
		logger:     logger.With("component", "engine"),
		ctx:        ctx,
		cancel:     cancel,
	}

	coordinator := lifecycle.New(strategyConfigs, client, db, notifier, tracker, cfg.Global.MaxStopLossTrades, logger, e.onPositionOpened)
	e.coordinator = coordinator

	for name, strat := range strategyConfigs {
		e.strategies[name] = strategyengine.New(name, strat, client, fan, logger, e.onSignal)
	}

	return e, nil
}

// onSignal is the strategyengine.SignalCallback: reject signals with
// unacceptable slippage, otherwise hand off to the lifecycle coordinator.
func (e *Engine) onSignal(result types.SignalResult) {
	telemetry.IncSignal(result.StrategyName)
	if !result.SlippageOk {
		e.logger.Warn("signal rejected: slippage exceeded", "strategy", result.StrategyName, "signal", result.SignalName)
		return
	}
	if e.coordinator.HasPosition(result.StrategyName) {
		e.logger.Debug("position already open, skipping signal", "strategy", result.StrategyName)
		return
	}
	e.coordinator.ExecuteMultiSignal(e.ctx, result)
}

// onPositionOpened resets the originating strategy's signal buffers
// once a position has been opened, per the reset contract in §4.3.
func (e *Engine) onPositionOpened(strategyName string) {
	eng, ok := e.strategies[strategyName]
	if !ok {
		return
	}
	go eng.ResetBuffers(e.ctx)
}

// Start launches every background goroutine.
func (e *Engine) Start() error {
	for _, eng := range e.strategies {
		eng.PreloadHistory(e.ctx)
	}

	if err := e.coordinator.Initialize(e.ctx); err != nil {
		e.logger.Error("coordinator initialize failed", "error", err)
	}

	e.fan.Start(e.ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.tracker.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.mainLoop()
	}()

	e.logger.Info("engine started", "strategies", len(e.strategies))
	return nil
}

// Stop cancels every goroutine, waits for them to exit, and closes resources.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	e.fan.Stop()
	e.wg.Wait()

	report, err := e.monitor.GetComprehensiveReport()
	if err != nil {
		e.logger.Error("failed to build final report", "error", err)
	} else {
		e.logger.Info("final statistics", "report", stats.FormatReport(report))
	}

	if err := e.db.Close(); err != nil {
		e.logger.Error("failed to close database", "error", err)
	}
	e.logger.Info("shutdown complete")
}

// mainLoop is the 1s-cadence supervisor: stop-loss circuit breaker
// check, position close reconciliation, periodic status logging,
// telemetry snapshotting, and the once-daily report check.
func (e *Engine) mainLoop() {
	ticker := time.NewTicker(mainLoopInterval)
	defer ticker.Stop()

	cycle := 0
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			cycle++
			e.runCycle(cycle)
		}
	}
}

func (e *Engine) runCycle(cycle int) {
	e.coordinator.MaybeResetStreak()

	streakStats := e.coordinator.Stats()
	if streakStats.StopLossStreak >= e.cfg.Global.MaxStopLossTrades {
		e.logger.Error("trading halted: stop-loss streak limit reached", "streak", streakStats.StopLossStreak)
		time.Sleep(haltCooldown)
		return
	}

	e.coordinator.CheckPositions(e.ctx)

	if cycle%statusLogEveryTick == 0 {
		e.logStatus(cycle)
		e.monitor.CheckDailyReport(e.ctx)
	}

	e.refreshTelemetry()
}

func (e *Engine) logStatus(cycle int) {
	s := e.coordinator.Stats()
	e.logger.Info("status", "cycle", cycle, "total_trades", s.TotalTrades,
		"profitable_trades", s.ProfitableTrades, "win_rate", s.WinRate,
		"stop_loss_streak", s.StopLossStreak, "open_positions", s.OpenPositions)
	for name, eng := range e.strategies {
		st := eng.Status()
		e.logger.Info("strategy status", "strategy", name, "signals_generated", st.SignalsGenerated)
	}
}

func (e *Engine) refreshTelemetry() {
	requests, errs := e.client.Stats()
	telemetry.SetExchangeCounters(requests, errs)

	s := e.coordinator.Stats()
	telemetry.SetOpenPositions(s.OpenPositions)
	telemetry.SetStopLossStreak(s.StopLossStreak)
}
