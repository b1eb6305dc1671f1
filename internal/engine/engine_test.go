package engine

import (
	"log/slog"
	"os"
	"testing"

	"bybit-signal-engine/internal/config"
	"bybit-signal-engine/internal/exchange"
	"bybit-signal-engine/internal/lifecycle"
	"bybit-signal-engine/internal/strategyengine"
	"bybit-signal-engine/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	client := exchange.NewClient(config.Config{}, exchange.NewAuth("", ""), testLogger())
	coordinator := lifecycle.New(map[string]types.StrategyConfig{}, client, nil, nil, nil, 3, testLogger(), func(string) {})
	return &Engine{
		cfg:         config.Config{Global: config.GlobalConfig{MaxStopLossTrades: 3}},
		client:      client,
		strategies:  map[string]*strategyengine.Engine{},
		coordinator: coordinator,
		logger:      testLogger(),
	}
}

func TestOnSignalSkipsWhenSlippageRejected(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	// Must return without calling into ExecuteMultiSignal's network path.
	e.onSignal(types.SignalResult{StrategyName: "strat-a", SignalName: "sig-1", SlippageOk: false})
}

func TestOnPositionOpenedIgnoresUnknownStrategy(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	// strategies map is empty: onPositionOpened must return without
	// spawning a goroutine against a missing entry.
	e.onPositionOpened("does-not-exist")
}

func TestRefreshTelemetryReadsClientAndCoordinatorStats(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	// Exercises the live client.Stats() / coordinator.Stats() snapshot
	// path without touching the network (a freshly built client has
	// zero cumulative counters).
	e.refreshTelemetry()
}
