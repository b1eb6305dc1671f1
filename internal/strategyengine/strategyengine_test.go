package strategyengine

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"bybit-signal-engine/internal/config"
	"bybit-signal-engine/internal/exchange"
	"bybit-signal-engine/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSignHelper(t *testing.T) {
	t.Parallel()
	tests := []struct {
		v    float64
		want int
	}{{1.5, 1}, {-1.5, -1}, {0, 0}}
	for _, tt := range tests {
		if got := sign(tt.v); got != tt.want {
			t.Errorf("sign(%v) = %d, want %d", tt.v, got, tt.want)
		}
	}
}

func TestAbsHelper(t *testing.T) {
	t.Parallel()
	if abs(-3.2) != 3.2 {
		t.Error("abs(-3.2) should be 3.2")
	}
	if abs(3.2) != 3.2 {
		t.Error("abs(3.2) should be 3.2")
	}
}

func TestSignalBufferAppendRespectsCapacity(t *testing.T) {
	t.Parallel()
	buf := newSignalBuffer(2, []string{"ETHUSDT"})
	buf.appendIndex(1)
	buf.appendIndex(2)
	buf.appendIndex(3)
	if len(buf.index) != 2 {
		t.Fatalf("index buffer length = %d, want 2 (capped)", len(buf.index))
	}
	if buf.index[0] != 2 || buf.index[1] != 3 {
		t.Errorf("index buffer = %v, want [2 3] (oldest dropped)", buf.index)
	}
}

func TestSignalBufferResetClearsAllSeries(t *testing.T) {
	t.Parallel()
	buf := newSignalBuffer(3, []string{"ETHUSDT"})
	buf.appendIndex(1)
	buf.appendTarget("ETHUSDT", 2)
	buf.reset()
	if len(buf.index) != 0 {
		t.Error("index buffer should be empty after reset")
	}
	if len(buf.targets["ETHUSDT"]) != 0 {
		t.Error("target buffer should be empty after reset")
	}
}

func TestSeedClosesTickWindowPositiveExcludesNewestBar(t *testing.T) {
	t.Parallel()
	buf := newSignalBuffer(5, nil)
	bars := []types.Bar{{Close: 1}, {Close: 2}, {Close: 3}}
	seedCloses(buf, nil, bars, 2, true)
	if len(buf.index) != 2 || buf.index[0] != 1 || buf.index[1] != 2 {
		t.Errorf("index = %v, want [1 2] (newest bar excluded)", buf.index)
	}
}

func TestSeedClosesTickWindowZeroTakesOnlySecondToLast(t *testing.T) {
	t.Parallel()
	buf := newSignalBuffer(5, nil)
	bars := []types.Bar{{Close: 1}, {Close: 2}, {Close: 3}}
	seedCloses(buf, nil, bars, 0, true)
	if len(buf.index) != 1 || buf.index[0] != 2 {
		t.Errorf("index = %v, want [2]", buf.index)
	}
}

func TestCheckSignalEmitsBuyOnCoMovement(t *testing.T) {
	t.Parallel()
	cfg := types.StrategyConfig{
		TradePairs:           []string{"ETHUSDT"},
		PriceChangeThreshold: 100,
		Direction:            0,
		Signals: map[string]types.SignalConfig{
			"s1": {Index: "BTCUSDT", IndexChangeThreshold: 0.1, Target: 10, TickWindow: 2},
		},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"retCode":0,"result":{"list":[{"symbol":"ETHUSDT","lastPrice":"10.05"}]}}`))
	}))
	defer server.Close()
	client := exchange.NewClient(config.Config{API: config.APIConfig{BaseURL: server.URL}}, exchange.NewAuth("", ""), testLogger())

	var got types.SignalResult
	e := &Engine{
		name:    "strat",
		cfg:     cfg,
		client:  client,
		logger:  testLogger(),
		buffers: map[string]*signalBuffer{"s1": newSignalBuffer(2, cfg.TradePairs)},
		callback: func(r types.SignalResult) {
			got = r
		},
	}
	buf := e.buffers["s1"]
	buf.index = []float64{100, 101}
	buf.targets["ETHUSDT"] = []float64{10, 10.05}

	e.checkSignal("s1", cfg.Signals["s1"])

	if got.Action != types.Buy {
		t.Errorf("action = %v, want Buy", got.Action)
	}
	if got.SignalName != "s1" {
		t.Errorf("signal name = %q, want s1", got.SignalName)
	}
}

func TestCheckSignalSkipsWhenMagnitudeBelowThreshold(t *testing.T) {
	t.Parallel()
	cfg := types.StrategyConfig{
		TradePairs: []string{"ETHUSDT"},
		Signals: map[string]types.SignalConfig{
			"s1": {Index: "BTCUSDT", IndexChangeThreshold: 50, Target: 10, TickWindow: 2},
		},
	}
	called := false
	e := &Engine{
		name:     "strat",
		cfg:      cfg,
		logger:   testLogger(),
		buffers:  map[string]*signalBuffer{"s1": newSignalBuffer(2, cfg.TradePairs)},
		callback: func(types.SignalResult) { called = true },
	}
	buf := e.buffers["s1"]
	buf.index = []float64{100, 100.1}
	buf.targets["ETHUSDT"] = []float64{10, 10.01}

	e.checkSignal("s1", cfg.Signals["s1"])

	if called {
		t.Error("signal should not trigger below indexChangeThreshold")
	}
}
