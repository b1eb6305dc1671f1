// Package strategyengine holds the per-signal price buffers for a
// strategy, evaluates the five trigger gates on every confirmed bar, and
// emits SignalResults to a strategy-level callback. It never opens
// positions itself — that's the lifecycle coordinator's job.
package strategyengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bybit-signal-engine/internal/exchange"
	"bybit-signal-engine/internal/fanout"
	"bybit-signal-engine/pkg/types"
)

// SignalCallback receives every triggered signal for a strategy.
type SignalCallback func(types.SignalResult)

type signalBuffer struct {
	mu      sync.Mutex
	index   []float64
	targets map[string][]float64
	cap     int
}

func newSignalBuffer(cap int, tradePairs []string) *signalBuffer {
	b := &signalBuffer{cap: cap, targets: make(map[string][]float64, len(tradePairs))}
	for _, p := range tradePairs {
		b.targets[p] = nil
	}
	return b
}

func (b *signalBuffer) append(slice []float64, v float64) []float64 {
	slice = append(slice, v)
	if len(slice) > b.cap {
		slice = slice[len(slice)-b.cap:]
	}
	return slice
}

func (b *signalBuffer) appendIndex(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index = b.append(b.index, v)
}

func (b *signalBuffer) appendTarget(pair string, v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targets[pair] = b.append(b.targets[pair], v)
}

func (b *signalBuffer) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index = nil
	for p := range b.targets {
		b.targets[p] = nil
	}
}

// Engine runs one strategy's signal evaluation.
type Engine struct {
	name   string
	cfg    types.StrategyConfig
	client *exchange.Client
	fan    *fanout.FanOut
	logger *slog.Logger

	buffers map[string]*signalBuffer // signal name -> buffer

	signalsGenerated int
	historyLoaded    bool
	statusMu         sync.Mutex

	callback SignalCallback
}

// New builds a strategy engine and registers its subscriptions with fan.
// callback is invoked (from the fan-out's per-key worker goroutine) for
// every triggered signal.
func New(name string, cfg types.StrategyConfig, client *exchange.Client, fan *fanout.FanOut, logger *slog.Logger, callback SignalCallback) *Engine {
	e := &Engine{
		name:     name,
		cfg:      cfg,
		client:   client,
		fan:      fan,
		logger:   logger.With("component", "strategy_engine", "strategy", name),
		buffers:  make(map[string]*signalBuffer, len(cfg.Signals)),
		callback: callback,
	}
	for sigName, sig := range cfg.Signals {
		window := sig.TickWindow
		if window <= 0 {
			window = 2
		}
		e.buffers[sigName] = newSignalBuffer(window, cfg.TradePairs)
	}
	fan.Register(name, cfg, e.onBar)
	return e
}

// PreloadHistory fetches N = max(tickWindow, 2) bars per (symbol,
// timeframe) for each signal's index and trade-pair symbols and seeds
// the buffers before the engine starts receiving live bars.
func (e *Engine) PreloadHistory(ctx context.Context) {
	for sigName, sig := range e.cfg.Signals {
		n := sig.TickWindow
		if n <= 0 {
			n = 2
		}
		if n < 2 {
			n = 2
		}

		indexCategory := e.cfg.CategoryFor(sig.Index)
		indexBars := e.client.GetKlines(ctx, indexCategory, sig.Index, sig.Frame, n)
		if len(indexBars) == 0 {
			e.logger.Error("failed to preload index history", "signal", sigName, "symbol", sig.Index)
			continue
		}

		buf := e.buffers[sigName]
		seedCloses(buf, nil, indexBars, sig.TickWindow, true)

		loadedAny := false
		for _, pair := range e.cfg.TradePairs {
			pairCategory := e.cfg.CategoryFor(pair)
			pairBars := e.client.GetKlines(ctx, pairCategory, pair, sig.Frame, n)
			if len(pairBars) == 0 {
				continue
			}
			loadedAny = true
			seedCloses(buf, &pair, pairBars, sig.TickWindow, false)
		}
		if !loadedAny {
			e.logger.Error("failed to preload any trade-pair history", "signal", sigName)
		}
	}
	e.statusMu.Lock()
	e.historyLoaded = true
	e.statusMu.Unlock()
}

// seedCloses applies the preloadHistory append rule: tickWindow>0 takes
// closes [0..N-2] (all but the newest bar), tickWindow==0 takes only
// bar [N-2] (the last confirmed one).
func seedCloses(buf *signalBuffer, pair *string, bars []types.Bar, tickWindow int, isIndex bool) {
	apply := func(v float64) {
		if isIndex {
			buf.appendIndex(v)
		} else {
			buf.appendTarget(*pair, v)
		}
	}
	if tickWindow > 0 {
		for _, b := range bars[:len(bars)-1] {
			apply(b.Close)
		}
		return
	}
	if len(bars) >= 2 {
		apply(bars[len(bars)-2].Close)
	}
}

// onBar is the fan-out callback: append closePrice to every signal
// buffer whose (indexSymbol ∪ tradePairs) contains this key's symbol at
// this key's timeframe, then evaluate that signal's trigger.
func (e *Engine) onBar(key types.SubscriptionKey, bar types.Bar) {
	for sigName, sig := range e.cfg.Signals {
		if sig.Frame.String() != key.Frame {
			continue
		}
		buf := e.buffers[sigName]
		switch {
		case key.Symbol == sig.Index:
			buf.appendIndex(bar.Close)
		default:
			if _, tracked := buf.targets[key.Symbol]; !tracked {
				continue
			}
			buf.appendTarget(key.Symbol, bar.Close)
		}
		e.checkSignal(sigName, sig)
	}
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// checkSignal evaluates every (signal, tradePair) pair's trigger gates
// A through E, emitting a SignalResult for each pair that fires.
func (e *Engine) checkSignal(sigName string, sig types.SignalConfig) {
	buf := e.buffers[sigName]
	required := sig.TickWindow
	if required <= 0 {
		required = 2
	}

	buf.mu.Lock()
	indexLen := len(buf.index)
	var i0, i1 float64
	if indexLen >= required {
		if sig.TickWindow > 0 {
			i0, i1 = buf.index[0], buf.index[len(buf.index)-1]
		} else {
			i0, i1 = buf.index[len(buf.index)-2], buf.index[len(buf.index)-1]
		}
	}
	pairs := make([]string, 0, len(buf.targets))
	for p := range buf.targets {
		pairs = append(pairs, p)
	}
	buf.mu.Unlock()

	if indexLen < required {
		return
	}

	for _, pair := range pairs {
		buf.mu.Lock()
		tgt := buf.targets[pair]
		ok := len(tgt) >= required
		var t0, t1 float64
		if ok {
			if sig.TickWindow > 0 {
				t0, t1 = tgt[0], tgt[len(tgt)-1]
			} else {
				t0, t1 = tgt[len(tgt)-2], tgt[len(tgt)-1]
			}
		}
		buf.mu.Unlock()
		if !ok {
			continue
		}

		if i0 == 0 || t0 == 0 {
			continue
		}

		indexChange := (i1 - i0) / i0 * 100
		targetChange := (t1 - t0) / t0 * 100

		if abs(indexChange) < sig.IndexChangeThreshold { // gate A
			continue
		}
		if sig.Direction == 1 && indexChange < 0 { // gate B
			continue
		}
		if sig.Direction == -1 && indexChange > 0 {
			continue
		}
		if abs(targetChange) >= sig.Target { // gate C
			continue
		}
		if sign(indexChange) != sign(targetChange) { // gate D
			continue
		}

		action := types.Buy
		if indexChange < 0 {
			action = types.Sell
		}
		if sig.Reverse == 1 {
			if action == types.Buy {
				action = types.Sell
			} else {
				action = types.Buy
			}
		}
		if !e.cfg.ShouldTakeSignal(action) { // gate E
			continue
		}

		currentPrice := e.currentPrice(pair)
		slippageOk := true
		if t1 != 0 {
			diffPercent := abs((currentPrice-t1)/t1) * 100
			slippageOk = diffPercent <= e.cfg.PriceChangeThreshold
		}

		result := types.SignalResult{
			StrategyName: e.name,
			SignalName:   sigName,
			Action:       action,
			IndexSymbol:  sig.Index,
			TargetPairs:  []string{pair},
			TargetPrice:  currentPrice,
			IndexChange:  indexChange,
			TargetChange: targetChange,
			SlippageOk:   slippageOk,
			Timestamp:    time.Now(),
		}

		e.statusMu.Lock()
		e.signalsGenerated++
		e.statusMu.Unlock()

		e.logger.Info("signal triggered", "signal", sigName, "action", action, "pair", pair,
			"index_change", indexChange, "target_change", targetChange, "price", currentPrice)

		if e.callback != nil {
			e.callback(result)
		}
	}
}

func (e *Engine) currentPrice(symbol string) float64 {
	t := e.client.GetTicker(context.Background(), e.cfg.CategoryFor(symbol), symbol)
	if t == nil {
		return 0
	}
	return t.LastPrice
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// ResetBuffers clears every signal buffer and re-runs preloadHistory, as
// the lifecycle coordinator requires after every successful position open.
func (e *Engine) ResetBuffers(ctx context.Context) {
	for _, buf := range e.buffers {
		buf.reset()
	}
	e.statusMu.Lock()
	e.historyLoaded = false
	e.statusMu.Unlock()
	e.logger.Info("buffers reset")
	e.PreloadHistory(ctx)
}

// Status is a snapshot of the engine's runtime state, mirroring the
// source's get_status() for observability.
type Status struct {
	Name             string
	SignalsGenerated int
	HistoryLoaded    bool
}

func (e *Engine) Status() Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return Status{Name: e.name, SignalsGenerated: e.signalsGenerated, HistoryLoaded: e.historyLoaded}
}
