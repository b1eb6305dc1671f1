// Package fanout is the market-data fan-out: it deduplicates subscription
// requests from many strategies down to distinct (symbol, timeframe,
// category) keys, picks the cheapest transport per key (REST polling for
// sub-minute frames, a websocket kline stream for everything else), and
// delivers every confirmed bar to every subscriber of that key.
//
// Delivery is per-key FIFO: each key gets its own buffered queue and
// worker goroutine, so a slow subscriber callback on one key never
// blocks delivery on another (ported from the source's per-strategy
// channel design, generalized to per-key since multiple strategies can
// share a key).
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bybit-signal-engine/internal/exchange"
	"bybit-signal-engine/pkg/types"
)

// BarHandler receives a confirmed bar for a key this subscriber registered for.
type BarHandler func(key types.SubscriptionKey, bar types.Bar)

type subscriber struct {
	id      string
	handler BarHandler
}

const barQueueDepth = 64

type keyState struct {
	source types.SourceType
	subs   []subscriber
	queue  chan types.Bar
}

// pollGroupKey identifies one periodic polling task: every distinct
// symbol sharing a (frame, category) pair is fetched by a single
// pollLoop goroutine, not one goroutine per symbol.
type pollGroupKey struct {
	Frame    string
	Category string
}

type pollGroup struct {
	cancel  context.CancelFunc
	symbols map[string]struct{}
}

// FanOut is the central acquisition layer. One instance is shared across
// all registered strategies.
type FanOut struct {
	client    *exchange.Client
	wsBaseURL string
	logger    *slog.Logger

	mu         sync.Mutex
	keys       map[types.SubscriptionKey]*keyState
	feeds      map[string]*exchange.KlineFeed // category -> feed
	cancel     map[types.SubscriptionKey]context.CancelFunc
	pollGroups map[pollGroupKey]*pollGroup

	ctx     context.Context
	started bool
	wg      sync.WaitGroup
}

// New creates a FanOut. wsBaseURL is the websocket root (e.g.
// "wss://stream.bybit.com/v5/public"); the category ("spot"/"linear") is
// appended to pick the right public stream.
func New(client *exchange.Client, wsBaseURL string, logger *slog.Logger) *FanOut {
	return &FanOut{
		client:     client,
		wsBaseURL:  wsBaseURL,
		logger:     logger.With("component", "fanout"),
		keys:       make(map[types.SubscriptionKey]*keyState),
		feeds:      make(map[string]*exchange.KlineFeed),
		cancel:     make(map[types.SubscriptionKey]context.CancelFunc),
		pollGroups: make(map[pollGroupKey]*pollGroup),
	}
}

// Register records, for every signal and for {index symbol} ∪ trade
// pairs, a subscription entry under strategyName. Registration is
// idempotent per strategy name: calling it twice with the same name
// does not duplicate delivery.
func (f *FanOut) Register(strategyName string, cfg types.StrategyConfig, handler BarHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sig := range cfg.Signals {
		source := types.SourceWebsocket
		if sig.Frame.IsPolling() {
			source = types.SourcePolling
		}

		indexKey := types.SubscriptionKey{Symbol: sig.Index, Frame: sig.Frame.String(), Category: cfg.CategoryFor(sig.Index)}
		f.addLocked(indexKey, source, strategyName, handler)

		for _, pair := range cfg.TradePairs {
			key := types.SubscriptionKey{Symbol: pair, Frame: sig.Frame.String(), Category: cfg.CategoryFor(pair)}
			f.addLocked(key, source, strategyName, handler)
		}
	}
}

func (f *FanOut) addLocked(key types.SubscriptionKey, source types.SourceType, id string, handler BarHandler) {
	st, ok := f.keys[key]
	if !ok {
		st = &keyState{source: source, queue: make(chan types.Bar, barQueueDepth)}
		f.keys[key] = st
	}
	for _, s := range st.subs {
		if s.id == id {
			return
		}
	}
	st.subs = append(st.subs, subscriber{id: id, handler: handler})

	if f.started {
		f.startKeyWorker(key, st)
		f.activateLocked(key, st)
	}
}

// Unregister removes every subscription entry belonging to strategyName.
// A key whose subscriber list becomes empty has its underlying
// subscription released.
func (f *FanOut) Unregister(strategyName string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key, st := range f.keys {
		filtered := st.subs[:0]
		for _, s := range st.subs {
			if s.id != strategyName {
				filtered = append(filtered, s)
			}
		}
		st.subs = filtered
		if len(st.subs) == 0 {
			f.deactivateLocked(key)
			delete(f.keys, key)
		}
	}
}

// Start activates every currently-registered key's transport: websocket
// subscriptions go out on a per-category feed, polling groups get one
// periodic task per (frame, category).
func (f *FanOut) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctx = ctx
	f.started = true

	for key, st := range f.keys {
		f.startKeyWorker(key, st)
		f.activateLocked(key, st)
	}
}

// Stop tears down every active subscription and worker.
func (f *FanOut) Stop() {
	f.mu.Lock()
	for key := range f.keys {
		f.deactivateLocked(key)
	}
	for _, feed := range f.feeds {
		feed.Close()
	}
	f.started = false
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *FanOut) startKeyWorker(key types.SubscriptionKey, st *keyState) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for bar := range st.queue {
			f.deliver(key, st, bar)
		}
	}()
}

func (f *FanOut) deliver(key types.SubscriptionKey, st *keyState, bar types.Bar) {
	f.mu.Lock()
	subs := append([]subscriber(nil), st.subs...)
	f.mu.Unlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					f.logger.Error("subscriber callback panicked", "subscriber", s.id, "key", key, "panic", r)
				}
			}()
			s.handler(key, bar)
		}()
	}
}

func (f *FanOut) activateLocked(key types.SubscriptionKey, st *keyState) {
	if _, exists := f.cancel[key]; exists {
		return
	}
	if st.source == types.SourceWebsocket {
		f.activateWSLocked(key, st)
		return
	}
	f.activatePollingLocked(key, st)
}

func (f *FanOut) deactivateLocked(key types.SubscriptionKey) {
	if cancel, ok := f.cancel[key]; ok {
		cancel()
		delete(f.cancel, key)
	}
	if st, ok := f.keys[key]; ok && st.source == types.SourceWebsocket {
		if feed, ok := f.feeds[key.Category]; ok {
			feed.Unsubscribe(key.Symbol, key.Frame)
		}
	}
	if st, ok := f.keys[key]; ok {
		close(st.queue)
	}
}

func (f *FanOut) feedForCategory(category string) *exchange.KlineFeed {
	if feed, ok := f.feeds[category]; ok {
		return feed
	}
	url := fmt.Sprintf("%s/%s", f.wsBaseURL, category)
	feed := exchange.NewKlineFeed(url, f.logger, func(symbol, interval string, bar types.Bar) {
		f.dispatch(types.SubscriptionKey{Symbol: symbol, Frame: interval, Category: category}, bar)
	})
	f.feeds[category] = feed
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := feed.Run(f.ctx); err != nil && f.ctx.Err() == nil {
			f.logger.Error("kline feed exited", "category", category, "error", err)
		}
	}()
	return feed
}

func (f *FanOut) activateWSLocked(key types.SubscriptionKey, _ *keyState) {
	feed := f.feedForCategory(key.Category)
	feed.Subscribe(key.Symbol, key.Frame)
	f.cancel[key] = func() {} // teardown happens via feed.Unsubscribe in deactivateLocked
}

// dispatch is the transport-side entrypoint: it enqueues a confirmed bar
// onto its key's worker queue, dropping unconfirmed bars per the
// delivery contract.
func (f *FanOut) dispatch(key types.SubscriptionKey, bar types.Bar) {
	if !bar.Confirmed {
		return
	}
	f.mu.Lock()
	st, ok := f.keys[key]
	f.mu.Unlock()
	if !ok {
		return
	}
	select {
	case st.queue <- bar:
	default:
		f.logger.Warn("bar queue full, dropping bar", "key", key)
	}
}

// activatePollingLocked assigns key to the periodic task for its
// (frame, category) group, starting that task's goroutine the first
// time the group gains a member. Further symbols sharing the group
// join the same already-running pollLoop instead of spawning a new one.
func (f *FanOut) activatePollingLocked(key types.SubscriptionKey, _ *keyState) {
	gk := pollGroupKey{Frame: key.Frame, Category: key.Category}
	g, ok := f.pollGroups[gk]
	if !ok {
		ctx, cancel := context.WithCancel(f.ctx)
		g = &pollGroup{cancel: cancel, symbols: make(map[string]struct{})}
		f.pollGroups[gk] = g
		f.wg.Add(1)
		go f.pollLoop(ctx, gk)
	}
	g.symbols[key.Symbol] = struct{}{}

	f.cancel[key] = func() { f.removePollGroupMemberLocked(gk, key.Symbol) }
}

// removePollGroupMemberLocked drops symbol from gk's group, tearing
// down the group's pollLoop once its last member leaves. Callers must
// already hold f.mu.
func (f *FanOut) removePollGroupMemberLocked(gk pollGroupKey, symbol string) {
	g, ok := f.pollGroups[gk]
	if !ok {
		return
	}
	delete(g.symbols, symbol)
	if len(g.symbols) == 0 {
		g.cancel()
		delete(f.pollGroups, gk)
	}
}

// pollLoop is the one-periodic-task-per-(frame,category) fetch loop:
// every tick it snapshots the group's current distinct symbols and
// fetches each one's ticker, dispatching a synthetic bar per symbol.
func (f *FanOut) pollLoop(ctx context.Context, gk pollGroupKey) {
	defer f.wg.Done()

	frameSeconds := parseFrameSeconds(gk.Frame)
	ticker := time.NewTicker(time.Duration(frameSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.pollGroupOnce(ctx, gk)
		}
	}
}

func (f *FanOut) pollGroupOnce(ctx context.Context, gk pollGroupKey) {
	f.mu.Lock()
	g, ok := f.pollGroups[gk]
	var symbols []string
	if ok {
		symbols = make([]string, 0, len(g.symbols))
		for sym := range g.symbols {
			symbols = append(symbols, sym)
		}
	}
	f.mu.Unlock()
	if !ok {
		return
	}

	for _, symbol := range symbols {
		t := f.client.GetTicker(ctx, gk.Category, symbol)
		if t == nil {
			continue
		}
		bar := types.Bar{
			TimestampMs: time.Now().UnixMilli(),
			Open:        t.LastPrice,
			High:        t.LastPrice,
			Low:         t.LastPrice,
			Close:       t.LastPrice,
			Volume:      t.Volume24h,
			Confirmed:   true,
		}
		f.dispatch(types.SubscriptionKey{Symbol: symbol, Frame: gk.Frame, Category: gk.Category}, bar)
	}
}

// parseFrameSeconds extracts the period in seconds from a raw polling
// frame string like "1s" or "30s". Only called for polling keys, whose
// frame always ends in 's'.
func parseFrameSeconds(raw string) int {
	n := 0
	for _, c := range raw {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	if n == 0 {
		return 1
	}
	return n
}
