// ws.go implements the kline websocket feed: subscriptions to
// `kline.<interval>.<symbol>` topics, passing confirmed bars to a
// caller-supplied callback. Connection health is judged purely by bar arrival:
// if no bar lands within 70s on a subscribed key, the connection is
// torn down and re-established, capped at 10 consecutive reconnect
// attempts with a 5s base back-off.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bybit-signal-engine/pkg/types"
)

const (
	klineStaleTimeout = 70 * time.Second
	maxReconnectTries = 10
	baseBackoff       = 5 * time.Second
	writeTimeout      = 10 * time.Second
)

// KlineFeed manages one websocket connection subscribed to a set of
// `kline.<interval>.<symbol>` topics, dispatching confirmed bars to a
// caller-supplied handler keyed by (symbol, interval).
type KlineFeed struct {
	url    string
	logger *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	topicsMu sync.Mutex
	topics   map[string]bool // "kline.<interval>.<symbol>"

	lastBarMu sync.Mutex
	lastBar   map[string]time.Time // topic -> last bar arrival

	onBar func(symbol, interval string, bar types.Bar)
}

// NewKlineFeed creates a feed that calls onBar for every confirmed bar received.
func NewKlineFeed(wsURL string, logger *slog.Logger, onBar func(symbol, interval string, bar types.Bar)) *KlineFeed {
	return &KlineFeed{
		url:     wsURL,
		logger:  logger.With("component", "ws_kline"),
		topics:  make(map[string]bool),
		lastBar: make(map[string]time.Time),
		onBar:   onBar,
	}
}

func klineTopic(interval, symbol string) string {
	return fmt.Sprintf("kline.%s.%s", interval, symbol)
}

// Subscribe adds a (symbol, interval) kline topic, sending the
// subscribe frame immediately if already connected.
func (f *KlineFeed) Subscribe(symbol, interval string) {
	topic := klineTopic(interval, symbol)
	f.topicsMu.Lock()
	f.topics[topic] = true
	f.topicsMu.Unlock()
	_ = f.writeJSON(map[string]any{"op": "subscribe", "args": []string{topic}})
}

// Unsubscribe removes a (symbol, interval) kline topic.
func (f *KlineFeed) Unsubscribe(symbol, interval string) {
	topic := klineTopic(interval, symbol)
	f.topicsMu.Lock()
	delete(f.topics, topic)
	f.topicsMu.Unlock()
	f.lastBarMu.Lock()
	delete(f.lastBar, topic)
	f.lastBarMu.Unlock()
	_ = f.writeJSON(map[string]any{"op": "unsubscribe", "args": []string{topic}})
}

// Run connects and maintains the connection, reconnecting on read
// failure or staleness, until ctx is cancelled or the reconnect cap is
// exhausted.
func (f *KlineFeed) Run(ctx context.Context) error {
	attempts := 0
	for {
		connected, err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempts = 0
		}

		attempts++
		if attempts > maxReconnectTries {
			return fmt.Errorf("kline feed: exceeded %d reconnect attempts: %w", maxReconnectTries, err)
		}

		backoff := baseBackoff
		f.logger.Warn("kline feed disconnected, reconnecting", "error", err, "attempt", attempts, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// connectAndRead reports whether the dial succeeded, along with the
// error that ended the session.
func (f *KlineFeed) connectAndRead(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.topicsMu.Lock()
	topics := make([]string, 0, len(f.topics))
	for t := range f.topics {
		topics = append(topics, t)
	}
	f.topicsMu.Unlock()
	if len(topics) > 0 {
		if err := f.writeJSON(map[string]any{"op": "subscribe", "args": topics}); err != nil {
			return true, fmt.Errorf("resubscribe: %w", err)
		}
	}

	f.logger.Info("kline feed connected", "topics", len(topics))

	staleCtx, staleCancel := context.WithCancel(ctx)
	defer staleCancel()
	staleErrCh := make(chan error, 1)
	go f.watchStaleness(staleCtx, staleErrCh)

	readErrCh := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}
			f.dispatchMessage(msg)
		}
	}()

	select {
	case err := <-readErrCh:
		return true, fmt.Errorf("read: %w", err)
	case err := <-staleErrCh:
		return true, err
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// watchStaleness tears the connection down if any subscribed topic has
// gone more than klineStaleTimeout without a bar.
func (f *KlineFeed) watchStaleness(ctx context.Context, errCh chan<- error) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			f.topicsMu.Lock()
			topics := make([]string, 0, len(f.topics))
			for t := range f.topics {
				topics = append(topics, t)
			}
			f.topicsMu.Unlock()

			f.lastBarMu.Lock()
			for _, t := range topics {
				last, seen := f.lastBar[t]
				if !seen {
					f.lastBar[t] = now // grace period until the first bar arrives
					continue
				}
				if now.Sub(last) > klineStaleTimeout {
					f.lastBarMu.Unlock()
					errCh <- fmt.Errorf("topic %s stale for over %s", t, klineStaleTimeout)
					return
				}
			}
			f.lastBarMu.Unlock()
		}
	}
}

func (f *KlineFeed) dispatchMessage(data []byte) {
	var envelope struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Topic == "" {
		return
	}

	var klines []struct {
		Start     int64  `json:"start"`
		Open      string `json:"open"`
		High      string `json:"high"`
		Low       string `json:"low"`
		Close     string `json:"close"`
		Volume    string `json:"volume"`
		Confirm   bool   `json:"confirm"`
		Interval  string `json:"interval"`
	}
	if err := json.Unmarshal(envelope.Data, &klines); err != nil {
		f.logger.Debug("ignoring non-kline message", "topic", envelope.Topic)
		return
	}

	interval, symbol := splitKlineTopic(envelope.Topic)
	if interval == "" || symbol == "" {
		return
	}

	f.lastBarMu.Lock()
	f.lastBar[envelope.Topic] = time.Now()
	f.lastBarMu.Unlock()

	for _, k := range klines {
		if !k.Confirm {
			continue
		}
		bar := types.Bar{
			TimestampMs: k.Start,
			Open:        parseFloat(k.Open),
			High:        parseFloat(k.High),
			Low:         parseFloat(k.Low),
			Close:       parseFloat(k.Close),
			Volume:      parseFloat(k.Volume),
			Confirmed:   true,
		}
		if f.onBar != nil {
			f.onBar(symbol, interval, bar)
		}
	}
}

func splitKlineTopic(topic string) (interval, symbol string) {
	const prefix = "kline."
	if len(topic) <= len(prefix) {
		return "", ""
	}
	rest := topic[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '.' {
			return rest[:i], rest[i+1:]
		}
	}
	return "", ""
}

func (f *KlineFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("kline feed not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

// Close gracefully closes the connection.
func (f *KlineFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}
