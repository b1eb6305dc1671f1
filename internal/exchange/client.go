// Package exchange implements the Bybit-v5-style REST and WebSocket
// client: klines, tickers, leverage, order placement, positions, order
// history, wallet balance, and instrument specs (spec §4.1), plus the
// kline websocket feed (spec §4.2).
//
// Every request is serialized onto a bounded worker pool (size 10, spec
// §5), private endpoints are authenticated with HMAC headers (public
// market-data endpoints are sent unsigned), and nothing raises to the caller:
// failures are logged, the error counter is incremented, and a safe
// zero value (empty slice / nil / false) is returned instead.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"bybit-signal-engine/internal/config"
	"bybit-signal-engine/pkg/types"
)

// Client is the Bybit-v5-style REST API client.
type Client struct {
	http   *resty.Client
	auth   *Auth
	pool   *WorkerPool
	dryRun bool
	logger *slog.Logger

	requestCount atomic.Int64
	errorCount   atomic.Int64

	specMu    sync.Mutex
	specCache map[string]types.InstrumentSpec // key: category+"|"+symbol
}

const instrumentSpecTTL = 300 * time.Second

// NewClient creates a REST client with retry and a bounded worker pool.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:      httpClient,
		auth:      auth,
		pool:      NewWorkerPool(10),
		dryRun:    cfg.API.DryRun,
		logger:    logger.With("component", "exchange"),
		specCache: make(map[string]types.InstrumentSpec),
	}
}

// Stats returns the diagnostic request/error counters (§D.5).
func (c *Client) Stats() (requestCount, errorCount int64) {
	return c.requestCount.Load(), c.errorCount.Load()
}

// HTTPClient returns the shared resty client, so sibling packages
// (notify) can issue their own requests without standing up a second
// HTTP client.
func (c *Client) HTTPClient() *resty.Client {
	return c.http
}

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// successRetCode returns whether retCode indicates success for a given
// endpoint. 110043 ("leverage not modified") is treated as success only
// on the set-leverage endpoint, per spec §6.
func successRetCode(retCode int, endpoint string) bool {
	if retCode == 0 {
		return true
	}
	if endpoint == "set-leverage" && retCode == 110043 {
		return true
	}
	return false
}

// do runs one signed HTTP round trip through the worker pool, counting
// requests/errors and never returning an error the caller must branch
// on beyond a boolean success flag (spec §7's TransportError recovery).
func (c *Client) do(ctx context.Context, endpoint string, fn func() (*bybitEnvelope, error)) (*bybitEnvelope, bool) {
	var env *bybitEnvelope
	err := c.pool.Do(ctx, func() error {
		c.requestCount.Add(1)
		e, callErr := fn()
		if callErr != nil {
			return callErr
		}
		env = e
		return nil
	})
	if err != nil {
		c.errorCount.Add(1)
		c.logger.Error("transport error", "endpoint", endpoint, "error", err)
		return nil, false
	}
	if !successRetCode(env.RetCode, endpoint) {
		c.errorCount.Add(1)
		c.logger.Error("exchange rejected request", "endpoint", endpoint, "retCode", env.RetCode, "retMsg", env.RetMsg)
		return nil, false
	}
	return env, true
}

// GetKlines returns bars oldest-first. On any failure it returns an
// empty slice and logs the error; it never raises to the caller.
func (c *Client) GetKlines(ctx context.Context, category, symbol string, frame types.Timeframe, limit int) []types.Bar {
	env, ok := c.do(ctx, "get-klines", func() (*bybitEnvelope, error) {
		var env bybitEnvelope
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"category": category,
				"symbol":   symbol,
				"interval": frame.String(),
				"limit":    fmt.Sprintf("%d", limit),
			}).
			SetResult(&env).
			Get("/v5/market/kline")
		if err != nil {
			return nil, fmt.Errorf("get klines: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("get klines: status %d", resp.StatusCode())
		}
		return &env, nil
	})
	if !ok {
		return nil
	}

	var result struct {
		List [][]string `json:"list"` // [start, open, high, low, close, volume, turnover], newest first
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		c.logger.Error("decode klines", "error", err)
		return nil
	}

	bars := make([]types.Bar, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		bars = append(bars, types.Bar{
			TimestampMs: parseInt64(row[0]),
			Open:        parseFloat(row[1]),
			High:        parseFloat(row[2]),
			Low:         parseFloat(row[3]),
			Close:       parseFloat(row[4]),
			Volume:      parseFloat(row[5]),
			Confirmed:   true,
		})
	}
	return bars
}

// GetTicker returns the latest ticker fields, or nil on failure.
func (c *Client) GetTicker(ctx context.Context, category, symbol string) *types.Ticker {
	env, ok := c.do(ctx, "get-ticker", func() (*bybitEnvelope, error) {
		var env bybitEnvelope
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{"category": category, "symbol": symbol}).
			SetResult(&env).
			Get("/v5/market/tickers")
		if err != nil {
			return nil, fmt.Errorf("get ticker: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("get ticker: status %d", resp.StatusCode())
		}
		return &env, nil
	})
	if !ok {
		return nil
	}

	var result struct {
		List []struct {
			Symbol       string `json:"symbol"`
			LastPrice    string `json:"lastPrice"`
			HighPrice24h string `json:"highPrice24h"`
			LowPrice24h  string `json:"lowPrice24h"`
			Volume24h    string `json:"volume24h"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil || len(result.List) == 0 {
		c.logger.Error("decode ticker", "error", err)
		return nil
	}
	t := result.List[0]
	return &types.Ticker{
		Symbol:       t.Symbol,
		LastPrice:    parseFloat(t.LastPrice),
		HighPrice24h: parseFloat(t.HighPrice24h),
		LowPrice24h:  parseFloat(t.LowPrice24h),
		Volume24h:    parseFloat(t.Volume24h),
	}
}

// SetLeverage is idempotent: a retCode of 110043 ("leverage not
// modified") is treated as success.
func (c *Client) SetLeverage(ctx context.Context, category, symbol string, leverage int) bool {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would set leverage", "symbol", symbol, "leverage", leverage)
		return true
	}
	body := map[string]string{
		"category":     category,
		"symbol":       symbol,
		"buyLeverage":  fmt.Sprintf("%d", leverage),
		"sellLeverage": fmt.Sprintf("%d", leverage),
	}
	payload, _ := json.Marshal(body)
	_, ok := c.do(ctx, "set-leverage", func() (*bybitEnvelope, error) {
		var env bybitEnvelope
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeaders(c.auth.Headers(string(payload))).
			SetBody(payload).
			SetResult(&env).
			Post("/v5/position/set-leverage")
		if err != nil {
			return nil, fmt.Errorf("set leverage: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("set leverage: status %d", resp.StatusCode())
		}
		return &env, nil
	})
	return ok
}

// PlaceMarketOrder places a market order with attached TP/SL. qty, tp,
// sl must already be normalized strings (internal/normalize).
func (c *Client) PlaceMarketOrder(ctx context.Context, category, symbol string, side types.Side, qty, tp, sl string, positionIdx int) *types.PlaceOrderResult {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order", "symbol", symbol, "side", side, "qty", qty, "tp", tp, "sl", sl)
		return &types.PlaceOrderResult{OrderID: "dry-run"}
	}
	body := map[string]string{
		"category":    category,
		"symbol":      symbol,
		"side":        string(side),
		"orderType":   "Market",
		"qty":         qty,
		"takeProfit":  tp,
		"stopLoss":    sl,
		"positionIdx": fmt.Sprintf("%d", positionIdx),
		// orderLinkId is a client-generated idempotency key: if a
		// request times out and is retried, the exchange rejects the
		// duplicate instead of opening a second position.
		"orderLinkId": uuid.NewString(),
	}
	payload, _ := json.Marshal(body)
	env, ok := c.do(ctx, "place-order", func() (*bybitEnvelope, error) {
		var env bybitEnvelope
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeaders(c.auth.Headers(string(payload))).
			SetBody(payload).
			SetResult(&env).
			Post("/v5/order/create")
		if err != nil {
			return nil, fmt.Errorf("place order: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("place order: status %d", resp.StatusCode())
		}
		return &env, nil
	})
	if !ok {
		return nil
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil || result.OrderID == "" {
		c.logger.Error("decode place order result", "error", err)
		return nil
	}
	return &types.PlaceOrderResult{OrderID: result.OrderID}
}

// GetPosition returns the first non-zero-size position entry, or nil.
func (c *Client) GetPosition(ctx context.Context, category, symbol string) *types.Position {
	params := map[string]string{"category": category, "symbol": symbol}
	env, ok := c.do(ctx, "get-position", func() (*bybitEnvelope, error) {
		var env bybitEnvelope
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetHeaders(c.auth.Headers(queryString(params))).
			SetResult(&env).
			Get("/v5/position/list")
		if err != nil {
			return nil, fmt.Errorf("get position: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("get position: status %d", resp.StatusCode())
		}
		return &env, nil
	})
	if !ok {
		return nil
	}

	var result struct {
		List []struct {
			Symbol     string `json:"symbol"`
			Side       string `json:"side"`
			Size       string `json:"size"`
			EntryPrice string `json:"avgPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		c.logger.Error("decode position", "error", err)
		return nil
	}
	for _, p := range result.List {
		size := parseFloat(p.Size)
		if size == 0 {
			continue
		}
		return &types.Position{
			Category:   category,
			Symbol:     p.Symbol,
			Side:       types.Side(p.Side),
			Size:       size,
			EntryPrice: parseFloat(p.EntryPrice),
		}
	}
	return nil
}

// GetOrderHistory returns up to limit historical order records.
func (c *Client) GetOrderHistory(ctx context.Context, category, symbol string, limit int) []types.HistoryOrder {
	params := map[string]string{"category": category, "limit": fmt.Sprintf("%d", limit)}
	if symbol != "" {
		params["symbol"] = symbol
	}
	env, ok := c.do(ctx, "get-order-history", func() (*bybitEnvelope, error) {
		var env bybitEnvelope
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetHeaders(c.auth.Headers(queryString(params))).
			SetResult(&env).
			Get("/v5/order/history")
		if err != nil {
			return nil, fmt.Errorf("get order history: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("get order history: status %d", resp.StatusCode())
		}
		return &env, nil
	})
	if !ok {
		return nil
	}

	var result struct {
		List []struct {
			OrderID     string `json:"orderId"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			OrderStatus string `json:"orderStatus"`
			AvgPrice    string `json:"avgPrice"`
			Qty         string `json:"qty"`
			UpdatedTime string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		c.logger.Error("decode order history", "error", err)
		return nil
	}
	out := make([]types.HistoryOrder, 0, len(result.List))
	for _, o := range result.List {
		out = append(out, types.HistoryOrder{
			OrderID:     o.OrderID,
			Symbol:      o.Symbol,
			Side:        types.Side(o.Side),
			OrderStatus: o.OrderStatus,
			AvgPrice:    parseFloat(o.AvgPrice),
			Qty:         parseFloat(o.Qty),
			UpdatedAt:   time.UnixMilli(parseInt64(o.UpdatedTime)),
		})
	}
	return out
}

// GetWalletBalance returns total equity for the given account type.
func (c *Client) GetWalletBalance(ctx context.Context, accountType string) *types.WalletBalance {
	if accountType == "" {
		accountType = "UNIFIED"
	}
	params := map[string]string{"accountType": accountType}
	env, ok := c.do(ctx, "get-wallet-balance", func() (*bybitEnvelope, error) {
		var env bybitEnvelope
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetHeaders(c.auth.Headers(queryString(params))).
			SetResult(&env).
			Get("/v5/account/wallet-balance")
		if err != nil {
			return nil, fmt.Errorf("get wallet balance: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("get wallet balance: status %d", resp.StatusCode())
		}
		return &env, nil
	})
	if !ok {
		return nil
	}

	var result struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil || len(result.List) == 0 {
		c.logger.Error("decode wallet balance", "error", err)
		return nil
	}
	return &types.WalletBalance{
		AccountType: accountType,
		TotalEquity: parseFloat(result.List[0].TotalEquity),
	}
}

// GetInstrumentsInfo returns the instrument spec for (category, symbol),
// cached for instrumentSpecTTL. On a cache miss that also fails to fetch,
// it returns nil — callers fall back to types.DefaultInstrumentSpec.
func (c *Client) GetInstrumentsInfo(ctx context.Context, category, symbol string) *types.InstrumentSpec {
	key := category + "|" + symbol

	c.specMu.Lock()
	if cached, ok := c.specCache[key]; ok && time.Since(cached.FetchedAt) < instrumentSpecTTL {
		c.specMu.Unlock()
		return &cached
	}
	c.specMu.Unlock()

	params := map[string]string{"category": category, "symbol": symbol}
	env, ok := c.do(ctx, "get-instruments-info", func() (*bybitEnvelope, error) {
		var env bybitEnvelope
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&env).
			Get("/v5/market/instruments-info")
		if err != nil {
			return nil, fmt.Errorf("get instruments info: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("get instruments info: status %d", resp.StatusCode())
		}
		return &env, nil
	})
	if !ok {
		return nil
	}

	var result struct {
		List []struct {
			LotSizeFilter struct {
				QtyStep string `json:"qtyStep"`
				MinQty  string `json:"minOrderQty"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			MinNotionalValue string `json:"minNotionalValue"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil || len(result.List) == 0 {
		c.logger.Error("decode instruments info", "error", err)
		return nil
	}
	info := result.List[0]
	minNotional := parseFloat(info.MinNotionalValue)
	if minNotional == 0 {
		minNotional = 5
	}
	spec := types.InstrumentSpec{
		Category:    category,
		Symbol:      symbol,
		QtyStep:     parseFloat(info.LotSizeFilter.QtyStep),
		MinQty:      parseFloat(info.LotSizeFilter.MinQty),
		TickSize:    parseFloat(info.PriceFilter.TickSize),
		MinNotional: minNotional,
		FetchedAt:   time.Now(),
	}

	c.specMu.Lock()
	c.specCache[key] = spec
	c.specMu.Unlock()

	return &spec
}

func queryString(params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return values.Encode()
}

func parseFloat(s string) float64 {
	var f float64
	_, _ = fmt.Sscanf(s, "%f", &f)
	return f
}

func parseInt64(s string) int64 {
	var n int64
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}
