// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — bars and tickers,
// instrument specs, timeframes, strategy configuration, and order and
// signal records. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import "time"

// Side is the direction of an order or a signal's derived action.
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// OrderStatus is the lifecycle state of an OrderRecord.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusOpen      OrderStatus = "OPEN"
	StatusClosed    OrderStatus = "CLOSED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// CloseReason explains why a position was closed.
type CloseReason string

const (
	CloseTP      CloseReason = "TP"
	CloseSL      CloseReason = "SL"
	CloseManual  CloseReason = "MANUAL"
	CloseUnknown CloseReason = "UNKNOWN"
)

// Bar is an OHLCV candle. Only Confirmed bars participate in buffer updates.
type Bar struct {
	TimestampMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	Confirmed   bool
}

// Ticker is the latest trade/quote snapshot for a symbol.
type Ticker struct {
	Symbol       string
	LastPrice    float64
	HighPrice24h float64
	LowPrice24h  float64
	Volume24h    float64
}

// InstrumentSpec describes the exchange's tradable-unit rules for a
// (category, symbol) pair. FetchedAt is used to enforce the 300s TTL.
type InstrumentSpec struct {
	Category    string
	Symbol      string
	QtyStep     float64
	MinQty      float64
	TickSize    float64
	MinNotional float64
	FetchedAt   time.Time
}

// DefaultInstrumentSpec is the fallback used when getInstrumentsInfo
// fails (InstrumentSpecMissing recovery).
func DefaultInstrumentSpec(category, symbol string) InstrumentSpec {
	return InstrumentSpec{
		Category:    category,
		Symbol:      symbol,
		QtyStep:     1,
		MinQty:      1,
		TickSize:    1e-4,
		MinNotional: 5,
	}
}

// Position is a single open exchange position, as returned by getPosition.
type Position struct {
	Category   string
	Symbol     string
	Side       Side
	Size       float64
	EntryPrice float64
}

// WalletBalance is the subset of getWalletBalance's response the engine needs.
type WalletBalance struct {
	AccountType string
	TotalEquity float64
}

// HistoryOrder is one entry returned by getOrderHistory.
type HistoryOrder struct {
	OrderID     string
	Symbol      string
	Side        Side
	OrderStatus string // exchange-native status string, e.g. "Filled", "Cancelled"
	AvgPrice    float64
	Qty         float64
	UpdatedAt   time.Time
}

// PlaceOrderResult is returned by placeMarketOrder.
type PlaceOrderResult struct {
	OrderID string
}

// Timeframe is the parsed tagged union: source timeframe strings
// (seconds, bare-minute integers, D/W/M) are parsed once at config time
// into one of these five shapes instead of being re-parsed on every use.
type Timeframe struct {
	kind    timeframeKind
	seconds int // valid for kindSeconds and kindMinutes (already n*60 for minutes)
	raw     string
}

type timeframeKind int

const (
	kindSeconds timeframeKind = iota
	kindMinutes
	kindDay
	kindWeek
	kindMonth
)

// IsPolling reports whether this timeframe is served by REST polling
// (sub-minute, "Ns" frames) rather than a websocket subscription.
func (t Timeframe) IsPolling() bool {
	return t.kind == kindSeconds
}

// Seconds returns the timeframe's period in seconds. Day/Week/Month use
// the fixed approximations the source uses (86400/604800/2592000).
func (t Timeframe) Seconds() int {
	switch t.kind {
	case kindDay:
		return 86400
	case kindWeek:
		return 604800
	case kindMonth:
		return 2592000
	default:
		return t.seconds
	}
}

// String returns the wire-format representation understood by the
// exchange's kline interval parameter.
func (t Timeframe) String() string {
	return t.raw
}

// NewSecondsTimeframe builds a seconds-resolution (polling) timeframe, e.g. "5s".
func NewSecondsTimeframe(n int, raw string) Timeframe {
	return Timeframe{kind: kindSeconds, seconds: n, raw: raw}
}

// NewMinutesTimeframe builds a minutes-resolution (websocket) timeframe.
func NewMinutesTimeframe(n int, raw string) Timeframe {
	return Timeframe{kind: kindMinutes, seconds: n * 60, raw: raw}
}

// NewDayTimeframe, NewWeekTimeframe and NewMonthTimeframe build the
// calendar-unit tags.
func NewDayTimeframe() Timeframe   { return Timeframe{kind: kindDay, raw: "D"} }
func NewWeekTimeframe() Timeframe  { return Timeframe{kind: kindWeek, raw: "W"} }
func NewMonthTimeframe() Timeframe { return Timeframe{kind: kindMonth, raw: "M"} }

// SignalConfig is the per-signal configuration inside a StrategyConfig.
type SignalConfig struct {
	Name                 string
	Index                string
	Frame                Timeframe
	TickWindow           int
	IndexChangeThreshold float64
	Target               float64
	Direction            int // -1, 0, 1
	Reverse              int // 0 or 1
}

// StrategyConfig is one entry in the configured strategies map.
type StrategyConfig struct {
	Name                 string
	TradePairs           []string
	Leverage             int
	TickWindow           int
	PriceChangeThreshold float64
	StopTakePercent      float64
	PositionSize         float64
	Direction            int // -1, 0, 1
	Enabled              bool
	Signals              map[string]SignalConfig
	Category             string            // strategy-level default category
	PairCategory         map[string]string // optional per-symbol override
}

// IsSpot reports whether this strategy trades spot (leverage == 1).
func (s StrategyConfig) IsSpot() bool { return s.Leverage == 1 }

// MarketCategory returns the exchange market category ("spot" or "linear").
func (s StrategyConfig) MarketCategory() string {
	if s.IsSpot() {
		return "spot"
	}
	return "linear"
}

// CategoryFor resolves the per-symbol category hook: a per-symbol
// override if configured, else the strategy-level default, else
// MarketCategory. Kept as a first-class hook even though the source
// this was ported from never populates PairCategory.
func (s StrategyConfig) CategoryFor(symbol string) string {
	if s.PairCategory != nil {
		if c, ok := s.PairCategory[symbol]; ok && c != "" {
			return c
		}
	}
	if s.Category != "" {
		return s.Category
	}
	return s.MarketCategory()
}

// ShouldTakeSignal applies the strategy-level direction filter (gate E)
// to a derived action.
func (s StrategyConfig) ShouldTakeSignal(action Side) bool {
	switch s.Direction {
	case 1:
		return action == Buy
	case -1:
		return action == Sell
	default:
		return true
	}
}

// SubscriptionKey identifies one fan-out subscription: a distinct
// (symbol, timeframe, category) triple.
type SubscriptionKey struct {
	Symbol   string
	Frame    string // Timeframe.String(), used as the map key component
	Category string
}

// SourceType is how a subscription is served.
type SourceType string

const (
	SourceWebsocket SourceType = "websocket"
	SourcePolling   SourceType = "polling"
)

// SignalResult is what the strategy engine hands to the lifecycle
// coordinator when a signal's trigger fires.
type SignalResult struct {
	StrategyName string
	SignalName   string
	Action       Side
	IndexSymbol  string
	TargetPairs  []string
	TargetPrice  float64 // entry reference price = current lastPrice
	IndexChange  float64
	TargetChange float64
	SlippageOk   bool
	Timestamp    time.Time
}

// OrderRecord is the persisted record of one position attempt/lifecycle.
type OrderRecord struct {
	ID           int64
	StrategyName string
	Symbol       string
	OrderID      string
	Side         Side
	Quantity     float64
	EntryPrice   float64
	TakeProfit   float64
	StopLoss     float64
	Status       OrderStatus
	OpenedAt     time.Time
	ClosedAt     *time.Time
	ClosePrice   *float64
	PnL          *float64
	PnLPercent   *float64
	CloseReason  *CloseReason
	CreatedAt    time.Time
}

// SignalRecord is the persisted record of every signal handed to the
// lifecycle coordinator's open flow, whether or not a position opened.
type SignalRecord struct {
	ID           int64
	StrategyName string
	Action       Side
	IndexChange  float64
	TargetChange float64
	TargetPrice  float64
	Executed     bool
	CreatedAt    time.Time
}

// InferCloseReason derives TP/SL/MANUAL from the side the position was
// opened on: a Buy's take-profit sits above entry and its stop-loss
// below, so the comparison direction mirrors for Sell.
func InferCloseReason(order OrderRecord, closePrice float64) CloseReason {
	if order.Side == Buy {
		if closePrice >= order.TakeProfit {
			return CloseTP
		}
		if closePrice <= order.StopLoss {
			return CloseSL
		}
		return CloseManual
	}
	if closePrice <= order.TakeProfit {
		return CloseTP
	}
	if closePrice >= order.StopLoss {
		return CloseSL
	}
	return CloseManual
}

// DailyStats is one row of the daily_stats table.
type DailyStats struct {
	Date             string // YYYY-MM-DD
	TotalTrades      int
	ProfitableTrades int
	TotalPnL         float64
	WinRate          float64
	BestTrade        float64
	WorstTrade       float64
}
