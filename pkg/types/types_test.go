package types

import "testing"

func TestTimeframeIsPollingOnlyForSeconds(t *testing.T) {
	t.Parallel()
	if !NewSecondsTimeframe(5, "5s").IsPolling() {
		t.Error("seconds timeframe should be polling")
	}
	if NewMinutesTimeframe(5, "5").IsPolling() {
		t.Error("minutes timeframe should not be polling")
	}
	if NewDayTimeframe().IsPolling() {
		t.Error("day timeframe should not be polling")
	}
}

func TestTimeframeSeconds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		tf   Timeframe
		want int
	}{
		{NewSecondsTimeframe(5, "5s"), 5},
		{NewMinutesTimeframe(15, "15"), 900},
		{NewDayTimeframe(), 86400},
		{NewWeekTimeframe(), 604800},
		{NewMonthTimeframe(), 2592000},
	}
	for _, tt := range tests {
		if got := tt.tf.Seconds(); got != tt.want {
			t.Errorf("Seconds() = %d, want %d", got, tt.want)
		}
	}
}

func TestTimeframeStringReturnsRawWireForm(t *testing.T) {
	t.Parallel()
	if NewMinutesTimeframe(60, "60").String() != "60" {
		t.Error("expected raw wire form '60'")
	}
	if NewDayTimeframe().String() != "D" {
		t.Error("expected raw wire form 'D'")
	}
}

func TestStrategyConfigIsSpotAndMarketCategory(t *testing.T) {
	t.Parallel()
	spot := StrategyConfig{Leverage: 1}
	if !spot.IsSpot() {
		t.Error("leverage=1 should be spot")
	}
	if spot.MarketCategory() != "spot" {
		t.Errorf("MarketCategory() = %q, want spot", spot.MarketCategory())
	}

	futures := StrategyConfig{Leverage: 5}
	if futures.IsSpot() {
		t.Error("leverage=5 should not be spot")
	}
	if futures.MarketCategory() != "linear" {
		t.Errorf("MarketCategory() = %q, want linear", futures.MarketCategory())
	}
}

func TestStrategyConfigCategoryForPrefersPerSymbolOverride(t *testing.T) {
	t.Parallel()
	cfg := StrategyConfig{
		Leverage:     5,
		Category:     "linear",
		PairCategory: map[string]string{"BTCUSDT": "spot"},
	}
	if got := cfg.CategoryFor("BTCUSDT"); got != "spot" {
		t.Errorf("CategoryFor(BTCUSDT) = %q, want spot (per-symbol override)", got)
	}
	if got := cfg.CategoryFor("ETHUSDT"); got != "linear" {
		t.Errorf("CategoryFor(ETHUSDT) = %q, want linear (strategy default)", got)
	}
}

func TestStrategyConfigCategoryForFallsBackToMarketCategory(t *testing.T) {
	t.Parallel()
	cfg := StrategyConfig{Leverage: 1}
	if got := cfg.CategoryFor("BTCUSDT"); got != "spot" {
		t.Errorf("CategoryFor = %q, want spot (from MarketCategory fallback)", got)
	}
}

func TestStrategyConfigShouldTakeSignal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		direction int
		action    Side
		want      bool
	}{
		{1, Buy, true}, {1, Sell, false},
		{-1, Sell, true}, {-1, Buy, false},
		{0, Buy, true}, {0, Sell, true},
	}
	for _, tt := range tests {
		cfg := StrategyConfig{Direction: tt.direction}
		if got := cfg.ShouldTakeSignal(tt.action); got != tt.want {
			t.Errorf("direction=%d action=%v: got %v, want %v", tt.direction, tt.action, got, tt.want)
		}
	}
}

func TestInferCloseReasonBuySide(t *testing.T) {
	t.Parallel()
	order := OrderRecord{Side: Buy, TakeProfit: 110, StopLoss: 90}
	if got := InferCloseReason(order, 111); got != CloseTP {
		t.Errorf("close at 111 (above TP) = %v, want TP", got)
	}
	if got := InferCloseReason(order, 89); got != CloseSL {
		t.Errorf("close at 89 (below SL) = %v, want SL", got)
	}
	if got := InferCloseReason(order, 100); got != CloseManual {
		t.Errorf("close at 100 (between) = %v, want MANUAL", got)
	}
}

func TestInferCloseReasonSellSideIsMirrored(t *testing.T) {
	t.Parallel()
	// Short: TP sits below entry, SL sits above.
	order := OrderRecord{Side: Sell, TakeProfit: 90, StopLoss: 110}
	if got := InferCloseReason(order, 89); got != CloseTP {
		t.Errorf("close at 89 (below TP) = %v, want TP", got)
	}
	if got := InferCloseReason(order, 111); got != CloseSL {
		t.Errorf("close at 111 (above SL) = %v, want SL", got)
	}
	if got := InferCloseReason(order, 100); got != CloseManual {
		t.Errorf("close at 100 (between) = %v, want MANUAL", got)
	}
}

func TestDefaultInstrumentSpec(t *testing.T) {
	t.Parallel()
	spec := DefaultInstrumentSpec("linear", "BTCUSDT")
	if spec.QtyStep != 1 || spec.MinQty != 1 || spec.TickSize != 1e-4 || spec.MinNotional != 5 {
		t.Errorf("unexpected default spec: %+v", spec)
	}
}
