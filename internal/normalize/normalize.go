// Package normalize implements the pure instrument-rounding functions
// the exchange client and lifecycle coordinator share: step/tick
// rounding and order-quantity derivation from a USDT notional. All
// arithmetic goes through shopspring/decimal so repeated step division
// doesn't accumulate float64 rounding error into the qty/TP/SL the
// exchange ultimately receives.
package normalize

import (
	"fmt"

	"github.com/shopspring/decimal"

	"bybit-signal-engine/pkg/types"
)

// FloorToStep returns the largest multiple of step that is <= v.
// step == 0 returns v unchanged (some instruments report no step).
func FloorToStep(v, step float64) float64 {
	if step == 0 {
		return v
	}
	dv := decimal.NewFromFloat(v)
	ds := decimal.NewFromFloat(step)
	quotient := dv.Div(ds).Floor()
	f, _ := quotient.Mul(ds).Float64()
	return f
}

// CeilToStep returns the smallest multiple of step that is >= v.
// step == 0 returns v unchanged.
func CeilToStep(v, step float64) float64 {
	if step == 0 {
		return v
	}
	dv := decimal.NewFromFloat(v)
	ds := decimal.NewFromFloat(step)
	quotient := dv.Div(ds).Ceil()
	f, _ := quotient.Mul(ds).Float64()
	return f
}

// DecimalPlaces returns the number of significant fractional digits
// needed to render step exactly, with a floor of 0.
func DecimalPlaces(step float64) int {
	if step <= 0 {
		return 0
	}
	d := decimal.NewFromFloat(step)
	places := -d.Exponent()
	if places < 0 {
		return 0
	}
	return int(places)
}

// NormalizedOrder is the side-aware-rounded result of NormalizeOrder,
// rendered as strings at the instrument's native precision, ready to
// send to placeMarketOrder.
type NormalizedOrder struct {
	Qty string
	TP  string
	SL  string
}

// NormalizeOrder implements spec §4.1's normalizeOrder: derive an
// order quantity from a USDT notional and round TP/SL to the
// instrument's tick size, side-aware so the rounding never widens the
// favourable bracket and never contracts the stop-loss toward entry.
func NormalizeOrder(side types.Side, lastPrice, notionalUSDT, tp, sl float64, spec types.InstrumentSpec) (NormalizedOrder, error) {
	if lastPrice <= 0 {
		lastPrice = 1e-12
	}
	rawQty := notionalUSDT / lastPrice

	qty := FloorToStep(rawQty, spec.QtyStep)
	if qty < spec.MinQty {
		qty = spec.MinQty
	}
	if qty*lastPrice < spec.MinNotional {
		qty = CeilToStep(spec.MinNotional/lastPrice, spec.QtyStep)
	}
	if qty <= 0 {
		return NormalizedOrder{}, fmt.Errorf("normalize order: resulting quantity is non-positive")
	}

	var roundedTP, roundedSL float64
	switch side {
	case types.Buy:
		roundedTP = FloorToStep(tp, spec.TickSize)
		roundedSL = CeilToStep(sl, spec.TickSize)
	case types.Sell:
		roundedTP = CeilToStep(tp, spec.TickSize)
		roundedSL = FloorToStep(sl, spec.TickSize)
	default:
		return NormalizedOrder{}, fmt.Errorf("normalize order: unknown side %q", side)
	}

	qtyPlaces := DecimalPlaces(spec.QtyStep)
	tickPlaces := DecimalPlaces(spec.TickSize)

	return NormalizedOrder{
		Qty: decimal.NewFromFloat(qty).Truncate(int32(qtyPlaces)).StringFixed(int32(qtyPlaces)),
		TP:  decimal.NewFromFloat(roundedTP).Truncate(int32(tickPlaces)).StringFixed(int32(tickPlaces)),
		SL:  decimal.NewFromFloat(roundedSL).Truncate(int32(tickPlaces)).StringFixed(int32(tickPlaces)),
	}, nil
}
