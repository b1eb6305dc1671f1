// Package tradeerr names the error taxonomy the engine reasons about.
// Most of these are never propagated past the boundary that produces
// them — they are logged and converted to a safe zero value — but
// naming them as sentinel values lets components that do need to
// distinguish cases check with errors.Is instead of matching strings.
package tradeerr

import "errors"

var (
	// ErrConfig signals a missing file, invalid field, or missing
	// credential. Fatal at startup; never recovered.
	ErrConfig = errors.New("config error")

	// ErrTransport wraps any failed exchange call (network, HTTP,
	// retCode != 0). Recovered locally: the caller logs it, increments
	// the error counter, and returns an empty/zero result.
	ErrTransport = errors.New("transport error")

	// ErrInstrumentSpecMissing means getInstrumentsInfo returned
	// nothing. Recovered by falling back to types.DefaultInstrumentSpec.
	ErrInstrumentSpecMissing = errors.New("instrument spec missing")

	// ErrPrecondition means the lifecycle coordinator refused to open a
	// position (streak cap, existing position, zero balance, undersized
	// notional, normalization failure). The SignalRecord stays
	// executed=false; this is not a user-visible error.
	ErrPrecondition = errors.New("precondition refused")

	// ErrReconciliationUnknown means a close was detected but no
	// matching order-history record exists; close-reason becomes
	// UNKNOWN and P&L is computed from last known prices.
	ErrReconciliationUnknown = errors.New("reconciliation unknown")
)

// Transport wraps err as an ErrTransport, preserving it for errors.Is/As.
func Transport(op string, err error) error {
	return &wrapped{op: op, sentinel: ErrTransport, cause: err}
}

// Precondition builds an ErrPrecondition carrying a human-readable reason.
func Precondition(reason string) error {
	return &wrapped{op: reason, sentinel: ErrPrecondition}
}

// ReconciliationUnknown builds an ErrReconciliationUnknown naming the
// order that could not be matched against order history.
func ReconciliationUnknown(orderID string) error {
	return &wrapped{op: "no order history match for " + orderID, sentinel: ErrReconciliationUnknown}
}

type wrapped struct {
	op       string
	sentinel error
	cause    error
}

func (w *wrapped) Error() string {
	if w.cause != nil {
		return w.op + ": " + w.cause.Error()
	}
	return w.op
}

func (w *wrapped) Unwrap() []error {
	if w.cause != nil {
		return []error{w.sentinel, w.cause}
	}
	return []error{w.sentinel}
}
