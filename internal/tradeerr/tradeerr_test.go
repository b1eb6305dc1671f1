package tradeerr

import (
	"errors"
	"testing"
)

func TestTransportWrapsErrTransport(t *testing.T) {
	t.Parallel()
	cause := errors.New("dial tcp: timeout")
	err := Transport("get-klines", cause)
	if !errors.Is(err, ErrTransport) {
		t.Error("Transport result should satisfy errors.Is(ErrTransport)")
	}
	if !errors.Is(err, cause) {
		t.Error("Transport result should preserve the wrapped cause")
	}
}

func TestPreconditionSatisfiesSentinel(t *testing.T) {
	t.Parallel()
	err := Precondition("stop-loss streak limit reached")
	if !errors.Is(err, ErrPrecondition) {
		t.Error("Precondition result should satisfy errors.Is(ErrPrecondition)")
	}
}

func TestReconciliationUnknownNamesOrderID(t *testing.T) {
	t.Parallel()
	err := ReconciliationUnknown("ord-123")
	if !errors.Is(err, ErrReconciliationUnknown) {
		t.Error("ReconciliationUnknown result should satisfy errors.Is(ErrReconciliationUnknown)")
	}
	if got := err.Error(); got == "" {
		t.Error("Error() should not be empty")
	}
}
