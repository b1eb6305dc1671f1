package exchange

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"bybit-signal-engine/internal/config"
)

func newDryRunClient() *Client {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := config.Config{API: config.APIConfig{BaseURL: "http://localhost", DryRun: true}}
	return NewClient(cfg, NewAuth("k", "s"), logger)
}

func TestDryRunSetLeverageReturnsTrueWithoutHTTP(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()
	if !c.SetLeverage(context.Background(), "linear", "BTCUSDT", 5) {
		t.Error("SetLeverage in dry-run should return true")
	}
}

func TestDryRunPlaceMarketOrderReturnsSyntheticID(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()
	result := c.PlaceMarketOrder(context.Background(), "linear", "BTCUSDT", "Buy", "1", "60000", "59000", 0)
	if result == nil || result.OrderID == "" {
		t.Fatal("expected a synthetic dry-run order ID")
	}
}

func TestSuccessRetCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		retCode  int
		endpoint string
		want     bool
	}{
		{"zero is always success", 0, "get-klines", true},
		{"110043 is success on set-leverage", 110043, "set-leverage", true},
		{"110043 is not success elsewhere", 110043, "place-order", false},
		{"other nonzero is failure", 10001, "set-leverage", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := successRetCode(tt.retCode, tt.endpoint); got != tt.want {
				t.Errorf("successRetCode(%d, %q) = %v, want %v", tt.retCode, tt.endpoint, got, tt.want)
			}
		})
	}
}

func TestParseFloatAndInt64(t *testing.T) {
	t.Parallel()
	if got := parseFloat("1.2345"); got != 1.2345 {
		t.Errorf("parseFloat = %v, want 1.2345", got)
	}
	if got := parseInt64("1700000000000"); got != 1700000000000 {
		t.Errorf("parseInt64 = %v, want 1700000000000", got)
	}
}
