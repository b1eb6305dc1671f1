package notify

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"

	"bybit-signal-engine/internal/config"
	"bybit-signal-engine/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestNotifier(t *testing.T, cfg config.TelegramConfig) (*Notifier, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	n := New(cfg, resty.New(), testLogger())
	n.apiBase = server.URL
	return n, &calls
}

func TestDisabledNotifierSendsNothing(t *testing.T) {
	t.Parallel()
	n, calls := newTestNotifier(t, config.TelegramConfig{Enabled: false})
	n.NotifyError(context.Background(), "boom")
	time.Sleep(10 * time.Millisecond)
	if atomic.LoadInt32(calls) != 0 {
		t.Error("disabled notifier should not call the API")
	}
}

func TestNotifyErrorRespectsFlag(t *testing.T) {
	t.Parallel()
	n, calls := newTestNotifier(t, config.TelegramConfig{
		Enabled: true, BotToken: "tok", ChatID: "123", NotifyErrors: true,
	})
	n.NotifyError(context.Background(), "boom")
	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("calls = %d, want 1", atomic.LoadInt32(calls))
	}
}

func TestNotifyErrorSkippedWhenFlagOff(t *testing.T) {
	t.Parallel()
	n, calls := newTestNotifier(t, config.TelegramConfig{
		Enabled: true, BotToken: "tok", ChatID: "123", NotifyErrors: false,
	})
	n.NotifyError(context.Background(), "boom")
	if atomic.LoadInt32(calls) != 0 {
		t.Error("NotifyError should be a no-op when notify_errors is false")
	}
}

func TestNotifySignalOpenedAndTradeClosed(t *testing.T) {
	t.Parallel()
	n, calls := newTestNotifier(t, config.TelegramConfig{
		Enabled: true, BotToken: "tok", ChatID: "123", NotifyTrades: true,
	})
	n.NotifySignalOpened(context.Background(), "strat-a", types.Buy, 100, 1, 105, 95)
	n.NotifyTradeClosed(context.Background(), "strat-a", 50, 5, types.CloseTP, 90*time.Second)
	if atomic.LoadInt32(calls) != 2 {
		t.Errorf("calls = %d, want 2", atomic.LoadInt32(calls))
	}
}
