// Command bot is the entry point for the Bybit multi-signal trading
// engine.
//
// Architecture:
//
//	cmd/bot/main.go              — entry point: cobra CLI, logging setup, signal handling
//	internal/engine/engine.go    — orchestrator: wires fan-out → strategy engines → lifecycle → tracker
//	internal/strategyengine      — per-strategy signal evaluation on confirmed bars
//	internal/lifecycle           — turns triggered signals into orders, watches positions for closes
//	internal/ordertracker        — independently watches placed orders for terminal exchange status
//	internal/fanout              — market-data acquisition (WS klines + REST polling), deduped fan-out
//	internal/exchange            — REST + WebSocket client for the exchange's derivatives/spot API
//	internal/durablestore        — SQLite persistence for orders, signals, daily statistics
//	internal/notify              — Telegram notifications (position opens/closes, errors, daily report)
//	internal/stats               — daily/weekly/monthly statistics digest
//	internal/telemetry           — Prometheus metrics, served on /metrics
//
// Subcommands:
//
//	run              — start the engine and block until SIGINT/SIGTERM
//	report           — print the comprehensive statistics report and exit
//	validate-config  — load and validate the configuration file, then exit
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"bybit-signal-engine/internal/config"
	"bybit-signal-engine/internal/durablestore"
	"bybit-signal-engine/internal/engine"
	"bybit-signal-engine/internal/notify"
	"bybit-signal-engine/internal/stats"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath     string
		errLogPath  string
		metricsAddr string
	)

	root := &cobra.Command{
		Use:           "bot",
		Short:         "Automated multi-signal trading engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "path to the JSON configuration file")
	root.PersistentFlags().StringVar(&errLogPath, "error-log", "bot-error.log", "path to the error-only log file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine and block until a shutdown signal is received",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cfgPath, errLogPath, metricsAddr)
		},
	}
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve Prometheus metrics on (empty disables)")

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Print the comprehensive trading statistics report and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printReport(cfgPath, errLogPath)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration file, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cfgPath)
		},
	}

	root.AddCommand(runCmd, reportCmd, validateCmd)
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv("BYBIT_CONFIG"); p != "" {
		return p
	}
	return "configs/config.json"
}

func loadConfig(cfgPath string) (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func validateConfig(cfgPath string) error {
	if _, err := loadConfig(cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	fmt.Printf("%s is valid\n", cfgPath)
	return nil
}

func runEngine(cfgPath, errLogPath, metricsAddr string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	logger, closeErrLog, err := newLogger(cfg.Global.LoggingLevel, errLogPath)
	if err != nil {
		return fmt.Errorf("open error log: %w", err)
	}
	defer closeErrLog()

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		return err
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		logger.Info("metrics server started", "addr", metricsAddr)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		return err
	}

	if cfg.API.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("trading engine started", "strategies", len(cfg.Strategies), "testnet", cfg.API.Testnet, "dry_run", cfg.API.DryRun)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
	return nil
}

func printReport(cfgPath, errLogPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	logger, closeErrLog, err := newLogger(cfg.Global.LoggingLevel, errLogPath)
	if err != nil {
		return fmt.Errorf("open error log: %w", err)
	}
	defer closeErrLog()

	db, err := durablestore.Open(cfg.Global.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	monitor := stats.New(db, (*notify.Notifier)(nil), "", logger)
	report, err := monitor.GetComprehensiveReport()
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}

	fmt.Println(stats.FormatReport(report))
	return nil
}

// newLogger builds the primary stdout slog.Logger along with a second
// handle that mirrors Error-level records to errLogPath, per the
// rotating-file-plus-error-file split the source's logger.py performs.
// Rotation by size is out of scope: no dependency in the corpus
// provides it.
func newLogger(level, errLogPath string) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	stdoutHandler := slog.NewJSONHandler(os.Stdout, opts)

	f, err := os.OpenFile(errLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	errHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelError})

	logger := slog.New(&teeHandler{primary: stdoutHandler, errOnly: errHandler})
	return logger, func() { _ = f.Close() }, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// teeHandler writes every record to primary, and additionally to
// errOnly when the record is at or above slog.LevelError.
type teeHandler struct {
	primary slog.Handler
	errOnly slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || level >= slog.LevelError
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.primary.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level >= slog.LevelError {
		return h.errOnly.Handle(ctx, r.Clone())
	}
	return nil
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{primary: h.primary.WithAttrs(attrs), errOnly: h.errOnly.WithAttrs(attrs)}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{primary: h.primary.WithGroup(name), errOnly: h.errOnly.WithGroup(name)}
}
