// Package config defines all configuration for the trading engine.
// Config is loaded from a JSON file (default: configs/config.json) with
// sensitive fields overridable via BYBIT_* and TELEGRAM_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"bybit-signal-engine/pkg/types"
)

// Config is the top-level configuration. Maps directly to the JSON file structure.
type Config struct {
	API        APIConfig                 `mapstructure:"api"`
	Global     GlobalConfig              `mapstructure:"global"`
	Strategies map[string]StrategyConfig `mapstructure:"strategies"`
	Telegram   TelegramConfig            `mapstructure:"telegram"`

	// Pairs is the legacy single-pair format; accepted for backward
	// compatibility and converted to StrategyConfig entries by
	// PairConfigToStrategyConfig. Capped at 13 entries.
	Pairs []PairConfig `mapstructure:"pairs"`
}

// APIConfig holds exchange credentials and environment selection.
// DryRun is an operational-safety addition beyond spec §6's schema:
// when set, PlaceMarketOrder logs the intended call instead of
// sending it.
type APIConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	Testnet   bool   `mapstructure:"testnet"`
	DemoMode  bool   `mapstructure:"demo_mode"`
	DryRun    bool   `mapstructure:"dry_run"`
	BaseURL   string `mapstructure:"base_url"`
	WSBaseURL string `mapstructure:"ws_base_url"`
}

// GlobalConfig holds cross-cutting engine settings.
type GlobalConfig struct {
	MaxStopLossTrades int    `mapstructure:"max_stop_loss_trades"`
	DatabasePath      string `mapstructure:"database_path"`
	LoggingLevel      string `mapstructure:"logging_level"`
}

// SignalConfig is the raw JSON shape of one signal entry; ParsedSignals
// converts it to types.SignalConfig (with its Frame parsed into a
// types.Timeframe) once at load time.
type SignalConfig struct {
	Index                string  `mapstructure:"index"`
	Frame                string  `mapstructure:"frame"`
	TickWindow           int     `mapstructure:"tick_window"`
	IndexChangeThreshold float64 `mapstructure:"index_change_threshold"`
	Target               float64 `mapstructure:"target"`
	Direction            int     `mapstructure:"direction"`
	Reverse              int     `mapstructure:"reverse"`
}

// StrategyConfig is the raw JSON shape of one strategies-map entry.
type StrategyConfig struct {
	TradePairs           []string                `mapstructure:"trade_pairs"`
	Leverage             int                     `mapstructure:"leverage"`
	TickWindow           int                     `mapstructure:"tick_window"`
	PriceChangeThreshold float64                 `mapstructure:"price_change_threshold"`
	StopTakePercent      float64                 `mapstructure:"stop_take_percent"`
	PositionSize         float64                 `mapstructure:"position_size"`
	Direction            int                     `mapstructure:"direction"`
	Enabled              bool                    `mapstructure:"enabled"`
	Signals              map[string]SignalConfig `mapstructure:"signals"`
}

// PairConfig is the legacy single-correlation strategy shape (§D.3):
// exactly one signal, one trade pair.
type PairConfig struct {
	Name                   string  `mapstructure:"name"`
	DominantPair           string  `mapstructure:"dominant_pair"`
	TargetPair             string  `mapstructure:"target_pair"`
	TickWindow             int     `mapstructure:"tick_window"`
	Timeframe              string  `mapstructure:"timeframe"`
	DominantThreshold      float64 `mapstructure:"dominant_threshold"`
	TargetMaxThreshold     float64 `mapstructure:"target_max_threshold"`
	Direction              int     `mapstructure:"direction"`
	Reverse                int     `mapstructure:"reverse"`
	PriceChangeThreshold   float64 `mapstructure:"price_change_threshold"`
	PositionSizePercent    float64 `mapstructure:"position_size_percent"`
	Leverage               int     `mapstructure:"leverage"`
	TakeProfitPercent      float64 `mapstructure:"take_profit_percent"`
	StopLossPercent        float64 `mapstructure:"stop_loss_percent"`
	Enabled                bool    `mapstructure:"enabled"`
}

// TelegramConfig controls notification delivery.
type TelegramConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	BotToken         string `mapstructure:"bot_token"`
	ChatID           string `mapstructure:"chat_id"`
	NotifySignals    bool   `mapstructure:"notify_signals"`
	NotifyTrades     bool   `mapstructure:"notify_trades"`
	NotifyErrors     bool   `mapstructure:"notify_errors"`
	NotifyDailyReport bool  `mapstructure:"notify_daily_report"`
}

// Load reads config from a JSON file with env var overrides. Sensitive
// and environment-selection fields use: BYBIT_API_KEY, BYBIT_API_SECRET,
// BYBIT_TESTNET, BYBIT_DEMO_MODE, TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID.
// A .env file in the working directory, if present, is loaded first for
// local development.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("BYBIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("BYBIT_API_KEY"); key != "" {
		cfg.API.APIKey = key
	}
	if secret := os.Getenv("BYBIT_API_SECRET"); secret != "" {
		cfg.API.APISecret = secret
	}
	if v := os.Getenv("BYBIT_TESTNET"); v != "" {
		cfg.API.Testnet = v == "true" || v == "1"
	}
	if v := os.Getenv("BYBIT_DEMO_MODE"); v != "" {
		cfg.API.DemoMode = v == "true" || v == "1"
	}
	if tok := os.Getenv("TELEGRAM_BOT_TOKEN"); tok != "" {
		cfg.Telegram.BotToken = tok
	}
	if chat := os.Getenv("TELEGRAM_CHAT_ID"); chat != "" {
		cfg.Telegram.ChatID = chat
	}

	return &cfg, nil
}

var recognizedFrames = map[string]bool{
	"1s": true, "3s": true, "5s": true, "10s": true, "15s": true, "30s": true,
	"1": true, "3": true, "5": true, "15": true, "30": true, "60": true,
	"120": true, "240": true, "360": true, "720": true,
	"D": true, "W": true, "M": true,
}

// Validate checks all required fields and value ranges, mirroring the
// source's StrategyConfig.__post_init__ assertions.
func (c *Config) Validate() error {
	if c.API.APIKey == "" {
		return fmt.Errorf("api.api_key is required (set BYBIT_API_KEY)")
	}
	if c.API.APISecret == "" {
		return fmt.Errorf("api.api_secret is required (set BYBIT_API_SECRET)")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Global.DatabasePath == "" {
		return fmt.Errorf("global.database_path is required")
	}

	enabledCount := 0
	for name, s := range c.Strategies {
		if !s.Enabled {
			continue
		}
		enabledCount++
		if len(s.TradePairs) == 0 {
			return fmt.Errorf("strategies.%s: trade_pairs must be non-empty", name)
		}
		if s.Leverage < 1 {
			return fmt.Errorf("strategies.%s: leverage must be >= 1", name)
		}
		if s.Leverage == 1 && s.Direction != 0 {
			return fmt.Errorf("strategies.%s: leverage=1 (spot) requires direction=0", name)
		}
		if s.PositionSize <= 0 {
			return fmt.Errorf("strategies.%s: position_size must be > 0", name)
		}
		if len(s.Signals) == 0 {
			return fmt.Errorf("strategies.%s: at least one signal is required", name)
		}
		for sigName, sig := range s.Signals {
			if sig.Index == "" {
				return fmt.Errorf("strategies.%s.signals.%s: index is required", name, sigName)
			}
			if !recognizedFrames[sig.Frame] {
				return fmt.Errorf("strategies.%s.signals.%s: unrecognized frame %q", name, sigName, sig.Frame)
			}
			if sig.TickWindow < 0 {
				return fmt.Errorf("strategies.%s.signals.%s: tick_window must be >= 0", name, sigName)
			}
			if sig.IndexChangeThreshold <= 0 {
				return fmt.Errorf("strategies.%s.signals.%s: index_change_threshold must be > 0", name, sigName)
			}
			if sig.Direction < -1 || sig.Direction > 1 {
				return fmt.Errorf("strategies.%s.signals.%s: direction must be one of -1, 0, 1", name, sigName)
			}
			if sig.Reverse != 0 && sig.Reverse != 1 {
				return fmt.Errorf("strategies.%s.signals.%s: reverse must be 0 or 1", name, sigName)
			}
		}
	}
	for i, p := range c.Pairs {
		if !p.Enabled {
			continue
		}
		enabledCount++
		if i >= 13 {
			return fmt.Errorf("pairs: at most 13 legacy pair entries are supported")
		}
		if p.Leverage == 1 && p.Direction != 0 {
			return fmt.Errorf("pairs.%s: leverage=1 (spot) requires direction=0", p.Name)
		}
		if !recognizedFrames[p.Timeframe] {
			return fmt.Errorf("pairs.%s: unrecognized timeframe %q", p.Name, p.Timeframe)
		}
	}
	if enabledCount == 0 {
		return fmt.Errorf("at least one enabled strategy or pair is required")
	}
	return nil
}

// ParseTimeframe parses a raw frame string into the tagged union spec
// §9 calls for: seconds ("1s".."30s"), bare-integer minutes, or D/W/M.
func ParseTimeframe(raw string) (types.Timeframe, error) {
	switch raw {
	case "D":
		return types.NewDayTimeframe(), nil
	case "W":
		return types.NewWeekTimeframe(), nil
	case "M":
		return types.NewMonthTimeframe(), nil
	}
	if strings.HasSuffix(raw, "s") {
		n, err := strconv.Atoi(strings.TrimSuffix(raw, "s"))
		if err != nil {
			return types.Timeframe{}, fmt.Errorf("parse seconds timeframe %q: %w", raw, err)
		}
		return types.NewSecondsTimeframe(n, raw), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return types.Timeframe{}, fmt.Errorf("parse minutes timeframe %q: %w", raw, err)
	}
	return types.NewMinutesTimeframe(n, raw), nil
}

// ToDomain converts the raw JSON-shaped StrategyConfig into the
// engine-facing types.StrategyConfig, parsing every signal's frame.
func (s StrategyConfig) ToDomain(name string) (types.StrategyConfig, error) {
	signals := make(map[string]types.SignalConfig, len(s.Signals))
	for sigName, sig := range s.Signals {
		frame, err := ParseTimeframe(sig.Frame)
		if err != nil {
			return types.StrategyConfig{}, fmt.Errorf("strategy %s signal %s: %w", name, sigName, err)
		}
		signals[sigName] = types.SignalConfig{
			Name:                 sigName,
			Index:                sig.Index,
			Frame:                frame,
			TickWindow:           sig.TickWindow,
			IndexChangeThreshold: sig.IndexChangeThreshold,
			Target:               sig.Target,
			Direction:            sig.Direction,
			Reverse:              sig.Reverse,
		}
	}
	return types.StrategyConfig{
		Name:                 name,
		TradePairs:           s.TradePairs,
		Leverage:             s.Leverage,
		TickWindow:           s.TickWindow,
		PriceChangeThreshold: s.PriceChangeThreshold,
		StopTakePercent:      s.StopTakePercent,
		PositionSize:         s.PositionSize,
		Direction:            s.Direction,
		Enabled:              s.Enabled,
		Signals:              signals,
	}, nil
}

// PairConfigToStrategyConfig converts a legacy single-pair PairConfig
// into the unified types.StrategyConfig the engine actually runs,
// folding the single dominant/target correlation into one signal
// (§D.3 — one code path, no parallel strategy type).
func PairConfigToStrategyConfig(p PairConfig) (types.StrategyConfig, error) {
	frame, err := ParseTimeframe(p.Timeframe)
	if err != nil {
		return types.StrategyConfig{}, fmt.Errorf("pair %s: %w", p.Name, err)
	}
	signalName := p.Name + "_correlation"
	return types.StrategyConfig{
		Name:                 p.Name,
		TradePairs:           []string{p.TargetPair},
		Leverage:             p.Leverage,
		TickWindow:           p.TickWindow,
		PriceChangeThreshold: p.PriceChangeThreshold,
		StopTakePercent:      p.TakeProfitPercent,
		PositionSize:         p.PositionSizePercent,
		Direction:            p.Direction,
		Enabled:              p.Enabled,
		Signals: map[string]types.SignalConfig{
			signalName: {
				Name:                 signalName,
				Index:                p.DominantPair,
				Frame:                frame,
				TickWindow:           p.TickWindow,
				IndexChangeThreshold: p.DominantThreshold,
				Target:               p.TargetMaxThreshold,
				Direction:            p.Direction,
				Reverse:              p.Reverse,
			},
		},
	}, nil
}

// EnabledStrategies returns every enabled strategy (from both the
// strategies map and the legacy pairs array) converted to the engine's
// domain type, keyed by strategy name.
func (c *Config) EnabledStrategies() (map[string]types.StrategyConfig, error) {
	out := make(map[string]types.StrategyConfig)
	for name, s := range c.Strategies {
		if !s.Enabled {
			continue
		}
		d, err := s.ToDomain(name)
		if err != nil {
			return nil, err
		}
		out[name] = d
	}
	for _, p := range c.Pairs {
		if !p.Enabled {
			continue
		}
		d, err := PairConfigToStrategyConfig(p)
		if err != nil {
			return nil, err
		}
		out[d.Name] = d
	}
	return out, nil
}
