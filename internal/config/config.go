// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sdayal/papertrade/internal/types"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration.
type Config struct {
	Account     AccountConfig     `yaml:"account"`
	Sizing      SizingConfig      `yaml:"sizing"`
	Risk        RiskConfig        `yaml:"risk"`
	Costs       CostsConfig       `yaml:"costs"`
	Slippage    SlippageConfig    `yaml:"slippage"`
	Live        LiveConfig        `yaml:"live"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// AccountConfig holds account-level settings.
type AccountConfig struct {
	InitialCapital float64 `yaml:"initial_capital"`
	RiskFreeRate   float64 `yaml:"risk_free_rate"` // annual, for Sharpe
}

// SizingConfig holds position sizing settings.
type SizingConfig struct {
	MinSampleCount       int           `yaml:"min_sample_count"`
	ConservativeFraction float64       `yaml:"conservative_fraction"`
	MaxKellyFraction     float64       `yaml:"max_kelly_fraction"`
	EquityCapPct         float64       `yaml:"equity_cap_pct"`
	DerivativeCapPct     float64       `yaml:"derivative_cap_pct"`
	StatsWindow          int           `yaml:"stats_window"`
	ProfitScaling        []ScalingStep `yaml:"profit_scaling"`
}

// ScalingStep is one breakpoint of the profit-scaling table.
type ScalingStep struct {
	ProfitRatio float64 `yaml:"profit_ratio"` // currentCapital/initialCapital - 1
	Multiplier  float64 `yaml:"multiplier"`
}

// RiskConfig holds drawdown-band and risk-budget settings.
type RiskConfig struct {
	MaxTotalRiskPct  float64 `yaml:"max_total_risk_pct"`
	CautionPct       float64 `yaml:"caution_pct"`
	WarningPct       float64 `yaml:"warning_pct"`
	CriticalPct      float64 `yaml:"critical_pct"`
	HaltPct          float64 `yaml:"halt_pct"`
	RecoveryPct      float64 `yaml:"recovery_pct"` // drawdown below which Resume is allowed
	ForceCloseOnHalt bool    `yaml:"force_close_on_halt"`
}

// CostsConfig holds the per-order cost rate table.
type CostsConfig struct {
	BrokerageRate         float64 `yaml:"brokerage_rate"`
	BrokerageCap          float64 `yaml:"brokerage_cap"` // per order
	EquitySTTSellRate     float64 `yaml:"equity_stt_sell_rate"`
	DerivativeSTTSellRate float64 `yaml:"derivative_stt_sell_rate"`
	ExchangeRate          float64 `yaml:"exchange_rate"`
	RegulatoryRate        float64 `yaml:"regulatory_rate"`
	GSTRate               float64 `yaml:"gst_rate"`
	StampDutyBuyRate      float64 `yaml:"stamp_duty_buy_rate"`
}

// SlippageConfig holds the deterministic slippage model parameters.
type SlippageConfig struct {
	TierBps            map[int]float64 `yaml:"tier_bps"`
	ImpactBpsPerLot    float64         `yaml:"impact_bps_per_lot"`
	ImpactLotNotional  float64         `yaml:"impact_lot_notional"`
	OpenWindowMinutes  int             `yaml:"open_window_minutes"`
	OpenWindowFactor   float64         `yaml:"open_window_factor"`
	VolatilityCutoff   float64         `yaml:"volatility_cutoff"` // daily range ratio
	VolatilityFactor   float64         `yaml:"volatility_factor"`
	SessionOpen        string          `yaml:"session_open"` // HH:MM, exchange local
}

// LiveConfig holds paper-trading loop settings.
type LiveConfig struct {
	PollIntervalSec        int `yaml:"poll_interval_sec"`
	FetchTimeoutSec        int `yaml:"fetch_timeout_sec"`
	MaxConsecutiveTimeouts int `yaml:"max_consecutive_timeouts"`
	FetchesPerSecond       int `yaml:"fetches_per_second"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // telegram | console
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// MetricsConfig holds the prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Default returns the documented default configuration.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			InitialCapital: 100000,
			RiskFreeRate:   0.0,
		},
		Sizing: SizingConfig{
			MinSampleCount:       30,
			ConservativeFraction: 0.10,
			MaxKellyFraction:     0.50,
			EquityCapPct:         0.20,
			DerivativeCapPct:     0.04,
			StatsWindow:          50,
			ProfitScaling: []ScalingStep{
				{ProfitRatio: 0.00, Multiplier: 1.0},
				{ProfitRatio: 0.10, Multiplier: 1.5},
				{ProfitRatio: 0.25, Multiplier: 2.0},
			},
		},
		Risk: RiskConfig{
			MaxTotalRiskPct:  0.02,
			CautionPct:       0.010,
			WarningPct:       0.015,
			CriticalPct:      0.018,
			HaltPct:          0.020,
			RecoveryPct:      0.010,
			ForceCloseOnHalt: false,
		},
		Costs: CostsConfig{
			BrokerageRate:         0.0003,
			BrokerageCap:          20,
			EquitySTTSellRate:     0.00025,
			DerivativeSTTSellRate: 0.0001,
			ExchangeRate:          0.0000297,
			RegulatoryRate:        0.000001,
			GSTRate:               0.18,
			StampDutyBuyRate:      0.00003,
		},
		Slippage: SlippageConfig{
			TierBps:           map[int]float64{1: 1, 2: 3, 3: 8},
			ImpactBpsPerLot:   1,
			ImpactLotNotional: 500000,
			OpenWindowMinutes: 30,
			OpenWindowFactor:  1.5,
			VolatilityCutoff:  0.02,
			VolatilityFactor:  1.5,
			SessionOpen:       "09:15",
		},
		Live: LiveConfig{
			PollIntervalSec:        30,
			FetchTimeoutSec:        5,
			MaxConsecutiveTimeouts: 3,
			FetchesPerSecond:       5,
		},
		Persistence: PersistenceConfig{Enabled: false, Path: "papertrade.db"},
		Alerting:    AlertingConfig{Enabled: true, Channels: []ChannelConfig{{Type: "console"}}},
		Metrics:     MetricsConfig{Enabled: false, Port: 9090},
	}
}

// Load loads configuration from a YAML file, applying defaults for any
// section not present.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration, collecting every problem so a bad
// file fails once with the full list. Runs before any simulation starts.
func (c *Config) Validate() error {
	var errs []string

	if c.Account.InitialCapital <= 0 {
		errs = append(errs, "account.initial_capital must be positive")
	}

	if c.Sizing.ConservativeFraction <= 0 || c.Sizing.ConservativeFraction > 0.5 {
		errs = append(errs, "sizing.conservative_fraction must be in (0, 0.5]")
	}
	if c.Sizing.MaxKellyFraction <= 0 || c.Sizing.MaxKellyFraction > 1 {
		errs = append(errs, "sizing.max_kelly_fraction must be in (0, 1]")
	}
	if c.Sizing.EquityCapPct <= 0 || c.Sizing.EquityCapPct > 1 {
		errs = append(errs, "sizing.equity_cap_pct must be in (0, 1]")
	}
	if c.Sizing.DerivativeCapPct <= 0 || c.Sizing.DerivativeCapPct > 1 {
		errs = append(errs, "sizing.derivative_cap_pct must be in (0, 1]")
	}
	if c.Sizing.MinSampleCount < 0 {
		errs = append(errs, "sizing.min_sample_count must be non-negative")
	}
	if c.Sizing.StatsWindow <= 0 {
		errs = append(errs, "sizing.stats_window must be positive")
	}
	if len(c.Sizing.ProfitScaling) == 0 {
		errs = append(errs, "sizing.profit_scaling must have at least one step")
	}
	if !sort.SliceIsSorted(c.Sizing.ProfitScaling, func(i, j int) bool {
		return c.Sizing.ProfitScaling[i].ProfitRatio < c.Sizing.ProfitScaling[j].ProfitRatio
	}) {
		errs = append(errs, "sizing.profit_scaling breakpoints must be ascending")
	}
	for _, step := range c.Sizing.ProfitScaling {
		if step.Multiplier <= 0 {
			errs = append(errs, "sizing.profit_scaling multipliers must be positive")
			break
		}
	}

	if c.Risk.MaxTotalRiskPct <= 0 || c.Risk.MaxTotalRiskPct > 0.1 {
		errs = append(errs, "risk.max_total_risk_pct must be in (0, 0.1]")
	}
	if !(c.Risk.CautionPct < c.Risk.WarningPct &&
		c.Risk.WarningPct < c.Risk.CriticalPct &&
		c.Risk.CriticalPct < c.Risk.HaltPct) {
		errs = append(errs, "risk drawdown bands must be strictly ascending: caution < warning < critical < halt")
	}
	if c.Risk.CautionPct <= 0 {
		errs = append(errs, "risk.caution_pct must be positive")
	}
	if c.Risk.RecoveryPct <= 0 || c.Risk.RecoveryPct > c.Risk.HaltPct {
		errs = append(errs, "risk.recovery_pct must be in (0, halt_pct]")
	}

	if c.Costs.BrokerageRate < 0 || c.Costs.EquitySTTSellRate < 0 || c.Costs.DerivativeSTTSellRate < 0 ||
		c.Costs.ExchangeRate < 0 || c.Costs.RegulatoryRate < 0 || c.Costs.GSTRate < 0 ||
		c.Costs.StampDutyBuyRate < 0 {
		errs = append(errs, "costs rates must be non-negative")
	}

	if len(c.Slippage.TierBps) == 0 {
		errs = append(errs, "slippage.tier_bps must not be empty")
	}
	if _, ok := c.Slippage.TierBps[int(types.TierLiquid)]; !ok {
		errs = append(errs, "slippage.tier_bps must include tier 1")
	}
	if c.Slippage.ImpactLotNotional <= 0 {
		errs = append(errs, "slippage.impact_lot_notional must be positive")
	}
	if _, err := time.Parse("15:04", c.Slippage.SessionOpen); err != nil {
		errs = append(errs, fmt.Sprintf("slippage.session_open %q is not HH:MM", c.Slippage.SessionOpen))
	}

	if c.Live.PollIntervalSec <= 0 {
		errs = append(errs, "live.poll_interval_sec must be positive")
	}
	if c.Live.FetchTimeoutSec <= 0 {
		errs = append(errs, "live.fetch_timeout_sec must be positive")
	}
	if c.Live.MaxConsecutiveTimeouts <= 0 {
		errs = append(errs, "live.max_consecutive_timeouts must be positive")
	}

	if c.Persistence.Enabled && c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required when persistence is enabled")
	}

	for _, ch := range c.Alerting.Channels {
		switch ch.Type {
		case "console":
		case "telegram":
			if ch.BotToken == "" || ch.ChatID == "" {
				errs = append(errs, "alerting telegram channel requires bot_token and chat_id")
			}
		default:
			errs = append(errs, fmt.Sprintf("alerting channel type %q is not supported", ch.Type))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// PollInterval returns the live monitor polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Live.PollIntervalSec) * time.Second
}

// FetchTimeout returns the per-fetch price timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Live.FetchTimeoutSec) * time.Second
}

// SessionOpen returns the session open as clock hours and minutes.
func (c *Config) SessionOpen() (hour, minute int) {
	t, err := time.Parse("15:04", c.Slippage.SessionOpen)
	if err != nil {
		return 9, 15
	}
	return t.Hour(), t.Minute()
}
