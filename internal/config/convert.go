package config

import (
	"time"

	"github.com/sdayal/papertrade/internal/costs"
	"github.com/sdayal/papertrade/internal/risk"
	"github.com/sdayal/papertrade/internal/sizing"
	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// The YAML layer deals in floats for readability; everything downstream
// is decimal. Conversion happens exactly once, here.

// ToSizingConfig converts the sizing section.
func (c *Config) ToSizingConfig() sizing.Config {
	steps := make([]sizing.ScalingStep, 0, len(c.Sizing.ProfitScaling))
	for _, s := range c.Sizing.ProfitScaling {
		steps = append(steps, sizing.ScalingStep{
			ProfitRatio: decimal.NewFromFloat(s.ProfitRatio),
			Multiplier:  decimal.NewFromFloat(s.Multiplier),
		})
	}

	return sizing.Config{
		MinSampleCount:       c.Sizing.MinSampleCount,
		ConservativeFraction: decimal.NewFromFloat(c.Sizing.ConservativeFraction),
		MaxKellyFraction:     decimal.NewFromFloat(c.Sizing.MaxKellyFraction),
		EquityCapPct:         decimal.NewFromFloat(c.Sizing.EquityCapPct),
		DerivativeCapPct:     decimal.NewFromFloat(c.Sizing.DerivativeCapPct),
		ProfitScaling:        sizing.NewScalingTable(steps),
	}
}

// ToRiskConfig converts the risk section, building the drawdown band
// ladder from the configured thresholds.
func (c *Config) ToRiskConfig() risk.Config {
	one := decimal.NewFromInt(1)
	bands := []risk.Band{
		{Threshold: decimal.Zero, State: types.StateNormal, SizeScale: one, AllowNew: true},
		{Threshold: decimal.NewFromFloat(c.Risk.CautionPct), State: types.StateCaution, SizeScale: one, AllowNew: true},
		{Threshold: decimal.NewFromFloat(c.Risk.WarningPct), State: types.StateWarning, SizeScale: decimal.RequireFromString("0.5"), AllowNew: true},
		{Threshold: decimal.NewFromFloat(c.Risk.CriticalPct), State: types.StateCritical, SizeScale: decimal.RequireFromString("0.25"), AllowNew: true},
		{Threshold: decimal.NewFromFloat(c.Risk.HaltPct), State: types.StateHalted, SizeScale: decimal.Zero, AllowNew: false},
	}

	return risk.Config{
		MaxTotalRiskPct:  decimal.NewFromFloat(c.Risk.MaxTotalRiskPct),
		Bands:            risk.NewBandTable(bands),
		RecoveryPct:      decimal.NewFromFloat(c.Risk.RecoveryPct),
		EquityCapPct:     decimal.NewFromFloat(c.Sizing.EquityCapPct),
		DerivativeCapPct: decimal.NewFromFloat(c.Sizing.DerivativeCapPct),
	}
}

// ToRateTable converts the costs section.
func (c *Config) ToRateTable() costs.RateTable {
	return costs.RateTable{
		BrokerageRate:         decimal.NewFromFloat(c.Costs.BrokerageRate),
		BrokerageCap:          decimal.NewFromFloat(c.Costs.BrokerageCap),
		EquitySTTSellRate:     decimal.NewFromFloat(c.Costs.EquitySTTSellRate),
		DerivativeSTTSellRate: decimal.NewFromFloat(c.Costs.DerivativeSTTSellRate),
		ExchangeRate:          decimal.NewFromFloat(c.Costs.ExchangeRate),
		RegulatoryRate:        decimal.NewFromFloat(c.Costs.RegulatoryRate),
		GSTRate:               decimal.NewFromFloat(c.Costs.GSTRate),
		StampDutyBuyRate:      decimal.NewFromFloat(c.Costs.StampDutyBuyRate),
	}
}

// ToSlippageTable converts the slippage section.
func (c *Config) ToSlippageTable() costs.SlippageTable {
	tierBps := make(map[types.LiquidityTier]decimal.Decimal, len(c.Slippage.TierBps))
	for tier, bps := range c.Slippage.TierBps {
		tierBps[types.LiquidityTier(tier)] = decimal.NewFromFloat(bps)
	}

	hour, minute := c.SessionOpen()

	return costs.SlippageTable{
		TierBps:           tierBps,
		ImpactBpsPerLot:   decimal.NewFromFloat(c.Slippage.ImpactBpsPerLot),
		ImpactLotNotional: decimal.NewFromFloat(c.Slippage.ImpactLotNotional),
		OpenWindow:        time.Duration(c.Slippage.OpenWindowMinutes) * time.Minute,
		OpenWindowFactor:  decimal.NewFromFloat(c.Slippage.OpenWindowFactor),
		VolatilityCutoff:  decimal.NewFromFloat(c.Slippage.VolatilityCutoff),
		VolatilityFactor:  decimal.NewFromFloat(c.Slippage.VolatilityFactor),
		SessionOpenHour:   hour,
		SessionOpenMinute: minute,
	}
}

// InitialCapital returns the starting capital as a decimal.
func (c *Config) InitialCapital() decimal.Decimal {
	return decimal.NewFromFloat(c.Account.InitialCapital)
}
