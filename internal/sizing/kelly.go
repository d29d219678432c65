// Package sizing implements Kelly-based position sizing.
package sizing

import (
	"github.com/google/uuid"
	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// Config holds the sizer parameters.
type Config struct {
	MinSampleCount       int
	ConservativeFraction decimal.Decimal // used below MinSampleCount
	MaxKellyFraction     decimal.Decimal // clamp before halving
	EquityCapPct         decimal.Decimal // of current capital
	DerivativeCapPct     decimal.Decimal
	ProfitScaling        ScalingTable
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MinSampleCount:       30,
		ConservativeFraction: decimal.RequireFromString("0.10"),
		MaxKellyFraction:     decimal.RequireFromString("0.50"),
		EquityCapPct:         decimal.RequireFromString("0.20"),
		DerivativeCapPct:     decimal.RequireFromString("0.04"),
		ProfitScaling:        DefaultScalingTable(),
	}
}

// Sizer converts signals into sized orders. Pure: no state beyond config,
// no side effects, and no fatal errors -- every edge case degrades to the
// conservative default or a zero-share order.
type Sizer struct {
	cfg Config
}

// NewSizer creates a position sizer.
func NewSizer(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

var two = decimal.NewFromInt(2)

// KellyFraction computes the raw Kelly fraction from strategy statistics:
//
//	k = (p*b - (1-p)*l) / b
//
// with p the win rate, b the average win and l the average loss (both as
// positive return fractions). Returns zero when the edge is negative or
// the inputs are degenerate.
func KellyFraction(stats types.StrategyStats) decimal.Decimal {
	if stats.AvgWinPct.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	p := stats.WinRate
	q := decimal.NewFromInt(1).Sub(p)
	k := p.Mul(stats.AvgWinPct).Sub(q.Mul(stats.AvgLossPct)).Div(stats.AvgWinPct)
	if k.IsNegative() {
		return decimal.Zero
	}
	return k
}

// Propose sizes an order for the signal. The capital fraction is
// half-Kelly scaled by the profit table, except when the sample count is
// below the minimum, in which case the fixed conservative fraction is
// used and the order is flagged.
func (s *Sizer) Propose(
	stats types.StrategyStats,
	currentCapital, initialCapital decimal.Decimal,
	sig types.Signal,
) types.Order {
	// The order inherits the signal's content-derived ID so replays book
	// positions under reproducible keys; anonymous signals get a random
	// one.
	id := sig.ID
	if id == "" {
		id = uuid.New().String()
	}

	order := types.Order{
		ID:            id,
		SignalID:      sig.ID,
		Symbol:        sig.Symbol,
		Side:          sig.Side,
		Class:         sig.Class,
		LiquidityTier: sig.LiquidityTier,
		EntryPrice:    sig.EntryPrice,
		StopLoss:      sig.StopLoss,
		Target:        sig.Target,
		Notional:      decimal.Zero,
		RiskAmount:    decimal.Zero,
	}

	if currentCapital.LessThanOrEqual(decimal.Zero) || sig.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return order
	}

	var fraction decimal.Decimal
	if stats.SampleCount < s.cfg.MinSampleCount {
		fraction = s.cfg.ConservativeFraction
		order.ConservativeSizing = true
	} else {
		k := KellyFraction(stats)
		if k.GreaterThan(s.cfg.MaxKellyFraction) {
			k = s.cfg.MaxKellyFraction
		}
		half := k.Div(two)

		var profitRatio decimal.Decimal
		if initialCapital.IsPositive() {
			profitRatio = currentCapital.Div(initialCapital).Sub(decimal.NewFromInt(1))
		}
		fraction = half.Mul(s.cfg.ProfitScaling.Multiplier(profitRatio))
	}

	value := currentCapital.Mul(fraction)

	// Hard caps always win over the Kelly-derived value.
	cap := s.cfg.EquityCapPct
	if sig.Class == types.ClassDerivative {
		cap = s.cfg.DerivativeCapPct
	}
	maxValue := currentCapital.Mul(cap)
	if value.GreaterThan(maxValue) {
		value = maxValue
	}

	shares := value.Div(sig.EntryPrice).Floor().IntPart()
	if shares <= 0 {
		return order
	}

	order.Shares = shares
	order.Notional = sig.EntryPrice.Mul(decimal.NewFromInt(shares))
	order.RiskAmount = sig.EntryPrice.Sub(sig.StopLoss).Abs().Mul(decimal.NewFromInt(shares))
	return order
}

// StatsFromTrades recomputes strategy statistics from the trailing window
// of the trade log. Win and loss magnitudes are measured as net PnL over
// entry notional, matching the sizer's fraction-of-capital use.
func StatsFromTrades(trades []types.Trade, window int) types.StrategyStats {
	if window > 0 && len(trades) > window {
		trades = trades[len(trades)-window:]
	}

	var stats types.StrategyStats
	if len(trades) == 0 {
		return stats
	}

	var wins, losses int
	winSum, lossSum := decimal.Zero, decimal.Zero
	for _, t := range trades {
		notional := t.EntryPrice.Mul(decimal.NewFromInt(t.Shares))
		if notional.LessThanOrEqual(decimal.Zero) {
			continue
		}
		ret := t.NetPnL.Div(notional)
		if ret.IsPositive() {
			wins++
			winSum = winSum.Add(ret)
		} else {
			losses++
			lossSum = lossSum.Add(ret.Abs())
		}
	}

	total := wins + losses
	if total == 0 {
		return stats
	}

	stats.SampleCount = total
	stats.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(total)))
	if wins > 0 {
		stats.AvgWinPct = winSum.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		stats.AvgLossPct = lossSum.Div(decimal.NewFromInt(int64(losses)))
	}
	return stats
}
