package engine

import (
	"math"

	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// Performance summarizes a run. HasData is false when the run produced
// too little history for the ratios to mean anything; consumers must not
// read zeroes as skill.
type Performance struct {
	HasData bool

	TotalReturn      decimal.Decimal // ratio
	AnnualizedReturn decimal.Decimal
	MaxDrawdown      decimal.Decimal // ratio
	SharpeRatio      decimal.Decimal
	SortinoRatio     decimal.Decimal
	CalmarRatio      decimal.Decimal
	Alpha            decimal.Decimal // vs benchmark, zero without one

	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       decimal.Decimal
	ProfitFactor  decimal.Decimal
	Expectancy    decimal.Decimal // per-trade expected net PnL
	AverageWin    decimal.Decimal
	AverageLoss   decimal.Decimal // negative
}

// ComputePerformance derives the run metrics from closed trades and the
// equity curve. The benchmark series is optional daily closes aligned
// with the curve; without one, alpha stays zero.
func ComputePerformance(trades []types.Trade, curve []types.EquityPoint, benchmark []decimal.Decimal) Performance {
	var p Performance

	p.TotalTrades = len(trades)
	grossProfit, grossLoss := decimal.Zero, decimal.Zero
	winSum, lossSum := decimal.Zero, decimal.Zero

	for _, t := range trades {
		if t.NetPnL.IsPositive() {
			p.WinningTrades++
			grossProfit = grossProfit.Add(t.NetPnL)
			winSum = winSum.Add(t.NetPnL)
		} else if t.NetPnL.IsNegative() {
			p.LosingTrades++
			grossLoss = grossLoss.Add(t.NetPnL.Abs())
			lossSum = lossSum.Add(t.NetPnL)
		}
	}

	if p.TotalTrades > 0 {
		p.WinRate = decimal.NewFromInt(int64(p.WinningTrades)).Div(decimal.NewFromInt(int64(p.TotalTrades)))
	}
	if grossLoss.IsPositive() {
		p.ProfitFactor = grossProfit.Div(grossLoss)
	}
	if p.WinningTrades > 0 {
		p.AverageWin = winSum.Div(decimal.NewFromInt(int64(p.WinningTrades)))
	}
	if p.LosingTrades > 0 {
		p.AverageLoss = lossSum.Div(decimal.NewFromInt(int64(p.LosingTrades)))
	}
	p.Expectancy = p.WinRate.Mul(p.AverageWin).
		Add(decimal.NewFromInt(1).Sub(p.WinRate).Mul(p.AverageLoss))

	// Ratio metrics need a real curve; a run with under two points or no
	// trades stays flagged as having no data.
	if len(curve) < 2 || p.TotalTrades == 0 {
		return p
	}
	p.HasData = true

	first, last := curve[0], curve[len(curve)-1]
	if first.TotalEquity.IsPositive() {
		p.TotalReturn = last.TotalEquity.Sub(first.TotalEquity).Div(first.TotalEquity)
	}

	p.MaxDrawdown = maxDrawdown(curve)
	p.AnnualizedReturn = annualize(p.TotalReturn, first, last)

	returns := dailyReturns(curve)
	p.SharpeRatio = sharpe(returns, standardDeviation(returns))
	p.SortinoRatio = sharpe(returns, downsideDeviation(returns))

	if p.MaxDrawdown.IsPositive() {
		p.CalmarRatio = p.AnnualizedReturn.Div(p.MaxDrawdown)
	}

	if len(benchmark) >= 2 && benchmark[0].IsPositive() {
		benchReturn := benchmark[len(benchmark)-1].Sub(benchmark[0]).Div(benchmark[0])
		p.Alpha = p.TotalReturn.Sub(benchReturn)
	}

	return p
}

// maxDrawdown scans the curve against a running high water mark.
func maxDrawdown(curve []types.EquityPoint) decimal.Decimal {
	hwm := curve[0].TotalEquity
	maxDD := decimal.Zero

	for _, point := range curve {
		if point.TotalEquity.GreaterThan(hwm) {
			hwm = point.TotalEquity
		}
		if hwm.IsPositive() {
			dd := hwm.Sub(point.TotalEquity).Div(hwm)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}

	return maxDD
}

// annualize converts a total return to annual: (1+r)^(365/days) - 1.
// Short runs return the raw total to avoid absurd extrapolation.
func annualize(totalReturn decimal.Decimal, first, last types.EquityPoint) decimal.Decimal {
	days := last.Timestamp.Sub(first.Timestamp).Hours() / 24
	if days < 4 {
		return totalReturn
	}

	base := 1 + totalReturn.InexactFloat64()
	if base <= 0 {
		return decimal.NewFromInt(-1)
	}

	annualized := math.Pow(base, 365/days) - 1
	return decimal.NewFromFloat(annualized)
}

// sharpe is the annualized return-over-deviation ratio shared by Sharpe
// and Sortino (zero risk-free rate).
func sharpe(returns []decimal.Decimal, deviation decimal.Decimal) decimal.Decimal {
	if len(returns) < 2 || deviation.IsZero() {
		return decimal.Zero
	}

	sqrt252 := decimal.NewFromFloat(math.Sqrt(252))
	return mean(returns).Div(deviation).Mul(sqrt252)
}

// dailyReturns computes per-point returns from the equity curve.
func dailyReturns(curve []types.EquityPoint) []decimal.Decimal {
	returns := make([]decimal.Decimal, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].TotalEquity
		if prev.IsZero() {
			continue
		}
		returns = append(returns, curve[i].TotalEquity.Sub(prev).Div(prev))
	}
	return returns
}

func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

func standardDeviation(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}

	m := mean(values)
	sumSquares := decimal.Zero
	for _, v := range values {
		diff := v.Sub(m)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}

	variance := sumSquares.Div(decimal.NewFromInt(int64(len(values) - 1))).InexactFloat64()
	if variance < 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(math.Sqrt(variance))
}

// downsideDeviation is the standard deviation of negative returns only.
func downsideDeviation(returns []decimal.Decimal) decimal.Decimal {
	var negative []decimal.Decimal
	for _, r := range returns {
		if r.IsNegative() {
			negative = append(negative, r)
		}
	}
	if len(negative) < 2 {
		return decimal.Zero
	}
	return standardDeviation(negative)
}
