package costs

import (
	"testing"
	"time"

	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRates() RateTable {
	return RateTable{
		BrokerageRate:         decimal.RequireFromString("0.0003"),
		BrokerageCap:          decimal.NewFromInt(20),
		EquitySTTSellRate:     decimal.RequireFromString("0.00025"),
		DerivativeSTTSellRate: decimal.RequireFromString("0.0001"),
		ExchangeRate:          decimal.RequireFromString("0.0000297"),
		RegulatoryRate:        decimal.RequireFromString("0.000001"),
		GSTRate:               decimal.RequireFromString("0.18"),
		StampDutyBuyRate:      decimal.RequireFromString("0.00003"),
	}
}

func testSlippage() SlippageTable {
	return SlippageTable{
		TierBps: map[types.LiquidityTier]decimal.Decimal{
			types.TierLiquid:   decimal.NewFromInt(1),
			types.TierMid:      decimal.NewFromInt(3),
			types.TierIlliquid: decimal.NewFromInt(8),
		},
		ImpactBpsPerLot:   decimal.NewFromInt(1),
		ImpactLotNotional: decimal.NewFromInt(500000),
		OpenWindow:        30 * time.Minute,
		OpenWindowFactor:  decimal.RequireFromString("1.5"),
		VolatilityCutoff:  decimal.RequireFromString("0.02"),
		VolatilityFactor:  decimal.RequireFromString("1.5"),
		SessionOpenHour:   9,
		SessionOpenMinute: 15,
	}
}

func TestCalculate_BuySide(t *testing.T) {
	m := NewModel(testRates(), testSlippage())

	b := m.Calculate(types.SideBuy, decimal.NewFromInt(100000), types.ClassEquity)

	// Brokerage 30 capped at 20.
	assert.True(t, b.Brokerage.Equal(decimal.NewFromInt(20)), "Brokerage = %s", b.Brokerage)
	// No STT on the buy side.
	assert.True(t, b.TransactionTax.IsZero(), "TransactionTax = %s", b.TransactionTax)
	assert.True(t, b.ExchangeFee.Equal(decimal.RequireFromString("2.97")), "ExchangeFee = %s", b.ExchangeFee)
	assert.True(t, b.RegulatoryFee.Equal(decimal.RequireFromString("0.1")), "RegulatoryFee = %s", b.RegulatoryFee)
	// GST on brokerage + exchange fee: (20 + 2.97) * 0.18.
	assert.True(t, b.GST.Equal(decimal.RequireFromString("4.1346")), "GST = %s", b.GST)
	assert.True(t, b.StampDuty.Equal(decimal.NewFromInt(3)), "StampDuty = %s", b.StampDuty)
	assert.True(t, b.Total.Equal(decimal.RequireFromString("30.2046")), "Total = %s", b.Total)
}

func TestCalculate_SellSide(t *testing.T) {
	m := NewModel(testRates(), testSlippage())

	b := m.Calculate(types.SideSell, decimal.NewFromInt(100000), types.ClassEquity)

	assert.True(t, b.TransactionTax.Equal(decimal.NewFromInt(25)), "TransactionTax = %s", b.TransactionTax)
	assert.True(t, b.StampDuty.IsZero(), "StampDuty = %s", b.StampDuty)
	assert.True(t, b.Total.Equal(decimal.RequireFromString("52.2046")), "Total = %s", b.Total)
}

func TestCalculate_DerivativeSTT(t *testing.T) {
	m := NewModel(testRates(), testSlippage())

	b := m.Calculate(types.SideSell, decimal.NewFromInt(100000), types.ClassDerivative)

	// Derivative STT is 0.0001 instead of 0.00025.
	assert.True(t, b.TransactionTax.Equal(decimal.NewFromInt(10)), "TransactionTax = %s", b.TransactionTax)
}

func TestCalculate_TotalIsSumOfParts(t *testing.T) {
	m := NewModel(testRates(), testSlippage())

	for _, side := range []types.Side{types.SideBuy, types.SideSell} {
		b := m.Calculate(side, decimal.RequireFromString("123456.78"), types.ClassEquity)
		sum := b.Brokerage.
			Add(b.TransactionTax).
			Add(b.ExchangeFee).
			Add(b.RegulatoryFee).
			Add(b.GST).
			Add(b.StampDuty)
		require.True(t, b.Total.Equal(sum), "side %s: Total %s != sum %s", side, b.Total, sum)
	}
}

func TestCalculate_BrokerageBelowCap(t *testing.T) {
	m := NewModel(testRates(), testSlippage())

	// 10000 * 0.0003 = 3, under the 20 cap.
	b := m.Calculate(types.SideBuy, decimal.NewFromInt(10000), types.ClassEquity)
	assert.True(t, b.Brokerage.Equal(decimal.NewFromInt(3)), "Brokerage = %s", b.Brokerage)
}

func TestCalculate_ZeroNotional(t *testing.T) {
	m := NewModel(testRates(), testSlippage())

	b := m.Calculate(types.SideBuy, decimal.Zero, types.ClassEquity)
	assert.True(t, b.Total.IsZero())
}

func TestCalculate_RoundTripStaysInExpectedRange(t *testing.T) {
	m := NewModel(testRates(), testSlippage())

	// A flat round trip on 100000 notional loses only costs: both sides
	// together must stay in the tens, not hundreds.
	buy := m.Calculate(types.SideBuy, decimal.NewFromInt(100000), types.ClassEquity)
	sell := m.Calculate(types.SideSell, decimal.NewFromInt(100000), types.ClassEquity)

	total := buy.Total.Add(sell.Total)
	assert.True(t, total.Equal(decimal.RequireFromString("82.4092")), "round trip = %s", total)
}
