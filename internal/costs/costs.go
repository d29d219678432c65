// Package costs implements the transaction cost and slippage models.
// Both calculators are pure: identical inputs always produce identical
// outputs, which keeps historical replays reproducible.
package costs

import (
	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// RateTable holds the per-order cost rates. All rates are fractions of
// traded notional unless noted.
type RateTable struct {
	BrokerageRate         decimal.Decimal
	BrokerageCap          decimal.Decimal // absolute cap per order
	EquitySTTSellRate     decimal.Decimal // securities transaction tax, equity sell side
	DerivativeSTTSellRate decimal.Decimal
	ExchangeRate          decimal.Decimal
	RegulatoryRate        decimal.Decimal
	GSTRate               decimal.Decimal // levied on brokerage + exchange fee
	StampDutyBuyRate      decimal.Decimal // buy side only
}

// CostBreakdown itemizes every cost component of one order. Total is
// always the exact sum of the parts.
type CostBreakdown struct {
	Brokerage      decimal.Decimal
	TransactionTax decimal.Decimal
	ExchangeFee    decimal.Decimal
	RegulatoryFee  decimal.Decimal
	GST            decimal.Decimal
	StampDuty      decimal.Decimal
	Total          decimal.Decimal
}

// Model bundles the cost rate table with the slippage parameters.
type Model struct {
	rates RateTable
	slip  SlippageTable
}

// NewModel creates a cost model from the given tables.
func NewModel(rates RateTable, slip SlippageTable) *Model {
	return &Model{rates: rates, slip: slip}
}

// Calculate itemizes the costs of executing one side of a trade at the
// given notional value.
func (m *Model) Calculate(side types.Side, notional decimal.Decimal, class types.InstrumentClass) CostBreakdown {
	var b CostBreakdown
	if notional.LessThanOrEqual(decimal.Zero) {
		return b
	}

	b.Brokerage = notional.Mul(m.rates.BrokerageRate)
	if b.Brokerage.GreaterThan(m.rates.BrokerageCap) {
		b.Brokerage = m.rates.BrokerageCap
	}

	// STT applies on the sell side only; the rate differs by class.
	if side == types.SideSell {
		switch class {
		case types.ClassDerivative:
			b.TransactionTax = notional.Mul(m.rates.DerivativeSTTSellRate)
		default:
			b.TransactionTax = notional.Mul(m.rates.EquitySTTSellRate)
		}
	}

	b.ExchangeFee = notional.Mul(m.rates.ExchangeRate)
	b.RegulatoryFee = notional.Mul(m.rates.RegulatoryRate)
	b.GST = b.Brokerage.Add(b.ExchangeFee).Mul(m.rates.GSTRate)

	if side == types.SideBuy {
		b.StampDuty = notional.Mul(m.rates.StampDutyBuyRate)
	}

	b.Total = b.Brokerage.
		Add(b.TransactionTax).
		Add(b.ExchangeFee).
		Add(b.RegulatoryFee).
		Add(b.GST).
		Add(b.StampDuty)

	return b
}
