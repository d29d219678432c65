package costs

import (
	"time"

	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// SlippageTable parameterizes the deterministic slippage model. There is
// no randomness anywhere: a replay with identical inputs reproduces the
// same fills.
type SlippageTable struct {
	TierBps           map[types.LiquidityTier]decimal.Decimal
	ImpactBpsPerLot   decimal.Decimal // added per full ImpactLotNotional of order size
	ImpactLotNotional decimal.Decimal
	OpenWindow        time.Duration // widening window after session open
	OpenWindowFactor  decimal.Decimal
	VolatilityCutoff  decimal.Decimal // daily range ratio above which fills widen
	VolatilityFactor  decimal.Decimal
	SessionOpenHour   int
	SessionOpenMinute int
}

// SlippageResult is the outcome of the slippage model for one fill.
type SlippageResult struct {
	Bps           decimal.Decimal
	AdjustedPrice decimal.Decimal // fill price after slippage
	Amount        decimal.Decimal // total currency lost to slippage, >= 0
}

var tenThousand = decimal.NewFromInt(10000)

// Slippage computes the fill price for an order of the given size. Larger
// notionals, lower liquidity tiers, proximity to the session open and
// elevated volatility each widen the fill; the adjustment always worsens
// the price for the order side.
func (m *Model) Slippage(
	side types.Side,
	refPrice decimal.Decimal,
	shares int64,
	tier types.LiquidityTier,
	at time.Time,
	volatility decimal.Decimal,
) SlippageResult {
	res := SlippageResult{AdjustedPrice: refPrice}
	if shares <= 0 || refPrice.LessThanOrEqual(decimal.Zero) {
		return res
	}

	bps, ok := m.slip.TierBps[tier]
	if !ok {
		// Unknown tiers fall back to the least liquid configured bucket.
		for _, v := range m.slip.TierBps {
			if v.GreaterThan(bps) {
				bps = v
			}
		}
	}

	notional := refPrice.Mul(decimal.NewFromInt(shares))
	if m.slip.ImpactLotNotional.IsPositive() {
		lots := notional.Div(m.slip.ImpactLotNotional).Floor()
		bps = bps.Add(lots.Mul(m.slip.ImpactBpsPerLot))
	}

	if m.nearSessionOpen(at) {
		bps = bps.Mul(m.slip.OpenWindowFactor)
	}
	if m.slip.VolatilityCutoff.IsPositive() && volatility.GreaterThanOrEqual(m.slip.VolatilityCutoff) {
		bps = bps.Mul(m.slip.VolatilityFactor)
	}

	fraction := bps.Div(tenThousand)
	adjusted := refPrice.Mul(decimal.NewFromInt(1).Add(side.Sign().Mul(fraction)))

	res.Bps = bps
	res.AdjustedPrice = adjusted
	res.Amount = adjusted.Sub(refPrice).Abs().Mul(decimal.NewFromInt(shares))
	return res
}

// nearSessionOpen reports whether the timestamp falls inside the widening
// window following the session open, using the timestamp's own location.
func (m *Model) nearSessionOpen(at time.Time) bool {
	if m.slip.OpenWindow <= 0 {
		return false
	}
	open := time.Date(at.Year(), at.Month(), at.Day(),
		m.slip.SessionOpenHour, m.slip.SessionOpenMinute, 0, 0, at.Location())
	if at.Before(open) {
		return false
	}
	return at.Sub(open) < m.slip.OpenWindow
}
