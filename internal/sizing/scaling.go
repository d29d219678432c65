package sizing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ScalingStep is one breakpoint of the profit-scaling table.
type ScalingStep struct {
	ProfitRatio decimal.Decimal
	Multiplier  decimal.Decimal
}

// ScalingTable maps realized profit ratio to a sizing multiplier. The
// lookup picks the highest breakpoint at or below the ratio, so bands are
// data-driven rather than nested conditionals.
type ScalingTable struct {
	steps []ScalingStep
}

// NewScalingTable builds a table from steps, sorting by breakpoint.
func NewScalingTable(steps []ScalingStep) ScalingTable {
	sorted := make([]ScalingStep, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ProfitRatio.LessThan(sorted[j].ProfitRatio)
	})
	return ScalingTable{steps: sorted}
}

// DefaultScalingTable returns the documented default:
// flat until +10% profit, 1.5x to +25%, 2.0x beyond.
func DefaultScalingTable() ScalingTable {
	return NewScalingTable([]ScalingStep{
		{ProfitRatio: decimal.Zero, Multiplier: decimal.NewFromInt(1)},
		{ProfitRatio: decimal.RequireFromString("0.10"), Multiplier: decimal.RequireFromString("1.5")},
		{ProfitRatio: decimal.RequireFromString("0.25"), Multiplier: decimal.RequireFromString("2.0")},
	})
}

// Multiplier returns the scaling factor for the given profit ratio.
// Ratios below the first breakpoint (including drawdowns) scale 1.0x.
func (t ScalingTable) Multiplier(profitRatio decimal.Decimal) decimal.Decimal {
	mult := decimal.NewFromInt(1)
	for _, step := range t.steps {
		if profitRatio.GreaterThanOrEqual(step.ProfitRatio) {
			mult = step.Multiplier
		} else {
			break
		}
	}
	return mult
}

// Len returns the number of breakpoints.
func (t ScalingTable) Len() int { return len(t.steps) }
