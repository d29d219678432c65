package risk

import (
	"sort"

	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// Band is one tier of the drawdown ladder. A band applies when the
// drawdown is at or above Threshold and below the next band's threshold.
type Band struct {
	Threshold decimal.Decimal
	State     types.RiskStateName
	SizeScale decimal.Decimal // multiplier on proposed position sizes
	AllowNew  bool
}

// BandTable resolves a drawdown ratio to its tier. Bands are kept sorted
// ascending by threshold.
type BandTable struct {
	bands []Band
}

// NewBandTable builds a table from the given bands.
func NewBandTable(bands []Band) BandTable {
	sorted := make([]Band, len(bands))
	copy(sorted, bands)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Threshold.LessThan(sorted[j].Threshold)
	})
	return BandTable{bands: sorted}
}

// DefaultBandTable returns the documented ladder:
//
//	< 1.0%        NORMAL    full size
//	1.0% - 1.5%   CAUTION   full size
//	1.5% - 1.8%   WARNING   half size
//	1.8% - 2.0%   CRITICAL  quarter size
//	>= 2.0%       HALTED    no new entries
func DefaultBandTable() BandTable {
	one := decimal.NewFromInt(1)
	return NewBandTable([]Band{
		{Threshold: decimal.Zero, State: types.StateNormal, SizeScale: one, AllowNew: true},
		{Threshold: decimal.RequireFromString("0.010"), State: types.StateCaution, SizeScale: one, AllowNew: true},
		{Threshold: decimal.RequireFromString("0.015"), State: types.StateWarning, SizeScale: decimal.RequireFromString("0.5"), AllowNew: true},
		{Threshold: decimal.RequireFromString("0.018"), State: types.StateCritical, SizeScale: decimal.RequireFromString("0.25"), AllowNew: true},
		{Threshold: decimal.RequireFromString("0.020"), State: types.StateHalted, SizeScale: decimal.Zero, AllowNew: false},
	})
}

// Resolve returns the band for a drawdown ratio. The boundary belongs to
// the higher band: a drawdown of exactly 2.0% resolves to HALTED.
func (t BandTable) Resolve(drawdown decimal.Decimal) Band {
	band := t.bands[0]
	for _, b := range t.bands {
		if drawdown.GreaterThanOrEqual(b.Threshold) {
			band = b
		} else {
			break
		}
	}
	return band
}
