package sizing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestScalingTable_Multiplier(t *testing.T) {
	table := DefaultScalingTable()

	tests := []struct {
		ratio string
		want  string
	}{
		{"-0.05", "1"}, // drawdown scales flat
		{"0", "1"},
		{"0.05", "1"},
		{"0.0999", "1"},
		{"0.10", "1.5"}, // breakpoint is inclusive
		{"0.20", "1.5"},
		{"0.25", "2.0"},
		{"0.60", "2.0"},
	}

	for _, tt := range tests {
		got := table.Multiplier(decimal.RequireFromString(tt.ratio))
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("Multiplier(%s) = %s, want %s", tt.ratio, got, tt.want)
		}
	}
}

func TestNewScalingTable_SortsBreakpoints(t *testing.T) {
	table := NewScalingTable([]ScalingStep{
		{ProfitRatio: decimal.RequireFromString("0.25"), Multiplier: decimal.NewFromInt(2)},
		{ProfitRatio: decimal.Zero, Multiplier: decimal.NewFromInt(1)},
		{ProfitRatio: decimal.RequireFromString("0.10"), Multiplier: decimal.RequireFromString("1.5")},
	})

	if table.Len() != 3 {
		t.Fatalf("Len = %d, want 3", table.Len())
	}
	got := table.Multiplier(decimal.RequireFromString("0.15"))
	if !got.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Multiplier(0.15) = %s, want 1.5", got)
	}
}
