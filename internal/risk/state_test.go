package risk

import (
	"testing"

	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

func TestBandTable_Resolve(t *testing.T) {
	table := DefaultBandTable()

	tests := []struct {
		drawdown string
		want     types.RiskStateName
	}{
		{"0", types.StateNormal},
		{"0.005", types.StateNormal},
		{"0.00999", types.StateNormal},
		{"0.010", types.StateCaution}, // boundary belongs to the higher band
		{"0.0125", types.StateCaution},
		{"0.01499", types.StateCaution},
		{"0.015", types.StateWarning},
		{"0.0179", types.StateWarning},
		{"0.018", types.StateCritical},
		{"0.01999", types.StateCritical},
		{"0.020", types.StateHalted}, // exactly 2.0% halts, inclusive
		{"0.05", types.StateHalted},
	}

	for _, tt := range tests {
		band := table.Resolve(decimal.RequireFromString(tt.drawdown))
		if band.State != tt.want {
			t.Errorf("Resolve(%s) = %s, want %s", tt.drawdown, band.State, tt.want)
		}
	}
}

func TestBandTable_SizeScales(t *testing.T) {
	table := DefaultBandTable()

	tests := []struct {
		drawdown string
		scale    string
		allowNew bool
	}{
		{"0.005", "1", true},
		{"0.012", "1", true},
		{"0.016", "0.5", true},
		{"0.019", "0.25", true},
		{"0.021", "0", false},
	}

	for _, tt := range tests {
		band := table.Resolve(decimal.RequireFromString(tt.drawdown))
		if !band.SizeScale.Equal(decimal.RequireFromString(tt.scale)) {
			t.Errorf("Resolve(%s).SizeScale = %s, want %s", tt.drawdown, band.SizeScale, tt.scale)
		}
		if band.AllowNew != tt.allowNew {
			t.Errorf("Resolve(%s).AllowNew = %v, want %v", tt.drawdown, band.AllowNew, tt.allowNew)
		}
	}
}

func TestNewBandTable_SortsThresholds(t *testing.T) {
	table := NewBandTable([]Band{
		{Threshold: decimal.RequireFromString("0.02"), State: types.StateHalted},
		{Threshold: decimal.Zero, State: types.StateNormal, SizeScale: decimal.NewFromInt(1)},
		{Threshold: decimal.RequireFromString("0.01"), State: types.StateCaution, SizeScale: decimal.NewFromInt(1)},
	})

	if got := table.Resolve(decimal.RequireFromString("0.005")).State; got != types.StateNormal {
		t.Errorf("Resolve(0.005) = %s, want NORMAL", got)
	}
	if got := table.Resolve(decimal.RequireFromString("0.015")).State; got != types.StateCaution {
		t.Errorf("Resolve(0.015) = %s, want CAUTION", got)
	}
	if got := table.Resolve(decimal.RequireFromString("0.03")).State; got != types.StateHalted {
		t.Errorf("Resolve(0.03) = %s, want HALTED", got)
	}
}
