package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/sdayal/papertrade/internal/costs"
	"github.com/sdayal/papertrade/internal/ledger"
	"github.com/sdayal/papertrade/internal/risk"
	"github.com/sdayal/papertrade/internal/sizing"
	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tradingDay = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

// zeroCostModel keeps the arithmetic in engine tests exact: no costs, no
// slippage.
func zeroCostModel() *costs.Model {
	return costs.NewModel(costs.RateTable{}, costs.SlippageTable{
		TierBps: map[types.LiquidityTier]decimal.Decimal{
			types.TierLiquid: decimal.Zero,
		},
	})
}

func newTestEngine(initial int64) *Engine {
	capital := decimal.NewFromInt(initial)
	return New(
		Config{InitialCapital: capital, StatsWindow: 50},
		sizing.NewSizer(sizing.DefaultConfig()),
		risk.NewManager(risk.DefaultConfig(), capital, nil),
		ledger.New(capital),
		zeroCostModel(),
		nil, nil, nil,
	)
}

func buySignal(symbol string, entry, stop, target int64) types.Signal {
	return types.Signal{
		ID:            "sig-" + symbol,
		Symbol:        symbol,
		Side:          types.SideBuy,
		Class:         types.ClassEquity,
		LiquidityTier: types.TierLiquid,
		EntryPrice:    decimal.NewFromInt(entry),
		StopLoss:      decimal.NewFromInt(stop),
		Target:        decimal.NewFromInt(target),
		Timestamp:     tradingDay,
	}
}

func TestEngine_HandleSignal_OpensPosition(t *testing.T) {
	eng := newTestEngine(100000)

	// No history: conservative 10% of 100000 at 100 per share.
	pos, err := eng.HandleSignal(buySignal("RELIANCE", 100, 95, 120), tradingDay, decimal.Zero)
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, int64(100), pos.Shares)
	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, pos.RiskAmount.Equal(decimal.NewFromInt(500)))
	assert.True(t, eng.Ledger().Cash().Equal(decimal.NewFromInt(90000)))
	assert.True(t, eng.Risk().TotalOpenRisk().Equal(decimal.NewFromInt(500)))
}

func TestEngine_HandleSignal_ResizesToBudget(t *testing.T) {
	eng := newTestEngine(100000)

	// A 50-point stop on 100 shares wants 5000 risk; the 2% budget only
	// has 2000, so the order shrinks to 40 shares.
	pos, err := eng.HandleSignal(buySignal("RELIANCE", 100, 50, 200), tradingDay, decimal.Zero)
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, int64(40), pos.Shares)
	assert.True(t, pos.RiskAmount.Equal(decimal.NewFromInt(2000)))
}

func TestEngine_HandleSignal_RejectsWhenHalted(t *testing.T) {
	eng := newTestEngine(100000)
	eng.Risk().ForceHalt("test")

	pos, err := eng.HandleSignal(buySignal("RELIANCE", 100, 95, 120), tradingDay, decimal.Zero)
	assert.Nil(t, pos)
	assert.True(t, errors.Is(err, types.ErrTradingHalted))
	assert.Equal(t, 0, eng.Ledger().OpenCount())
}

func TestEngine_HandleSignal_ScaledByDrawdownBand(t *testing.T) {
	eng := newTestEngine(100000)

	// 1.6% drawdown puts the account in WARNING: half size.
	eng.Risk().Evaluate(decimal.NewFromInt(98400))

	pos, err := eng.HandleSignal(buySignal("RELIANCE", 100, 95, 120), tradingDay, decimal.Zero)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, int64(50), pos.Shares)
}

func TestEngine_HandleSignal_BudgetExhaustedRejects(t *testing.T) {
	eng := newTestEngine(100000)
	eng.Risk().AddOpenRisk("existing", decimal.NewFromInt(2000))

	pos, err := eng.HandleSignal(buySignal("RELIANCE", 100, 95, 120), tradingDay, decimal.Zero)
	assert.Nil(t, pos)
	assert.True(t, errors.Is(err, types.ErrRiskLimitExceeded))
}

func TestEngine_HandleSignal_RejectsDuplicateID(t *testing.T) {
	eng := newTestEngine(100000)

	sig := buySignal("RELIANCE", 100, 95, 120)
	pos, err := eng.HandleSignal(sig, tradingDay, decimal.Zero)
	require.NoError(t, err)
	require.NotNil(t, pos)

	// Replaying the same signal must not double-book the symbol or move
	// cash a second time.
	dup, err := eng.HandleSignal(sig, tradingDay, decimal.Zero)
	assert.Nil(t, dup)
	assert.True(t, errors.Is(err, types.ErrDuplicateOrder), "err = %v", err)

	assert.Equal(t, 1, eng.Ledger().OpenCount())
	assert.True(t, eng.Ledger().Cash().Equal(decimal.NewFromInt(90000)), "Cash = %s", eng.Ledger().Cash())
	assert.True(t, eng.Ledger().Equity().Equal(decimal.NewFromInt(100000)), "Equity = %s", eng.Ledger().Equity())
	assert.True(t, eng.Risk().TotalOpenRisk().Equal(decimal.NewFromInt(500)))
	assert.False(t, eng.Risk().Halted())
}

func TestEngine_ClosePosition(t *testing.T) {
	eng := newTestEngine(100000)
	pos, err := eng.HandleSignal(buySignal("RELIANCE", 100, 95, 120), tradingDay, decimal.Zero)
	require.NoError(t, err)

	trade, err := eng.ClosePosition(pos.ID, decimal.NewFromInt(110), tradingDay.Add(24*time.Hour), types.ExitTarget, decimal.Zero)
	require.NoError(t, err)

	assert.True(t, trade.GrossPnL.Equal(decimal.NewFromInt(1000)))
	assert.True(t, trade.NetPnL.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, types.ExitTarget, trade.ExitReason)
	assert.True(t, eng.Ledger().Cash().Equal(decimal.NewFromInt(101000)))
	assert.True(t, eng.Risk().TotalOpenRisk().IsZero(), "risk budget must be released on exit")
}

func TestEngine_ClosePosition_AllowedWhileHalted(t *testing.T) {
	eng := newTestEngine(100000)
	pos, err := eng.HandleSignal(buySignal("RELIANCE", 100, 95, 120), tradingDay, decimal.Zero)
	require.NoError(t, err)

	eng.Risk().ForceHalt("test")

	// A halt blocks entries, never exits.
	_, err = eng.ClosePosition(pos.ID, decimal.NewFromInt(95), tradingDay.Add(24*time.Hour), types.ExitStopLoss, decimal.Zero)
	assert.NoError(t, err)
	assert.Equal(t, 0, eng.Ledger().OpenCount())
}

func TestEngine_MarkAndSnapshot_HaltsOnDrawdown(t *testing.T) {
	eng := newTestEngine(100000)
	_, err := eng.HandleSignal(buySignal("RELIANCE", 100, 50, 200), tradingDay, decimal.Zero)
	require.NoError(t, err)

	// 40 shares marked from 100 down to 40: equity 96000 + 1600 = 97600,
	// a 2.4% drawdown from the 100000 peak.
	point := eng.MarkAndSnapshot(map[string]decimal.Decimal{"RELIANCE": decimal.NewFromInt(40)}, tradingDay)

	assert.True(t, point.TotalEquity.Equal(decimal.NewFromInt(97600)), "TotalEquity = %s", point.TotalEquity)
	assert.True(t, eng.Risk().Halted())

	pos, err := eng.HandleSignal(buySignal("TCS", 4000, 3900, 4200), tradingDay, decimal.Zero)
	assert.Nil(t, pos)
	assert.True(t, errors.Is(err, types.ErrTradingHalted))
}

func TestEngine_ForceCloseOnHalt_FlattensStoplessPositions(t *testing.T) {
	capital := decimal.NewFromInt(100000)
	eng := New(
		Config{InitialCapital: capital, StatsWindow: 50, ForceCloseOnHalt: true},
		sizing.NewSizer(sizing.DefaultConfig()),
		risk.NewManager(risk.DefaultConfig(), capital, nil),
		ledger.New(capital),
		zeroCostModel(),
		nil, nil, nil,
	)

	protected, err := eng.HandleSignal(buySignal("RELIANCE", 100, 95, 120), tradingDay, decimal.Zero)
	require.NoError(t, err)

	// No stop: 100 risk per share, resized to the 1500 budget headroom.
	bare, err := eng.HandleSignal(buySignal("TCS", 100, 0, 0), tradingDay, decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, int64(15), bare.Shares)

	// RELIANCE marked down to 80: 88500 cash + 8000 + 1500 = 98000, exactly
	// the 2% halt threshold.
	point := eng.MarkAndSnapshot(map[string]decimal.Decimal{"RELIANCE": decimal.NewFromInt(80)}, tradingDay)
	require.True(t, point.TotalEquity.Equal(decimal.NewFromInt(98000)), "TotalEquity = %s", point.TotalEquity)
	require.True(t, eng.Risk().Halted())

	// The stop-less position is flattened at its mark; the protected one
	// stays under the exit monitor.
	trades := eng.Ledger().TradeLog()
	require.Len(t, trades, 1)
	assert.Equal(t, "TCS", trades[0].Symbol)
	assert.Equal(t, types.ExitForcedHalt, trades[0].ExitReason)
	assert.True(t, trades[0].NetPnL.IsZero(), "NetPnL = %s", trades[0].NetPnL)

	assert.Equal(t, 1, eng.Ledger().OpenCount())
	_, ok := eng.Ledger().Position(protected.ID)
	assert.True(t, ok, "stop-protected position must survive the halt")
}

func TestEngine_Flatten(t *testing.T) {
	eng := newTestEngine(100000)
	p1, err := eng.HandleSignal(buySignal("RELIANCE", 100, 95, 120), tradingDay, decimal.Zero)
	require.NoError(t, err)
	_, err = eng.HandleSignal(buySignal("TCS", 200, 190, 240), tradingDay, decimal.Zero)
	require.NoError(t, err)

	// Only one symbol has a price: the other position keeps running.
	closed := eng.Flatten(map[string]decimal.Decimal{"RELIANCE": decimal.NewFromInt(101)}, tradingDay, types.ExitEmergencyStop)

	require.Len(t, closed, 1)
	assert.Equal(t, p1.ID, closed[0].ID)
	assert.Equal(t, types.ExitEmergencyStop, closed[0].ExitReason)
	assert.Equal(t, 1, eng.Ledger().OpenCount())
}

func TestEngine_DailyReport(t *testing.T) {
	eng := newTestEngine(100000)
	_, err := eng.HandleSignal(buySignal("RELIANCE", 100, 95, 120), tradingDay, decimal.Zero)
	require.NoError(t, err)

	report := eng.DailyReport(tradingDay, decimal.NewFromInt(100000), 1)

	assert.True(t, report.Capital.Equal(decimal.NewFromInt(100000)))
	assert.True(t, report.DailyPnL.IsZero())
	assert.Equal(t, 1, report.OpenPositions)
	assert.Equal(t, 1, report.TradesToday)
	assert.Equal(t, types.StateNormal, report.RiskState)
}

func TestCheckExit(t *testing.T) {
	long := types.Position{
		Side:     types.SideBuy,
		StopLoss: decimal.NewFromInt(95),
		Target:   decimal.NewFromInt(120),
	}
	short := types.Position{
		Side:     types.SideSell,
		StopLoss: decimal.NewFromInt(105),
		Target:   decimal.NewFromInt(80),
	}

	bar := func(low, high int64) types.Bar {
		return types.Bar{
			Low:  decimal.NewFromInt(low),
			High: decimal.NewFromInt(high),
		}
	}

	tests := []struct {
		name   string
		pos    types.Position
		bar    types.Bar
		price  int64
		reason types.ExitReason
		hit    bool
	}{
		{"long stop", long, bar(94, 100), 95, types.ExitStopLoss, true},
		{"long target", long, bar(100, 121), 120, types.ExitTarget, true},
		{"long no exit", long, bar(96, 119), 0, "", false},
		// A bar touching both fills the stop: the conservative outcome.
		{"long both sides", long, bar(94, 121), 95, types.ExitStopLoss, true},
		{"short stop", short, bar(100, 106), 105, types.ExitStopLoss, true},
		{"short target", short, bar(79, 100), 80, types.ExitTarget, true},
		{"short both sides", short, bar(79, 106), 105, types.ExitStopLoss, true},
		{"short no exit", short, bar(81, 104), 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, reason, hit := CheckExit(tt.pos, tt.bar)
			assert.Equal(t, tt.hit, hit)
			if tt.hit {
				assert.True(t, price.Equal(decimal.NewFromInt(tt.price)), "price = %s", price)
				assert.Equal(t, tt.reason, reason)
			}
		})
	}
}

func TestEngine_RefreshStats(t *testing.T) {
	eng := newTestEngine(100000)

	pos, err := eng.HandleSignal(buySignal("RELIANCE", 100, 95, 120), tradingDay, decimal.Zero)
	require.NoError(t, err)
	_, err = eng.ClosePosition(pos.ID, decimal.NewFromInt(110), tradingDay.Add(24*time.Hour), types.ExitTarget, decimal.Zero)
	require.NoError(t, err)

	eng.RefreshStats()
	stats := eng.Stats()

	assert.Equal(t, 1, stats.SampleCount)
	assert.True(t, stats.WinRate.Equal(decimal.NewFromInt(1)))
}
