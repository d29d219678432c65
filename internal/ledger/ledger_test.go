package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	entryTime = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	exitTime  = time.Date(2024, 6, 5, 14, 30, 0, 0, time.UTC)
)

func longOrder(id string, shares int64) types.Order {
	n := decimal.NewFromInt(shares)
	return types.Order{
		ID:         id,
		Symbol:     "RELIANCE",
		Side:       types.SideBuy,
		Class:      types.ClassEquity,
		Shares:     shares,
		EntryPrice: decimal.NewFromInt(500),
		StopLoss:   decimal.NewFromInt(485),
		Target:     decimal.NewFromInt(530),
		Notional:   decimal.NewFromInt(500).Mul(n),
		RiskAmount: decimal.NewFromInt(15).Mul(n),
	}
}

func TestOpen_LongDebitsCash(t *testing.T) {
	l := New(decimal.NewFromInt(100000))

	pos, err := l.Open(longOrder("pos-1", 100), Fill{
		RefPrice:  decimal.NewFromInt(500),
		FillPrice: decimal.RequireFromString("500.05"),
		Costs:     decimal.NewFromInt(30),
		Slippage:  decimal.NewFromInt(5),
		Time:      entryTime,
	})
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, int64(100), pos.Shares)
	assert.True(t, pos.EntryPrice.Equal(decimal.RequireFromString("500.05")))
	assert.True(t, pos.EntryRefPrice.Equal(decimal.NewFromInt(500)))

	// 100000 - 50005 - 30
	assert.True(t, l.Cash().Equal(decimal.NewFromInt(49965)), "Cash = %s", l.Cash())
	assert.Equal(t, 1, l.OpenCount())
}

func TestOpen_ShortCreditsProceeds(t *testing.T) {
	l := New(decimal.NewFromInt(100000))

	order := longOrder("pos-1", 100)
	order.Side = types.SideSell
	l.Open(order, Fill{
		RefPrice:  decimal.NewFromInt(500),
		FillPrice: decimal.RequireFromString("499.95"),
		Costs:     decimal.NewFromInt(30),
		Slippage:  decimal.NewFromInt(5),
		Time:      entryTime,
	})

	// 100000 + 49995 - 30: the sale proceeds land in cash.
	assert.True(t, l.Cash().Equal(decimal.NewFromInt(149965)), "Cash = %s", l.Cash())
}

func TestClose_LongPnLIdentity(t *testing.T) {
	l := New(decimal.NewFromInt(100000))

	l.Open(longOrder("pos-1", 100), Fill{
		RefPrice:  decimal.NewFromInt(500),
		FillPrice: decimal.RequireFromString("500.05"),
		Costs:     decimal.NewFromInt(30),
		Slippage:  decimal.NewFromInt(5),
		Time:      entryTime,
	})

	trade, err := l.Close("pos-1", Fill{
		RefPrice:  decimal.NewFromInt(520),
		FillPrice: decimal.RequireFromString("519.95"),
		Costs:     decimal.NewFromInt(35),
		Slippage:  decimal.NewFromInt(5),
		Time:      exitTime,
	}, types.ExitTarget)
	require.NoError(t, err)

	// Gross on reference prices: (520 - 500) * 100.
	assert.True(t, trade.GrossPnL.Equal(decimal.NewFromInt(2000)), "GrossPnL = %s", trade.GrossPnL)

	// The decomposition must hold exactly.
	want := trade.GrossPnL.
		Sub(trade.EntryCosts).
		Sub(trade.ExitCosts).
		Sub(trade.EntrySlippage).
		Sub(trade.ExitSlippage)
	assert.True(t, trade.NetPnL.Equal(want), "NetPnL = %s, decomposition = %s", trade.NetPnL, want)
	assert.True(t, trade.NetPnL.Equal(decimal.NewFromInt(1925)), "NetPnL = %s", trade.NetPnL)

	// Final cash equals initial plus net PnL: nothing leaks.
	assert.True(t, l.Cash().Equal(decimal.NewFromInt(101925)), "Cash = %s", l.Cash())
	assert.Equal(t, 0, l.OpenCount())
	assert.Len(t, l.TradeLog(), 1)
}

func TestClose_ShortPnLIdentity(t *testing.T) {
	l := New(decimal.NewFromInt(100000))

	order := longOrder("pos-1", 100)
	order.Side = types.SideSell
	l.Open(order, Fill{
		RefPrice:  decimal.NewFromInt(500),
		FillPrice: decimal.RequireFromString("499.95"),
		Costs:     decimal.NewFromInt(30),
		Slippage:  decimal.NewFromInt(5),
		Time:      entryTime,
	})

	// Price fell to 480: the short gains.
	trade, err := l.Close("pos-1", Fill{
		RefPrice:  decimal.NewFromInt(480),
		FillPrice: decimal.RequireFromString("480.05"),
		Costs:     decimal.NewFromInt(28),
		Slippage:  decimal.NewFromInt(5),
		Time:      exitTime,
	}, types.ExitTarget)
	require.NoError(t, err)

	assert.True(t, trade.GrossPnL.Equal(decimal.NewFromInt(2000)), "GrossPnL = %s", trade.GrossPnL)
	assert.True(t, trade.NetPnL.Equal(decimal.NewFromInt(1932)), "NetPnL = %s", trade.NetPnL)

	// 100000 + 1932: buyback paid from the entry proceeds.
	assert.True(t, l.Cash().Equal(decimal.NewFromInt(101932)), "Cash = %s", l.Cash())
}

func TestOpen_RejectsDuplicateID(t *testing.T) {
	l := New(decimal.NewFromInt(100000))

	fill := Fill{
		RefPrice:  decimal.NewFromInt(500),
		FillPrice: decimal.NewFromInt(500),
		Time:      entryTime,
	}
	_, err := l.Open(longOrder("pos-1", 100), fill)
	require.NoError(t, err)

	// A colliding ID must not overwrite the live position or move cash.
	pos, err := l.Open(longOrder("pos-1", 50), fill)
	assert.Nil(t, pos)
	assert.True(t, errors.Is(err, types.ErrDuplicateOrder), "err = %v", err)

	assert.Equal(t, 1, l.OpenCount())
	assert.True(t, l.Cash().Equal(decimal.NewFromInt(50000)), "Cash = %s", l.Cash())

	kept, ok := l.Position("pos-1")
	require.True(t, ok)
	assert.Equal(t, int64(100), kept.Shares, "the original position must survive")
}

func TestClose_UnknownPosition(t *testing.T) {
	l := New(decimal.NewFromInt(100000))

	_, err := l.Close("missing", Fill{
		RefPrice:  decimal.NewFromInt(100),
		FillPrice: decimal.NewFromInt(100),
		Time:      exitTime,
	}, types.ExitStopLoss)
	assert.True(t, errors.Is(err, types.ErrUnknownSymbol))
}

func TestSnapshot_LongAndShortValues(t *testing.T) {
	l := New(decimal.NewFromInt(100000))

	short := longOrder("short-1", 100)
	short.Side = types.SideSell
	l.Open(short, Fill{
		RefPrice:  decimal.NewFromInt(500),
		FillPrice: decimal.NewFromInt(500),
		Time:      entryTime,
	})

	// Mark down to 490: a short is a 49000 buyback liability.
	l.MarkToMarket(map[string]decimal.Decimal{"RELIANCE": decimal.NewFromInt(490)})
	point := l.Snapshot(exitTime)

	assert.True(t, point.Cash.Equal(decimal.NewFromInt(150000)), "Cash = %s", point.Cash)
	assert.True(t, point.PositionsValue.Equal(decimal.NewFromInt(-49000)), "PositionsValue = %s", point.PositionsValue)
	// 150000 - 49000: the 10-point drop gained 1000 over the start.
	assert.True(t, point.TotalEquity.Equal(decimal.NewFromInt(101000)), "TotalEquity = %s", point.TotalEquity)
	assert.True(t, l.Equity().Equal(point.TotalEquity))
}

func TestMarkToMarket_IgnoresMissingAndBadPrices(t *testing.T) {
	l := New(decimal.NewFromInt(100000))
	l.Open(longOrder("pos-1", 10), Fill{
		RefPrice:  decimal.NewFromInt(500),
		FillPrice: decimal.NewFromInt(500),
		Time:      entryTime,
	})

	l.MarkToMarket(map[string]decimal.Decimal{"OTHER": decimal.NewFromInt(1)})
	pos, ok := l.Position("pos-1")
	require.True(t, ok)
	assert.True(t, pos.MarkPrice.Equal(decimal.NewFromInt(500)), "missing symbol must keep last mark")

	l.MarkToMarket(map[string]decimal.Decimal{"RELIANCE": decimal.Zero})
	pos, _ = l.Position("pos-1")
	assert.True(t, pos.MarkPrice.Equal(decimal.NewFromInt(500)), "non-positive price must keep last mark")
}

func TestOpenPositions_SortedByID(t *testing.T) {
	l := New(decimal.NewFromInt(100000))
	for _, id := range []string{"c", "a", "b"} {
		order := longOrder(id, 1)
		l.Open(order, Fill{
			RefPrice:  decimal.NewFromInt(500),
			FillPrice: decimal.NewFromInt(500),
			Time:      entryTime,
		})
	}

	positions := l.OpenPositions()
	require.Len(t, positions, 3)
	assert.Equal(t, "a", positions[0].ID)
	assert.Equal(t, "b", positions[1].ID)
	assert.Equal(t, "c", positions[2].ID)
}

func TestRestore_NoCashMovement(t *testing.T) {
	l := New(decimal.NewFromInt(100000))

	l.Restore(types.Position{
		ID:        "pos-1",
		Symbol:    "RELIANCE",
		Side:      types.SideBuy,
		Shares:    10,
		MarkPrice: decimal.NewFromInt(500),
	})

	assert.True(t, l.Cash().Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, 1, l.OpenCount())
	assert.True(t, l.Equity().Equal(decimal.NewFromInt(105000)))
}

func TestSetCash(t *testing.T) {
	l := New(decimal.NewFromInt(100000))
	l.SetCash(decimal.RequireFromString("98765.43"))
	assert.True(t, l.Cash().Equal(decimal.RequireFromString("98765.43")))
}
