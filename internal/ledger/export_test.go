package ledger

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrades() []types.Trade {
	return []types.Trade{
		{
			ID:            "t1",
			Symbol:        "RELIANCE",
			Side:          types.SideBuy,
			Shares:        100,
			EntryPrice:    decimal.RequireFromString("500.05"),
			ExitPrice:     decimal.RequireFromString("519.95"),
			EntryCosts:    decimal.NewFromInt(30),
			ExitCosts:     decimal.NewFromInt(35),
			EntrySlippage: decimal.NewFromInt(5),
			ExitSlippage:  decimal.NewFromInt(5),
			GrossPnL:      decimal.NewFromInt(2000),
			NetPnL:        decimal.NewFromInt(1925),
			ExitReason:    types.ExitTarget,
			EntryTime:     time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC),
			ExitTime:      time.Date(2024, 6, 5, 14, 0, 0, 0, time.UTC),
		},
		{
			ID:         "t2",
			Symbol:     "TCS",
			Side:       types.SideSell,
			Shares:     50,
			EntryPrice: decimal.NewFromInt(4000),
			ExitPrice:  decimal.NewFromInt(4100),
			GrossPnL:   decimal.NewFromInt(-5000),
			NetPnL:     decimal.NewFromInt(-5000),
			ExitReason: types.ExitStopLoss,
			EntryTime:  time.Date(2024, 6, 4, 10, 0, 0, 0, time.UTC),
			ExitTime:   time.Date(2024, 6, 6, 11, 0, 0, 0, time.UTC),
		},
	}
}

func TestWriteTradeLog_Deterministic(t *testing.T) {
	trades := sampleTrades()

	var a, b bytes.Buffer
	require.NoError(t, WriteTradeLog(&a, trades))
	require.NoError(t, WriteTradeLog(&b, trades))

	assert.True(t, bytes.Equal(a.Bytes(), b.Bytes()), "two exports of the same trades must be byte-identical")
}

func TestWriteTradeLog_Content(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTradeLog(&buf, sampleTrades()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	assert.Equal(t, "entry_date,exit_date,symbol,side,shares,entry_price,exit_price,total_costs,total_slippage,net_pnl,exit_reason", lines[0])
	assert.Equal(t, "2024-06-03,2024-06-05,RELIANCE,BUY,100,500.05,519.95,65,10,1925,target", lines[1])
	assert.Equal(t, "2024-06-04,2024-06-06,TCS,SELL,50,4000,4100,0,0,-5000,stop_loss", lines[2])
}

func TestWriteTradeLog_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTradeLog(&buf, nil))
	assert.Equal(t, "entry_date,exit_date,symbol,side,shares,entry_price,exit_price,total_costs,total_slippage,net_pnl,exit_reason\n", buf.String())
}

func TestWriteEquityCurve(t *testing.T) {
	curve := []types.EquityPoint{
		{
			Timestamp:      time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
			Cash:           decimal.NewFromInt(50000),
			PositionsValue: decimal.NewFromInt(51000),
			TotalEquity:    decimal.NewFromInt(101000),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteEquityCurve(&buf, curve))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "timestamp,cash,positions_value,total_equity", lines[0])
	assert.Equal(t, "2024-06-03,50000,51000,101000", lines[1])
}
