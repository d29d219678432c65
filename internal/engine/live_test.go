package engine

import (
	"context"
	"testing"
	"time"

	"github.com/sdayal/papertrade/internal/alerting"
	"github.com/sdayal/papertrade/internal/feed"
	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLiveSession wires a session to an in-memory quoter. The poll
// interval is huge on purpose: tests drive handleLiveSignal and
// pollPositions directly instead of racing a ticker.
func newLiveSession(eng *Engine, q *feed.MemoryQuoter, fetchTimeout time.Duration, maxTimeouts int) (*LiveSession, *feed.PollingSource) {
	polling := feed.NewPollingSource(q, 1000, fetchTimeout, nil)
	session := NewLiveSession(
		LiveConfig{PollInterval: time.Hour, MaxConsecutiveTimeouts: maxTimeouts},
		eng, polling, make(chan types.Signal), nil, nil, nil,
	)
	return session, polling
}

func TestLiveSession_StartStop(t *testing.T) {
	eng := newTestEngine(100000)
	session, _ := newLiveSession(eng, feed.NewMemoryQuoter(), time.Second, 3)

	ctx := context.Background()
	require.NoError(t, session.Start(ctx))
	assert.Error(t, session.Start(ctx), "second start must be refused")

	require.NoError(t, session.Stop(ctx))
	assert.NoError(t, session.Stop(ctx), "repeated stop is a no-op")
}

func TestLiveSession_HandleLiveSignal_ReAnchorsToLivePrice(t *testing.T) {
	eng := newTestEngine(100000)
	q := feed.NewMemoryQuoter()
	q.SetPrice("RELIANCE", decimal.NewFromInt(102), time.Now())

	session, _ := newLiveSession(eng, q, time.Second, 3)

	// The signal was cut at 100; the market has moved to 102. Entry
	// re-anchors, keeping the 5-point stop and 20-point target distances.
	session.handleLiveSignal(context.Background(), buySignal("RELIANCE", 100, 95, 120))

	positions := eng.Ledger().OpenPositions()
	require.Len(t, positions, 1)
	pos := positions[0]

	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromInt(102)), "EntryPrice = %s", pos.EntryPrice)
	assert.True(t, pos.StopLoss.Equal(decimal.NewFromInt(97)), "StopLoss = %s", pos.StopLoss)
	assert.True(t, pos.Target.Equal(decimal.NewFromInt(122)), "Target = %s", pos.Target)
}

func TestLiveSession_HandleLiveSignal_NoQuoteNoEntry(t *testing.T) {
	eng := newTestEngine(100000)
	session, _ := newLiveSession(eng, feed.NewMemoryQuoter(), time.Second, 3)

	// No quote has ever been seen for the symbol: the entry is dropped.
	session.handleLiveSignal(context.Background(), buySignal("RELIANCE", 100, 95, 120))

	assert.Equal(t, 0, eng.Ledger().OpenCount())
}

func TestLiveSession_PollPositions_StopExit(t *testing.T) {
	eng := newTestEngine(100000)
	_, err := eng.HandleSignal(buySignal("RELIANCE", 100, 95, 120), tradingDay, decimal.Zero)
	require.NoError(t, err)

	q := feed.NewMemoryQuoter()
	q.SetPrice("RELIANCE", decimal.NewFromInt(94), time.Now())

	session, _ := newLiveSession(eng, q, time.Second, 3)
	session.pollPositions(context.Background())

	assert.Equal(t, 0, eng.Ledger().OpenCount())
	trades := eng.Ledger().TradeLog()
	require.Len(t, trades, 1)
	assert.Equal(t, types.ExitStopLoss, trades[0].ExitReason)
	// 100 shares filled at the 95 stop, not the 94 print.
	assert.True(t, trades[0].NetPnL.Equal(decimal.NewFromInt(-500)), "NetPnL = %s", trades[0].NetPnL)
}

func TestLiveSession_FeedDegradedHaltsEntries(t *testing.T) {
	eng := newTestEngine(100000)
	_, err := eng.HandleSignal(buySignal("RELIANCE", 100, 95, 120), tradingDay, decimal.Zero)
	require.NoError(t, err)

	q := feed.NewMemoryQuoter()
	q.SetPrice("RELIANCE", decimal.NewFromInt(100), time.Now())
	q.SetDelay(200 * time.Millisecond)

	session, polling := newLiveSession(eng, q, 20*time.Millisecond, 2)
	ctx := context.Background()

	session.pollPositions(ctx)
	assert.Equal(t, 1, polling.ConsecutiveTimeouts())
	assert.False(t, eng.Risk().Halted(), "one timeout must not halt")

	session.pollPositions(ctx)
	assert.True(t, eng.Risk().Halted(), "timeout streak must halt entries")

	// Exits keep running on the halt; only new entries are refused.
	_, err = eng.HandleSignal(buySignal("TCS", 4000, 3900, 4300), tradingDay, decimal.Zero)
	assert.ErrorIs(t, err, types.ErrTradingHalted)
	assert.Equal(t, 1, eng.Ledger().OpenCount())
}

func TestLiveSession_StopDeliversDailyReport(t *testing.T) {
	eng := newTestEngine(100000)
	mock := alerting.NewMockAlerter()
	polling := feed.NewPollingSource(feed.NewMemoryQuoter(), 1000, time.Second, nil)
	session := NewLiveSession(
		LiveConfig{PollInterval: time.Hour, MaxConsecutiveTimeouts: 3},
		eng, polling, make(chan types.Signal), nil, mock, nil,
	)

	ctx := context.Background()
	require.NoError(t, session.Start(ctx))
	require.NoError(t, session.Stop(ctx))

	assert.True(t, mock.HasAlertContaining("Daily report"),
		"stop must deliver the end-of-session report")
	assert.True(t, mock.HasAlertContaining("session stopped"))
}

func TestLiveSession_NoRestartAfterEmergencyStop(t *testing.T) {
	eng := newTestEngine(100000)
	session, _ := newLiveSession(eng, feed.NewMemoryQuoter(), time.Second, 3)
	ctx := context.Background()

	require.NoError(t, session.Start(ctx))
	session.EmergencyStop(ctx)
	require.NoError(t, session.Stop(ctx))

	// The emergency latch makes the session spent.
	err := session.Start(ctx)
	assert.ErrorIs(t, err, types.ErrEmergencyStop)
}

func TestLiveSession_EmergencyStop(t *testing.T) {
	eng := newTestEngine(100000)
	_, err := eng.HandleSignal(buySignal("RELIANCE", 100, 95, 120), tradingDay, decimal.Zero)
	require.NoError(t, err)
	_, err = eng.HandleSignal(buySignal("TCS", 200, 190, 240), tradingDay, decimal.Zero)
	require.NoError(t, err)

	q := feed.NewMemoryQuoter()
	q.SetPrice("RELIANCE", decimal.NewFromInt(101), time.Now())

	session, polling := newLiveSession(eng, q, time.Second, 3)
	ctx := context.Background()

	// Only RELIANCE has a last known price on file.
	_, err = polling.Quote(ctx, "RELIANCE")
	require.NoError(t, err)

	closed := session.EmergencyStop(ctx)

	require.Len(t, closed, 1)
	assert.Equal(t, "RELIANCE", closed[0].Symbol)
	assert.Equal(t, types.ExitEmergencyStop, closed[0].ExitReason)
	assert.True(t, eng.Risk().Halted())
	// The position with no price at all stays on the book.
	assert.Equal(t, 1, eng.Ledger().OpenCount())

	assert.Nil(t, session.EmergencyStop(ctx), "emergency stop fires once")
}
