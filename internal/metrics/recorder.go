package metrics

import (
	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording engine metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordRiskState records the account's risk posture.
func (r *Recorder) RecordRiskState(state types.RiskState) {
	EquityCurrent.Set(state.CurrentCapital.InexactFloat64())
	EquityPeak.Set(state.PeakCapital.InexactFloat64())
	DrawdownCurrent.Set(state.DrawdownPct.InexactFloat64())
	OpenRiskTotal.Set(state.TotalOpenRisk.InexactFloat64())
	RiskStateValue.Set(float64(stateLevel(state.State)))

	if state.State == types.StateHalted {
		TradingHalted.Set(1)
	} else {
		TradingHalted.Set(0)
	}
}

// RecordDecision records a risk gate decision.
func (r *Recorder) RecordDecision(decision string) {
	OrdersTotal.WithLabelValues(decision).Inc()
}

// RecordTrade records a closed trade.
func (r *Recorder) RecordTrade(t types.Trade) {
	outcome := "loss"
	if t.NetPnL.IsPositive() {
		outcome = "win"
	}
	TradesTotal.WithLabelValues(outcome, string(t.ExitReason)).Inc()
}

// RecordOpenPositions records the open position count.
func (r *Recorder) RecordOpenPositions(n int) {
	PositionsOpen.Set(float64(n))
}

// RecordFeedTimeout records a quote fetch timeout.
func (r *Recorder) RecordFeedTimeout() {
	FeedTimeoutsTotal.Inc()
}

// RecordSignalSkipped records a signal dropped before sizing.
func (r *Recorder) RecordSignalSkipped(reason string) {
	SignalsSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordEquity records the marked equity without a full risk snapshot.
func (r *Recorder) RecordEquity(equity decimal.Decimal) {
	EquityCurrent.Set(equity.InexactFloat64())
}

func stateLevel(s types.RiskStateName) int {
	switch s {
	case types.StateNormal:
		return 0
	case types.StateCaution:
		return 1
	case types.StateWarning:
		return 2
	case types.StateCritical:
		return 3
	case types.StateHalted:
		return 4
	case types.StateRecovering:
		return 5
	default:
		return 0
	}
}
