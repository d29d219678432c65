// Package types defines shared types used across the simulation engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a trade.
type Side int

const (
	SideFlat Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "FLAT"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideFlat
	}
}

// Sign returns +1 for BUY, -1 for SELL, 0 otherwise.
// Used to orient slippage and PnL arithmetic.
func (s Side) Sign() decimal.Decimal {
	switch s {
	case SideBuy:
		return decimal.NewFromInt(1)
	case SideSell:
		return decimal.NewFromInt(-1)
	default:
		return decimal.Zero
	}
}

// InstrumentClass distinguishes cash equity from derivatives for caps and
// cost rates.
type InstrumentClass int

const (
	ClassEquity InstrumentClass = iota
	ClassDerivative
)

func (c InstrumentClass) String() string {
	switch c {
	case ClassDerivative:
		return "DERIVATIVE"
	default:
		return "EQUITY"
	}
}

// LiquidityTier buckets symbols by typical depth. Tier 1 is the most
// liquid; higher tiers attract more slippage.
type LiquidityTier int

const (
	TierLiquid   LiquidityTier = 1
	TierMid      LiquidityTier = 2
	TierIlliquid LiquidityTier = 3
)

// Signal is an externally produced trade candidate. Immutable; consumed
// once by the engine.
type Signal struct {
	ID            string
	Symbol        string
	Side          Side
	Class         InstrumentClass
	LiquidityTier LiquidityTier
	EntryPrice    decimal.Decimal
	StopLoss      decimal.Decimal
	Target        decimal.Decimal
	Timestamp     time.Time
}

// StrategyStats summarizes the trailing trade history used by the sizer.
type StrategyStats struct {
	WinRate     decimal.Decimal // 0..1
	AvgWinPct   decimal.Decimal // mean winning return on entry notional
	AvgLossPct  decimal.Decimal // mean losing return, stored positive
	SampleCount int
}

// Order is a sized, gated entry proposal. Never mutated after acceptance.
type Order struct {
	ID            string
	SignalID      string
	Symbol        string
	Side          Side
	Class         InstrumentClass
	LiquidityTier LiquidityTier
	Shares        int64
	EntryPrice    decimal.Decimal
	StopLoss      decimal.Decimal
	Target        decimal.Decimal
	Notional      decimal.Decimal // Shares * EntryPrice
	RiskAmount    decimal.Decimal // Shares * |EntryPrice - StopLoss|

	// ConservativeSizing is set when the sizer bypassed the Kelly formula
	// for lack of history.
	ConservativeSizing bool
}

// Position is an open holding. Created when an order is accepted, mutated
// only by mark-to-market, destroyed on exit.
type Position struct {
	ID            string
	Symbol        string
	Side          Side
	Class         InstrumentClass
	LiquidityTier LiquidityTier
	Shares        int64
	EntryPrice    decimal.Decimal // post-slippage fill
	EntryRefPrice decimal.Decimal // pre-slippage signal price
	StopLoss      decimal.Decimal
	Target        decimal.Decimal
	EntryCosts    decimal.Decimal
	EntrySlippage decimal.Decimal
	EntryTime     time.Time
	MarkPrice     decimal.Decimal
	RiskAmount    decimal.Decimal
}

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitStopLoss      ExitReason = "stop_loss"
	ExitTarget        ExitReason = "target"
	ExitEmergencyStop ExitReason = "emergency_stop"
	ExitForcedHalt    ExitReason = "forced_halt"
	ExitSessionEnd    ExitReason = "session_end"
)

// Trade is a closed, immutable position. The PnL decomposition is exact:
//
//	NetPnL = GrossPnL - EntryCosts - ExitCosts - EntrySlippage - ExitSlippage
//
// where GrossPnL is measured on the pre-slippage reference prices and the
// slippage terms are the signed amounts lost to the fills.
type Trade struct {
	ID            string
	Symbol        string
	Side          Side
	Class         InstrumentClass
	Shares        int64
	EntryPrice    decimal.Decimal // post-slippage
	ExitPrice     decimal.Decimal // post-slippage
	EntryCosts    decimal.Decimal
	ExitCosts     decimal.Decimal
	EntrySlippage decimal.Decimal
	ExitSlippage  decimal.Decimal
	GrossPnL      decimal.Decimal
	NetPnL        decimal.Decimal
	ExitReason    ExitReason
	EntryTime     time.Time
	ExitTime      time.Time
}

// TotalCosts returns entry plus exit costs.
func (t Trade) TotalCosts() decimal.Decimal {
	return t.EntryCosts.Add(t.ExitCosts)
}

// TotalSlippage returns entry plus exit slippage.
func (t Trade) TotalSlippage() decimal.Decimal {
	return t.EntrySlippage.Add(t.ExitSlippage)
}

// EquityPoint is one reconciliation sample of the account.
type EquityPoint struct {
	Timestamp      time.Time
	Cash           decimal.Decimal
	PositionsValue decimal.Decimal
	TotalEquity    decimal.Decimal
}

// RiskStateName is the drawdown response band the account is in.
type RiskStateName string

const (
	StateNormal     RiskStateName = "NORMAL"
	StateCaution    RiskStateName = "CAUTION"
	StateWarning    RiskStateName = "WARNING"
	StateCritical   RiskStateName = "CRITICAL"
	StateHalted     RiskStateName = "HALTED"
	StateRecovering RiskStateName = "RECOVERING"
)

// RiskState is a read-only snapshot of the risk manager.
type RiskState struct {
	PeakCapital    decimal.Decimal
	CurrentCapital decimal.Decimal
	DrawdownPct    decimal.Decimal // 0..1
	State          RiskStateName
	TotalOpenRisk  decimal.Decimal
}

// DailyReport is handed to the alerter once per session; the engine does
// not own delivery.
type DailyReport struct {
	Date          time.Time
	Capital       decimal.Decimal
	DailyPnL      decimal.Decimal
	DrawdownPct   decimal.Decimal
	OpenPositions int
	TradesToday   int
	RiskState     RiskStateName
}

// Bar is one OHLCV sample for a symbol and date.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// Validate rejects rows that must never reach the simulation: zero or
// negative prices and non-monotonic OHLC ranges.
func (b Bar) Validate() error {
	if b.Open.LessThanOrEqual(decimal.Zero) || b.High.LessThanOrEqual(decimal.Zero) ||
		b.Low.LessThanOrEqual(decimal.Zero) || b.Close.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidBar
	}
	if b.High.LessThan(b.Low) {
		return ErrInvalidBar
	}
	if b.Open.GreaterThan(b.High) || b.Open.LessThan(b.Low) ||
		b.Close.GreaterThan(b.High) || b.Close.LessThan(b.Low) {
		return ErrInvalidBar
	}
	return nil
}

// Range returns (high-low)/low, a cheap daily volatility proxy for the
// slippage model.
func (b Bar) Range() decimal.Decimal {
	if b.Low.IsZero() {
		return decimal.Zero
	}
	return b.High.Sub(b.Low).Div(b.Low)
}
