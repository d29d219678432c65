// Package persistence stores trades, equity snapshots, and engine state
// so a live session survives restarts.
package persistence

import (
	"context"
	"time"

	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// Repository defines the interface for state persistence.
type Repository interface {
	// Trade operations
	SaveTrade(ctx context.Context, trade types.Trade) error
	GetTrades(ctx context.Context, from, to time.Time) ([]types.Trade, error)
	GetRecentTrades(ctx context.Context, limit int) ([]types.Trade, error)

	// Position operations
	SavePosition(ctx context.Context, position types.Position) error
	DeletePosition(ctx context.Context, positionID string) error
	GetOpenPositions(ctx context.Context) ([]types.Position, error)

	// Equity operations
	SaveEquityPoint(ctx context.Context, point types.EquityPoint) error
	GetEquityCurve(ctx context.Context, from, to time.Time) ([]types.EquityPoint, error)

	// State operations
	SaveState(ctx context.Context, state EngineState) error
	GetState(ctx context.Context) (*EngineState, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// EngineState is the single-row recovery record. A restart seeds the
// risk manager from it, so a latched halt and the drawdown baseline
// survive the process.
type EngineState struct {
	LastUpdated   time.Time
	Cash          decimal.Decimal
	PeakCapital   decimal.Decimal
	Halted        bool
	RiskState     types.RiskStateName
	TotalTrades   int
	WinningTrades int
}
