package types

import "errors"

// Sentinel errors for the simulation engine.
var (
	// Risk gatekeeper
	ErrRiskLimitExceeded = errors.New("risk budget exceeded")
	ErrTradingHalted     = errors.New("trading halted: drawdown limit reached")

	// Book
	ErrDuplicateOrder = errors.New("duplicate order id")

	// Market data
	ErrFeedTimeout   = errors.New("price feed timeout")
	ErrStaleData     = errors.New("price data is stale")
	ErrInvalidBar    = errors.New("invalid price bar")
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrNoData        = errors.New("no price data for bar")

	// Lifecycle
	ErrEmergencyStop = errors.New("emergency stop requested")

	// Configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)
