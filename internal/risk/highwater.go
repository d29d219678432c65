// Package risk implements the drawdown state machine and risk budget.
package risk

import (
	"sync"

	"github.com/shopspring/decimal"
)

// HighWaterMarkTracker tracks the peak equity value.
// Thread-safe for concurrent access.
type HighWaterMarkTracker struct {
	mu      sync.RWMutex
	peak    decimal.Decimal
	current decimal.Decimal
}

// NewHighWaterMarkTracker creates a new tracker with initial equity.
func NewHighWaterMarkTracker(initialEquity decimal.Decimal) *HighWaterMarkTracker {
	return &HighWaterMarkTracker{
		peak:    initialEquity,
		current: initialEquity,
	}
}

// Update updates the current equity and adjusts the peak if necessary.
// Returns true if a new peak was set. The peak never decreases.
func (h *HighWaterMarkTracker) Update(equity decimal.Decimal) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current = equity

	if equity.GreaterThan(h.peak) {
		h.peak = equity
		return true
	}

	return false
}

// Current returns the current equity value.
func (h *HighWaterMarkTracker) Current() decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Peak returns the high water mark (peak equity).
func (h *HighWaterMarkTracker) Peak() decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peak
}

// Drawdown calculates the current drawdown as a ratio:
// (peak - current) / peak. A value of 0.02 means 2% below the peak.
func (h *HighWaterMarkTracker) Drawdown() decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return drawdownLocked(h.current, h.peak)
}

// Snapshot returns the current state as a copy.
func (h *HighWaterMarkTracker) Snapshot() (current, peak, drawdown decimal.Decimal) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current, h.peak, drawdownLocked(h.current, h.peak)
}

func drawdownLocked(current, peak decimal.Decimal) decimal.Decimal {
	if peak.IsZero() || current.GreaterThanOrEqual(peak) {
		return decimal.Zero
	}
	return peak.Sub(current).Div(peak)
}
