package risk

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// Config holds the risk manager configuration.
type Config struct {
	MaxTotalRiskPct decimal.Decimal // of peak capital, e.g. 0.02
	Bands           BandTable
	RecoveryPct     decimal.Decimal // drawdown required before Resume is honored

	// Per-position notional caps, as fractions of current capital. The
	// sizer applies the same caps; the gate enforces them independently
	// so a mis-sized order cannot book outsized notional.
	EquityCapPct     decimal.Decimal
	DerivativeCapPct decimal.Decimal
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxTotalRiskPct:  decimal.RequireFromString("0.02"),
		Bands:            DefaultBandTable(),
		RecoveryPct:      decimal.RequireFromString("0.010"),
		EquityCapPct:     decimal.RequireFromString("0.20"),
		DerivativeCapPct: decimal.RequireFromString("0.04"),
	}
}

// Verdict classifies the budget gate's answer for an order.
type Verdict int

const (
	VerdictAccept Verdict = iota
	VerdictResize
	VerdictReject
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccept:
		return "accept"
	case VerdictResize:
		return "resize"
	default:
		return "reject"
	}
}

// Decision is the outcome of gating one order. On a resize, Order carries
// the reduced share count and recomputed notional and risk.
type Decision struct {
	Verdict Verdict
	Order   types.Order
	Reason  string
}

// Manager owns the drawdown state machine and the open-risk budget.
// Thread-safe for concurrent access.
type Manager struct {
	mu sync.RWMutex

	cfg Config
	hwm *HighWaterMarkTracker

	state     types.RiskStateName
	sizeScale decimal.Decimal
	halted    bool // latched; cleared only by Resume

	openRisk map[string]decimal.Decimal // position ID -> risk amount

	logger *slog.Logger
}

// NewManager creates a risk manager seeded with initial equity.
func NewManager(cfg Config, initialEquity decimal.Decimal, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:       cfg,
		hwm:       NewHighWaterMarkTracker(initialEquity),
		state:     types.StateNormal,
		sizeScale: decimal.NewFromInt(1),
		openRisk:  make(map[string]decimal.Decimal),
		logger:    logger,
	}
}

// Evaluate updates equity and re-resolves the drawdown band. Must be
// called after every mutation of account equity. Once HALTED latches, no
// drawdown improvement clears it; only Resume does.
func (m *Manager) Evaluate(equity decimal.Decimal) types.RiskStateName {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hwm.Update(equity) {
		m.logger.Info("new equity peak", "equity", equity)
	}

	drawdown := m.hwm.Drawdown()

	if m.halted {
		return m.state
	}

	band := m.cfg.Bands.Resolve(drawdown)

	// RECOVERING keeps its reduced size until the drawdown climbs back
	// into a worse band or fully heals.
	if m.state == types.StateRecovering {
		if band.State == types.StateNormal {
			m.transitionLocked(band.State, band.SizeScale, drawdown)
		} else if band.Threshold.GreaterThanOrEqual(m.cfg.RecoveryPct) {
			m.transitionLocked(band.State, band.SizeScale, drawdown)
		}
		return m.state
	}

	if band.State != m.state {
		m.transitionLocked(band.State, band.SizeScale, drawdown)
		if band.State == types.StateHalted {
			m.halted = true
			m.logger.Error("trading halted: max drawdown breached",
				"drawdown", drawdown,
				"peak", m.hwm.Peak(),
				"equity", equity,
			)
		}
	}

	return m.state
}

// Resume is the only path out of HALTED. It is honored only when the
// drawdown has recovered below the configured threshold; the account then
// trades at reduced size until the next band change.
func (m *Manager) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.halted {
		return nil
	}

	drawdown := m.hwm.Drawdown()
	if drawdown.GreaterThanOrEqual(m.cfg.RecoveryPct) {
		return fmt.Errorf("%w: drawdown %s still above recovery threshold %s",
			types.ErrTradingHalted, drawdown, m.cfg.RecoveryPct)
	}

	m.halted = false
	m.transitionLocked(types.StateRecovering, decimal.RequireFromString("0.5"), drawdown)
	m.logger.Warn("halt released manually, resuming at reduced size")
	return nil
}

// Halted reports whether the halt latch is set.
func (m *Manager) Halted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted
}

// ForceHalt latches the halt regardless of drawdown, for operator use and
// for restoring persisted state after a restart.
func (m *Manager) ForceHalt(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.halted {
		return
	}
	m.halted = true
	m.state = types.StateHalted
	m.sizeScale = decimal.Zero
	m.logger.Error("trading halted", "reason", reason)
}

// SizeScale returns the multiplier the current band applies to proposed
// position sizes.
func (m *Manager) SizeScale() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeScale
}

// CanAccept gates a sized order against the halt latch and the open-risk
// budget. The budget is a fraction of PEAK capital, so it does not loosen
// as the account draws down. Orders that fit partially are resized to the
// remaining headroom.
func (m *Manager) CanAccept(order types.Order) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.halted {
		return Decision{Verdict: VerdictReject, Order: order, Reason: "trading halted"}
	}

	if order.Shares <= 0 || order.RiskAmount.LessThanOrEqual(decimal.Zero) {
		return Decision{Verdict: VerdictReject, Order: order, Reason: "zero size"}
	}

	// Per-position notional cap on current capital, before the shared
	// budget sees the order.
	capped := false
	capPct := m.cfg.EquityCapPct
	if order.Class == types.ClassDerivative {
		capPct = m.cfg.DerivativeCapPct
	}
	if capPct.IsPositive() {
		maxNotional := m.hwm.Current().Mul(capPct)
		if order.Notional.GreaterThan(maxNotional) {
			shares := maxNotional.Div(order.EntryPrice).Floor().IntPart()
			if shares <= 0 {
				return Decision{Verdict: VerdictReject, Order: order, Reason: "notional above per-position cap"}
			}
			m.logger.Info("order capped to per-position notional limit",
				"order_id", order.ID,
				"symbol", order.Symbol,
				"requested_shares", order.Shares,
				"granted_shares", shares,
				"max_notional", maxNotional,
			)
			order = resizeShares(order, shares)
			capped = true
		}
	}

	budget := m.hwm.Peak().Mul(m.cfg.MaxTotalRiskPct)
	used := m.totalOpenRiskLocked()
	headroom := budget.Sub(used)

	if headroom.LessThanOrEqual(decimal.Zero) {
		return Decision{Verdict: VerdictReject, Order: order, Reason: "risk budget exhausted"}
	}

	if order.RiskAmount.LessThanOrEqual(headroom) {
		if capped {
			return Decision{Verdict: VerdictResize, Order: order, Reason: "per-position notional cap"}
		}
		return Decision{Verdict: VerdictAccept, Order: order}
	}

	// Partial fit: shrink to whatever share count keeps total risk at or
	// under budget.
	perShare := order.RiskAmount.Div(decimal.NewFromInt(order.Shares))
	if perShare.LessThanOrEqual(decimal.Zero) {
		return Decision{Verdict: VerdictReject, Order: order, Reason: "zero per-share risk"}
	}
	shares := headroom.Div(perShare).Floor().IntPart()
	if shares <= 0 {
		return Decision{Verdict: VerdictReject, Order: order, Reason: "no headroom for a single share"}
	}

	m.logger.Info("order resized to risk headroom",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"requested_shares", order.Shares,
		"granted_shares", shares,
		"headroom", headroom,
	)

	return Decision{Verdict: VerdictResize, Order: resizeShares(order, shares), Reason: "risk budget headroom"}
}

// resizeShares shrinks an order to the given share count, recomputing
// notional and risk from the per-share amounts.
func resizeShares(order types.Order, shares int64) types.Order {
	perShare := order.RiskAmount.Div(decimal.NewFromInt(order.Shares))
	n := decimal.NewFromInt(shares)
	order.Shares = shares
	order.Notional = order.EntryPrice.Mul(n)
	order.RiskAmount = perShare.Mul(n)
	return order
}

// AddOpenRisk registers an accepted position's risk against the budget.
func (m *Manager) AddOpenRisk(positionID string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openRisk[positionID] = amount
}

// ReleaseRisk frees a closed position's risk.
func (m *Manager) ReleaseRisk(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.openRisk, positionID)
}

// TotalOpenRisk returns the sum of registered open risk.
func (m *Manager) TotalOpenRisk() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalOpenRiskLocked()
}

// Snapshot returns the current risk state.
func (m *Manager) Snapshot() types.RiskState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	current, peak, drawdown := m.hwm.Snapshot()

	return types.RiskState{
		PeakCapital:    peak,
		CurrentCapital: current,
		DrawdownPct:    drawdown,
		State:          m.state,
		TotalOpenRisk:  m.totalOpenRiskLocked(),
	}
}

// RestorePeak seeds the high water mark from persisted state so a restart
// does not forget the drawdown baseline.
func (m *Manager) RestorePeak(peak decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if peak.GreaterThan(m.hwm.Peak()) {
		m.hwm.Update(peak)
	}
}

func (m *Manager) totalOpenRiskLocked() decimal.Decimal {
	total := decimal.Zero
	for _, r := range m.openRisk {
		total = total.Add(r)
	}
	return total
}

func (m *Manager) transitionLocked(to types.RiskStateName, scale, drawdown decimal.Decimal) {
	if to == m.state {
		return
	}
	m.logger.Warn("risk state transition",
		"from", string(m.state),
		"to", string(to),
		"drawdown", drawdown,
		"size_scale", scale,
	)
	m.state = to
	m.sizeScale = scale
}
