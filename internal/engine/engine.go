// Package engine runs the trading simulation: signals in, sized and
// risk-gated positions through the ledger, trades and reports out. The
// same pipeline serves historical replay and live paper sessions; only
// the data source differs.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sdayal/papertrade/internal/alerting"
	"github.com/sdayal/papertrade/internal/costs"
	"github.com/sdayal/papertrade/internal/ledger"
	"github.com/sdayal/papertrade/internal/metrics"
	"github.com/sdayal/papertrade/internal/persistence"
	"github.com/sdayal/papertrade/internal/risk"
	"github.com/sdayal/papertrade/internal/sizing"
	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// Config holds the engine parameters shared by both modes.
type Config struct {
	InitialCapital decimal.Decimal
	StatsWindow    int // trailing trades for strategy stats

	// ForceCloseOnHalt flattens positions without a stop loss when the
	// drawdown halt latches. Protected positions keep running under the
	// exit monitor.
	ForceCloseOnHalt bool
}

// Engine is the mode-independent core: one signal pipeline and one exit
// path. Thread-safe; the live mode drives it from two goroutines.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	sizer   *sizing.Sizer
	riskMgr *risk.Manager
	book    *ledger.Ledger
	costs   *costs.Model

	stats types.StrategyStats

	recorder *metrics.Recorder      // optional
	alerter  alerting.Alerter       // optional
	repo     persistence.Repository // optional
	logger   *slog.Logger
}

// New assembles an engine from its components. Recorder and alerter may
// be nil; the engine then runs silent.
func New(
	cfg Config,
	sizer *sizing.Sizer,
	riskMgr *risk.Manager,
	book *ledger.Ledger,
	costModel *costs.Model,
	recorder *metrics.Recorder,
	alerter alerting.Alerter,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:      cfg,
		sizer:    sizer,
		riskMgr:  riskMgr,
		book:     book,
		costs:    costModel,
		recorder: recorder,
		alerter:  alerter,
		logger:   logger,
	}
}

// SetRepository enables write-through persistence. Persist failures are
// logged, never propagated: the virtual book stays authoritative.
func (e *Engine) SetRepository(repo persistence.Repository) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.repo = repo
}

// RefreshStats recomputes strategy statistics from the trailing trade
// window. Called once per replay day and once per live session, never
// mid-stream, so sizing stays stable within a session.
func (e *Engine) RefreshStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats = sizing.StatsFromTrades(e.book.TradeLog(), e.cfg.StatsWindow)
}

// Stats returns the current strategy statistics.
func (e *Engine) Stats() types.StrategyStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Ledger exposes the account book.
func (e *Engine) Ledger() *ledger.Ledger { return e.book }

// Risk exposes the risk manager.
func (e *Engine) Risk() *risk.Manager { return e.riskMgr }

// HandleSignal runs one signal through the full pipeline: size, scale by
// the drawdown band, gate against the risk budget, charge entry slippage
// and costs, and book the position. A nil position with a nil error means
// the signal was skipped, not failed.
func (e *Engine) HandleSignal(sig types.Signal, at time.Time, volatility decimal.Decimal) (*types.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.riskMgr.Halted() {
		e.skip(sig, "halted")
		return nil, types.ErrTradingHalted
	}

	capital := e.book.Equity()
	order := e.sizer.Propose(e.stats, capital, e.cfg.InitialCapital, sig)
	if order.Shares <= 0 {
		e.skip(sig, "zero_size")
		return nil, nil
	}

	// Drawdown bands shrink positions before the budget gate sees them.
	scale := e.riskMgr.SizeScale()
	if !scale.Equal(decimal.NewFromInt(1)) {
		order = rescaleOrder(order, scale)
		if order.Shares <= 0 {
			e.skip(sig, "scaled_to_zero")
			return nil, nil
		}
	}

	decision := e.riskMgr.CanAccept(order)
	if e.recorder != nil {
		e.recorder.RecordDecision(decision.Verdict.String())
	}

	switch decision.Verdict {
	case risk.VerdictReject:
		e.logger.Info("signal rejected",
			"signal_id", sig.ID,
			"symbol", sig.Symbol,
			"reason", decision.Reason,
		)
		return nil, fmt.Errorf("%w: %s", types.ErrRiskLimitExceeded, decision.Reason)
	case risk.VerdictResize:
		e.alert(alerting.EventOrderResized, "Order resized to risk headroom",
			"symbol", sig.Symbol,
			"shares", decision.Order.Shares,
		)
	}
	order = decision.Order

	slip := e.costs.Slippage(order.Side, sig.EntryPrice, order.Shares, sig.LiquidityTier, at, volatility)
	fillNotional := slip.AdjustedPrice.Mul(decimal.NewFromInt(order.Shares))
	costBreakdown := e.costs.Calculate(order.Side, fillNotional, order.Class)

	pos, err := e.book.Open(order, ledger.Fill{
		RefPrice:  sig.EntryPrice,
		FillPrice: slip.AdjustedPrice,
		Costs:     costBreakdown.Total,
		Slippage:  slip.Amount,
		Time:      at,
	})
	if err != nil {
		e.skip(sig, "duplicate_id")
		return nil, fmt.Errorf("signal %s: %w", sig.ID, err)
	}
	e.riskMgr.AddOpenRisk(pos.ID, order.RiskAmount)

	e.logger.Info("position opened",
		"position_id", pos.ID,
		"symbol", pos.Symbol,
		"side", pos.Side.String(),
		"shares", pos.Shares,
		"fill", pos.EntryPrice,
		"stop", pos.StopLoss,
		"target", pos.Target,
		"risk", pos.RiskAmount,
		"conservative", order.ConservativeSizing,
	)

	e.persistPosition(*pos)
	e.evaluateLocked(at)
	return pos, nil
}

// ClosePosition exits a position through the normal exit path: exit
// slippage and costs are charged, the trade is booked, and the risk
// budget is released. Every exit, including halts and emergency stops,
// goes through here.
func (e *Engine) ClosePosition(positionID string, refExitPrice decimal.Decimal, at time.Time, reason types.ExitReason, volatility decimal.Decimal) (types.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked(positionID, refExitPrice, at, reason, volatility)
}

func (e *Engine) closeLocked(positionID string, refExitPrice decimal.Decimal, at time.Time, reason types.ExitReason, volatility decimal.Decimal) (types.Trade, error) {
	pos, ok := e.book.Position(positionID)
	if !ok {
		return types.Trade{}, fmt.Errorf("position %s: %w", positionID, types.ErrNoData)
	}

	exitSide := pos.Side.Opposite()
	slip := e.costs.Slippage(exitSide, refExitPrice, pos.Shares, pos.LiquidityTier, at, volatility)
	fillNotional := slip.AdjustedPrice.Mul(decimal.NewFromInt(pos.Shares))
	costBreakdown := e.costs.Calculate(exitSide, fillNotional, pos.Class)

	trade, err := e.book.Close(positionID, ledger.Fill{
		RefPrice:  refExitPrice,
		FillPrice: slip.AdjustedPrice,
		Costs:     costBreakdown.Total,
		Slippage:  slip.Amount,
		Time:      at,
	}, reason)
	if err != nil {
		return types.Trade{}, err
	}

	e.riskMgr.ReleaseRisk(positionID)

	if e.recorder != nil {
		e.recorder.RecordTrade(trade)
	}

	e.logger.Info("position closed",
		"position_id", positionID,
		"symbol", trade.Symbol,
		"reason", string(reason),
		"net_pnl", trade.NetPnL,
		"gross_pnl", trade.GrossPnL,
		"costs", trade.TotalCosts(),
		"slippage", trade.TotalSlippage(),
	)

	e.persistTrade(trade)
	e.evaluateLocked(at)
	return trade, nil
}

// Flatten closes every open position at the supplied reference prices.
// Positions without a price keep running. Used by the emergency stop and
// by session teardown; exits go through the normal path so costs and
// slippage are charged.
func (e *Engine) Flatten(prices map[string]decimal.Decimal, at time.Time, reason types.ExitReason) []types.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	var closed []types.Trade
	for _, pos := range e.book.OpenPositions() {
		px, ok := prices[pos.Symbol]
		if !ok || !px.IsPositive() {
			e.logger.Warn("cannot flatten position: no price",
				"position_id", pos.ID,
				"symbol", pos.Symbol,
			)
			continue
		}
		trade, err := e.closeLocked(pos.ID, px, at, reason, decimal.Zero)
		if err != nil {
			e.logger.Error("flatten close failed",
				"position_id", pos.ID,
				"error", err,
			)
			continue
		}
		closed = append(closed, trade)
	}
	return closed
}

// MarkAndSnapshot marks open positions to the given prices, records an
// equity point, and re-evaluates the risk state.
func (e *Engine) MarkAndSnapshot(prices map[string]decimal.Decimal, at time.Time) types.EquityPoint {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.book.MarkToMarket(prices)
	point := e.book.Snapshot(at)
	e.evaluateRiskLocked(point.TotalEquity, at)
	e.persistSnapshot(point)
	return point
}

// CheckExit applies the exit rules for a position against a bar's range.
// The stop is checked before the target: when one bar touches both, the
// conservative fill wins.
func CheckExit(pos types.Position, bar types.Bar) (decimal.Decimal, types.ExitReason, bool) {
	switch pos.Side {
	case types.SideBuy:
		if bar.Low.LessThanOrEqual(pos.StopLoss) {
			return pos.StopLoss, types.ExitStopLoss, true
		}
		if pos.Target.IsPositive() && bar.High.GreaterThanOrEqual(pos.Target) {
			return pos.Target, types.ExitTarget, true
		}
	case types.SideSell:
		if bar.High.GreaterThanOrEqual(pos.StopLoss) {
			return pos.StopLoss, types.ExitStopLoss, true
		}
		if pos.Target.IsPositive() && bar.Low.LessThanOrEqual(pos.Target) {
			return pos.Target, types.ExitTarget, true
		}
	}
	return decimal.Zero, "", false
}

// DailyReport assembles the end-of-session summary.
func (e *Engine) DailyReport(date time.Time, startEquity decimal.Decimal, tradesToday int) types.DailyReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.riskMgr.Snapshot()
	equity := e.book.Equity()

	return types.DailyReport{
		Date:          date,
		Capital:       equity,
		DailyPnL:      equity.Sub(startEquity),
		DrawdownPct:   snap.DrawdownPct,
		OpenPositions: e.book.OpenCount(),
		TradesToday:   tradesToday,
		RiskState:     snap.State,
	}
}

func (e *Engine) evaluateLocked(at time.Time) {
	e.evaluateRiskLocked(e.book.Equity(), at)
}

func (e *Engine) evaluateRiskLocked(equity decimal.Decimal, at time.Time) {
	before := e.riskMgr.Snapshot().State
	after := e.riskMgr.Evaluate(equity)

	if e.recorder != nil {
		e.recorder.RecordRiskState(e.riskMgr.Snapshot())
		e.recorder.RecordOpenPositions(e.book.OpenCount())
	}

	if after != before {
		if after == types.StateHalted {
			e.alert(alerting.EventTradingHalted, "Trading halted: drawdown limit breached",
				"equity", equity.StringFixed(2),
				"drawdown", e.riskMgr.Snapshot().DrawdownPct.StringFixed(4),
			)
			if e.cfg.ForceCloseOnHalt {
				e.forceCloseUnprotectedLocked(at)
			}
		} else {
			e.alert(alerting.EventRiskStateChanged, "Risk state changed",
				"from", string(before),
				"to", string(after),
			)
		}
	}
}

// forceCloseUnprotectedLocked flattens positions without a stop loss when
// the halt latches. With no stop, the exit monitor has nothing to enforce
// on them, so they would ride the drawdown unguarded. Exits go through the
// normal path at the last mark. Re-entrant evaluation is safe: the halt is
// already latched, so no further transition fires.
func (e *Engine) forceCloseUnprotectedLocked(at time.Time) {
	for _, pos := range e.book.OpenPositions() {
		if pos.StopLoss.IsPositive() {
			continue
		}
		px := pos.MarkPrice
		if !px.IsPositive() {
			px = pos.EntryPrice
		}
		if _, err := e.closeLocked(pos.ID, px, at, types.ExitForcedHalt, decimal.Zero); err != nil {
			e.logger.Error("forced close failed",
				"position_id", pos.ID,
				"symbol", pos.Symbol,
				"error", err,
			)
		}
	}
}

func (e *Engine) skip(sig types.Signal, reason string) {
	if e.recorder != nil {
		e.recorder.RecordSignalSkipped(reason)
	}
	e.logger.Debug("signal skipped",
		"signal_id", sig.ID,
		"symbol", sig.Symbol,
		"reason", reason,
	)
}

func (e *Engine) alert(event alerting.Event, message string, fields ...any) {
	if e.alerter == nil {
		return
	}
	// Alert delivery must never block the trading path.
	go func() {
		ctx, cancel := alertContext()
		defer cancel()
		if err := e.alerter.Alert(ctx, alerting.EventSeverity(event), message, fields...); err != nil {
			e.logger.Warn("alert delivery failed", "event", string(event), "err", err)
		}
	}()
}

func rescaleOrder(order types.Order, scale decimal.Decimal) types.Order {
	shares := decimal.NewFromInt(order.Shares).Mul(scale).Floor().IntPart()
	order.Shares = shares
	if shares <= 0 {
		order.Notional = decimal.Zero
		order.RiskAmount = decimal.Zero
		return order
	}
	order.Notional = order.EntryPrice.Mul(decimal.NewFromInt(shares))
	order.RiskAmount = order.EntryPrice.Sub(order.StopLoss).Abs().Mul(decimal.NewFromInt(shares))
	return order
}

// alertContext bounds out-of-band alert delivery.
func alertContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (e *Engine) persistPosition(pos types.Position) {
	if e.repo == nil {
		return
	}
	ctx, cancel := persistContext()
	defer cancel()
	if err := e.repo.SavePosition(ctx, pos); err != nil {
		e.logger.Warn("persist position failed", "position_id", pos.ID, "err", err)
	}
	e.persistStateLocked(ctx)
}

func (e *Engine) persistTrade(trade types.Trade) {
	if e.repo == nil {
		return
	}
	ctx, cancel := persistContext()
	defer cancel()
	if err := e.repo.SaveTrade(ctx, trade); err != nil {
		e.logger.Warn("persist trade failed", "trade_id", trade.ID, "err", err)
	}
	if err := e.repo.DeletePosition(ctx, trade.ID); err != nil {
		e.logger.Warn("persist position delete failed", "trade_id", trade.ID, "err", err)
	}
	e.persistStateLocked(ctx)
}

func (e *Engine) persistSnapshot(point types.EquityPoint) {
	if e.repo == nil {
		return
	}
	ctx, cancel := persistContext()
	defer cancel()
	if err := e.repo.SaveEquityPoint(ctx, point); err != nil {
		e.logger.Warn("persist equity point failed", "err", err)
	}
	e.persistStateLocked(ctx)
}

func (e *Engine) persistStateLocked(ctx context.Context) {
	snap := e.riskMgr.Snapshot()
	trades := e.book.TradeLog()
	wins := 0
	for _, t := range trades {
		if t.NetPnL.IsPositive() {
			wins++
		}
	}

	state := persistence.EngineState{
		LastUpdated:   time.Now(),
		Cash:          e.book.Cash(),
		PeakCapital:   snap.PeakCapital,
		Halted:        e.riskMgr.Halted(),
		RiskState:     snap.State,
		TotalTrades:   len(trades),
		WinningTrades: wins,
	}
	if err := e.repo.SaveState(ctx, state); err != nil {
		e.logger.Warn("persist state failed", "err", err)
	}
}

func persistContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
