package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/sdayal/papertrade/internal/feed"
	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// SkippedSymbol records a symbol the replay could not process on a day.
type SkippedSymbol struct {
	Date   time.Time
	Symbol string
	Reason string
}

// Result holds the outcome of a historical replay.
type Result struct {
	StartCapital decimal.Decimal
	EndCapital   decimal.Decimal
	Trades       []types.Trade
	EquityCurve  []types.EquityPoint
	DailyReports []types.DailyReport
	Skipped      []SkippedSymbol
	Performance  Performance
}

// Replayer steps an engine through recorded history one trading day at a
// time. The loop is fully deterministic: days in date order, positions
// and signals in a fixed order, no randomness and no wall-clock reads, so
// two runs over the same inputs produce identical trade logs.
type Replayer struct {
	engine  *Engine
	history *feed.History
	signals feed.SignalSource
	logger  *slog.Logger

	benchmark []decimal.Decimal // optional daily closes for alpha
}

// NewReplayer creates a historical replayer.
func NewReplayer(engine *Engine, history *feed.History, signals feed.SignalSource, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{
		engine:  engine,
		history: history,
		signals: signals,
		logger:  logger,
	}
}

// SetBenchmark installs a daily benchmark close series for alpha.
func (r *Replayer) SetBenchmark(closes []decimal.Decimal) {
	r.benchmark = closes
}

// Run replays every day in the history. Within a day, exits are
// processed before entries so freed risk budget is available to new
// signals the same session.
func (r *Replayer) Run(ctx context.Context) (*Result, error) {
	days := r.history.Days()
	result := &Result{StartCapital: r.engine.Ledger().Equity()}

	tradesBefore := 0

	for _, day := range days {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		dayStart := r.engine.Ledger().Equity()
		r.engine.RefreshStats()

		r.processExits(day, result)
		r.processEntries(day, result)

		// End of day: mark everything to the day's closes and record
		// the equity point.
		closes := r.closingPrices(day)
		r.engine.MarkAndSnapshot(closes, day)

		trades := r.engine.Ledger().TradeLog()
		report := r.engine.DailyReport(day, dayStart, len(trades)-tradesBefore)
		tradesBefore = len(trades)
		result.DailyReports = append(result.DailyReports, report)

		r.logger.Debug("replay day complete",
			"date", day.Format("2006-01-02"),
			"equity", report.Capital,
			"trades_today", report.TradesToday,
			"risk_state", string(report.RiskState),
		)
	}

	result.Trades = r.engine.Ledger().TradeLog()
	result.EquityCurve = r.engine.Ledger().EquityCurve()
	result.EndCapital = r.engine.Ledger().Equity()
	result.Performance = ComputePerformance(result.Trades, result.EquityCurve, r.benchmark)

	r.logger.Info("replay complete",
		"days", len(days),
		"trades", len(result.Trades),
		"start_capital", result.StartCapital,
		"end_capital", result.EndCapital,
		"skipped", len(result.Skipped),
	)

	return result, nil
}

// processExits checks every open position against the day's bar. Even a
// halted account keeps monitoring exits; only new entries stop.
func (r *Replayer) processExits(day time.Time, result *Result) {
	positions := r.engine.Ledger().OpenPositions()
	sort.Slice(positions, func(i, j int) bool { return positions[i].ID < positions[j].ID })

	for _, pos := range positions {
		bar, ok := r.history.Bar(pos.Symbol, day)
		if !ok {
			result.Skipped = append(result.Skipped, SkippedSymbol{
				Date:   day,
				Symbol: pos.Symbol,
				Reason: "no bar",
			})
			continue
		}

		exitPrice, reason, hit := CheckExit(pos, bar)
		if !hit {
			continue
		}

		if _, err := r.engine.ClosePosition(pos.ID, exitPrice, day, reason, bar.Range()); err != nil {
			r.logger.Error("replay exit failed",
				"position_id", pos.ID,
				"symbol", pos.Symbol,
				"error", err,
			)
		}
	}
}

// processEntries feeds the day's signals through the pipeline in load
// order. Signals without a bar for the day are skipped and recorded.
func (r *Replayer) processEntries(day time.Time, result *Result) {
	for _, sig := range r.signals.SignalsOn(day) {
		bar, ok := r.history.Bar(sig.Symbol, day)
		if !ok {
			result.Skipped = append(result.Skipped, SkippedSymbol{
				Date:   day,
				Symbol: sig.Symbol,
				Reason: "no bar",
			})
			continue
		}

		if _, err := r.engine.HandleSignal(sig, bar.Timestamp, bar.Range()); err != nil {
			// Halt and budget rejections are normal replay outcomes.
			r.logger.Debug("replay entry rejected",
				"signal_id", sig.ID,
				"error", err,
			)
		}
	}
}

// closingPrices collects the day's closes for every symbol with a bar.
func (r *Replayer) closingPrices(day time.Time) map[string]decimal.Decimal {
	closes := make(map[string]decimal.Decimal)
	for _, symbol := range r.history.Symbols() {
		if bar, ok := r.history.Bar(symbol, day); ok {
			closes[symbol] = bar.Close
		}
	}
	return closes
}
