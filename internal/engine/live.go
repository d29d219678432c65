package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sdayal/papertrade/internal/alerting"
	"github.com/sdayal/papertrade/internal/feed"
	"github.com/sdayal/papertrade/internal/metrics"
	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// LiveConfig holds the live session parameters.
type LiveConfig struct {
	PollInterval           time.Duration
	MaxConsecutiveTimeouts int
}

// LiveSession drives the engine against real-time quotes with virtual
// fills. Two goroutines run for the session's lifetime: one consumes
// incoming signals, one polls open positions for stop and target hits.
// Both funnel into the engine, which serializes them on its own lock.
type LiveSession struct {
	cfg     LiveConfig
	engine  *Engine
	quotes  *feed.PollingSource
	signals <-chan types.Signal

	recorder *metrics.Recorder // optional
	alerter  alerting.Alerter  // optional
	logger   *slog.Logger

	running   atomic.Bool
	emergency atomic.Bool

	startTime   time.Time
	startEquity decimal.Decimal
	startTrades int

	done chan struct{}
	wg   sync.WaitGroup
}

// NewLiveSession creates a live paper trading session.
func NewLiveSession(
	cfg LiveConfig,
	engine *Engine,
	quotes *feed.PollingSource,
	signals <-chan types.Signal,
	recorder *metrics.Recorder,
	alerter alerting.Alerter,
	logger *slog.Logger,
) *LiveSession {
	if logger == nil {
		logger = slog.Default()
	}

	return &LiveSession{
		cfg:      cfg,
		engine:   engine,
		quotes:   quotes,
		signals:  signals,
		recorder: recorder,
		alerter:  alerter,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the session loops. A session that has been through an
// emergency stop is spent and cannot be restarted.
func (s *LiveSession) Start(ctx context.Context) error {
	if s.emergency.Load() {
		return types.ErrEmergencyStop
	}
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("session already running")
	}

	s.logger.Info("live session starting",
		"poll_interval", s.cfg.PollInterval,
		"max_timeouts", s.cfg.MaxConsecutiveTimeouts,
	)

	s.engine.RefreshStats()
	s.startTime = time.Now()
	s.startEquity = s.engine.Ledger().Equity()
	s.startTrades = len(s.engine.Ledger().TradeLog())

	s.wg.Add(2)
	go s.sessionLoop(ctx)
	go s.monitorLoop(ctx)

	s.sendAlert(ctx, alerting.EventSessionStarted, "Live paper session started")
	return nil
}

// Stop shuts down both loops, waits for them, and delivers the
// end-of-session report.
func (s *LiveSession) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.logger.Info("live session stopping")
	close(s.done)
	s.wg.Wait()

	report := s.engine.DailyReport(s.startTime, s.startEquity,
		len(s.engine.Ledger().TradeLog())-s.startTrades)
	s.sendAlert(ctx, alerting.EventDailyReport, "Daily report",
		alerting.ReportFields(alerting.FromDailyReport(report))...)

	s.logger.Info("session report",
		"capital", report.Capital,
		"daily_pnl", report.DailyPnL,
		"trades_today", report.TradesToday,
		"open_positions", report.OpenPositions,
		"risk_state", string(report.RiskState),
	)

	s.sendAlert(ctx, alerting.EventSessionStopped, "Live paper session stopped")
	return nil
}

// EmergencyStop flattens every open position through the normal exit
// path, at last known prices, and latches the halt. New entries are
// refused immediately; the flattening itself is cooperative, not a
// forced teardown.
func (s *LiveSession) EmergencyStop(ctx context.Context) []types.Trade {
	if !s.emergency.CompareAndSwap(false, true) {
		return nil
	}

	s.logger.Error("emergency stop requested")
	s.engine.Risk().ForceHalt("emergency stop")

	prices := make(map[string]decimal.Decimal)
	for _, pos := range s.engine.Ledger().OpenPositions() {
		if bar, ok := s.quotes.LastKnown(pos.Symbol); ok {
			prices[pos.Symbol] = bar.Close
		}
	}

	closed := s.engine.Flatten(prices, time.Now(), types.ExitEmergencyStop)

	s.sendAlert(ctx, alerting.EventEmergencyStop, "Emergency stop: book flattened",
		"positions_closed", len(closed),
		"positions_remaining", s.engine.Ledger().OpenCount(),
	)

	return closed
}

// sessionLoop consumes incoming signals and runs them through the entry
// pipeline.
func (s *LiveSession) sessionLoop(ctx context.Context) {
	defer s.wg.Done()

	s.logger.Info("session loop started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session loop stopped: context cancelled")
			return
		case <-s.done:
			s.logger.Info("session loop stopped: shutdown requested")
			return
		case sig, ok := <-s.signals:
			if !ok {
				s.logger.Info("session loop stopped: signal channel closed")
				return
			}
			s.handleLiveSignal(ctx, sig)
		}
	}
}

// handleLiveSignal re-quotes the symbol before entry so fills reflect the
// market, not the signal's stale price.
func (s *LiveSession) handleLiveSignal(ctx context.Context, sig types.Signal) {
	if s.emergency.Load() {
		return
	}

	bar, err := s.quotes.Quote(ctx, sig.Symbol)
	if err != nil {
		if errors.Is(err, types.ErrFeedTimeout) {
			s.noteTimeout(ctx)
		}
		// Entries never run on stale or missing data.
		s.logger.Warn("signal dropped: no fresh quote",
			"signal_id", sig.ID,
			"symbol", sig.Symbol,
			"error", err,
		)
		return
	}

	// Re-anchor the entry to the live price, keeping the signal's stop
	// distance.
	stopDistance := sig.EntryPrice.Sub(sig.StopLoss)
	targetDistance := sig.Target.Sub(sig.EntryPrice)
	sig.EntryPrice = bar.Close
	sig.StopLoss = bar.Close.Sub(stopDistance)
	if sig.Target.IsPositive() {
		sig.Target = bar.Close.Add(targetDistance)
	}

	if _, err := s.engine.HandleSignal(sig, time.Now(), bar.Range()); err != nil {
		s.logger.Info("live signal rejected",
			"signal_id", sig.ID,
			"error", err,
		)
	}
}

// monitorLoop polls quotes for open positions and fires stop and target
// exits. It keeps running while halted: a halt blocks entries, never exit
// management.
func (s *LiveSession) monitorLoop(ctx context.Context) {
	defer s.wg.Done()

	s.logger.Info("exit monitor started")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("exit monitor stopped: context cancelled")
			return
		case <-s.done:
			s.logger.Info("exit monitor stopped: shutdown requested")
			return
		case <-ticker.C:
			s.pollPositions(ctx)
		}
	}
}

// pollPositions fetches a quote per open position and applies the exit
// rules. Stale fallbacks still drive marks and exits; repeated timeouts
// escalate to a halt.
func (s *LiveSession) pollPositions(ctx context.Context) {
	positions := s.engine.Ledger().OpenPositions()
	if len(positions) == 0 {
		return
	}

	prices := make(map[string]decimal.Decimal, len(positions))

	for _, pos := range positions {
		bar, err := s.quotes.Quote(ctx, pos.Symbol)
		if err != nil {
			if errors.Is(err, types.ErrFeedTimeout) {
				s.noteTimeout(ctx)
			}
			if bar.Close.IsZero() {
				// No data at all for this symbol, not even stale.
				continue
			}
			// Stale bar: usable for marking and exits, already logged
			// by the polling source.
		}

		prices[pos.Symbol] = bar.Close

		exitPrice, reason, hit := CheckExit(pos, bar)
		if !hit {
			continue
		}

		if _, err := s.engine.ClosePosition(pos.ID, exitPrice, time.Now(), reason, bar.Range()); err != nil {
			s.logger.Error("live exit failed",
				"position_id", pos.ID,
				"symbol", pos.Symbol,
				"error", err,
			)
		}
	}

	if len(prices) > 0 {
		s.engine.MarkAndSnapshot(prices, time.Now())
	}
}

// noteTimeout escalates when the feed keeps timing out: beyond the
// configured streak the session halts entries and alerts the operator.
func (s *LiveSession) noteTimeout(ctx context.Context) {
	if s.recorder != nil {
		s.recorder.RecordFeedTimeout()
	}

	streak := s.quotes.ConsecutiveTimeouts()
	if streak < s.cfg.MaxConsecutiveTimeouts {
		return
	}

	if !s.engine.Risk().Halted() {
		s.engine.Risk().ForceHalt(fmt.Sprintf("%d consecutive feed timeouts", streak))
		s.sendAlert(ctx, alerting.EventFeedDegraded, "Feed degraded: trading halted",
			"consecutive_timeouts", streak,
		)
	}
}

func (s *LiveSession) sendAlert(ctx context.Context, event alerting.Event, message string, fields ...any) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Alert(ctx, alerting.EventSeverity(event), message, fields...); err != nil {
		s.logger.Warn("alert delivery failed", "event", string(event), "err", err)
	}
}
