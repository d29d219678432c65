// Package metrics exposes engine observability via Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EquityCurrent is the marked account equity.
	EquityCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "papertrade",
		Name:      "equity_current",
		Help:      "Current account equity (cash plus marked positions).",
	})

	// EquityPeak is the high water mark.
	EquityPeak = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "papertrade",
		Name:      "equity_peak",
		Help:      "Peak account equity (high water mark).",
	})

	// DrawdownCurrent is the drawdown from peak as a ratio.
	DrawdownCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "papertrade",
		Name:      "drawdown_ratio",
		Help:      "Current drawdown from peak equity as a ratio (0.02 = 2%).",
	})

	// OpenRiskTotal is the aggregate stop-loss risk of open positions.
	OpenRiskTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "papertrade",
		Name:      "open_risk_total",
		Help:      "Sum of per-position stop-loss risk currently committed.",
	})

	// TradingHalted is 1 while the drawdown halt latch is set.
	TradingHalted = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "papertrade",
		Name:      "trading_halted",
		Help:      "1 when the drawdown halt is latched, 0 otherwise.",
	})

	// RiskStateValue encodes the drawdown band as a numeric level.
	RiskStateValue = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "papertrade",
		Name:      "risk_state",
		Help:      "Drawdown band: 0 normal, 1 caution, 2 warning, 3 critical, 4 halted, 5 recovering.",
	})

	// PositionsOpen is the number of open positions.
	PositionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "papertrade",
		Name:      "positions_open",
		Help:      "Number of currently open positions.",
	})

	// OrdersTotal counts gate decisions by outcome.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "papertrade",
		Name:      "orders_total",
		Help:      "Orders processed by the risk gate, labeled by decision.",
	}, []string{"decision"})

	// TradesTotal counts closed trades by outcome and exit reason.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "papertrade",
		Name:      "trades_total",
		Help:      "Closed trades, labeled by outcome and exit reason.",
	}, []string{"outcome", "exit_reason"})

	// FeedTimeoutsTotal counts quote fetch timeouts.
	FeedTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "papertrade",
		Name:      "feed_timeouts_total",
		Help:      "Quote fetches that exceeded the fetch timeout.",
	})

	// SignalsSkippedTotal counts signals dropped before sizing.
	SignalsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "papertrade",
		Name:      "signals_skipped_total",
		Help:      "Signals skipped before sizing, labeled by reason.",
	}, []string{"reason"})

	// BuildInfo carries version metadata as labels.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "papertrade",
		Name:      "build_info",
		Help:      "Build metadata.",
	}, []string{"version", "commit"})
)

// SetBuildInfo records version metadata.
func SetBuildInfo(version, commit string) {
	BuildInfo.WithLabelValues(version, commit).Set(1)
}
