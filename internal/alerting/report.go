package alerting

import (
	"fmt"
	"time"

	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// Report is the end-of-session summary handed to alerters. The engine
// computes it; delivery is this package's job.
type Report struct {
	Date          time.Time
	Capital       decimal.Decimal
	DailyPnL      decimal.Decimal
	DrawdownPct   decimal.Decimal // 0..1
	OpenPositions int
	TradesToday   int
	RiskState     types.RiskStateName
}

// FromDailyReport converts the engine's report type.
func FromDailyReport(r types.DailyReport) Report {
	return Report{
		Date:          r.Date,
		Capital:       r.Capital,
		DailyPnL:      r.DailyPnL,
		DrawdownPct:   r.DrawdownPct,
		OpenPositions: r.OpenPositions,
		TradesToday:   r.TradesToday,
		RiskState:     r.RiskState,
	}
}

var hundred = decimal.NewFromInt(100)

// FormatReport renders the report as HTML suitable for Telegram and
// readable enough for console delivery.
func FormatReport(r Report) string {
	return fmt.Sprintf(`<b>Daily Report</b>
<b>Date:</b> %s

<b>Account:</b>
- Capital: %s
- Daily P/L: %s
- Drawdown: %s%%
- Risk State: %s

<b>Activity:</b>
- Trades Today: %d
- Open Positions: %d`,
		r.Date.Format("2006-01-02"),
		r.Capital.StringFixed(2),
		r.DailyPnL.StringFixed(2),
		r.DrawdownPct.Mul(hundred).StringFixed(2),
		r.RiskState,
		r.TradesToday,
		r.OpenPositions,
	)
}

// ReportFields flattens the report into alert key-value fields.
func ReportFields(r Report) []any {
	return []any{
		"date", r.Date.Format("2006-01-02"),
		"capital", r.Capital.StringFixed(2),
		"daily_pnl", r.DailyPnL.StringFixed(2),
		"drawdown_pct", r.DrawdownPct.Mul(hundred).StringFixed(2),
		"risk_state", string(r.RiskState),
		"trades_today", r.TradesToday,
		"open_positions", r.OpenPositions,
	}
}
