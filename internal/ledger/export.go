package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sdayal/papertrade/internal/types"
)

// tradeLogHeader is the fixed column order of the exported trade log.
// Changing it breaks replay comparison, so it stays stable.
var tradeLogHeader = []string{
	"entry_date",
	"exit_date",
	"symbol",
	"side",
	"shares",
	"entry_price",
	"exit_price",
	"total_costs",
	"total_slippage",
	"net_pnl",
	"exit_reason",
}

// WriteTradeLog writes the trade log as CSV. Output is a pure function of
// the trades: two identical replays produce byte-identical files.
func WriteTradeLog(w io.Writer, trades []types.Trade) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(tradeLogHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, t := range trades {
		row := []string{
			t.EntryTime.Format("2006-01-02"),
			t.ExitTime.Format("2006-01-02"),
			t.Symbol,
			t.Side.String(),
			strconv.FormatInt(t.Shares, 10),
			t.EntryPrice.String(),
			t.ExitPrice.String(),
			t.TotalCosts().String(),
			t.TotalSlippage().String(),
			t.NetPnL.String(),
			string(t.ExitReason),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write trade %s: %w", t.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportTradeLog writes the trade log to a file.
func ExportTradeLog(path string, trades []types.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trade log: %w", err)
	}
	defer f.Close()

	if err := WriteTradeLog(f, trades); err != nil {
		return err
	}
	return f.Close()
}

// WriteEquityCurve writes the equity curve as CSV.
func WriteEquityCurve(w io.Writer, curve []types.EquityPoint) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"timestamp", "cash", "positions_value", "total_equity"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, p := range curve {
		row := []string{
			p.Timestamp.Format("2006-01-02"),
			p.Cash.String(),
			p.PositionsValue.String(),
			p.TotalEquity.String(),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write equity point: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
