package feed

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// LoadBars reads daily bars for one symbol from a CSV file.
// Format: date,open,high,low,close,volume with an optional header row.
func LoadBars(path, symbol string, logger *slog.Logger) ([]types.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars: %w", err)
	}
	defer f.Close()

	return ParseBars(f, symbol, logger)
}

// ParseBars parses daily bars from a CSV reader. Malformed and invalid
// rows are skipped with a warning rather than aborting the load; a file
// that yields no valid bars is an error.
func ParseBars(r io.Reader, symbol string, logger *slog.Logger) ([]types.Bar, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reader := csv.NewReader(bufio.NewReader(r))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var bars []types.Bar
	lineNum := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum+1, err)
		}
		lineNum++

		if lineNum == 1 && isHeader(record) {
			continue
		}

		bar, err := parseBarRecord(record, symbol)
		if err != nil {
			logger.Warn("skipping bad bar row",
				"symbol", symbol,
				"line", lineNum,
				"error", err,
			)
			continue
		}

		bars = append(bars, bar)
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, types.ErrNoData)
	}

	return bars, nil
}

func parseBarRecord(record []string, symbol string) (types.Bar, error) {
	var bar types.Bar
	if len(record) < 5 {
		return bar, fmt.Errorf("expected at least 5 fields, got %d", len(record))
	}

	bar.Symbol = symbol

	ts, err := parseDate(record[0])
	if err != nil {
		return bar, fmt.Errorf("parse date: %w", err)
	}
	bar.Timestamp = ts

	if bar.Open, err = decimal.NewFromString(record[1]); err != nil {
		return bar, fmt.Errorf("parse open: %w", err)
	}
	if bar.High, err = decimal.NewFromString(record[2]); err != nil {
		return bar, fmt.Errorf("parse high: %w", err)
	}
	if bar.Low, err = decimal.NewFromString(record[3]); err != nil {
		return bar, fmt.Errorf("parse low: %w", err)
	}
	if bar.Close, err = decimal.NewFromString(record[4]); err != nil {
		return bar, fmt.Errorf("parse close: %w", err)
	}

	if len(record) > 5 {
		if vol, err := strconv.ParseInt(record[5], 10, 64); err == nil {
			bar.Volume = vol
		}
	}

	if err := bar.Validate(); err != nil {
		return bar, err
	}

	return bar, nil
}

// LoadSignals reads trade signals from a CSV file.
// Format: date,symbol,side,class,tier,entry,stop,target with an optional
// header row.
func LoadSignals(path string, logger *slog.Logger) ([]types.Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open signals: %w", err)
	}
	defer f.Close()

	return ParseSignals(f, logger)
}

// ParseSignals parses signals from a CSV reader, skipping bad rows with a
// warning. Signal IDs are derived from the row contents so replays assign
// identical IDs.
func ParseSignals(r io.Reader, logger *slog.Logger) ([]types.Signal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reader := csv.NewReader(bufio.NewReader(r))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var signals []types.Signal
	seen := make(map[string]int)
	lineNum := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum+1, err)
		}
		lineNum++

		if lineNum == 1 && isHeader(record) {
			continue
		}

		sig, err := parseSignalRecord(record)
		if err != nil {
			logger.Warn("skipping bad signal row",
				"line", lineNum,
				"error", err,
			)
			continue
		}

		// A repeated date/symbol/side row gets a sequence suffix so every
		// signal books under its own position ID. Row order is fixed, so
		// the suffixes are as reproducible as the base IDs.
		seen[sig.ID]++
		if n := seen[sig.ID]; n > 1 {
			sig.ID = fmt.Sprintf("%s-%d", sig.ID, n)
		}

		signals = append(signals, sig)
	}

	return signals, nil
}

func parseSignalRecord(record []string) (types.Signal, error) {
	var sig types.Signal
	if len(record) < 8 {
		return sig, fmt.Errorf("expected 8 fields, got %d", len(record))
	}

	ts, err := parseDate(record[0])
	if err != nil {
		return sig, fmt.Errorf("parse date: %w", err)
	}
	sig.Timestamp = ts
	sig.Symbol = record[1]

	switch strings.ToUpper(record[2]) {
	case "BUY", "LONG":
		sig.Side = types.SideBuy
	case "SELL", "SHORT":
		sig.Side = types.SideSell
	default:
		return sig, fmt.Errorf("unknown side %q", record[2])
	}

	switch strings.ToUpper(record[3]) {
	case "EQUITY", "EQ":
		sig.Class = types.ClassEquity
	case "DERIVATIVE", "FUT", "OPT":
		sig.Class = types.ClassDerivative
	default:
		return sig, fmt.Errorf("unknown class %q", record[3])
	}

	tier, err := strconv.Atoi(record[4])
	if err != nil || tier < 1 {
		return sig, fmt.Errorf("bad liquidity tier %q", record[4])
	}
	sig.LiquidityTier = types.LiquidityTier(tier)

	if sig.EntryPrice, err = decimal.NewFromString(record[5]); err != nil {
		return sig, fmt.Errorf("parse entry: %w", err)
	}
	if sig.StopLoss, err = decimal.NewFromString(record[6]); err != nil {
		return sig, fmt.Errorf("parse stop: %w", err)
	}
	if sig.Target, err = decimal.NewFromString(record[7]); err != nil {
		return sig, fmt.Errorf("parse target: %w", err)
	}

	if sig.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return sig, fmt.Errorf("non-positive entry price")
	}
	if sig.StopLoss.Equal(sig.EntryPrice) {
		return sig, fmt.Errorf("stop equals entry")
	}

	// Deterministic ID: a function of the row, not of load time.
	sig.ID = fmt.Sprintf("%s-%s-%s", ts.Format("20060102"), sig.Symbol, sig.Side)

	return sig, nil
}

func parseDate(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z",
		"02-01-2006",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unknown date format: %s", s)
}

// isHeader checks if a record looks like a header row.
func isHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	first := strings.ToLower(record[0])
	for _, h := range []string{"timestamp", "time", "date", "datetime"} {
		if first == h {
			return true
		}
	}
	return false
}
