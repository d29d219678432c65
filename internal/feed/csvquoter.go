package feed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sdayal/papertrade/internal/types"
)

// CSVQuoter serves the latest bar for a symbol by re-reading
// <dir>/<SYMBOL>.csv on every call. An external collector keeps the
// files current; this keeps market data retrieval outside the engine
// while still letting paper sessions run against near-live files.
type CSVQuoter struct {
	dir    string
	logger *slog.Logger
}

// NewCSVQuoter creates a quoter over a directory of per-symbol CSVs.
func NewCSVQuoter(dir string, logger *slog.Logger) *CSVQuoter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVQuoter{dir: dir, logger: logger}
}

// Quote returns the last valid bar in the symbol's file.
func (q *CSVQuoter) Quote(ctx context.Context, symbol string) (types.Bar, error) {
	select {
	case <-ctx.Done():
		return types.Bar{}, ctx.Err()
	default:
	}

	path := filepath.Join(q.dir, strings.ToUpper(symbol)+".csv")
	f, err := os.Open(path)
	if err != nil {
		return types.Bar{}, fmt.Errorf("%s: %w", symbol, types.ErrUnknownSymbol)
	}
	defer f.Close()

	bars, err := ParseBars(f, symbol, q.logger)
	if err != nil {
		return types.Bar{}, err
	}

	return bars[len(bars)-1], nil
}
