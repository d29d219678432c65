// Package feed supplies market data and trade signals to the engine,
// from CSV files for replay and from a polled quoter for live sessions.
package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// Quoter fetches the most recent bar for a symbol. Implementations must
// honor the context; live implementations may block on the network.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (types.Bar, error)
}

// SignalSource yields the trade candidates for a session date.
type SignalSource interface {
	SignalsOn(date time.Time) []types.Signal
}

// dateKey collapses a timestamp to its calendar day in UTC, the engine's
// replay resolution.
func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// History is an in-memory daily bar store, indexed by symbol and date.
// Immutable after loading; safe for concurrent readers.
type History struct {
	bars map[string]map[string]types.Bar // symbol -> date -> bar
	days []time.Time                     // sorted union of dates
}

// NewHistory builds a history from validated bars. Later duplicates for
// the same symbol and date win.
func NewHistory(bars []types.Bar) *History {
	h := &History{bars: make(map[string]map[string]types.Bar)}
	seen := make(map[string]time.Time)

	for _, b := range bars {
		key := dateKey(b.Timestamp)
		bySymbol, ok := h.bars[b.Symbol]
		if !ok {
			bySymbol = make(map[string]types.Bar)
			h.bars[b.Symbol] = bySymbol
		}
		bySymbol[key] = b
		if _, ok := seen[key]; !ok {
			seen[key] = time.Date(b.Timestamp.Year(), b.Timestamp.Month(), b.Timestamp.Day(), 0, 0, 0, 0, time.UTC)
		}
	}

	h.days = make([]time.Time, 0, len(seen))
	for _, d := range seen {
		h.days = append(h.days, d)
	}
	sort.Slice(h.days, func(i, j int) bool { return h.days[i].Before(h.days[j]) })

	return h
}

// Days returns the sorted trading dates covered by the history.
func (h *History) Days() []time.Time {
	out := make([]time.Time, len(h.days))
	copy(out, h.days)
	return out
}

// Bar returns the bar for a symbol on a date.
func (h *History) Bar(symbol string, date time.Time) (types.Bar, bool) {
	bySymbol, ok := h.bars[symbol]
	if !ok {
		return types.Bar{}, false
	}
	b, ok := bySymbol[dateKey(date)]
	return b, ok
}

// Symbols returns the sorted symbols in the history.
func (h *History) Symbols() []string {
	out := make([]string, 0, len(h.bars))
	for s := range h.bars {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// BarCount returns the number of loaded bars.
func (h *History) BarCount() int {
	n := 0
	for _, bySymbol := range h.bars {
		n += len(bySymbol)
	}
	return n
}

// SignalBook is a date-indexed collection of signals. Within a day,
// signals keep their load order so replays iterate identically.
type SignalBook struct {
	byDate map[string][]types.Signal
}

// NewSignalBook indexes signals by session date.
func NewSignalBook(signals []types.Signal) *SignalBook {
	book := &SignalBook{byDate: make(map[string][]types.Signal)}
	for _, s := range signals {
		key := dateKey(s.Timestamp)
		book.byDate[key] = append(book.byDate[key], s)
	}
	return book
}

// SignalsOn returns the signals for the given date in load order.
func (b *SignalBook) SignalsOn(date time.Time) []types.Signal {
	return b.byDate[dateKey(date)]
}

// Len returns the total number of signals.
func (b *SignalBook) Len() int {
	n := 0
	for _, sigs := range b.byDate {
		n += len(sigs)
	}
	return n
}

// MemoryQuoter serves quotes from a mutable price map. Useful for tests
// and for driving the live loop from replayed data.
type MemoryQuoter struct {
	mu    sync.RWMutex
	bars  map[string]types.Bar
	fail  map[string]error
	delay time.Duration
}

// NewMemoryQuoter creates an empty in-memory quoter.
func NewMemoryQuoter() *MemoryQuoter {
	return &MemoryQuoter{
		bars: make(map[string]types.Bar),
		fail: make(map[string]error),
	}
}

// Set installs the bar returned for a symbol.
func (q *MemoryQuoter) Set(symbol string, bar types.Bar) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bars[symbol] = bar
	delete(q.fail, symbol)
}

// SetPrice installs a flat bar at the given price.
func (q *MemoryQuoter) SetPrice(symbol string, price decimal.Decimal, at time.Time) {
	q.Set(symbol, types.Bar{
		Symbol:    symbol,
		Timestamp: at,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
	})
}

// FailWith makes quotes for a symbol return the given error.
func (q *MemoryQuoter) FailWith(symbol string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fail[symbol] = err
}

// SetDelay makes every quote block for d before answering, so tests can
// exercise fetch timeouts.
func (q *MemoryQuoter) SetDelay(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.delay = d
}

// Quote returns the installed bar for the symbol.
func (q *MemoryQuoter) Quote(ctx context.Context, symbol string) (types.Bar, error) {
	q.mu.RLock()
	delay := q.delay
	err := q.fail[symbol]
	bar, ok := q.bars[symbol]
	q.mu.RUnlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return types.Bar{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	if err != nil {
		return types.Bar{}, err
	}
	if !ok {
		return types.Bar{}, types.ErrNoData
	}
	return bar, nil
}
