package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sdayal/papertrade/internal/types"
	"golang.org/x/time/rate"
)

// PollingSource wraps a Quoter for live use: it rate-limits outbound
// fetches, bounds each fetch with a timeout, and serves the last known
// bar when a fetch fails so a transient outage does not blind the exit
// monitor. Consecutive timeouts are counted so the engine can escalate.
type PollingSource struct {
	quoter  Quoter
	limiter *rate.Limiter
	timeout time.Duration

	mu        sync.RWMutex
	lastKnown map[string]types.Bar
	timeouts  int // consecutive, across symbols

	logger *slog.Logger
}

// NewPollingSource creates a polling wrapper. fetchesPerSecond bounds the
// request rate against the upstream; timeout bounds each individual call.
func NewPollingSource(quoter Quoter, fetchesPerSecond float64, timeout time.Duration, logger *slog.Logger) *PollingSource {
	if logger == nil {
		logger = slog.Default()
	}

	return &PollingSource{
		quoter:    quoter,
		limiter:   rate.NewLimiter(rate.Limit(fetchesPerSecond), 1),
		timeout:   timeout,
		lastKnown: make(map[string]types.Bar),
		logger:    logger,
	}
}

// Quote fetches the latest bar for a symbol. On timeout or upstream error
// it falls back to the last known bar, marking the failure; the caller
// distinguishes fresh data from fallback via the returned error.
func (p *PollingSource) Quote(ctx context.Context, symbol string) (types.Bar, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return types.Bar{}, fmt.Errorf("rate limit wait: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	bar, err := p.quoter.Quote(fetchCtx, symbol)
	if err == nil {
		if verr := bar.Validate(); verr != nil {
			err = verr
		}
	}

	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded)

		p.mu.Lock()
		if timedOut {
			p.timeouts++
		} else if ctx.Err() == nil {
			// A definite upstream answer, even an error, ends the
			// timeout streak.
			p.timeouts = 0
		}
		stale, ok := p.lastKnown[symbol]
		p.mu.Unlock()

		p.logger.Warn("quote fetch failed",
			"symbol", symbol,
			"timeout", timedOut,
			"error", err,
		)

		if ok {
			if timedOut {
				return stale, fmt.Errorf("%s: %w", symbol, types.ErrFeedTimeout)
			}
			return stale, fmt.Errorf("%s: %w", symbol, types.ErrStaleData)
		}
		if timedOut {
			return types.Bar{}, fmt.Errorf("%s: %w", symbol, types.ErrFeedTimeout)
		}
		return types.Bar{}, fmt.Errorf("quote %s: %w", symbol, err)
	}

	p.mu.Lock()
	p.timeouts = 0
	p.lastKnown[symbol] = bar
	p.mu.Unlock()

	return bar, nil
}

// ConsecutiveTimeouts returns the current timeout streak.
func (p *PollingSource) ConsecutiveTimeouts() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.timeouts
}

// LastKnown returns the most recent successfully fetched bar for a
// symbol.
func (p *PollingSource) LastKnown(symbol string) (types.Bar, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	bar, ok := p.lastKnown[symbol]
	return bar, ok
}
