// Package ledger is the account book: cash, open positions, the closed
// trade log and the equity curve. All mutations happen here so the PnL
// identity can be enforced in one place.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// Fill describes one executed side of a trade after the cost and
// slippage models have run.
type Fill struct {
	RefPrice  decimal.Decimal // pre-slippage reference
	FillPrice decimal.Decimal // post-slippage
	Costs     decimal.Decimal
	Slippage  decimal.Decimal // always >= 0
	Time      time.Time
}

// Ledger tracks the account. Thread-safe; the live engine mutates it from
// two goroutines.
type Ledger struct {
	mu sync.RWMutex

	cash      decimal.Decimal
	positions map[string]*types.Position // position ID -> position
	trades    []types.Trade              // append-only
	curve     []types.EquityPoint
}

// New creates a ledger with the given starting cash.
func New(initialCash decimal.Decimal) *Ledger {
	return &Ledger{
		cash:      initialCash,
		positions: make(map[string]*types.Position),
	}
}

// Open books an entry fill for the order and returns the new position.
// A buy debits cash the fill notional; a short credits the sale proceeds.
// Entry costs are debited either way. An order whose ID is already on the
// book is refused: overwriting a live position would strand its cash
// debit and break the cash-plus-positions reconciliation.
func (l *Ledger) Open(order types.Order, fill Fill) (*types.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.positions[order.ID]; exists {
		return nil, fmt.Errorf("open %s: %w", order.ID, types.ErrDuplicateOrder)
	}

	shares := decimal.NewFromInt(order.Shares)
	notional := fill.FillPrice.Mul(shares)

	pos := &types.Position{
		ID:            order.ID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Class:         order.Class,
		LiquidityTier: order.LiquidityTier,
		Shares:        order.Shares,
		EntryPrice:    fill.FillPrice,
		EntryRefPrice: fill.RefPrice,
		StopLoss:      order.StopLoss,
		Target:        order.Target,
		EntryCosts:    fill.Costs,
		EntrySlippage: fill.Slippage,
		EntryTime:     fill.Time,
		MarkPrice:     fill.FillPrice,
		RiskAmount:    order.RiskAmount,
	}

	l.cash = l.cash.Sub(notional.Mul(order.Side.Sign())).Sub(fill.Costs)
	l.positions[pos.ID] = pos

	return pos, nil
}

// Close books an exit fill against the position, removes it, and appends
// the immutable trade record. Gross PnL is measured on the pre-slippage
// reference prices; the decomposition
//
//	net = gross - entryCosts - exitCosts - entrySlippage - exitSlippage
//
// holds exactly because slippage amounts equal the reference-to-fill
// price gaps on each side.
func (l *Ledger) Close(positionID string, fill Fill, reason types.ExitReason) (types.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[positionID]
	if !ok {
		return types.Trade{}, fmt.Errorf("close position %s: %w", positionID, types.ErrUnknownSymbol)
	}

	shares := decimal.NewFromInt(pos.Shares)

	// Direction sign on the reference move.
	gross := fill.RefPrice.Sub(pos.EntryRefPrice).Mul(shares).Mul(pos.Side.Sign())

	net := gross.
		Sub(pos.EntryCosts).
		Sub(fill.Costs).
		Sub(pos.EntrySlippage).
		Sub(fill.Slippage)

	trade := types.Trade{
		ID:            pos.ID,
		Symbol:        pos.Symbol,
		Side:          pos.Side,
		Class:         pos.Class,
		Shares:        pos.Shares,
		EntryPrice:    pos.EntryPrice,
		ExitPrice:     fill.FillPrice,
		EntryCosts:    pos.EntryCosts,
		ExitCosts:     fill.Costs,
		EntrySlippage: pos.EntrySlippage,
		ExitSlippage:  fill.Slippage,
		GrossPnL:      gross,
		NetPnL:        net,
		ExitReason:    reason,
		EntryTime:     pos.EntryTime,
		ExitTime:      fill.Time,
	}

	// Exit proceeds flow with the position side: a long receives the fill
	// notional, a short pays it back.
	proceeds := fill.FillPrice.Mul(shares).Mul(pos.Side.Sign())
	l.cash = l.cash.Add(proceeds).Sub(fill.Costs)

	delete(l.positions, positionID)
	l.trades = append(l.trades, trade)

	return trade, nil
}

// SetCash replaces the cash balance. Only the restore path uses it, to
// seed a fresh ledger from a persisted one.
func (l *Ledger) SetCash(cash decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = cash
}

// Restore reinstates a persisted position without moving cash; the cash
// effect of its entry is already reflected in the restored balance.
func (l *Ledger) Restore(pos types.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := pos
	l.positions[p.ID] = &p
}

// MarkToMarket updates the mark price of every position in the given
// price map. Symbols without a quote keep their last mark.
func (l *Ledger) MarkToMarket(prices map[string]decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, pos := range l.positions {
		if px, ok := prices[pos.Symbol]; ok && px.IsPositive() {
			pos.MarkPrice = px
		}
	}
}

// Snapshot reconciles cash and marked positions into one equity point and
// appends it to the curve.
func (l *Ledger) Snapshot(at time.Time) types.EquityPoint {
	l.mu.Lock()
	defer l.mu.Unlock()

	posValue := decimal.Zero
	for _, pos := range l.positions {
		shares := decimal.NewFromInt(pos.Shares)
		// A short's entry proceeds already sit in cash; the buyback is a
		// liability, so a short position contributes negative value.
		posValue = posValue.Add(pos.MarkPrice.Mul(shares).Mul(pos.Side.Sign()))
	}

	point := types.EquityPoint{
		Timestamp:      at,
		Cash:           l.cash,
		PositionsValue: posValue,
		TotalEquity:    l.cash.Add(posValue),
	}
	l.curve = append(l.curve, point)
	return point
}

// Equity returns cash plus marked position value without recording a
// curve point.
func (l *Ledger) Equity() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := l.cash
	for _, pos := range l.positions {
		shares := decimal.NewFromInt(pos.Shares)
		total = total.Add(pos.MarkPrice.Mul(shares).Mul(pos.Side.Sign()))
	}
	return total
}

// Cash returns the uninvested balance.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// Position returns the open position with the given ID.
func (l *Ledger) Position(id string) (types.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[id]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// OpenPositions returns copies of all open positions, ordered by ID for
// deterministic iteration.
func (l *Ledger) OpenPositions() []types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// TradeLog returns a copy of the closed trades in close order.
func (l *Ledger) TradeLog() []types.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// EquityCurve returns a copy of the recorded equity points.
func (l *Ledger) EquityCurve() []types.EquityPoint {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.EquityPoint, len(l.curve))
	copy(out, l.curve)
	return out
}
