package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sdayal/papertrade/internal/types"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite. Decimal values are
// stored as TEXT so nothing is lost to float rounding.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the database at path.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			class INTEGER NOT NULL,
			shares INTEGER NOT NULL,
			entry_price TEXT NOT NULL,
			exit_price TEXT NOT NULL,
			entry_costs TEXT NOT NULL,
			exit_costs TEXT NOT NULL,
			entry_slippage TEXT NOT NULL,
			exit_slippage TEXT NOT NULL,
			gross_pnl TEXT NOT NULL,
			net_pnl TEXT NOT NULL,
			exit_reason TEXT NOT NULL,
			entry_time DATETIME NOT NULL,
			exit_time DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			class INTEGER NOT NULL,
			liquidity_tier INTEGER NOT NULL,
			shares INTEGER NOT NULL,
			entry_price TEXT NOT NULL,
			entry_ref_price TEXT NOT NULL,
			stop_loss TEXT NOT NULL,
			target TEXT NOT NULL,
			entry_costs TEXT NOT NULL,
			entry_slippage TEXT NOT NULL,
			entry_time DATETIME NOT NULL,
			mark_price TEXT NOT NULL,
			risk_amount TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol)`,

		`CREATE TABLE IF NOT EXISTS equity_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			cash TEXT NOT NULL,
			positions_value TEXT NOT NULL,
			total_equity TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equity_timestamp ON equity_snapshots(timestamp)`,

		`CREATE TABLE IF NOT EXISTS engine_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			last_updated DATETIME NOT NULL,
			cash TEXT NOT NULL,
			peak_capital TEXT NOT NULL,
			halted INTEGER NOT NULL DEFAULT 0,
			risk_state TEXT NOT NULL,
			total_trades INTEGER NOT NULL DEFAULT 0,
			winning_trades INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveTrade persists a closed trade.
func (r *SQLiteRepository) SaveTrade(ctx context.Context, trade types.Trade) error {
	query := `INSERT OR REPLACE INTO trades
		(id, symbol, side, class, shares, entry_price, exit_price, entry_costs, exit_costs, entry_slippage, exit_slippage, gross_pnl, net_pnl, exit_reason, entry_time, exit_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		trade.ID,
		trade.Symbol,
		trade.Side,
		trade.Class,
		trade.Shares,
		trade.EntryPrice.String(),
		trade.ExitPrice.String(),
		trade.EntryCosts.String(),
		trade.ExitCosts.String(),
		trade.EntrySlippage.String(),
		trade.ExitSlippage.String(),
		trade.GrossPnL.String(),
		trade.NetPnL.String(),
		string(trade.ExitReason),
		trade.EntryTime,
		trade.ExitTime,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	return nil
}

// GetTrades returns trades whose exit falls in the time range, oldest
// first.
func (r *SQLiteRepository) GetTrades(ctx context.Context, from, to time.Time) ([]types.Trade, error) {
	query := tradeSelect + ` WHERE exit_time BETWEEN ? AND ? ORDER BY exit_time`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTrades(rows)
}

// GetRecentTrades returns the most recently closed trades, oldest first,
// sized for the sizer's trailing stats window.
func (r *SQLiteRepository) GetRecentTrades(ctx context.Context, limit int) ([]types.Trade, error) {
	query := `SELECT * FROM (` + tradeSelect + ` ORDER BY exit_time DESC LIMIT ?) ORDER BY exit_time`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent trades: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTrades(rows)
}

const tradeSelect = `SELECT id, symbol, side, class, shares, entry_price, exit_price, entry_costs, exit_costs, entry_slippage, exit_slippage, gross_pnl, net_pnl, exit_reason, entry_time, exit_time
	FROM trades`

func scanTrades(rows *sql.Rows) ([]types.Trade, error) {
	var trades []types.Trade
	for rows.Next() {
		var t types.Trade
		var entryPrice, exitPrice, entryCosts, exitCosts, entrySlip, exitSlip, gross, net, reason string

		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Class, &t.Shares,
			&entryPrice, &exitPrice, &entryCosts, &exitCosts, &entrySlip, &exitSlip,
			&gross, &net, &reason, &t.EntryTime, &t.ExitTime); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}

		t.EntryPrice, _ = decimal.NewFromString(entryPrice)
		t.ExitPrice, _ = decimal.NewFromString(exitPrice)
		t.EntryCosts, _ = decimal.NewFromString(entryCosts)
		t.ExitCosts, _ = decimal.NewFromString(exitCosts)
		t.EntrySlippage, _ = decimal.NewFromString(entrySlip)
		t.ExitSlippage, _ = decimal.NewFromString(exitSlip)
		t.GrossPnL, _ = decimal.NewFromString(gross)
		t.NetPnL, _ = decimal.NewFromString(net)
		t.ExitReason = types.ExitReason(reason)

		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// SavePosition upserts an open position.
func (r *SQLiteRepository) SavePosition(ctx context.Context, p types.Position) error {
	query := `INSERT OR REPLACE INTO positions
		(id, symbol, side, class, liquidity_tier, shares, entry_price, entry_ref_price, stop_loss, target, entry_costs, entry_slippage, entry_time, mark_price, risk_amount, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Symbol,
		p.Side,
		p.Class,
		p.LiquidityTier,
		p.Shares,
		p.EntryPrice.String(),
		p.EntryRefPrice.String(),
		p.StopLoss.String(),
		p.Target.String(),
		p.EntryCosts.String(),
		p.EntrySlippage.String(),
		p.EntryTime,
		p.MarkPrice.String(),
		p.RiskAmount.String(),
	)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}

	return nil
}

// DeletePosition removes a position after it closes.
func (r *SQLiteRepository) DeletePosition(ctx context.Context, positionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, positionID); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

// GetOpenPositions returns all persisted open positions.
func (r *SQLiteRepository) GetOpenPositions(ctx context.Context) ([]types.Position, error) {
	query := `SELECT id, symbol, side, class, liquidity_tier, shares, entry_price, entry_ref_price, stop_loss, target, entry_costs, entry_slippage, entry_time, mark_price, risk_amount
		FROM positions ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var positions []types.Position
	for rows.Next() {
		var p types.Position
		var entryPrice, entryRef, stop, target, entryCosts, entrySlip, mark, riskAmount string

		if err := rows.Scan(&p.ID, &p.Symbol, &p.Side, &p.Class, &p.LiquidityTier, &p.Shares,
			&entryPrice, &entryRef, &stop, &target, &entryCosts, &entrySlip,
			&p.EntryTime, &mark, &riskAmount); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}

		p.EntryPrice, _ = decimal.NewFromString(entryPrice)
		p.EntryRefPrice, _ = decimal.NewFromString(entryRef)
		p.StopLoss, _ = decimal.NewFromString(stop)
		p.Target, _ = decimal.NewFromString(target)
		p.EntryCosts, _ = decimal.NewFromString(entryCosts)
		p.EntrySlippage, _ = decimal.NewFromString(entrySlip)
		p.MarkPrice, _ = decimal.NewFromString(mark)
		p.RiskAmount, _ = decimal.NewFromString(riskAmount)

		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// SaveEquityPoint appends an equity snapshot.
func (r *SQLiteRepository) SaveEquityPoint(ctx context.Context, point types.EquityPoint) error {
	query := `INSERT INTO equity_snapshots (timestamp, cash, positions_value, total_equity)
		VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		point.Timestamp,
		point.Cash.String(),
		point.PositionsValue.String(),
		point.TotalEquity.String(),
	)
	if err != nil {
		return fmt.Errorf("insert equity snapshot: %w", err)
	}

	return nil
}

// GetEquityCurve returns equity snapshots in a time range.
func (r *SQLiteRepository) GetEquityCurve(ctx context.Context, from, to time.Time) ([]types.EquityPoint, error) {
	query := `SELECT timestamp, cash, positions_value, total_equity
		FROM equity_snapshots WHERE timestamp BETWEEN ? AND ? ORDER BY timestamp`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query equity curve: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var curve []types.EquityPoint
	for rows.Next() {
		var p types.EquityPoint
		var cash, posValue, total string

		if err := rows.Scan(&p.Timestamp, &cash, &posValue, &total); err != nil {
			return nil, fmt.Errorf("scan equity point: %w", err)
		}

		p.Cash, _ = decimal.NewFromString(cash)
		p.PositionsValue, _ = decimal.NewFromString(posValue)
		p.TotalEquity, _ = decimal.NewFromString(total)

		curve = append(curve, p)
	}

	return curve, rows.Err()
}

// SaveState upserts the single recovery row.
func (r *SQLiteRepository) SaveState(ctx context.Context, state EngineState) error {
	query := `INSERT OR REPLACE INTO engine_state
		(id, last_updated, cash, peak_capital, halted, risk_state, total_trades, winning_trades)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		state.LastUpdated,
		state.Cash.String(),
		state.PeakCapital.String(),
		boolToInt(state.Halted),
		string(state.RiskState),
		state.TotalTrades,
		state.WinningTrades,
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	return nil
}

// GetState returns the saved engine state, or nil if none exists.
func (r *SQLiteRepository) GetState(ctx context.Context) (*EngineState, error) {
	query := `SELECT last_updated, cash, peak_capital, halted, risk_state, total_trades, winning_trades
		FROM engine_state WHERE id = 1`

	var state EngineState
	var cash, peak, riskState string
	var halted int

	err := r.db.QueryRowContext(ctx, query).Scan(
		&state.LastUpdated,
		&cash,
		&peak,
		&halted,
		&riskState,
		&state.TotalTrades,
		&state.WinningTrades,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}

	state.Cash, _ = decimal.NewFromString(cash)
	state.PeakCapital, _ = decimal.NewFromString(peak)
	state.RiskState = types.RiskStateName(riskState)
	state.Halted = halted == 1

	return &state, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
