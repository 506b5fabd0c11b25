package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"oanda-trader/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if necessary creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		units REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		entry_time DATETIME NOT NULL,
		exit_time DATETIME NOT NULL,
		realized_pnl REAL NOT NULL,
		reason TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);

	CREATE TABLE IF NOT EXISTS equity_curve (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		equity REAL NOT NULL,
		drawdown REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_equity_timestamp ON equity_curve(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveTrade inserts a closed trade. Re-saving the same trade ID replaces the
// previous row, so duplicate close notifications are harmless.
func (s *SQLiteStore) SaveTrade(ctx context.Context, trade models.ClosedTrade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trades
		(id, symbol, side, units, entry_price, exit_price, entry_time, exit_time, realized_pnl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.Symbol, string(trade.Side), trade.Units,
		trade.EntryPrice, trade.ExitPrice,
		trade.EntryTime.UTC(), trade.ExitTime.UTC(),
		trade.RealizedPnL, string(trade.Reason),
	)
	if err != nil {
		return fmt.Errorf("saving trade %s: %w", trade.ID, err)
	}
	return nil
}

// GetTrades returns trades whose exit time falls in [from, to], oldest first.
func (s *SQLiteStore) GetTrades(ctx context.Context, from, to time.Time) ([]models.ClosedTrade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, side, units, entry_price, exit_price, entry_time, exit_time, realized_pnl, reason
		FROM trades
		WHERE exit_time >= ? AND exit_time <= ?
		ORDER BY exit_time ASC`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying trades: %w", err)
	}
	defer rows.Close()

	var trades []models.ClosedTrade
	for rows.Next() {
		var tr models.ClosedTrade
		var side, reason string
		if err := rows.Scan(&tr.ID, &tr.Symbol, &side, &tr.Units,
			&tr.EntryPrice, &tr.ExitPrice, &tr.EntryTime, &tr.ExitTime,
			&tr.RealizedPnL, &reason); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		tr.Side = models.Side(side)
		tr.Reason = models.CloseReason(reason)
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

// SaveEquityPoint appends a point to the equity curve.
func (s *SQLiteStore) SaveEquityPoint(ctx context.Context, point EquityPoint) error {
	ts := point.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO equity_curve (timestamp, equity, drawdown) VALUES (?, ?, ?)`,
		ts.UTC(), point.Equity, point.Drawdown,
	)
	if err != nil {
		return fmt.Errorf("saving equity point: %w", err)
	}
	return nil
}

// GetEquityCurve returns equity points in [from, to], oldest first.
func (s *SQLiteStore) GetEquityCurve(ctx context.Context, from, to time.Time) ([]EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, equity, drawdown FROM equity_curve
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying equity curve: %w", err)
	}
	defer rows.Close()

	var points []EquityPoint
	for rows.Next() {
		var p EquityPoint
		if err := rows.Scan(&p.Timestamp, &p.Equity, &p.Drawdown); err != nil {
			return nil, fmt.Errorf("scanning equity point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
