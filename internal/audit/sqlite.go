// Package audit persists a per-session trade log to SQLite
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"perpmm/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS fills (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	order_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	price TEXT NOT NULL,
	qty TEXT NOT NULL,
	cum_filled TEXT NOT NULL,
	fee TEXT NOT NULL,
	is_maker INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_ts ON fills(ts);

CREATE TABLE IF NOT EXISTS operations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	action TEXT NOT NULL,
	side TEXT,
	price TEXT,
	best_bid TEXT,
	best_ask TEXT,
	reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_operations_ts ON operations(ts);
`

// SQLiteTradeLog implements core.ITradeLog on a single-file database.
// WAL mode keeps writers off the read path.
type SQLiteTradeLog struct {
	db     *sql.DB
	logger core.ILogger
}

// NewSQLiteTradeLog opens (or creates) the database and applies the schema
func NewSQLiteTradeLog(path string, logger core.ILogger) (*SQLiteTradeLog, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open trade log: %w", err)
	}
	// A single connection avoids SQLITE_BUSY on concurrent writes
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply trade log schema: %w", err)
	}

	return &SQLiteTradeLog{
		db:     db,
		logger: logger.WithField("component", "trade_log"),
	}, nil
}

// RecordFill implements ITradeLog
func (l *SQLiteTradeLog) RecordFill(ctx context.Context, fill *core.FillEvent) error {
	isMaker := 0
	if fill.IsMaker {
		isMaker = 1
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO fills (ts, order_id, symbol, side, price, qty, cum_filled, fee, is_maker)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fill.Timestamp.UnixMilli(), fill.OrderID, fill.Symbol, string(fill.Side),
		fill.Price.String(), fill.Qty.String(), fill.CumFilled.String(),
		fill.Fee.String(), isMaker)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// RecordOperation implements ITradeLog
func (l *SQLiteTradeLog) RecordOperation(ctx context.Context, op *core.OperationRecord) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO operations (ts, action, side, price, best_bid, best_ask, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.Timestamp.UnixMilli(), string(op.Action), string(op.Side),
		op.Price.String(), op.BestBid.String(), op.BestAsk.String(), op.Reason)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// FillCount returns the number of recorded fills since a cutoff
func (l *SQLiteTradeLog) FillCount(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fills WHERE ts >= ?`, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count fills: %w", err)
	}
	return n, nil
}

// Close implements ITradeLog
func (l *SQLiteTradeLog) Close() error {
	return l.db.Close()
}
