// Package journal persists signals and completed trades to sqlite. It is
// append-only and single-writer; readers are only used for recent-history
// queries on the dashboard path.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"

	"perpenginev1/internal/model"
)

// Trade is one completed round trip.
type Trade struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Qty        float64   `json:"qty"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	Reason     string    `json:"reason"`
	Strategy   string    `json:"strategy"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

// Journal owns the sqlite handle. One writer; WAL keeps readers unblocked.
type Journal struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (and migrates) the journal database at path.
func Open(path string, log zerolog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db, log: log.With().Str("component", "journal").Logger()}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS signals (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		ts          INTEGER NOT NULL,
		symbol      TEXT NOT NULL,
		action      TEXT NOT NULL,
		score       REAL NOT NULL,
		confidence  REAL NOT NULL,
		strategy    TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals(ts);

	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		qty         REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_price  REAL NOT NULL,
		pnl         REAL NOT NULL,
		reason      TEXT NOT NULL,
		strategy    TEXT NOT NULL DEFAULT '',
		opened_at   INTEGER NOT NULL,
		closed_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_closed ON trades(closed_at);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("journal migrate: %w", err)
	}
	return nil
}

// RecordSignal appends one scored signal.
func (j *Journal) RecordSignal(sig model.TradeSignal) error {
	_, err := j.db.Exec(`
		INSERT INTO signals (ts, symbol, action, score, confidence, strategy, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sig.TS.UnixMilli(), sig.Symbol, string(sig.Action),
		sig.WeightedScore, sig.Confidence, sig.Strategy, sig.Reason)
	if err != nil {
		return fmt.Errorf("journal signal: %w", err)
	}
	return nil
}

// RecordTrade appends one completed trade.
func (j *Journal) RecordTrade(t Trade) error {
	_, err := j.db.Exec(`
		INSERT INTO trades (symbol, side, qty, entry_price, exit_price, pnl, reason, strategy, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Symbol, t.Side, t.Qty, t.EntryPrice, t.ExitPrice, t.PnL,
		t.Reason, t.Strategy, t.OpenedAt.UnixMilli(), t.ClosedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal trade: %w", err)
	}
	return nil
}

// RecentTrades returns up to n trades, newest first.
func (j *Journal) RecentTrades(n int) ([]Trade, error) {
	rows, err := j.db.Query(`
		SELECT id, symbol, side, qty, entry_price, exit_price, pnl, reason, strategy, opened_at, closed_at
		FROM trades ORDER BY closed_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("journal recent trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		var openedMs, closedMs int64
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Qty, &t.EntryPrice,
			&t.ExitPrice, &t.PnL, &t.Reason, &t.Strategy, &openedMs, &closedMs); err != nil {
			return nil, fmt.Errorf("journal scan trade: %w", err)
		}
		t.OpenedAt = time.UnixMilli(openedMs).UTC()
		t.ClosedAt = time.UnixMilli(closedMs).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentSignals returns up to n signals, newest first.
func (j *Journal) RecentSignals(n int) ([]model.TradeSignal, error) {
	rows, err := j.db.Query(`
		SELECT ts, symbol, action, score, confidence, strategy, reason
		FROM signals ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("journal recent signals: %w", err)
	}
	defer rows.Close()

	var out []model.TradeSignal
	for rows.Next() {
		var s model.TradeSignal
		var action string
		var tsMs int64
		if err := rows.Scan(&tsMs, &s.Symbol, &action, &s.WeightedScore,
			&s.Confidence, &s.Strategy, &s.Reason); err != nil {
			return nil, fmt.Errorf("journal scan signal: %w", err)
		}
		s.Action = model.Action(action)
		s.TS = time.UnixMilli(tsMs).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
