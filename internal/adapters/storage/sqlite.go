package storage

// sqlite.go: SQLite persistence for the trading engine.
//
// Tables:
//   strategies       capital ledger rows, version column for optimistic locking
//   orders           one row per placed trade attempt
//   signals          externally generated trade signals awaiting execution
//   bots             read-only bot trading parameters
//   resolutions      venue market resolutions, cached
//   shadow_decisions shadow-mode admit records (audit/backtest)
//   daily_summaries  per-strategy daily PnL snapshots

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS strategies (
    id                     TEXT PRIMARY KEY,
    user_id                TEXT NOT NULL,
    bot_id                 TEXT NOT NULL,
    active                 INTEGER NOT NULL DEFAULT 1,
    paused_by_user         INTEGER NOT NULL DEFAULT 0,
    breaker_paused         INTEGER NOT NULL DEFAULT 0,
    shadow_mode            INTEGER NOT NULL DEFAULT 0,
    available              REAL NOT NULL DEFAULT 0,
    locked                 REAL NOT NULL DEFAULT 0,
    cooldown               REAL NOT NULL DEFAULT 0,
    initial_capital        REAL NOT NULL DEFAULT 0,
    peak_equity            REAL NOT NULL DEFAULT 0,
    max_order_size         REAL NOT NULL DEFAULT 0,
    daily_budget           REAL NOT NULL DEFAULT 0,
    slippage_tolerance_pct REAL NOT NULL DEFAULT 0,
    daily_spent            REAL NOT NULL DEFAULT 0,
    spent_day              TEXT NOT NULL DEFAULT '',
    consecutive_losses     INTEGER NOT NULL DEFAULT 0,
    cooldown_matures_at    DATETIME,
    last_sync_at           DATETIME,
    created_at             DATETIME NOT NULL,
    version                INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS strategies_bot ON strategies(bot_id);

CREATE TABLE IF NOT EXISTS orders (
    id              TEXT PRIMARY KEY,
    strategy_id     TEXT NOT NULL,
    signal_id       TEXT NOT NULL DEFAULT '',
    market_id       TEXT NOT NULL,
    outcome_id      TEXT NOT NULL,
    side            TEXT NOT NULL,
    signal_price    REAL NOT NULL,
    signal_size     REAL NOT NULL,
    executed_price  REAL NOT NULL DEFAULT 0,
    executed_size   REAL NOT NULL DEFAULT 0,
    venue_order_id  TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'PENDING',
    outcome         TEXT NOT NULL DEFAULT '',
    placed_at       DATETIME NOT NULL,
    filled_at       DATETIME,
    redeemed_at     DATETIME
);

CREATE INDEX IF NOT EXISTS orders_status   ON orders(status);
CREATE INDEX IF NOT EXISTS orders_strategy ON orders(strategy_id);
CREATE INDEX IF NOT EXISTS orders_market   ON orders(market_id);
CREATE UNIQUE INDEX IF NOT EXISTS orders_signal ON orders(strategy_id, signal_id) WHERE signal_id != '';

CREATE TABLE IF NOT EXISTS signals (
    id          TEXT PRIMARY KEY,
    bot_id      TEXT NOT NULL,
    market_id   TEXT NOT NULL,
    outcome_id  TEXT NOT NULL,
    side        TEXT NOT NULL,
    price       REAL NOT NULL,
    size        REAL NOT NULL,
    edge        REAL NOT NULL DEFAULT 0,
    created_at  DATETIME NOT NULL,
    consumed_at DATETIME
);

CREATE INDEX IF NOT EXISTS signals_bot ON signals(bot_id, consumed_at);

CREATE TABLE IF NOT EXISTS bots (
    id              TEXT PRIMARY KEY,
    sizing_fraction REAL NOT NULL DEFAULT 0,
    min_edge        REAL NOT NULL DEFAULT 0,
    price_band_lo   REAL NOT NULL DEFAULT 0,
    price_band_hi   REAL NOT NULL DEFAULT 1,
    min_order_size  REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS resolutions (
    market_id       TEXT PRIMARY KEY,
    resolved        INTEGER NOT NULL DEFAULT 0,
    voided          INTEGER NOT NULL DEFAULT 0,
    winning_outcome TEXT NOT NULL DEFAULT '',
    resolved_at     DATETIME
);

CREATE TABLE IF NOT EXISTS shadow_decisions (
    id           TEXT PRIMARY KEY,
    strategy_id  TEXT NOT NULL,
    market_id    TEXT NOT NULL,
    outcome_id   TEXT NOT NULL,
    side         TEXT NOT NULL,
    signal_price REAL NOT NULL,
    sized_amount REAL NOT NULL,
    created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS shadow_strategy ON shadow_decisions(strategy_id);

CREATE TABLE IF NOT EXISTS daily_summaries (
    strategy_id   TEXT NOT NULL,
    date          DATE NOT NULL,
    orders_placed INTEGER NOT NULL DEFAULT 0,
    redemptions   INTEGER NOT NULL DEFAULT 0,
    realized_pnl  REAL NOT NULL DEFAULT 0,
    equity        REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (strategy_id, date)
);
`

// SQLiteStore implements ports.Store using SQLite (pure Go, no CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at the given path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func scanNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, _ := time.Parse(time.RFC3339, s.String)
	if t.IsZero() {
		t, _ = time.Parse("2006-01-02 15:04:05", s.String)
	}
	if t.IsZero() {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
