// Package store is the core's single SQLite database (WAL mode), matching
// spec §8's literal schema: tokens, blacklist, pools, prices_recent,
// positions, positions_journal, transactions. Writers serialize through a
// dedicated queue (a single *sql.DB with MaxOpenConns(1) already gives
// SQLite this), readers go direct; schema-changing operations run behind
// a boolean "initialized" flag set once.
//
// Grounded on Klingon-tech-klingdex's internal/storage/storage.go shape
// (WAL pragmas, os.MkdirAll for the data dir, a single *sql.DB guarded by
// a connection-pool cap rather than an in-process mutex) and backed by
// github.com/mattn/go-sqlite3, which is not in the teacher's own go.mod
// but is required by spec §8's literal "single SQLite database" contract.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the shared *sql.DB. All schema-changing operations are
// gated by initialized so repeated Open calls (e.g. in tests) are cheap
// and idempotent.
type Store struct {
	db          *sql.DB
	initialized atomic.Bool
	writeMu     sync.Mutex // serializes writers; SQLite allows exactly one at a time
}

// Open creates (or attaches to) the SQLite database at path in WAL mode
// and ensures the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying connection for packages (pricecache's history
// flush, positions' journal replay) that need custom queries this package
// doesn't wrap.
func (s *Store) DB() *sql.DB { return s.db }

const schema = `
CREATE TABLE IF NOT EXISTS tokens (
	mint TEXT PRIMARY KEY,
	symbol TEXT,
	name TEXT,
	decimals INTEGER,
	first_seen_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS blacklist (
	mint TEXT PRIMARY KEY,
	reason TEXT NOT NULL,
	added_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pools (
	pool_address TEXT PRIMARY KEY,
	program_kind TEXT NOT NULL,
	base_mint TEXT NOT NULL,
	quote_mint TEXT NOT NULL,
	base_vault TEXT NOT NULL,
	quote_vault TEXT NOT NULL,
	last_reserves_base TEXT NOT NULL,
	last_reserves_quote TEXT NOT NULL,
	last_updated_at INTEGER NOT NULL,
	health TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pools_base_mint ON pools(base_mint);

CREATE TABLE IF NOT EXISTS prices_recent (
	mint TEXT NOT NULL,
	ts INTEGER NOT NULL,
	price_sol REAL NOT NULL,
	price_usd REAL,
	pool TEXT NOT NULL,
	confidence REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prices_recent_mint_ts ON prices_recent(mint, ts);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	mint TEXT NOT NULL,
	state TEXT NOT NULL,
	entry_price REAL,
	token_amount_raw TEXT NOT NULL,
	opened_at INTEGER,
	closed_at INTEGER,
	entry_sig TEXT,
	exit_sig TEXT,
	realized_pnl_sol REAL NOT NULL DEFAULT 0,
	average_buy_price REAL,
	peak_price REAL,
	trough_price REAL,
	strategy_tag TEXT,
	entry_amount_sol REAL
);
CREATE INDEX IF NOT EXISTS idx_positions_mint ON positions(mint);

CREATE TABLE IF NOT EXISTS positions_journal (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	position_id TEXT NOT NULL,
	mint TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_position ON positions_journal(position_id);

CREATE TABLE IF NOT EXISTS transactions (
	signature TEXT PRIMARY KEY,
	slot INTEGER NOT NULL,
	block_time INTEGER,
	raw_blob BLOB,
	classified_kind TEXT,
	confidence TEXT,
	analyzed_at INTEGER
);
`

func (s *Store) initSchema() error {
	if s.initialized.Load() {
		return nil
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	s.initialized.Store(true)
	return nil
}
