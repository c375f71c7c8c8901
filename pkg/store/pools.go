package store

import (
	"database/sql"
	"fmt"
	"time"
)

// PoolRow mirrors the pools table.
type PoolRow struct {
	PoolAddress       string
	ProgramKind       string
	BaseMint          string
	QuoteMint         string
	BaseVault         string
	QuoteVault        string
	LastReservesBase  string // decimal string; math.Int round-trips exactly
	LastReservesQuote string
	LastUpdatedAt     time.Time
	Health            string
}

// UpsertPool persists the fetcher+decoder's latest view of a pool.
func (s *Store) UpsertPool(p PoolRow) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO pools (pool_address, program_kind, base_mint, quote_mint, base_vault, quote_vault,
			last_reserves_base, last_reserves_quote, last_updated_at, health)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pool_address) DO UPDATE SET
			last_reserves_base = excluded.last_reserves_base,
			last_reserves_quote = excluded.last_reserves_quote,
			last_updated_at = excluded.last_updated_at,
			health = excluded.health
	`, p.PoolAddress, p.ProgramKind, p.BaseMint, p.QuoteMint, p.BaseVault, p.QuoteVault,
		p.LastReservesBase, p.LastReservesQuote, p.LastUpdatedAt.Unix(), p.Health)
	if err != nil {
		return fmt.Errorf("store: upsert pool %s: %w", p.PoolAddress, err)
	}
	return nil
}

// PoolsByMint returns every persisted pool for a base mint, for restart
// rehydration of the pool pipeline's tracked set.
func (s *Store) PoolsByMint(mint string) ([]PoolRow, error) {
	rows, err := s.db.Query(`SELECT pool_address, program_kind, base_mint, quote_mint, base_vault, quote_vault,
		last_reserves_base, last_reserves_quote, last_updated_at, health FROM pools WHERE base_mint = ?`, mint)
	if err != nil {
		return nil, fmt.Errorf("store: pools by mint %s: %w", mint, err)
	}
	defer rows.Close()
	var out []PoolRow
	for rows.Next() {
		var p PoolRow
		var updatedAt int64
		if err := rows.Scan(&p.PoolAddress, &p.ProgramKind, &p.BaseMint, &p.QuoteMint, &p.BaseVault, &p.QuoteVault,
			&p.LastReservesBase, &p.LastReservesQuote, &updatedAt, &p.Health); err != nil {
			return nil, fmt.Errorf("store: scan pool row: %w", err)
		}
		p.LastUpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

// PriceHistoryRow mirrors one row of prices_recent.
type PriceHistoryRow struct {
	Mint       string
	At         time.Time
	PriceSOL   float64
	PriceUSD   sql.NullFloat64
	Pool       string
	Confidence float64
}

// AppendPriceHistory flushes one canonical-price snapshot into the rolling
// window, the pricecache's background-batch durability path.
func (s *Store) AppendPriceHistory(rows []PriceHistoryRow) error {
	if len(rows) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin price history flush: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO prices_recent (mint, ts, price_sol, price_usd, pool, confidence) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("store: prepare price history insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.Mint, r.At.Unix(), r.PriceSOL, r.PriceUSD, r.Pool, r.Confidence); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: insert price history row for %s: %w", r.Mint, err)
		}
	}
	return tx.Commit()
}

// RecentPriceHistory returns up to limit of the most recent rows for mint,
// newest first, for restart-time price-context rehydration.
func (s *Store) RecentPriceHistory(mint string, limit int) ([]PriceHistoryRow, error) {
	rows, err := s.db.Query(`SELECT mint, ts, price_sol, price_usd, pool, confidence FROM prices_recent
		WHERE mint = ? ORDER BY ts DESC LIMIT ?`, mint, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent price history %s: %w", mint, err)
	}
	defer rows.Close()
	var out []PriceHistoryRow
	for rows.Next() {
		var r PriceHistoryRow
		var ts int64
		if err := rows.Scan(&r.Mint, &ts, &r.PriceSOL, &r.PriceUSD, &r.Pool, &r.Confidence); err != nil {
			return nil, fmt.Errorf("store: scan price history row: %w", err)
		}
		r.At = time.Unix(ts, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}
