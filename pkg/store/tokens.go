package store

import (
	"database/sql"
	"fmt"
	"time"
)

// TokenRow mirrors the tokens table.
type TokenRow struct {
	Mint        string
	Symbol      string
	Name        string
	Decimals    int
	FirstSeenAt time.Time
	UpdatedAt   time.Time
}

// UpsertToken inserts a new mint or refreshes symbol/name/decimals/updated_at
// for an already-known one, matching §4.2 discovery's "already-known mints
// have their source attribution updated" (attribution itself lives in
// memory; this is the durable mirror).
func (s *Store) UpsertToken(t TokenRow) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO tokens (mint, symbol, name, decimals, first_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(mint) DO UPDATE SET
			symbol = excluded.symbol,
			name = excluded.name,
			decimals = excluded.decimals,
			updated_at = excluded.updated_at
	`, t.Mint, t.Symbol, t.Name, t.Decimals, t.FirstSeenAt.Unix(), t.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("store: upsert token %s: %w", t.Mint, err)
	}
	return nil
}

// GetToken returns the persisted row for mint, or (TokenRow{}, false, nil) if absent.
func (s *Store) GetToken(mint string) (TokenRow, bool, error) {
	var t TokenRow
	var firstSeen, updated int64
	err := s.db.QueryRow(
		`SELECT mint, symbol, name, decimals, first_seen_at, updated_at FROM tokens WHERE mint = ?`, mint,
	).Scan(&t.Mint, &t.Symbol, &t.Name, &t.Decimals, &firstSeen, &updated)
	if err == sql.ErrNoRows {
		return TokenRow{}, false, nil
	}
	if err != nil {
		return TokenRow{}, false, fmt.Errorf("store: get token %s: %w", mint, err)
	}
	t.FirstSeenAt = time.Unix(firstSeen, 0)
	t.UpdatedAt = time.Unix(updated, 0)
	return t, true, nil
}

// GetDecimals is the "local DB" link in decimals' lookup chain: in-memory
// cache -> local DB -> on-chain mint account.
func (s *Store) GetDecimals(mint string) (int, bool, error) {
	var decimals sql.NullInt64
	err := s.db.QueryRow(`SELECT decimals FROM tokens WHERE mint = ?`, mint).Scan(&decimals)
	if err == sql.ErrNoRows || !decimals.Valid {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: get decimals %s: %w", mint, err)
	}
	return int(decimals.Int64), true, nil
}

// AddBlacklist records a mint as permanently untradable with a reason.
func (s *Store) AddBlacklist(mint, reason string, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO blacklist (mint, reason, added_at) VALUES (?, ?, ?)
		 ON CONFLICT(mint) DO UPDATE SET reason = excluded.reason`,
		mint, reason, at.Unix())
	if err != nil {
		return fmt.Errorf("store: add blacklist %s: %w", mint, err)
	}
	return nil
}

// RemoveBlacklist is the explicit administrative removal spec §3 requires
// before a blacklisted mint can become tradable again.
func (s *Store) RemoveBlacklist(mint string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.Exec(`DELETE FROM blacklist WHERE mint = ?`, mint)
	if err != nil {
		return fmt.Errorf("store: remove blacklist %s: %w", mint, err)
	}
	return nil
}

// IsBlacklisted reports whether mint has an active blacklist entry and its reason.
func (s *Store) IsBlacklisted(mint string) (reason string, blacklisted bool, err error) {
	err = s.db.QueryRow(`SELECT reason FROM blacklist WHERE mint = ?`, mint).Scan(&reason)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: is blacklisted %s: %w", mint, err)
	}
	return reason, true, nil
}

// LoadBlacklist returns every blacklisted mint, for rebuilding the
// in-memory tokens store on restart.
func (s *Store) LoadBlacklist() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT mint, reason FROM blacklist`)
	if err != nil {
		return nil, fmt.Errorf("store: load blacklist: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var mint, reason string
		if err := rows.Scan(&mint, &reason); err != nil {
			return nil, fmt.Errorf("store: scan blacklist row: %w", err)
		}
		out[mint] = reason
	}
	return out, rows.Err()
}
