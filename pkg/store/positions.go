package store

import (
	"database/sql"
	"fmt"
	"time"
)

// PositionRow mirrors the positions table's projection, the "live" view.
type PositionRow struct {
	ID              string
	Mint            string
	State           string
	EntryPrice      sql.NullFloat64
	EntryAmountSOL  sql.NullFloat64
	TokenAmountRaw  string // decimal string
	AverageBuyPrice sql.NullFloat64
	RealizedPnlSOL  float64
	PeakPrice       sql.NullFloat64
	TroughPrice     sql.NullFloat64
	OpenedAt        sql.NullInt64
	ClosedAt        sql.NullInt64
	EntrySig        sql.NullString
	ExitSig         sql.NullString
	StrategyTag     sql.NullString
}

// JournalRow mirrors one append-only positions_journal record.
type JournalRow struct {
	Seq         int64
	PositionID  string
	Mint        string
	Kind        string
	PayloadJSON string
	At          time.Time
}

// UpsertPosition writes the current projection of a position; it is
// always called alongside AppendJournal for the same transition so the
// live view and the append-only log stay consistent.
func (s *Store) UpsertPosition(p PositionRow) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO positions (id, mint, state, entry_price, entry_amount_sol, token_amount_raw,
			average_buy_price, realized_pnl_sol, peak_price, trough_price, opened_at, closed_at,
			entry_sig, exit_sig, strategy_tag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			entry_price = excluded.entry_price,
			entry_amount_sol = excluded.entry_amount_sol,
			token_amount_raw = excluded.token_amount_raw,
			average_buy_price = excluded.average_buy_price,
			realized_pnl_sol = excluded.realized_pnl_sol,
			peak_price = excluded.peak_price,
			trough_price = excluded.trough_price,
			opened_at = excluded.opened_at,
			closed_at = excluded.closed_at,
			entry_sig = excluded.entry_sig,
			exit_sig = excluded.exit_sig,
			strategy_tag = excluded.strategy_tag
	`, p.ID, p.Mint, p.State, p.EntryPrice, p.EntryAmountSOL, p.TokenAmountRaw, p.AverageBuyPrice,
		p.RealizedPnlSOL, p.PeakPrice, p.TroughPrice, p.OpenedAt, p.ClosedAt, p.EntrySig, p.ExitSig, p.StrategyTag)
	if err != nil {
		return fmt.Errorf("store: upsert position %s: %w", p.ID, err)
	}
	return nil
}

// AppendJournal writes one append-only transition record. The journal is
// never updated or deleted, only appended to; AUTOINCREMENT seq gives a
// total order for replay.
func (s *Store) AppendJournal(row JournalRow) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.Exec(`INSERT INTO positions_journal (position_id, mint, kind, payload_json, at) VALUES (?, ?, ?, ?, ?)`,
		row.PositionID, row.Mint, row.Kind, row.PayloadJSON, row.At.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: append journal for %s: %w", row.PositionID, err)
	}
	return res.LastInsertId()
}

// ReplayJournal returns every journal row in sequence order, for rebuilding
// in-memory position state on restart (§4.3's "rebuilds in-memory state by
// replaying the journal").
func (s *Store) ReplayJournal() ([]JournalRow, error) {
	rows, err := s.db.Query(`SELECT seq, position_id, mint, kind, payload_json, at FROM positions_journal ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: replay journal: %w", err)
	}
	defer rows.Close()
	var out []JournalRow
	for rows.Next() {
		var r JournalRow
		var at int64
		if err := rows.Scan(&r.Seq, &r.PositionID, &r.Mint, &r.Kind, &r.PayloadJSON, &at); err != nil {
			return nil, fmt.Errorf("store: scan journal row: %w", err)
		}
		r.At = time.Unix(at, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadOpenPositions returns every position not in a terminal Closed state,
// for the fast path of restart rehydration (avoiding a full journal replay
// when only the live set is needed).
func (s *Store) LoadOpenPositions() ([]PositionRow, error) {
	rows, err := s.db.Query(`SELECT id, mint, state, entry_price, entry_amount_sol, token_amount_raw,
		average_buy_price, realized_pnl_sol, peak_price, trough_price, opened_at, closed_at,
		entry_sig, exit_sig, strategy_tag FROM positions WHERE state != 'closed'`)
	if err != nil {
		return nil, fmt.Errorf("store: load open positions: %w", err)
	}
	defer rows.Close()
	var out []PositionRow
	for rows.Next() {
		var p PositionRow
		if err := rows.Scan(&p.ID, &p.Mint, &p.State, &p.EntryPrice, &p.EntryAmountSOL, &p.TokenAmountRaw,
			&p.AverageBuyPrice, &p.RealizedPnlSOL, &p.PeakPrice, &p.TroughPrice, &p.OpenedAt, &p.ClosedAt,
			&p.EntrySig, &p.ExitSig, &p.StrategyTag); err != nil {
			return nil, fmt.Errorf("store: scan position row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
