package store

import (
	"database/sql"
	"fmt"
	"time"
)

// TransactionRow mirrors the transactions table, the reconciler's signature
// cache: a transaction is fetched from RPC once and never refetched.
type TransactionRow struct {
	Signature      string
	Slot           uint64
	BlockTime      sql.NullInt64
	RawBlob        []byte
	ClassifiedKind string
	Confidence     string
	AnalyzedAt     time.Time
}

// GetTransaction returns the cached row for signature, if already fetched.
// This is the idempotence key lookup §4.5 requires: "a signature is
// processed at most once".
func (s *Store) GetTransaction(signature string) (TransactionRow, bool, error) {
	var t TransactionRow
	var analyzedAt int64
	err := s.db.QueryRow(`SELECT signature, slot, block_time, raw_blob, classified_kind, confidence, analyzed_at
		FROM transactions WHERE signature = ?`, signature,
	).Scan(&t.Signature, &t.Slot, &t.BlockTime, &t.RawBlob, &t.ClassifiedKind, &t.Confidence, &analyzedAt)
	if err == sql.ErrNoRows {
		return TransactionRow{}, false, nil
	}
	if err != nil {
		return TransactionRow{}, false, fmt.Errorf("store: get transaction %s: %w", signature, err)
	}
	t.AnalyzedAt = time.Unix(analyzedAt, 0)
	return t, true, nil
}

// UpsertTransaction caches the raw transaction blob and/or its latest
// classification. Re-analysis (promotion on more context) calls this again
// with the same signature.
func (s *Store) UpsertTransaction(t TransactionRow) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO transactions (signature, slot, block_time, raw_blob, classified_kind, confidence, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signature) DO UPDATE SET
			classified_kind = excluded.classified_kind,
			confidence = excluded.confidence,
			analyzed_at = excluded.analyzed_at
	`, t.Signature, t.Slot, t.BlockTime, t.RawBlob, t.ClassifiedKind, t.Confidence, t.AnalyzedAt.Unix())
	if err != nil {
		return fmt.Errorf("store: upsert transaction %s: %w", t.Signature, err)
	}
	return nil
}
