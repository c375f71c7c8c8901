package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "core.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTokenUpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	require.NoError(t, s.UpsertToken(TokenRow{
		Mint: "MintA", Symbol: "AAA", Name: "Token A", Decimals: 6,
		FirstSeenAt: now, UpdatedAt: now,
	}))

	row, ok, err := s.GetToken("MintA")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "AAA", row.Symbol)
	require.Equal(t, 6, row.Decimals)

	_, ok, err = s.GetToken("Unknown")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBlacklistAddRemove(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.AddBlacklist("MintB", "rugcheck_fail", time.Now()))
	reason, blacklisted, err := s.IsBlacklisted("MintB")
	require.NoError(t, err)
	require.True(t, blacklisted)
	require.Equal(t, "rugcheck_fail", reason)

	require.NoError(t, s.RemoveBlacklist("MintB"))
	_, blacklisted, err = s.IsBlacklisted("MintB")
	require.NoError(t, err)
	require.False(t, blacklisted)
}

func TestJournalReplayOrder(t *testing.T) {
	s := openTestStore(t)

	for i, kind := range []string{"reserved", "opened", "closing", "closed"} {
		seq, err := s.AppendJournal(JournalRow{
			PositionID: "pos-1", Mint: "MintC", Kind: kind, PayloadJSON: "{}", At: time.Now(),
		})
		require.NoError(t, err)
		require.EqualValues(t, i+1, seq)
	}

	rows, err := s.ReplayJournal()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, "reserved", rows[0].Kind)
	require.Equal(t, "closed", rows[3].Kind)
}

func TestTransactionIdempotentUpsert(t *testing.T) {
	s := openTestStore(t)

	row := TransactionRow{Signature: "sig1", Slot: 100, ClassifiedKind: "unknown", Confidence: "low", AnalyzedAt: time.Now()}
	require.NoError(t, s.UpsertTransaction(row))

	row.ClassifiedKind = "buy"
	row.Confidence = "high"
	require.NoError(t, s.UpsertTransaction(row))

	got, ok, err := s.GetTransaction("sig1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "buy", got.ClassifiedKind)
	require.Equal(t, "high", got.Confidence)
}

func TestPriceHistoryRoundTrip(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.AppendPriceHistory([]PriceHistoryRow{
		{Mint: "MintD", At: time.Now().Add(-time.Minute), PriceSOL: 1.0, Pool: "poolA", Confidence: 0.8},
		{Mint: "MintD", At: time.Now(), PriceSOL: 1.1, Pool: "poolA", Confidence: 0.9},
	}))

	rows, err := s.RecentPriceHistory("MintD", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, 1.1, rows[0].PriceSOL, "newest first")
}
