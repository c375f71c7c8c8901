package pooldecoder

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerogrind/solcore/pkg/coreerr"
	"github.com/aerogrind/solcore/pkg/pool/raydium"
	"github.com/aerogrind/solcore/pkg/pooltypes"
)

// buildLegacyAmmAccountBytes lays out a 752-byte Raydium legacy AMM
// account exactly as raydium.AMMPool.Decode expects: 32 little-endian
// uint64 fields, six uint128 swap-accounting fields, twelve pubkeys, then
// a trailing uint64 plus padding.
func buildLegacyAmmAccountBytes(baseDecimal, quoteDecimal uint64, baseVault, quoteVault, baseMint, quoteMint solana.PublicKey) []byte {
	buf := make([]byte, 752)

	putU64 := func(fieldIndex int, v uint64) {
		binary.LittleEndian.PutUint64(buf[fieldIndex*8:fieldIndex*8+8], v)
	}
	// Field order: Status, Nonce, MaxOrder, Depth, BaseDecimal, QuoteDecimal, ...
	putU64(4, baseDecimal)
	putU64(5, quoteDecimal)

	pubkeyBlock := 256 + 80 // 32 uint64 fields + uint128/fee block
	putPubkey := func(slot int, key solana.PublicKey) {
		copy(buf[pubkeyBlock+slot*32:pubkeyBlock+slot*32+32], key[:])
	}
	// Pubkey order: BaseVault(0), QuoteVault(1), BaseMint(2), QuoteMint(3), ...
	putPubkey(0, baseVault)
	putPubkey(1, quoteVault)
	putPubkey(2, baseMint)
	putPubkey(3, quoteMint)

	return buf
}

func TestDecode_RaydiumLegacyAmm(t *testing.T) {
	baseVault := solana.NewWallet().PublicKey()
	quoteVault := solana.NewWallet().PublicKey()
	baseMint := solana.NewWallet().PublicKey()
	quoteMint := solana.NewWallet().PublicKey()

	acct := pooltypes.AccountData{
		PoolAddress: solana.NewWallet().PublicKey(),
		Owner:       raydium.RAYDIUM_AMM_PROGRAM_ID,
		Data:        buildLegacyAmmAccountBytes(9, 6, baseVault, quoteVault, baseMint, quoteMint),
		VaultBalances: map[string]uint64{
			baseVault.String():  1_000_000_000,
			quoteVault.String(): 2_000_000_000,
		},
	}

	decoded, err := Decode(acct)
	require.NoError(t, err)
	assert.Equal(t, pooltypes.ProgramRaydiumLegacyAmm, decoded.ProgramKind)
	assert.Equal(t, baseMint, decoded.BaseMint)
	assert.Equal(t, quoteMint, decoded.QuoteMint)
	assert.Equal(t, uint8(9), decoded.BaseDecimals)
	assert.Equal(t, uint8(6), decoded.QuoteDecimals)
	assert.EqualValues(t, 1_000_000_000, decoded.ReserveBase.Int64())
	assert.EqualValues(t, 2_000_000_000, decoded.ReserveQuote.Int64())
}

func TestDecode_MissingVaultBalance(t *testing.T) {
	baseVault := solana.NewWallet().PublicKey()
	quoteVault := solana.NewWallet().PublicKey()
	baseMint := solana.NewWallet().PublicKey()
	quoteMint := solana.NewWallet().PublicKey()

	acct := pooltypes.AccountData{
		PoolAddress:   solana.NewWallet().PublicKey(),
		Owner:         raydium.RAYDIUM_AMM_PROGRAM_ID,
		Data:          buildLegacyAmmAccountBytes(9, 6, baseVault, quoteVault, baseMint, quoteMint),
		VaultBalances: map[string]uint64{}, // neither vault's balance was pre-fetched
	}

	_, err := Decode(acct)
	assert.ErrorIs(t, err, coreerr.ErrUndecodable)
}

func TestDecode_UnknownProgram(t *testing.T) {
	acct := pooltypes.AccountData{
		PoolAddress: solana.NewWallet().PublicKey(),
		Owner:       solana.NewWallet().PublicKey(),
		Data:        []byte{1, 2, 3},
	}
	_, err := Decode(acct)
	assert.ErrorIs(t, err, coreerr.ErrUndecodable)
}

func TestFailedCache_BackoffEscalatesAndResets(t *testing.T) {
	c := NewFailedCache()
	addr := "poolA"
	now := time.Now()

	assert.False(t, c.ShouldSkip(addr, now))

	c.RecordFailure(addr, assert.AnError)
	assert.True(t, c.ShouldSkip(addr, now))
	assert.False(t, c.ShouldSkip(addr, now.Add(31*time.Second)))

	// A second failure escalates to the 5m tier.
	c.RecordFailure(addr, assert.AnError)
	assert.True(t, c.ShouldSkip(addr, now.Add(31*time.Second)))
	assert.False(t, c.ShouldSkip(addr, now.Add(6*time.Minute)))

	c.RecordSuccess(addr)
	assert.False(t, c.ShouldSkip(addr, now))
	if _, ok := c.LastError(addr); ok {
		t.Fatal("expected no last error after RecordSuccess")
	}
}
