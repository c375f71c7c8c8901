// Package pooltypes holds the data shared between pool discovery, the
// account fetcher, decoders, the price calculator and the cache — the
// "Pool" and "PriceResult" entities of the data model. Keeping them in one
// leaf package lets every pool-pipeline stage depend on the shapes without
// depending on each other.
package pooltypes

import (
	"time"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
)

// ProgramKind names a DEX pool family. A pool whose ProgramKind has no
// registered decoder is undecodable, not an error (spec §3).
type ProgramKind string

const (
	ProgramRaydiumCpmm      ProgramKind = "raydium_cpmm"
	ProgramRaydiumLegacyAmm ProgramKind = "raydium_legacy_amm"
	ProgramRaydiumClmm      ProgramKind = "raydium_clmm"
	ProgramMeteoraDlmm      ProgramKind = "meteora_dlmm"
	ProgramMeteoraDamm      ProgramKind = "meteora_damm"
	ProgramOrcaWhirlpool    ProgramKind = "orca_whirlpool"
	ProgramPumpFunAmm       ProgramKind = "pump_fun_amm"
)

// Health reflects whether a pool is currently trusted for pricing.
type Health string

const (
	HealthOK         Health = "ok"
	HealthUndecoded  Health = "undecoded"
	HealthBackedOff  Health = "backed_off"
	HealthNoLiquidty Health = "no_liquidity"
)

// Pool is an on-chain DEX liquidity venue, owned by the pool pipeline.
type Pool struct {
	PoolAddress solana.PublicKey
	ProgramKind ProgramKind
	BaseMint    solana.PublicKey
	QuoteMint   solana.PublicKey
	BaseVault   solana.PublicKey
	QuoteVault  solana.PublicKey

	ReserveBase  math.Int
	ReserveQuote math.Int

	LastUpdatedSlot uint64
	LastUpdatedAt   time.Time
	Health          Health

	// Sources records which discovery APIs reported this pool, for
	// per-source TTL independent of the pool's own staleness.
	Sources map[string]time.Time
}

// Stale reports whether the pool's last decoded state is older than ttl.
func (p *Pool) Stale(ttl time.Duration, now time.Time) bool {
	if p.LastUpdatedAt.IsZero() {
		return true
	}
	return now.Sub(p.LastUpdatedAt) > ttl
}

// AccountData is a pre-fetched account blob plus its vault balances, the
// "pre-fetched vault-balance map" design note #3 calls for so decoders stay
// pure (no RPC calls inside Decode).
type AccountData struct {
	PoolAddress solana.PublicKey
	Owner       solana.PublicKey
	Data        []byte
	Slot        uint64

	// VaultBalances maps a vault pubkey (base58) to its raw token-account
	// balance, for CPMM/CLMM-style pools whose reserves live in vaults
	// rather than in the pool account itself.
	VaultBalances map[string]uint64
}

// DecodedPool is the pure output of a decoder: reserves plus enough
// identity to compute and attribute a price. No I/O, no clock reads.
type DecodedPool struct {
	PoolAddress  solana.PublicKey
	ProgramKind  ProgramKind
	BaseMint     solana.PublicKey
	QuoteMint    solana.PublicKey
	BaseVault    solana.PublicKey
	QuoteVault   solana.PublicKey
	ReserveBase  math.Int
	ReserveQuote math.Int
	BaseDecimals uint8
	QuoteDecimals uint8
}

// PriceResult is the output of a price calculation for (mint, pool).
type PriceResult struct {
	Mint        string
	PoolAddress string
	ProgramKind ProgramKind
	PriceSOL    float64
	PriceUSD    float64
	HasUSD      bool
	Confidence  float64
	ComputedAt  time.Time
	Sources     []string

	// ReserveSOL is the SOL-denominated liquidity depth of the pool this
	// price came from, used to break ties between equally-confident pools.
	ReserveSOL float64
}

// Confidence bands used by the transactions reconciler and by canonical
// price selection.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) AtLeast(min Confidence) bool { return c >= min }
