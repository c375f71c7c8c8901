// Package tokens maintains the set of tradable mints with fresh metadata
// and the priority bucket that drives the pool pipeline's workload (spec
// §4.2). It owns the tokens store; every other component observes it
// through immutable snapshots returned by Store.Snapshot/SnapshotAll.
package tokens

import (
	"time"
)

// PriorityBucket is a mint's current monitor-refresh class (spec §4.2's
// priority table). Zero value is Uninitialized, the safe default for a
// freshly-discovered mint with no market data yet.
type PriorityBucket int

const (
	BucketUninitialized PriorityBucket = iota
	BucketOpenPosition
	BucketPoolTracked
	BucketFilterPassed
	BucketStale
	BucketStandard
	BucketBackground
)

// RefreshTarget is the monitor re-fetch interval associated with a bucket.
func (b PriorityBucket) RefreshTarget() time.Duration {
	switch b {
	case BucketOpenPosition:
		return 5 * time.Second
	case BucketPoolTracked:
		return 7 * time.Second
	case BucketFilterPassed:
		return 8 * time.Second
	case BucketUninitialized:
		return 10 * time.Second
	case BucketStale:
		return 15 * time.Second
	case BucketStandard:
		return 20 * time.Second
	default: // BucketBackground
		return 30 * time.Second
	}
}

func (b PriorityBucket) String() string {
	switch b {
	case BucketOpenPosition:
		return "open_position"
	case BucketPoolTracked:
		return "pool_tracked"
	case BucketFilterPassed:
		return "filter_passed"
	case BucketUninitialized:
		return "uninitialized"
	case BucketStale:
		return "stale"
	case BucketStandard:
		return "standard"
	default:
		return "background"
	}
}

// Mint is the canonical token identifier record (spec §3).
type Mint struct {
	Mint        string
	Symbol      string
	Name        string
	Decimals    int // -1 until confirmed
	FirstSeenAt time.Time

	// Sources attributes discovery provenance: source name -> last time it reported this mint.
	Sources map[string]time.Time

	Blacklisted bool
	BlacklistReason string
}

// HasDecimals reports whether decimals have been confirmed (on-chain or cached).
func (m Mint) HasDecimals() bool { return m.Decimals >= 0 }

// SourcePrice is one source's view of a mint's market data, carrying its
// own timestamp so staleness is evaluated per source (spec §3).
type SourcePrice struct {
	PriceSOL  float64
	PriceUSD  float64
	Volume24h float64
	LiquidityUSD float64
	LiquiditySOL float64
	At        time.Time
}

// PoolPointer is an immutable reference to the pool currently backing a
// mint's canonical price, avoiding a cross-package dependency on the full
// pooltypes.Pool record from this leaf package.
type PoolPointer struct {
	PoolAddress string
	ProgramKind string
}

// Snapshot is the fused per-mint market view (spec §3's TokenSnapshot).
type Snapshot struct {
	Mint string

	PriceSOL float64
	PriceUSD float64
	HasUSD   bool

	Volume24hUSD float64
	LiquidityUSD float64
	LiquiditySOL float64

	BestPool PoolPointer

	// PerSource lets staleness be evaluated independently per source
	// (spec §3: "a snapshot with any stale source older than its per-
	// source TTL is considered stale for that source").
	PerSource map[string]SourcePrice

	Priority PriorityBucket

	// ConsecutiveLowLiquidity counts observations below the configured
	// liquidity floor, feeding the blacklist predicate (spec §4.2c).
	ConsecutiveLowLiquidity int

	// SecurityScore is advisory only (0 means "not consulted"); spec §6
	// forbids any external response from driving a position transition.
	SecurityScore float64
	HasSecurityScore bool

	UpdatedAt time.Time
}

// StaleSource reports whether the named source's data is older than ttl.
// An absent source counts as stale.
func (s Snapshot) StaleSource(source string, ttl time.Duration, now time.Time) bool {
	sp, ok := s.PerSource[source]
	if !ok {
		return true
	}
	return now.Sub(sp.At) > ttl
}

// RejectReason names why a mint failed filtering, for the parallel
// rejected list spec §4.2's Filtering subcomponent requires.
type RejectReason string

const (
	RejectTooYoung          RejectReason = "too_young"
	RejectLowLiquidity      RejectReason = "low_liquidity"
	RejectLowVolume         RejectReason = "low_volume"
	RejectMissingDecimals   RejectReason = "missing_decimals"
	RejectCooldown          RejectReason = "cooldown"
	RejectBlacklisted       RejectReason = "blacklisted"
	RejectSecurityFloor     RejectReason = "security_floor"
)
