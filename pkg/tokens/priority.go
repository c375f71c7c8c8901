package tokens

import (
	"sort"
	"time"

	"github.com/aerogrind/solcore/pkg/config"
)

// PriorityInputs are the external facts priority recomputation needs but
// that tokens itself doesn't own (position/pool-tracking state).
type PriorityInputs struct {
	HasPosition  func(mint string) bool
	PoolTracked  func(mint string) bool
	SourceTTL    time.Duration // per-source staleness window for BucketStale

	// BackgroundAge is how long a mint can sit in Standard, never earning a
	// position/pool/filter signal, before it demotes to Background — the
	// "oldest first, opportunistic, ~30s" tier (spec §4.2). Zero uses
	// defaultBackgroundAge.
	BackgroundAge time.Duration
}

// defaultBackgroundAge is the fallback demotion cutoff when
// PriorityInputs.BackgroundAge isn't configured.
const defaultBackgroundAge = 10 * time.Minute

// Recompute assigns every known mint to exactly one priority bucket (spec
// §4.2's table), writing the result back into the snapshot. Ties within a
// bucket are broken by oldest-refresh-first at selection time by callers
// that consume RankedMints, not by this function.
func Recompute(tokenStore *Store, filter config.Filter, inCooldown CooldownChecker, in PriorityInputs, now time.Time) {
	passed := Evaluate(tokenStore, filter, inCooldown, now)
	passedSet := make(map[string]bool, len(passed.Passed))
	for _, m := range passed.Passed {
		passedSet[m] = true
	}

	for _, m := range tokenStore.AllMints() {
		bucket := classify(tokenStore, in, passedSet, m.Mint, now)
		tokenStore.UpdateSnapshot(m.Mint, func(snap *Snapshot) {
			snap.Priority = bucket
		})
	}
}

func classify(tokenStore *Store, in PriorityInputs, passedSet map[string]bool, mint string, now time.Time) PriorityBucket {
	if in.HasPosition != nil && in.HasPosition(mint) {
		return BucketOpenPosition
	}
	if in.PoolTracked != nil && in.PoolTracked(mint) {
		return BucketPoolTracked
	}
	if passedSet[mint] {
		return BucketFilterPassed
	}

	snap, ok := tokenStore.Snapshot(mint)
	if !ok || len(snap.PerSource) == 0 {
		return BucketUninitialized
	}

	ttl := in.SourceTTL
	if ttl == 0 {
		ttl = 2 * time.Minute
	}
	for source := range snap.PerSource {
		if snap.StaleSource(source, ttl, now) {
			return BucketStale
		}
	}

	// A mint that has sat in Standard for a long time without ever earning
	// an open position, pool tracking, or a filter pass demotes to
	// Background: oldest-first, opportunistic, ~30s refresh (spec §4.2).
	// RankedMints still breaks ties within Background oldest-first, but the
	// bucket itself has to be reachable from classify for
	// poolfetch.Fetcher's oldest-drop admission control to ever see it.
	age := defaultBackgroundAge
	if in.BackgroundAge > 0 {
		age = in.BackgroundAge
	}
	if mintRec, ok := tokenStore.GetMint(mint); ok && !mintRec.FirstSeenAt.IsZero() && now.Sub(mintRec.FirstSeenAt) >= age {
		return BucketBackground
	}
	return BucketStandard
}

// RankedMint is one entry in a priority-ordered view of the tracked set,
// for the pool pipeline's fetch-batch prioritization (spec §4.4.2).
type RankedMint struct {
	Mint        string
	Bucket      PriorityBucket
	LastUpdated time.Time
}

// RankedMints returns every tracked mint ordered by bucket (ascending —
// OpenPosition first) and, within a bucket, oldest-refresh-first.
func RankedMints(tokenStore *Store) []RankedMint {
	snaps := tokenStore.SnapshotAll()
	out := make([]RankedMint, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, RankedMint{Mint: s.Mint, Bucket: s.Priority, LastUpdated: s.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bucket != out[j].Bucket {
			return out[i].Bucket < out[j].Bucket
		}
		return out[i].LastUpdated.Before(out[j].LastUpdated)
	})
	return out
}

// Backpressure trims a ranked set down to maxSize without ever evicting an
// OpenPosition-bucket mint, per spec §8's backpressure property.
func Backpressure(ranked []RankedMint, maxSize int) []RankedMint {
	if maxSize <= 0 || len(ranked) <= maxSize {
		return ranked
	}
	kept := make([]RankedMint, 0, maxSize)
	var overflow []RankedMint
	for _, r := range ranked {
		if r.Bucket == BucketOpenPosition {
			kept = append(kept, r)
		} else {
			overflow = append(overflow, r)
		}
	}
	remaining := maxSize - len(kept)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > len(overflow) {
		remaining = len(overflow)
	}
	kept = append(kept, overflow[:remaining]...)
	return kept
}
