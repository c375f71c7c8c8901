package tokens

import (
	"time"

	"github.com/aerogrind/solcore/pkg/config"
)

// FilterResult is one mint's outcome from a Filter pass.
type FilterResult struct {
	Mint    string
	Passed  bool
	Reasons []RejectReason // empty when Passed
}

// FilterOutput is the filtering subcomponent's output: "two parallel
// lists — passed tokens and rejected tokens with per-token rejection
// reason" (spec §4.2).
type FilterOutput struct {
	Passed   []string
	Rejected []FilterResult
	BuiltAt  time.Time
}

// InCooldown reports whether mint is currently cooling down. Supplied by
// the positions engine; tokens has no knowledge of cooldown internals.
type CooldownChecker func(mint string) bool

// Evaluate runs the deterministic filtering predicate (spec §4.2) over
// every mint currently known, producing the passed/rejected split. It is
// rebuilt synchronously on configuration change and otherwise cached by
// the caller until the next change or periodic refresh.
func Evaluate(tokenStore *Store, filter config.Filter, inCooldown CooldownChecker, now time.Time) FilterOutput {
	out := FilterOutput{BuiltAt: now}
	for _, m := range tokenStore.AllMints() {
		snap, hasSnap := tokenStore.Snapshot(m.Mint)
		var reasons []RejectReason

		if m.Blacklisted {
			reasons = append(reasons, RejectBlacklisted)
		}
		if inCooldown != nil && inCooldown(m.Mint) {
			reasons = append(reasons, RejectCooldown)
		}
		if filter.RequireDecimals && !m.HasDecimals() {
			reasons = append(reasons, RejectMissingDecimals)
		}
		if now.Sub(m.FirstSeenAt) < filter.MinAge {
			reasons = append(reasons, RejectTooYoung)
		}
		if !hasSnap {
			reasons = append(reasons, RejectLowLiquidity, RejectLowVolume)
		} else {
			if snap.LiquidityUSD < filter.MinLiquidityUSD || snap.LiquiditySOL < filter.MinLiquiditySOL {
				reasons = append(reasons, RejectLowLiquidity)
			}
			if snap.Volume24hUSD < filter.MinVolume24hUSD {
				reasons = append(reasons, RejectLowVolume)
			}
			if filter.SecurityFloor > 0 && snap.HasSecurityScore && snap.SecurityScore < filter.SecurityFloor {
				reasons = append(reasons, RejectSecurityFloor)
			}
		}

		if len(reasons) == 0 {
			out.Passed = append(out.Passed, m.Mint)
		} else {
			out.Rejected = append(out.Rejected, FilterResult{Mint: m.Mint, Reasons: reasons})
		}
	}
	return out
}

// PassesFilter is a convenience single-mint check used by priority
// recomputation, sharing Evaluate's exact predicate logic via a one-mint output.
func PassesFilter(tokenStore *Store, filter config.Filter, inCooldown CooldownChecker, mint string, now time.Time) bool {
	for _, r := range Evaluate(tokenStore, filter, inCooldown, now).Passed {
		if r == mint {
			return true
		}
	}
	return false
}
