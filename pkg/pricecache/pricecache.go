// Package pricecache computes per-pool prices from decoded reserves,
// selects a canonical price per mint, and broadcasts changes (spec §4.4.4,
// §4.4.5).
package pricecache

import (
	"context"
	"math"
	"math/big"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"go.uber.org/zap"

	"github.com/aerogrind/solcore/pkg/events"
	"github.com/aerogrind/solcore/pkg/pooltypes"
)

// SolUsdFeed is the pluggable SOL/USD composition source (resolved open
// question: an HTTP primary with an on-chain pool fallback, never hardcoded).
type SolUsdFeed interface {
	SolUsd() (price float64, ok bool)
}

// sanity band: reject a computed price outside these bounds.
const (
	minSanePrice = 1e-18
	maxSanePrice = 1e12
)

// Cache holds one PriceResult per pool and derives the canonical price per
// mint. Reads and writes are protected by a single RWMutex rather than
// sync.Map: cross-pool agreement scoring at write time needs to see every
// other pool for the same mint, so per-key atomicity alone isn't enough.
type Cache struct {
	logger     *zap.Logger
	feed       SolUsdFeed
	bus        *events.Bus
	agreementBandPct float64

	mu       sync.RWMutex
	byPool   map[string]pooltypes.PriceResult // poolAddress -> latest result
	byMint   map[string][]string              // mint -> pool addresses priced for it
	canonical map[string]pooltypes.PriceResult

	histMu  sync.Mutex
	history []historyEntry
	maxHist int
}

type historyEntry struct {
	Mint  string
	Pool  string
	Price pooltypes.PriceResult
}

func NewCache(logger *zap.Logger, feed SolUsdFeed, bus *events.Bus, agreementBandPct float64, maxHistory int) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if agreementBandPct <= 0 {
		agreementBandPct = 0.05
	}
	if maxHistory <= 0 {
		maxHistory = 4096
	}
	return &Cache{
		logger:           logger,
		feed:             feed,
		bus:              bus,
		agreementBandPct: agreementBandPct,
		byPool:           make(map[string]pooltypes.PriceResult),
		byMint:           make(map[string][]string),
		canonical:        make(map[string]pooltypes.PriceResult),
		maxHist:          maxHistory,
	}
}

// wsolMint is the quote mint identity that makes a pool's price already
// SOL-denominated without a USD composition step.
const wsolMint = "So11111111111111111111111111111111111111112"

// Update computes and stores the price for one decoded pool, reattributes
// the mint's canonical price, and broadcasts the change. healthyPools is the
// set of other pool addresses currently priced for the same mint, used for
// cross-pool agreement scoring.
func (c *Cache) Update(mint string, dp pooltypes.DecodedPool, now time.Time) (pooltypes.PriceResult, bool) {
	if dp.ReserveBase.IsZero() || dp.ReserveQuote.IsZero() {
		return pooltypes.PriceResult{}, false
	}

	baseF := bigIntToFloat(dp.ReserveBase, dp.BaseDecimals)
	quoteF := bigIntToFloat(dp.ReserveQuote, dp.QuoteDecimals)
	if baseF <= 0 || quoteF <= 0 {
		return pooltypes.PriceResult{}, false
	}
	rawPrice := quoteF / baseF // quote-per-base

	var priceSOL float64
	var reserveSOL float64
	switch {
	case dp.QuoteMint.String() == wsolMint:
		priceSOL = rawPrice
		reserveSOL = quoteF
	case dp.BaseMint.String() == wsolMint:
		if rawPrice == 0 {
			return pooltypes.PriceResult{}, false
		}
		priceSOL = 1 / rawPrice
		reserveSOL = baseF
	default:
		// Neither side is SOL: price against SOL only if the quote side
		// itself can be composed through the SOL/USD feed (spec §4.4.4:
		// "composing with the SOL/USD feed or skipped if no composition
		// path exists"). Without a stable-quote assumption this pool
		// can't be priced in SOL terms at all, so it's skipped.
		return pooltypes.PriceResult{}, false
	}

	if priceSOL < minSanePrice || priceSOL > maxSanePrice || math.IsNaN(priceSOL) || math.IsInf(priceSOL, 0) {
		return pooltypes.PriceResult{}, false
	}

	result := pooltypes.PriceResult{
		Mint:        mint,
		PoolAddress: dp.PoolAddress.String(),
		ProgramKind: dp.ProgramKind,
		PriceSOL:    priceSOL,
		ComputedAt:  now,
		ReserveSOL:  reserveSOL,
	}
	if c.feed != nil {
		if usd, ok := c.feed.SolUsd(); ok {
			result.PriceUSD = priceSOL * usd
			result.HasUSD = true
		}
	}

	c.mu.Lock()
	siblings := c.byMint[mint]
	result.Confidence = c.confidence(reserveSOL, now, result, siblings)
	c.byPool[result.PoolAddress] = result
	if !containsString(siblings, result.PoolAddress) {
		c.byMint[mint] = append(siblings, result.PoolAddress)
	}
	c.recomputeCanonical(mint)
	canonical := c.canonical[mint]
	c.mu.Unlock()

	c.appendHistory(mint, result)

	if c.bus != nil {
		c.bus.Publish(events.Event{Kind: events.KindPriceUpdated, At: now, Payload: canonical})
	}
	return result, true
}

// confidence derives a [0,1] score from reserve magnitude, data freshness,
// and agreement with sibling pools already priced for this mint (spec
// §4.4.4's three listed factors).
func (c *Cache) confidence(reserveSOL float64, now time.Time, result pooltypes.PriceResult, siblings []string) float64 {
	liquidity := reserveSOL / (reserveSOL + 10) // saturates toward 1 as reserves grow; 10 SOL ~= 0.5
	if liquidity > 1 {
		liquidity = 1
	}

	freshness := 1.0 // this price was just computed from data fetched "now"

	agreement := 1.0
	var diffs int
	for _, addr := range siblings {
		if addr == result.PoolAddress {
			continue
		}
		other, ok := c.byPool[addr]
		if !ok || other.PriceSOL <= 0 {
			continue
		}
		delta := math.Abs(result.PriceSOL-other.PriceSOL) / other.PriceSOL
		if delta > c.agreementBandPct {
			diffs++
		}
	}
	if diffs > 0 {
		agreement = 1.0 / float64(1+diffs)
	}

	score := (liquidity + freshness + agreement) / 3
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// recomputeCanonical picks the highest-confidence-weighted healthy pool for
// mint, ties broken by largest SOL reserve then most recent update (spec
// §4.4.4). Caller must hold c.mu.
func (c *Cache) recomputeCanonical(mint string) {
	var best pooltypes.PriceResult
	var found bool
	for _, addr := range c.byMint[mint] {
		pr, ok := c.byPool[addr]
		if !ok {
			continue
		}
		if !found {
			best, found = pr, true
			continue
		}
		if pr.Confidence > best.Confidence ||
			(pr.Confidence == best.Confidence && pr.ReserveSOL > best.ReserveSOL) ||
			(pr.Confidence == best.Confidence && pr.ReserveSOL == best.ReserveSOL && pr.ComputedAt.After(best.ComputedAt)) {
			best = pr
		}
	}
	if found {
		c.canonical[mint] = best
	}
}

// Canonical returns the current canonical price for mint.
func (c *Cache) Canonical(mint string) (pooltypes.PriceResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pr, ok := c.canonical[mint]
	return pr, ok
}

// PoolPrice returns the last computed price for a specific pool.
func (c *Cache) PoolPrice(poolAddress string) (pooltypes.PriceResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pr, ok := c.byPool[poolAddress]
	return pr, ok
}

func (c *Cache) appendHistory(mint string, pr pooltypes.PriceResult) {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	c.history = append(c.history, historyEntry{Mint: mint, Pool: pr.PoolAddress, Price: pr})
	if len(c.history) > c.maxHist {
		c.history = c.history[len(c.history)-c.maxHist:]
	}
}

// DrainHistory removes and returns all buffered history entries, for a
// background flush loop to persist via pkg/store.AppendPriceHistory.
func (c *Cache) DrainHistory() []historyEntry {
	c.histMu.Lock()
	defer c.histMu.Unlock()
	out := c.history
	c.history = nil
	return out
}

func (e historyEntry) MintAddr() string             { return e.Mint }
func (e historyEntry) PoolAddr() string             { return e.Pool }
func (e historyEntry) Result() pooltypes.PriceResult { return e.Price }

// PriceHistoryRow is the shape a background flush loop hands to
// pkg/store.AppendPriceHistory; kept here (rather than importing
// pkg/store) so pricecache has no dependency on the persistence layer.
type PriceHistoryRow struct {
	Mint       string
	At         time.Time
	PriceSOL   float64
	PriceUSD   float64
	HasUSD     bool
	Pool       string
	Confidence float64
}

// DrainHistoryRows is DrainHistory flattened into the shape a flush loop
// writes straight through to storage.
func (c *Cache) DrainHistoryRows() []PriceHistoryRow {
	entries := c.DrainHistory()
	out := make([]PriceHistoryRow, 0, len(entries))
	for _, e := range entries {
		out = append(out, PriceHistoryRow{
			Mint:       e.Mint,
			At:         e.Price.ComputedAt,
			PriceSOL:   e.Price.PriceSOL,
			PriceUSD:   e.Price.PriceUSD,
			HasUSD:     e.Price.HasUSD,
			Pool:       e.Pool,
			Confidence: e.Price.Confidence,
		})
	}
	return out
}

// RunFlushInterval periodically drains buffered history and hands it to
// sink (typically pkg/store.Store.AppendPriceHistory via a thin adapter),
// the background-batch durability path spec §4.4.5 calls for.
func RunFlushInterval(ctx context.Context, c *Cache, interval time.Duration, sink func([]PriceHistoryRow) error, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rows := c.DrainHistoryRows()
			if len(rows) == 0 {
				continue
			}
			if err := sink(rows); err != nil {
				logger.Warn("price history flush failed", zap.Error(err))
			}
		}
	}
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// bigIntToFloat converts a cosmossdk.io/math.Int raw token amount into its
// decimal-adjusted float64 value. Precision loss beyond float64's mantissa
// is acceptable here: this feeds a sanity-banded price estimate, not ledger
// accounting (pkg/positions/pkg/transactions use integer lamports instead).
func bigIntToFloat(amount sdkmath.Int, decimals uint8) float64 {
	f := new(big.Float).SetInt(amount.BigInt())
	scale := new(big.Float).SetFloat64(math.Pow10(int(decimals)))
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}
