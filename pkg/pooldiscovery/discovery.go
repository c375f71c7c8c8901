// Package pooldiscovery obtains candidate pool addresses for tracked
// mints from external pool-index HTTP APIs (spec §4.4.1). Results are
// deduplicated across sources and cached with a per-mint TTL independent
// of any individual pool's own staleness, so a transient API failure
// doesn't immediately drop pools this process already knows about.
package pooldiscovery

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/aerogrind/solcore/pkg/pooltypes"
)

// CandidatePool is one source's report of a pool for a mint. BaseVault/
// QuoteVault come from the same pool-index API response (every indexer in
// practice already resolves and exposes them) so the account fetcher
// never needs a separate on-chain round trip just to learn a pool's vault
// addresses before it can fetch their balances.
type CandidatePool struct {
	PoolAddress string
	ProgramKind pooltypes.ProgramKind
	QuoteMint   string
	BaseVault   string
	QuoteVault  string
}

// Source is one external pool-index API.
type Source interface {
	Name() string
	DiscoverPools(ctx context.Context, mint string) ([]CandidatePool, error)
}

type mintEntry struct {
	fetchedAt time.Time
	pools     map[string]CandidatePool // poolAddress -> candidate
	sources   map[string]map[string]time.Time // poolAddress -> source -> lastSeen
}

// Discovery is the pool pipeline's discovery stage: per-mint cache with
// its own TTL, refreshed from every registered source.
type Discovery struct {
	sources []Source
	logger  *zap.Logger
	mintTTL time.Duration

	mu      sync.RWMutex
	entries map[string]*mintEntry
}

func NewDiscovery(logger *zap.Logger, mintTTL time.Duration, sources ...Source) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{sources: sources, logger: logger, mintTTL: mintTTL, entries: make(map[string]*mintEntry)}
}

// retryPolicy gives each source a few quick retries before it's treated
// as a transient failure for this tick, reusing the teacher's adopted
// cenkalti/backoff idiom (pkg/sol/pool.go's retryPolicy) at a shorter cap
// suited to an HTTP catalog call rather than an RPC call.
func retryPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 1 * time.Second
	eb.MaxElapsedTime = 5 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(eb, 3), ctx)
}

// Refresh re-queries every source for mint and merges results into the
// per-mint cache entry, tagging each pool with every source that reported
// it. A source failure leaves that source's previously-cached pools in
// place until the per-mint TTL expires (spec §4.4.1).
func (d *Discovery) Refresh(ctx context.Context, mint string) {
	now := time.Now()
	d.mu.Lock()
	entry, ok := d.entries[mint]
	if !ok {
		entry = &mintEntry{pools: make(map[string]CandidatePool), sources: make(map[string]map[string]time.Time)}
		d.entries[mint] = entry
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	type found struct {
		source string
		pools  []CandidatePool
	}
	results := make(chan found, len(d.sources))
	for _, src := range d.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			var pools []CandidatePool
			op := func() error {
				p, err := src.DiscoverPools(ctx, mint)
				pools = p
				return err
			}
			if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
				d.logger.Debug("pool discovery source failed", zap.String("source", src.Name()), zap.String("mint", mint), zap.Error(err))
				return
			}
			results <- found{source: src.Name(), pools: pools}
		}(src)
	}
	wg.Wait()
	close(results)

	d.mu.Lock()
	defer d.mu.Unlock()
	entry.fetchedAt = now
	for r := range results {
		for _, p := range r.pools {
			entry.pools[p.PoolAddress] = p
			if entry.sources[p.PoolAddress] == nil {
				entry.sources[p.PoolAddress] = make(map[string]time.Time)
			}
			entry.sources[p.PoolAddress][r.source] = now
		}
	}
}

// Stale reports whether mint's discovery cache is older than the configured
// per-mint TTL and due for a Refresh.
func (d *Discovery) Stale(mint string, now time.Time) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.entries[mint]
	if !ok {
		return true
	}
	return now.Sub(entry.fetchedAt) > d.mintTTL
}

// Pools returns the cached candidate pools for mint, deduplicated across sources.
func (d *Discovery) Pools(mint string) []CandidatePool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.entries[mint]
	if !ok {
		return nil
	}
	out := make([]CandidatePool, 0, len(entry.pools))
	for _, p := range entry.pools {
		out = append(out, p)
	}
	return out
}

// Sources returns which sources currently attribute poolAddress to mint.
func (d *Discovery) Sources(mint, poolAddress string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.entries[mint]
	if !ok {
		return nil
	}
	srcMap, ok := entry.sources[poolAddress]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(srcMap))
	for s := range srcMap {
		out = append(out, s)
	}
	return out
}
