package tokens

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MarketDataFetcher is one market-data source the monitor re-polls per
// mint (e.g. a pool-aggregator HTTP API). Implementations must be safe
// for concurrent use.
type MarketDataFetcher interface {
	Name() string
	FetchSnapshot(ctx context.Context, mint string) (SourcePrice, error)
}

// Monitor re-fetches market snapshots at an interval determined by each
// mint's priority bucket, coalescing so at most one in-flight request
// exists per (mint, source) at a time (spec §4.2).
type Monitor struct {
	store     *Store
	fetchers  []MarketDataFetcher
	logger    *zap.Logger

	mu       sync.Mutex
	lastRun  map[string]time.Time // mint -> last refresh attempt
	inFlight map[string]bool      // mint -> currently being fetched
}

func NewMonitor(store *Store, logger *zap.Logger, fetchers ...MarketDataFetcher) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		store:    store,
		fetchers: fetchers,
		logger:   logger,
		lastRun:  make(map[string]time.Time),
		inFlight: make(map[string]bool),
	}
}

// Tick examines every tracked mint and kicks off a refresh for any whose
// priority-bucket refresh target has elapsed since its last attempt.
func (m *Monitor) Tick(ctx context.Context) {
	now := time.Now()
	for _, snap := range m.store.SnapshotAll() {
		if !m.due(snap, now) {
			continue
		}
		m.refresh(ctx, snap.Mint)
	}
}

func (m *Monitor) due(snap Snapshot, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[snap.Mint] {
		return false
	}
	last, ok := m.lastRun[snap.Mint]
	if !ok {
		return true
	}
	return now.Sub(last) >= snap.Priority.RefreshTarget()
}

// refresh fetches every source for one mint concurrently and folds
// results into the store; it never blocks Tick's caller.
func (m *Monitor) refresh(ctx context.Context, mint string) {
	m.mu.Lock()
	m.inFlight[mint] = true
	m.lastRun[mint] = time.Now()
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.inFlight, mint)
			m.mu.Unlock()
		}()

		var wg sync.WaitGroup
		for _, f := range m.fetchers {
			wg.Add(1)
			go func(f MarketDataFetcher) {
				defer wg.Done()
				sp, err := f.FetchSnapshot(ctx, mint)
				if err != nil {
					m.logger.Debug("monitor fetch failed", zap.String("mint", mint), zap.String("source", f.Name()), zap.Error(err))
					return
				}
				m.store.UpdateSnapshot(mint, func(snap *Snapshot) {
					snap.PerSource[f.Name()] = sp
					mergeFused(snap)
					snap.UpdatedAt = time.Now()
				})
			}(f)
		}
		wg.Wait()
	}()
}

// mergeFused recomputes the fused top-level fields from PerSource,
// preferring the most recently-updated source's price and summing/maxing
// volume and liquidity across sources that agree on freshness.
func mergeFused(snap *Snapshot) {
	var best SourcePrice
	var bestAt time.Time
	for _, sp := range snap.PerSource {
		if sp.At.After(bestAt) {
			best, bestAt = sp, sp.At
		}
	}
	snap.PriceSOL = best.PriceSOL
	if best.PriceUSD > 0 {
		snap.PriceUSD = best.PriceUSD
		snap.HasUSD = true
	}
	snap.Volume24hUSD = best.Volume24h
	snap.LiquidityUSD = best.LiquidityUSD
	snap.LiquiditySOL = best.LiquiditySOL
}

// Run loops Tick on a fixed schedule until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, tickInterval time.Duration) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}
