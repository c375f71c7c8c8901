// Package core wires the leaf packages (tokens, pooldiscovery, poolfetch,
// pooldecoder, pricecache, positions, transactions, router, strategy) into
// the single "core context" design note #1 asks for: every component is
// constructed once, explicitly, from a Config, and handed only the
// capabilities it needs. Nothing here is a global — Context is passed by
// value to cmd/solcore's entrypoint and nowhere else.
package core

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/aerogrind/solcore/pkg/coreerr"
	"github.com/aerogrind/solcore/pkg/pooldecoder"
	"github.com/aerogrind/solcore/pkg/pooldiscovery"
	"github.com/aerogrind/solcore/pkg/poolfetch"
	"github.com/aerogrind/solcore/pkg/pooltypes"
	"github.com/aerogrind/solcore/pkg/pricecache"
	"github.com/aerogrind/solcore/pkg/sol"
	"github.com/aerogrind/solcore/pkg/store"
	"github.com/aerogrind/solcore/pkg/tokens"
)

// trackedPool is the pool pipeline's own in-memory record of one pool it
// has successfully decoded at least once, mirroring spec §3's Pool entity.
// It is owned exclusively by PoolPipeline; every other component only ever
// sees it through pricecache.Cache or the coreapi read surface.
type trackedPool struct {
	mint        string
	poolAddress solana.PublicKey
	baseVault   solana.PublicKey
	quoteVault  solana.PublicKey
	programKind pooltypes.ProgramKind
}

// PoolPipeline is the hottest supervised subsystem (spec §4.4): it turns
// the tokens pipeline's priority set into discovery → fetch → decode →
// price calculation on a fixed tick, persisting pools and price history to
// SQLite as it goes.
type PoolPipeline struct {
	logger *zap.Logger

	tokenStore *tokens.Store
	discovery  *pooldiscovery.Discovery
	fetcher    *poolfetch.Fetcher
	failed     *pooldecoder.FailedCache
	prices     *pricecache.Cache
	solClient  *sol.Client
	db         *store.Store

	discoveryInterval time.Duration
	accountInterval   time.Duration
	discoveryTTL      time.Duration

	mu      sync.RWMutex
	tracked map[string]map[string]*trackedPool // mint -> poolAddress -> pool
}

// NewPoolPipeline builds the coordinator. It never starts any loop itself;
// Run is handed to the supervisor as this service's Start function.
func NewPoolPipeline(
	logger *zap.Logger,
	tokenStore *tokens.Store,
	discovery *pooldiscovery.Discovery,
	fetcher *poolfetch.Fetcher,
	failed *pooldecoder.FailedCache,
	prices *pricecache.Cache,
	solClient *sol.Client,
	db *store.Store,
	discoveryInterval, accountInterval, discoveryTTL time.Duration,
) *PoolPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolPipeline{
		logger:            logger,
		tokenStore:        tokenStore,
		discovery:         discovery,
		fetcher:           fetcher,
		failed:            failed,
		prices:            prices,
		solClient:         solClient,
		db:                db,
		discoveryInterval: discoveryInterval,
		accountInterval:   accountInterval,
		discoveryTTL:      discoveryTTL,
		tracked:           make(map[string]map[string]*trackedPool),
	}
}

// PoolTracked answers tokens/priority.go's PriorityInputs.PoolTracked: is
// this mint backed by at least one pool the pipeline currently tracks,
// regardless of health.
func (p *PoolPipeline) PoolTracked(mint string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tracked[mint]) > 0
}

// Restore rehydrates the tracked set from the pools table so a restart
// doesn't start the pool pipeline from a cold cache (spec §8 scenario 6:
// "restart replays the journal and re-derives the same set of open
// positions" — the analogous pool-side expectation is that previously
// known pools aren't silently forgotten).
func (p *PoolPipeline) Restore() error {
	if p.db == nil {
		return nil
	}
	for _, m := range p.tokenStore.AllMints() {
		rows, err := p.db.PoolsByMint(m.Mint)
		if err != nil {
			return fmt.Errorf("core: restore pools for %s: %w", m.Mint, err)
		}
		for _, row := range rows {
			base, err1 := solana.PublicKeyFromBase58(row.PoolAddress)
			bv, err2 := solana.PublicKeyFromBase58(row.BaseVault)
			qv, err3 := solana.PublicKeyFromBase58(row.QuoteVault)
			if err1 != nil || err2 != nil || err3 != nil {
				continue
			}
			p.remember(m.Mint, &trackedPool{
				mint:        m.Mint,
				poolAddress: base,
				baseVault:   bv,
				quoteVault:  qv,
				programKind: pooltypes.ProgramKind(row.ProgramKind),
			})
		}
	}
	return nil
}

func (p *PoolPipeline) remember(mint string, tp *trackedPool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tracked[mint] == nil {
		p.tracked[mint] = make(map[string]*trackedPool)
	}
	p.tracked[mint][tp.poolAddress.String()] = tp
}

// RunDiscovery refreshes pool discovery for every mint in the active
// priority set on a fixed interval (spec §4.4.1).
func (p *PoolPipeline) RunDiscovery(ctx context.Context) error {
	ticker := time.NewTicker(p.discoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.discoverOnce(ctx)
		}
	}
}

func (p *PoolPipeline) discoverOnce(ctx context.Context) {
	for _, ranked := range tokens.RankedMints(p.tokenStore) {
		if ranked.Bucket == tokens.BucketUninitialized {
			continue
		}
		if !p.discovery.Stale(ranked.Mint, time.Now()) {
			continue
		}
		p.discovery.Refresh(ctx, ranked.Mint)
		p.learnVaults(ctx, ranked.Mint)
	}
}

// learnVaults resolves every newly discovered candidate pool's vault
// addresses. Most third-party pool indexers only report the pool/pair
// address, so this does one lightweight account fetch per unresolved
// candidate and peeks its vault fields with pooldecoder.PeekVaults —
// still no balance read, so the eventual Decode stays pure (spec design
// note #3).
func (p *PoolPipeline) learnVaults(ctx context.Context, mint string) {
	for _, cand := range p.discovery.Pools(mint) {
		poolPub, err := solana.PublicKeyFromBase58(cand.PoolAddress)
		if err != nil {
			continue
		}
		if p.alreadyTracked(mint, cand.PoolAddress) {
			continue
		}
		if cand.BaseVault != "" && cand.QuoteVault != "" {
			bv, err1 := solana.PublicKeyFromBase58(cand.BaseVault)
			qv, err2 := solana.PublicKeyFromBase58(cand.QuoteVault)
			if err1 == nil && err2 == nil {
				p.remember(mint, &trackedPool{mint: mint, poolAddress: poolPub, baseVault: bv, quoteVault: qv, programKind: cand.ProgramKind})
			}
			continue
		}

		res, err := p.solClient.GetAccountInfoWithOpts(ctx, poolPub)
		if err != nil || res == nil || res.Value == nil {
			continue
		}
		data := res.Value.Data.GetBinary()
		base, quote, kind, ok := pooldecoder.PeekVaults(res.Value.Owner, data)
		if !ok {
			p.failed.RecordFailure(cand.PoolAddress, coreerr.ErrUndecodable)
			continue
		}
		p.remember(mint, &trackedPool{mint: mint, poolAddress: poolPub, baseVault: base, quoteVault: quote, programKind: kind})
	}
}

func (p *PoolPipeline) alreadyTracked(mint, poolAddress string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.tracked[mint][poolAddress]
	return ok
}

// RunAccountFetch is the hot loop: batch-fetch every tracked pool's
// accounts, decode, price and persist, in priority order (spec §4.4.2).
func (p *PoolPipeline) RunAccountFetch(ctx context.Context) error {
	ticker := time.NewTicker(p.accountInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.fetchOnce(ctx)
		}
	}
}

func (p *PoolPipeline) fetchOnce(ctx context.Context) {
	now := time.Now()
	bucketOf := make(map[string]tokens.PriorityBucket)
	for _, r := range tokens.RankedMints(p.tokenStore) {
		bucketOf[r.Mint] = r.Bucket
	}

	var targets []poolfetch.Target
	byAddress := make(map[string]*trackedPool)
	p.mu.RLock()
	for mint, pools := range p.tracked {
		for addr, tp := range pools {
			if p.failed.ShouldSkip(addr, now) {
				continue
			}
			targets = append(targets, poolfetch.Target{
				PoolAddress: tp.poolAddress,
				BaseVault:   tp.baseVault,
				QuoteVault:  tp.quoteVault,
				Bucket:      bucketOf[mint],
			})
			byAddress[addr] = tp
		}
	}
	p.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	admitted := p.fetcher.Enqueue(targets)
	fetched, err := p.fetcher.FetchAll(ctx, admitted)
	if err != nil {
		p.logger.Warn("pool account fetch failed", zap.Error(err))
	}

	for _, t := range admitted {
		addr := t.PoolAddress.String()
		tp, ok := byAddress[addr]
		if !ok {
			continue
		}
		acct, ok := poolfetch.BuildAccountData(t, fetched)
		if !ok {
			p.failed.RecordFailure(addr, fmt.Errorf("core: pool account missing from fetch result"))
			continue
		}
		p.decodeAndPrice(ctx, tp, acct, now)
	}
}

func (p *PoolPipeline) decodeAndPrice(ctx context.Context, tp *trackedPool, acct pooltypes.AccountData, now time.Time) {
	addr := tp.poolAddress.String()
	dp, err := pooldecoder.Decode(acct)
	if err != nil {
		p.failed.RecordFailure(addr, err)
		p.persistHealth(tp, acct, store.PoolRow{Health: "backed_off"}, now)
		return
	}
	p.failed.RecordSuccess(addr)

	if dp.BaseDecimals == 0 || dp.QuoteDecimals == 0 {
		if d, err := tokens.Decimals(ctx, p.tokenStore, p.db, p.solClient, dp.BaseMint.String()); err == nil {
			dp.BaseDecimals = uint8(d)
		}
		if d, err := tokens.Decimals(ctx, p.tokenStore, p.db, p.solClient, dp.QuoteMint.String()); err == nil {
			dp.QuoteDecimals = uint8(d)
		}
	}

	result, ok := p.prices.Update(tp.mint, *dp, now)
	health := "ok"
	if !ok {
		health = "no_liquidity"
	}
	row := store.PoolRow{
		PoolAddress:       addr,
		ProgramKind:       string(dp.ProgramKind),
		BaseMint:          dp.BaseMint.String(),
		QuoteMint:         dp.QuoteMint.String(),
		BaseVault:         dp.BaseVault.String(),
		QuoteVault:        dp.QuoteVault.String(),
		LastReservesBase:  dp.ReserveBase.String(),
		LastReservesQuote: dp.ReserveQuote.String(),
		Health:            health,
	}
	p.persistHealth(tp, acct, row, now)
	_ = result
}

func (p *PoolPipeline) persistHealth(tp *trackedPool, acct pooltypes.AccountData, row store.PoolRow, now time.Time) {
	if p.db == nil {
		return
	}
	row.PoolAddress = tp.poolAddress.String()
	if row.BaseVault == "" {
		row.BaseVault = tp.baseVault.String()
	}
	if row.QuoteVault == "" {
		row.QuoteVault = tp.quoteVault.String()
	}
	if row.ProgramKind == "" {
		row.ProgramKind = string(tp.programKind)
	}
	row.LastUpdatedAt = now
	if err := p.db.UpsertPool(row); err != nil {
		p.logger.Warn("persist pool failed", zap.String("pool", tp.poolAddress.String()), zap.Error(err))
	}
}

// RunPriceHistoryFlush drains the price cache's bounded ring into SQLite
// on an interval (spec §4.4.5: "flushed to SQLite in background batches").
func (p *PoolPipeline) RunPriceHistoryFlush(ctx context.Context, interval time.Duration) {
	pricecache.RunFlushInterval(ctx, p.prices, interval, func(rows []pricecache.PriceHistoryRow) error {
		return p.db.AppendPriceHistory(toStoreRows(rows))
	}, p.logger)
}

func toStoreRows(rows []pricecache.PriceHistoryRow) []store.PriceHistoryRow {
	out := make([]store.PriceHistoryRow, len(rows))
	for i, r := range rows {
		row := store.PriceHistoryRow{
			Mint:       r.Mint,
			At:         r.At,
			PriceSOL:   r.PriceSOL,
			Pool:       r.Pool,
			Confidence: r.Confidence,
		}
		if r.HasUSD {
			row.PriceUSD = sql.NullFloat64{Float64: r.PriceUSD, Valid: true}
		}
		out[i] = row
	}
	return out
}
