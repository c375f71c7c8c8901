// Package poolfetch batches pool (plus vault) account reads into
// getMultipleAccounts RPC calls, prioritized by the tokens pipeline's
// bucket ranking and capped at a configured batch size (spec §4.4.2).
package poolfetch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/aerogrind/solcore/pkg/pooltypes"
	"github.com/aerogrind/solcore/pkg/sol"
	"github.com/aerogrind/solcore/pkg/tokens"
)

// Target is one pool the fetcher should refresh: its own account plus
// both vaults, tagged with the priority bucket driving its fetch order.
type Target struct {
	PoolAddress solana.PublicKey
	BaseVault   solana.PublicKey
	QuoteVault  solana.PublicKey
	Bucket      tokens.PriorityBucket
}

// Fetched is one account's raw result, ready for pooldecoder.Decode once
// assembled into a pooltypes.AccountData by the caller (the pool pipeline
// coordinator owns matching pool accounts back to their vault balances).
type Fetched struct {
	Address solana.PublicKey
	Owner   solana.PublicKey
	Data    []byte
	Slot    uint64
	Missing bool
}

// Fetcher enforces the global concurrency cap, batch size, and batch
// issue rate. Per-endpoint rate limiting is already handled inside
// sol.Client's provider pool (token-bucket, per provider); pacer instead
// smooths this process's own aggregate rate of getMultipleAccounts calls
// across every provider, so a burst of newly-tracked pools can't blow
// through every provider's limiter in the same instant.
type Fetcher struct {
	client    *sol.Client
	logger    *zap.Logger
	batchSize int
	sem       chan struct{} // global concurrency limiter
	pacer     ratelimit.Limiter

	mu              sync.Mutex
	backgroundQueue []Target // bounded, oldest-drop (Background priority only)
	maxBackgroundQueue int
}

// NewFetcher builds a Fetcher. batchSize is capped at 50 per spec §4.4.2;
// maxConcurrentBatches bounds simultaneous getMultipleAccounts calls.
func NewFetcher(client *sol.Client, logger *zap.Logger, batchSize, maxConcurrentBatches, maxBackgroundQueue int) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 || batchSize > 50 {
		batchSize = 50
	}
	if maxConcurrentBatches <= 0 {
		maxConcurrentBatches = 4
	}
	return &Fetcher{
		client:             client,
		logger:             logger,
		batchSize:          batchSize,
		sem:                make(chan struct{}, maxConcurrentBatches),
		pacer:              ratelimit.New(maxConcurrentBatches * 4),
		maxBackgroundQueue: maxBackgroundQueue,
	}
}

// bucketRank orders batches: OpenPosition > PoolTracked > FilterPassed > others (spec §4.4.2).
func bucketRank(b tokens.PriorityBucket) int {
	switch b {
	case tokens.BucketOpenPosition:
		return 0
	case tokens.BucketPoolTracked:
		return 1
	case tokens.BucketFilterPassed:
		return 2
	default:
		return 3
	}
}

// Enqueue admits targets for the next FetchAll pass. Background-bucket
// targets queue on a bounded, oldest-drop buffer per spec §4.4.2 ("excess
// work queues on a bounded channel with oldest-drop semantics for
// Background priority only"); every other bucket is never dropped —
// FetchAll always fetches them this pass.
func (f *Fetcher) Enqueue(targets []Target) []Target {
	immediate := make([]Target, 0, len(targets))
	var background []Target
	for _, t := range targets {
		if t.Bucket == tokens.BucketBackground {
			background = append(background, t)
		} else {
			immediate = append(immediate, t)
		}
	}

	f.mu.Lock()
	f.backgroundQueue = append(f.backgroundQueue, background...)
	if f.maxBackgroundQueue > 0 && len(f.backgroundQueue) > f.maxBackgroundQueue {
		drop := len(f.backgroundQueue) - f.maxBackgroundQueue
		f.backgroundQueue = f.backgroundQueue[drop:] // oldest-drop
	}
	drained := f.backgroundQueue
	f.backgroundQueue = nil
	f.mu.Unlock()

	return append(immediate, drained...)
}

// accountRef flattens a Target into its up-to-three constituent accounts,
// each remembering which pool it belongs to.
type accountRef struct {
	pool    solana.PublicKey
	account solana.PublicKey
}

// FetchAll fetches every target's pool account and vaults in
// priority-ordered, size-capped batches, run with bounded concurrency.
// Returns a flat map of account address (base58) -> Fetched.
func (f *Fetcher) FetchAll(ctx context.Context, targets []Target) (map[string]Fetched, error) {
	sort.SliceStable(targets, func(i, j int) bool { return bucketRank(targets[i].Bucket) < bucketRank(targets[j].Bucket) })

	var refs []accountRef
	seen := make(map[string]bool)
	for _, t := range targets {
		for _, acct := range []solana.PublicKey{t.PoolAddress, t.BaseVault, t.QuoteVault} {
			key := acct.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			refs = append(refs, accountRef{pool: t.PoolAddress, account: acct})
		}
	}

	batches := make([][]solana.PublicKey, 0, len(refs)/f.batchSize+1)
	for i := 0; i < len(refs); i += f.batchSize {
		end := i + f.batchSize
		if end > len(refs) {
			end = len(refs)
		}
		batch := make([]solana.PublicKey, end-i)
		for j := i; j < end; j++ {
			batch[j-i] = refs[j].account
		}
		batches = append(batches, batch)
	}

	results := make(map[string]Fetched)
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex

	for _, batch := range batches {
		batch := batch
		f.pacer.Take()
		f.sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-f.sem }()

			resp, err := f.client.GetMultipleAccountsWithOpts(ctx, batch)
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("poolfetch: getMultipleAccounts: %w", err)
				}
				errMu.Unlock()
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for i, acct := range batch {
				fr := Fetched{Address: acct, Slot: resp.Context.Slot}
				if i >= len(resp.Value) || resp.Value[i] == nil {
					fr.Missing = true
				} else {
					fr.Data = resp.Value[i].Data.GetBinary()
					fr.Owner = resp.Value[i].Owner
				}
				results[acct.String()] = fr
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return results, firstErr
	}
	return results, nil
}

// BuildAccountData assembles one pool's pooltypes.AccountData from the
// flat fetch results, ready for pooldecoder.Decode. Missing vault entries
// are simply absent from VaultBalances; decoders treat that as
// undecodable rather than erroring.
func BuildAccountData(t Target, fetched map[string]Fetched) (pooltypes.AccountData, bool) {
	poolFetched, ok := fetched[t.PoolAddress.String()]
	if !ok || poolFetched.Missing {
		return pooltypes.AccountData{}, false
	}
	vaults := make(map[string]uint64, 2)
	for _, v := range []solana.PublicKey{t.BaseVault, t.QuoteVault} {
		if v.IsZero() {
			continue
		}
		if vf, ok := fetched[v.String()]; ok && !vf.Missing {
			vaults[v.String()] = vaultTokenBalance(vf.Data)
		}
	}
	return pooltypes.AccountData{
		PoolAddress:   t.PoolAddress,
		Owner:         poolFetched.Owner,
		Data:          poolFetched.Data,
		Slot:          poolFetched.Slot,
		VaultBalances: vaults,
	}, true
}

// vaultTokenBalance reads the little-endian u64 amount field of an SPL
// Token account (offset 64, after mint(32) + owner(32)).
func vaultTokenBalance(data []byte) uint64 {
	const amountOffset = 64
	if len(data) < amountOffset+8 {
		return 0
	}
	var amount uint64
	for i := 0; i < 8; i++ {
		amount |= uint64(data[amountOffset+i]) << (8 * i)
	}
	return amount
}

// RunInterval drives Enqueue+FetchAll on a fixed schedule, the
// supervisor's task shape for the fetcher; targetsFn supplies the current
// ranked target set each tick (the pool pipeline coordinator owns deciding
// which pools need a refresh).
func RunInterval(ctx context.Context, f *Fetcher, interval time.Duration, targetsFn func() []Target, onBatch func(map[string]Fetched)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			targets := f.Enqueue(targetsFn())
			if len(targets) == 0 {
				continue
			}
			results, err := f.FetchAll(ctx, targets)
			if err != nil {
				f.logger.Warn("pool fetch batch failed", zap.Error(err))
			}
			if onBatch != nil {
				onBatch(results)
			}
		}
	}
}
