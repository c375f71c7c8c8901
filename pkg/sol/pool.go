package sol

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// SelectStrategy names how the pool picks a provider for the next call.
type SelectStrategy string

const (
	StrategyPriority    SelectStrategy = "priority"
	StrategyRoundRobin  SelectStrategy = "round_robin"
	StrategyLatency     SelectStrategy = "latency"
)

// ProviderPool is "a pool of provider adapters behind a rate limiter and
// circuit breaker" (spec §5). Selection never blocks on another provider's
// rate limit: if the chosen provider has no token available the caller
// waits only on that provider's own limiter.
type ProviderPool struct {
	providers []*Provider
	strategy  SelectStrategy
	rrCursor  uint64
	logger    *zap.Logger
}

// NewProviderPool builds a pool. providers must be non-empty; the first
// provider's priority breaks ties for StrategyPriority.
func NewProviderPool(strategy SelectStrategy, logger *zap.Logger, providers ...*Provider) (*ProviderPool, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("provider pool requires at least one provider")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sorted := make([]*Provider, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &ProviderPool{providers: sorted, strategy: strategy, logger: logger}, nil
}

// pick returns the next provider to try, preferring healthy ones; it never
// returns nil because a fully-open pool still yields its least-recently
// opened provider so callers can observe (and log) the failure explicitly.
func (p *ProviderPool) pick() *Provider {
	healthy := make([]*Provider, 0, len(p.providers))
	for _, pv := range p.providers {
		if pv.Healthy() {
			healthy = append(healthy, pv)
		}
	}
	candidates := healthy
	if len(candidates) == 0 {
		candidates = p.providers
	}

	switch p.strategy {
	case StrategyRoundRobin:
		idx := atomic.AddUint64(&p.rrCursor, 1)
		return candidates[int(idx)%len(candidates)]
	case StrategyLatency:
		best := candidates[0]
		_, _, bestEma := best.stats.snapshot()
		for _, c := range candidates[1:] {
			_, _, ema := c.stats.snapshot()
			if ema > 0 && (bestEma == 0 || ema < bestEma) {
				best, bestEma = c, ema
			}
		}
		return best
	default: // StrategyPriority
		return candidates[0]
	}
}

// retryPolicy is the jittered, capped-attempt exponential back-off shared
// by every RPC call the pool makes, adopted directly from the erigon
// example's use of cenkalti/backoff rather than hand-rolled.
func retryPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 150 * time.Millisecond
	eb.MaxInterval = 3 * time.Second
	eb.MaxElapsedTime = 10 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(eb, 4), ctx)
}

// call runs fn against a selected provider, recording latency/success and
// tripping the breaker on failure; transient errors are retried against a
// (possibly different) provider per retryPolicy.
func call[T any](ctx context.Context, p *ProviderPool, fn func(ctx context.Context, prov *Provider) (T, error)) (T, error) {
	var zero T
	var result T
	op := func() error {
		prov := p.pick()
		if err := prov.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter wait on %s: %w", prov.Name, err))
		}
		start := time.Now()
		out, err := fn(ctx, prov)
		latency := time.Since(start)
		if err != nil {
			prov.stats.record(latency, false)
			prov.breaker.RecordFailure()
			p.logger.Warn("rpc call failed", zap.String("provider", prov.Name), zap.Error(err))
			return err
		}
		prov.stats.record(latency, true)
		prov.breaker.RecordSuccess()
		result = out
		return nil
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return zero, err
	}
	return result, nil
}

// Stats returns a snapshot of every provider's rolling health, for the
// read API's get_service_health() and the RPC-stats component.
type ProviderStat struct {
	Name       string
	Endpoint   string
	Healthy    bool
	Successes  uint64
	Failures   uint64
	AvgLatency time.Duration
}

func (p *ProviderPool) Stats() []ProviderStat {
	out := make([]ProviderStat, 0, len(p.providers))
	for _, pv := range p.providers {
		s, f, ema := pv.stats.snapshot()
		out = append(out, ProviderStat{
			Name:       pv.Name,
			Endpoint:   pv.Endpoint,
			Healthy:    pv.Healthy(),
			Successes:  s,
			Failures:   f,
			AvgLatency: ema,
		})
	}
	return out
}
