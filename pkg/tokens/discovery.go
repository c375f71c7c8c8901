package tokens

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Candidate is one source's report of a mint, attributed by Source.
type Candidate struct {
	Mint   string
	Symbol string
	Name   string
}

// Source is one external catalog API (recent-listings, trending, verified,
// ...). Each source is independently rate-limited (spec §4.2).
type Source interface {
	Name() string
	Discover(ctx context.Context) ([]Candidate, error)
}

// rateLimitedSource pairs a Source with its own token bucket so one slow
// or aggressive source never throttles the others.
type rateLimitedSource struct {
	Source
	limiter *rate.Limiter
}

// Discovery periodically queries every registered source and folds the
// union of candidates into the tokens store, with per-source attribution.
type Discovery struct {
	store   *Store
	sources []*rateLimitedSource
	logger  *zap.Logger
}

// NewDiscovery builds a Discovery. Each source is given an independent
// limiter of reqsPerSecond (a conservative shared default; operators can
// wrap a Source themselves for a custom rate).
func NewDiscovery(store *Store, logger *zap.Logger, reqsPerSecond float64, sources ...Source) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	wrapped := make([]*rateLimitedSource, 0, len(sources))
	for _, src := range sources {
		wrapped = append(wrapped, &rateLimitedSource{Source: src, limiter: rate.NewLimiter(rate.Limit(reqsPerSecond), 1)})
	}
	return &Discovery{store: store, sources: wrapped, logger: logger}
}

// RunOnce queries every source once, in parallel, and merges results into
// the tokens store. Source failures are logged and skipped — one source's
// outage never blocks the others (spec §5: transient failures degrade,
// they don't abort the loop).
func (d *Discovery) RunOnce(ctx context.Context) {
	type result struct {
		source string
		cands  []Candidate
		err    error
	}
	results := make(chan result, len(d.sources))
	for _, src := range d.sources {
		go func(src *rateLimitedSource) {
			if err := src.limiter.Wait(ctx); err != nil {
				results <- result{source: src.Name(), err: err}
				return
			}
			cands, err := src.Discover(ctx)
			results <- result{source: src.Name(), cands: cands, err: err}
		}(src)
	}

	now := time.Now()
	for range d.sources {
		r := <-results
		if r.err != nil {
			d.logger.Warn("discovery source failed", zap.String("source", r.source), zap.Error(r.err))
			continue
		}
		for _, c := range r.cands {
			_, firstSeen := d.store.Upsert(c.Mint, r.source, now)
			if c.Symbol != "" || c.Name != "" {
				d.store.SetMetadata(c.Mint, c.Symbol, c.Name)
			}
			if firstSeen {
				d.logger.Info("discovered mint", zap.String("mint", c.Mint), zap.String("source", r.source))
			}
		}
	}
}

// Run loops RunOnce on interval until ctx is cancelled (the supervisor's task shape).
func (d *Discovery) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	d.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}
