package sol

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

// circuitState mirrors a classic three-state breaker: Closed (normal),
// Open (tripped, calls rejected), HalfOpen (one probe call allowed).
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// circuitBreaker trips a Provider after a run of consecutive failures and
// only lets traffic back in after a cool-down, one probe at a time.
type circuitBreaker struct {
	mu               sync.Mutex
	state            circuitState
	consecutiveFails int
	failThreshold    int
	openedAt         time.Time
	cooldown         time.Duration
}

func newCircuitBreaker(failThreshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{failThreshold: failThreshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed, transitioning Open->HalfOpen
// once the cooldown has elapsed.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = circuitHalfOpen
			return true
		}
		return false
	default: // circuitHalfOpen
		return true
	}
}

func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.state = circuitClosed
}

func (b *circuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails++
	if b.state == circuitHalfOpen || b.consecutiveFails >= b.failThreshold {
		b.state = circuitOpen
		b.openedAt = time.Now()
	}
}

func (b *circuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == circuitOpen
}

// providerStats is the rolling health picture used by the latency-based
// selection strategy and exposed to the RPC-stats read API.
type providerStats struct {
	mu          sync.Mutex
	successes   uint64
	failures    uint64
	lastLatency time.Duration
	// emaLatency is an exponential moving average so one slow call doesn't
	// dominate the latency ranking.
	emaLatency time.Duration
}

func (s *providerStats) record(latency time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.successes++
	} else {
		s.failures++
	}
	s.lastLatency = latency
	if s.emaLatency == 0 {
		s.emaLatency = latency
		return
	}
	const alpha = 0.2
	s.emaLatency = time.Duration(alpha*float64(latency) + (1-alpha)*float64(s.emaLatency))
}

func (s *providerStats) snapshot() (successes, failures uint64, ema time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successes, s.failures, s.emaLatency
}

// Provider is one RPC endpoint in the pool: its own client, its own token
// bucket and its own circuit breaker, so one bad provider's rate limiting
// or outage never throttles the others.
type Provider struct {
	Name     string
	Endpoint string
	Priority int // lower starts first / wins priority-strategy ties

	rpcClient *rpc.Client
	limiter   *RateLimiter
	breaker   *circuitBreaker
	stats     *providerStats
}

// NewProvider constructs a pool member with a private rate limiter and
// circuit breaker; reqLimitPerSecond mirrors the teacher's single-endpoint
// constructor argument, now scoped per provider instead of per client.
func NewProvider(name, endpoint string, priority, reqLimitPerSecond int) *Provider {
	return &Provider{
		Name:     name,
		Endpoint: endpoint,
		Priority: priority,

		rpcClient: rpc.New(endpoint),
		limiter:   NewRateLimiter(reqLimitPerSecond),
		breaker:   newCircuitBreaker(5, 30*time.Second),
		stats:     &providerStats{},
	}
}

// Healthy reports whether the provider is currently eligible for selection.
func (p *Provider) Healthy() bool {
	return !p.breaker.Open() || p.breaker.Allow()
}

// reserveToken blocks (respecting ctx) for a rate-limiter slot without
// touching the breaker; breaker bookkeeping happens around the actual call.
func (p *Provider) reserveToken() *rate.Reservation {
	return p.limiter.Reserve()
}
