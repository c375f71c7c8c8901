package pooldecoder

import (
	"sync"
	"time"
)

// backoffTiers is the escalating retry schedule for a pool that keeps
// failing to decode or price: 30s, 5m, 30m, 2h, then holds at 2h. Reset to
// the first tier on any success.
var backoffTiers = []time.Duration{
	30 * time.Second,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

// FailedCache remembers pools that failed decode or pricing so the
// fetcher stops re-requesting their accounts every tick. Grounded on the
// original system's failed-pool-analysis cache, which exists "to prevent
// repeated attempts and reduce log spam" for pools that keep failing.
type FailedCache struct {
	mu      sync.Mutex
	entries map[string]*failedEntry
}

type failedEntry struct {
	tier      int
	failedAt  time.Time
	lastError error
}

func NewFailedCache() *FailedCache {
	return &FailedCache{entries: make(map[string]*failedEntry)}
}

// RecordFailure marks poolAddress as failed, advancing it to the next
// back-off tier (capped at the last one).
func (c *FailedCache) RecordFailure(poolAddress string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[poolAddress]
	if !ok {
		e = &failedEntry{}
		c.entries[poolAddress] = e
	} else if e.tier < len(backoffTiers)-1 {
		e.tier++
	}
	e.failedAt = time.Now()
	e.lastError = err
}

// RecordSuccess clears a pool's back-off state entirely.
func (c *FailedCache) RecordSuccess(poolAddress string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, poolAddress)
}

// ShouldSkip reports whether poolAddress is still within its current
// back-off window and should not be re-fetched this tick.
func (c *FailedCache) ShouldSkip(poolAddress string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[poolAddress]
	if !ok {
		return false
	}
	return now.Sub(e.failedAt) < backoffTiers[e.tier]
}

// LastError returns the most recently recorded failure for poolAddress,
// if any, for surfacing in the read API's pool-health view.
func (c *FailedCache) LastError(poolAddress string) (error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[poolAddress]
	if !ok {
		return nil, false
	}
	return e.lastError, true
}
