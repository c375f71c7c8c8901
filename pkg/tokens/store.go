package tokens

import (
	"sync"
	"time"

	"github.com/aerogrind/solcore/pkg/store"
)

// Store is the tokens pipeline's owned state: the mint registry and the
// fused per-mint snapshot. Other components only ever see clones via
// Snapshot/SnapshotAll/Get, never the live maps, matching spec §3's
// "other components read immutable snapshots... no component ever
// mutates another's store."
type Store struct {
	mu        sync.RWMutex
	mints     map[string]*Mint
	snapshots map[string]*Snapshot

	db *store.Store // durable mirror; nil is valid for tests
}

func NewStore(db *store.Store) *Store {
	return &Store{
		mints:     make(map[string]*Mint),
		snapshots: make(map[string]*Snapshot),
		db:        db,
	}
}

// Restore rebuilds the in-memory blacklist from the durable store on
// supervisor start, per §4.2's blacklist permanence.
func (s *Store) Restore() error {
	if s.db == nil {
		return nil
	}
	blacklist, err := s.db.LoadBlacklist()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for mint, reason := range blacklist {
		m, ok := s.mints[mint]
		if !ok {
			m = &Mint{Mint: mint, Decimals: -1, Sources: map[string]time.Time{}}
			s.mints[mint] = m
		}
		m.Blacklisted = true
		m.BlacklistReason = reason
	}
	return nil
}

// Upsert inserts a newly-discovered mint or refreshes an already-known
// one's source attribution. Returns true if this was a first sighting.
func (s *Store) Upsert(mint, source string, at time.Time) (m Mint, firstSeen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.mints[mint]
	if !ok {
		existing = &Mint{Mint: mint, Decimals: -1, FirstSeenAt: at, Sources: map[string]time.Time{}}
		s.mints[mint] = existing
		firstSeen = true
	}
	existing.Sources[source] = at
	if s.db != nil {
		_ = s.db.UpsertToken(store.TokenRow{
			Mint: mint, Symbol: existing.Symbol, Name: existing.Name,
			Decimals: existing.Decimals, FirstSeenAt: existing.FirstSeenAt, UpdatedAt: at,
		})
	}
	return *existing, firstSeen
}

// SetDecimals permanently caches confirmed on-chain decimals (spec §3:
// "decimals, once confirmed from chain, never changes").
func (s *Store) SetDecimals(mint string, decimals int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mints[mint]
	if !ok {
		m = &Mint{Mint: mint, FirstSeenAt: at, Sources: map[string]time.Time{}}
		s.mints[mint] = m
	}
	if m.HasDecimals() {
		return
	}
	m.Decimals = decimals
	if s.db != nil {
		_ = s.db.UpsertToken(store.TokenRow{
			Mint: mint, Symbol: m.Symbol, Name: m.Name, Decimals: decimals,
			FirstSeenAt: m.FirstSeenAt, UpdatedAt: at,
		})
	}
}

// SetMetadata fills in symbol/name once known (e.g. from a catalog source).
func (s *Store) SetMetadata(mint, symbol, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.mints[mint]; ok {
		m.Symbol = symbol
		m.Name = name
	}
}

// Blacklist marks mint untradable. Per spec §3, once set it cannot be
// cleared except by RemoveBlacklist (an explicit administrative action).
func (s *Store) Blacklist(mint, reason string, at time.Time) {
	s.mu.Lock()
	m, ok := s.mints[mint]
	if !ok {
		m = &Mint{Mint: mint, Decimals: -1, FirstSeenAt: at, Sources: map[string]time.Time{}}
		s.mints[mint] = m
	}
	m.Blacklisted = true
	m.BlacklistReason = reason
	s.mu.Unlock()
	if s.db != nil {
		_ = s.db.AddBlacklist(mint, reason, at)
	}
}

// RemoveBlacklist is the explicit administrative action spec §3 requires
// before a blacklisted mint can become tradable again.
func (s *Store) RemoveBlacklist(mint string) {
	s.mu.Lock()
	if m, ok := s.mints[mint]; ok {
		m.Blacklisted = false
		m.BlacklistReason = ""
	}
	s.mu.Unlock()
	if s.db != nil {
		_ = s.db.RemoveBlacklist(mint)
	}
}

// GetMint returns a clone of the mint record, if known.
func (s *Store) GetMint(mint string) (Mint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mints[mint]
	if !ok {
		return Mint{}, false
	}
	return *m, true
}

// AllMints returns a clone of every known mint, for the monitor's sweep
// and the read API's list_filtered_mints() support.
func (s *Store) AllMints() []Mint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Mint, 0, len(s.mints))
	for _, m := range s.mints {
		out = append(out, *m)
	}
	return out
}

// UpdateSnapshot applies a mutator to a mint's snapshot under the write
// lock, creating it if absent, then returns the resulting clone. Used by
// the monitor and the pool pipeline to publish their respective updates
// without either holding a lock across a suspension point (spec §5).
func (s *Store) UpdateSnapshot(mint string, mutate func(*Snapshot)) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[mint]
	if !ok {
		snap = &Snapshot{Mint: mint, PerSource: map[string]SourcePrice{}}
		s.snapshots[mint] = snap
	}
	mutate(snap)
	return *snap
}

// Snapshot returns a clone of the current fused view for mint.
func (s *Store) Snapshot(mint string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[mint]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

// SnapshotAll returns a clone of every tracked snapshot.
func (s *Store) SnapshotAll() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, *snap)
	}
	return out
}
