// Package positions is the single source of truth for open trading
// engagements: the Reserved -> Opening/Open -> Closing -> Closed state
// machine and the "at most one non-closed position per mint" invariant
// (spec §4.3).
package positions

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aerogrind/solcore/pkg/config"
	"github.com/aerogrind/solcore/pkg/coreerr"
	"github.com/aerogrind/solcore/pkg/events"
	"github.com/aerogrind/solcore/pkg/store"
)

// State names one node of the position state machine.
type State string

const (
	StateReserved State = "reserved"
	StateOpen     State = "open"
	StateClosing  State = "closing"
	StateClosed   State = "closed"
	StateFailed   State = "failed"
)

func (s State) Terminal() bool { return s == StateClosed || s == StateFailed }

// ParsedSwap is the transactions reconciler's classified-swap input to
// confirm_open/confirm_close.
type ParsedSwap struct {
	Signature      string
	Mint           string
	IsBuy          bool
	SolDelta       float64 // negative on buy (SOL spent), positive on sell (SOL received)
	TokenAmountRaw string  // decimal string
	PriceSOL       float64
	Confidence     int // coreerr/pooltypes-style confidence band; >= Medium required by caller
}

// Position is the engine's live record for one mint engagement.
type Position struct {
	ID               string
	Mint             string
	State            State
	Reason           string
	EntryPriceSOL    float64
	EntryAmountSOL   float64
	TokenAmountRaw   string
	AverageBuyPrice  float64
	RealizedPnlSOL   float64
	UnrealizedPnlSOL float64
	PeakPrice        float64
	TroughPrice      float64
	OpenedAt         time.Time
	ClosedAt         time.Time
	EntrySig         string
	ExitSig          string
	StrategyTag      string

	reservedAt time.Time
	expiresAt  time.Time
}

// ReservationGuard is returned by TryReserve; if Release is called without a
// prior Confirm, the reservation is dropped and the mint becomes available
// again immediately (spec §4.3: "when dropped without being consumed,
// releases the reservation").
type ReservationGuard struct {
	engine *Engine
	id     string
	mint   string
	done   bool
}

// Release drops the reservation if it was never confirmed into an Open
// position. Calling it after Confirm is a no-op.
func (g *ReservationGuard) Release() {
	if g.done {
		return
	}
	g.engine.releaseReservation(g.id, g.mint)
	g.done = true
}

func (g *ReservationGuard) ID() string { return g.id }

// Engine is the positions state machine; one instance per wallet.
type Engine struct {
	logger    *zap.Logger
	db        *store.Store
	bus       *events.Bus
	cooldowns config.Cooldowns

	mu        sync.Mutex
	byMint    map[string]*Position // only non-terminal positions
	byID      map[string]*Position
	cooldown  map[string]time.Time // mint -> cooldown expiry
	mintLocks map[string]*sync.Mutex
	guards    map[string]*ReservationGuard // mint -> pending (unconfirmed) reservation
	nextSeq   int64
}

func NewEngine(logger *zap.Logger, db *store.Store, bus *events.Bus, cooldowns config.Cooldowns) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:    logger,
		db:        db,
		bus:       bus,
		cooldowns: cooldowns,
		byMint:    make(map[string]*Position),
		byID:      make(map[string]*Position),
		cooldown:  make(map[string]time.Time),
		mintLocks: make(map[string]*sync.Mutex),
		guards:    make(map[string]*ReservationGuard),
	}
}

// PendingReservation returns mint's currently outstanding reservation guard,
// if any, for the transactions reconciler to confirm against (spec §4.5's
// "reservations" lookup). Returns nil once the reservation is confirmed or
// released.
func (e *Engine) PendingReservation(mint string) *ReservationGuard {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.guards[mint]
}

// acquirePositionLock returns the per-mint lock, creating it on first use.
// Caller must hold e.mu only long enough to fetch the lock, then release
// e.mu before locking it (spec's acquire_position_lock primitive).
func (e *Engine) acquirePositionLock(mint string) *sync.Mutex {
	e.mu.Lock()
	l, ok := e.mintLocks[mint]
	if !ok {
		l = &sync.Mutex{}
		e.mintLocks[mint] = l
	}
	e.mu.Unlock()
	return l
}

// TryReserve atomically reserves mint for a new engagement. Returns
// ErrPositionExists if a non-Closed position already exists for mint or the
// mint is still in cooldown.
func (e *Engine) TryReserve(mint, reason string, reservationTimeout time.Duration, now time.Time) (*ReservationGuard, error) {
	lock := e.acquirePositionLock(mint)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	if _, exists := e.byMint[mint]; exists {
		e.mu.Unlock()
		return nil, coreerr.ErrPositionExists
	}
	if until, cooling := e.cooldown[mint]; cooling && now.Before(until) {
		e.mu.Unlock()
		return nil, coreerr.ErrPositionExists
	}
	id := uuid.NewString()
	pos := &Position{
		ID:         id,
		Mint:       mint,
		State:      StateReserved,
		Reason:     reason,
		reservedAt: now,
		expiresAt:  now.Add(reservationTimeout),
	}
	e.byMint[mint] = pos
	e.byID[id] = pos
	guard := &ReservationGuard{engine: e, id: id, mint: mint}
	e.guards[mint] = guard
	e.mu.Unlock()

	e.journal(pos, "reserved", map[string]any{"reason": reason}, now)
	return guard, nil
}

func (e *Engine) releaseReservation(id, mint string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.byID[id]
	if !ok || pos.State != StateReserved {
		return
	}
	delete(e.byMint, mint)
	delete(e.byID, id)
	delete(e.guards, mint)
}

// ConfirmOpen transitions a Reserved position to Open on a confirmed buy.
// Fails if the reservation expired or the swap doesn't match mint/direction.
func (e *Engine) ConfirmOpen(guard *ReservationGuard, swap ParsedSwap, now time.Time) (*Position, error) {
	e.mu.Lock()
	pos, ok := e.byID[guard.id]
	if !ok {
		e.mu.Unlock()
		return nil, coreerr.ErrInvariantViolation
	}
	if pos.State != StateReserved {
		e.mu.Unlock()
		return nil, coreerr.ErrInvariantViolation
	}
	if now.After(pos.expiresAt) {
		e.mu.Unlock()
		_ = e.failInternal(pos.ID, pos.Mint, "reservation expired", now)
		return nil, coreerr.ErrReservationExpired
	}
	if swap.Mint != pos.Mint || !swap.IsBuy {
		e.mu.Unlock()
		return nil, fmt.Errorf("positions: confirm_open mismatch for %s: %w", pos.Mint, coreerr.ErrInvariantViolation)
	}

	pos.State = StateOpen
	pos.EntryPriceSOL = swap.PriceSOL
	pos.EntryAmountSOL = -swap.SolDelta // buy: SolDelta is negative spend
	pos.TokenAmountRaw = swap.TokenAmountRaw
	pos.AverageBuyPrice = swap.PriceSOL
	pos.PeakPrice = swap.PriceSOL
	pos.TroughPrice = swap.PriceSOL
	pos.OpenedAt = now
	pos.EntrySig = swap.Signature
	guard.done = true
	delete(e.guards, pos.Mint)
	e.mu.Unlock()

	e.journal(pos, "opened", map[string]any{"signature": swap.Signature, "price_sol": swap.PriceSOL}, now)
	e.publish(events.KindPositionOpened, pos, now)
	return pos, nil
}

// MarkClosing transitions an Open position to Closing when a sell is submitted.
func (e *Engine) MarkClosing(positionID, signature string, now time.Time) (*Position, error) {
	e.mu.Lock()
	pos, ok := e.byID[positionID]
	if !ok || pos.State != StateOpen {
		e.mu.Unlock()
		return nil, coreerr.ErrInvariantViolation
	}
	pos.State = StateClosing
	pos.ExitSig = signature
	e.mu.Unlock()

	e.journal(pos, "closing", map[string]any{"signature": signature}, now)
	e.publish(events.KindPositionUpdated, pos, now)
	return pos, nil
}

// ConfirmClose advances Closing on a confirmed sell. A sell that fully
// drains the position's remaining token balance closes it, computing
// realized P&L and writing the P&L-dependent cooldown (spec §4.3). A sell
// that only partially drains it (manual_sell with percent<1, spec.md:270)
// instead reduces the remaining balance and cost basis and returns the
// position to Open — "closed" is reserved for a confirmed sell that drains
// the position in full (spec.md:166).
func (e *Engine) ConfirmClose(positionID string, swap ParsedSwap, now time.Time) (*Position, error) {
	e.mu.Lock()
	pos, ok := e.byID[positionID]
	if !ok || pos.State != StateClosing {
		e.mu.Unlock()
		return nil, coreerr.ErrInvariantViolation
	}
	if swap.Mint != pos.Mint || swap.IsBuy {
		e.mu.Unlock()
		return nil, fmt.Errorf("positions: confirm_close mismatch for %s: %w", pos.Mint, coreerr.ErrInvariantViolation)
	}

	remaining, ok := math.NewIntFromString(pos.TokenAmountRaw)
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("positions: confirm_close unparsable remaining balance %q: %w", pos.TokenAmountRaw, coreerr.ErrInvariantViolation)
	}
	// An empty sold amount (the reconciler couldn't classify a raw token
	// delta, or a caller/test doesn't track it) is treated as a full drain,
	// matching this method's pre-partial-sell behavior.
	sold := remaining
	if swap.TokenAmountRaw != "" {
		parsedSold, ok := math.NewIntFromString(swap.TokenAmountRaw)
		if !ok {
			e.mu.Unlock()
			return nil, fmt.Errorf("positions: confirm_close unparsable sold amount %q: %w", swap.TokenAmountRaw, coreerr.ErrInvariantViolation)
		}
		sold = parsedSold
	}
	if sold.IsNegative() {
		sold = sold.Neg()
	}
	if sold.GT(remaining) {
		sold = remaining
	}

	if sold.LT(remaining) {
		fraction := parseTokenAmount(sold.String()) / parseTokenAmount(remaining.String())
		soldBasis := pos.EntryAmountSOL * fraction
		pos.RealizedPnlSOL += swap.SolDelta - soldBasis
		pos.EntryAmountSOL -= soldBasis
		pos.TokenAmountRaw = remaining.Sub(sold).String()
		pos.State = StateOpen
		if swap.Signature != "" {
			pos.ExitSig = swap.Signature
		}
		e.mu.Unlock()

		e.journal(pos, "partial_closed", map[string]any{"sold_raw": sold.String(), "remaining_raw": pos.TokenAmountRaw, "realized_pnl_sol": pos.RealizedPnlSOL}, now)
		e.publish(events.KindPositionUpdated, pos, now)
		return pos, nil
	}

	pos.RealizedPnlSOL += swap.SolDelta - pos.EntryAmountSOL
	pos.TokenAmountRaw = "0"
	pos.State = StateClosed
	pos.ClosedAt = now
	if swap.Signature != "" {
		pos.ExitSig = swap.Signature
	}
	delete(e.byMint, pos.Mint)

	bps := pnlBps(pos.RealizedPnlSOL, pos.EntryAmountSOL)
	until := now.Add(e.cooldowns.Cooldown(bps))
	e.cooldown[pos.Mint] = until
	e.mu.Unlock()

	e.journal(pos, "closed", map[string]any{"realized_pnl_sol": pos.RealizedPnlSOL, "cooldown_until": until}, now)
	e.publish(events.KindPositionClosed, pos, now)
	return pos, nil
}

// failInternal moves a Reserved/Open/Closing position straight to Failed
// with a short cooldown, per the spec's failure-window semantics. Caller
// must not hold e.mu.
func (e *Engine) failInternal(positionID, mint, reason string, now time.Time) error {
	e.mu.Lock()
	pos, ok := e.byID[positionID]
	if !ok {
		e.mu.Unlock()
		return coreerr.ErrInvariantViolation
	}
	pos.State = StateFailed
	pos.Reason = reason
	pos.ClosedAt = now
	delete(e.byMint, mint)
	delete(e.guards, mint)
	e.cooldown[mint] = now.Add(e.cooldowns.Failed)
	e.mu.Unlock()

	e.journal(pos, "failed", map[string]any{"reason": reason}, now)
	e.publish(events.KindPositionClosed, pos, now)
	return nil
}

// Fail is the exported form of failInternal for the reconciler/supervisor
// to call when a signature never confirms within the configured window.
func (e *Engine) Fail(positionID, reason string, now time.Time) error {
	e.mu.Lock()
	pos, ok := e.byID[positionID]
	e.mu.Unlock()
	if !ok {
		return coreerr.ErrInvariantViolation
	}
	return e.failInternal(positionID, pos.Mint, reason, now)
}

// ExpireReservations fails every Reserved position whose timeout has
// elapsed, the auto-expiry half of spec §4.3's reservation semantics.
func (e *Engine) ExpireReservations(now time.Time) {
	e.mu.Lock()
	var expired []string
	for id, pos := range e.byID {
		if pos.State == StateReserved && now.After(pos.expiresAt) {
			expired = append(expired, id)
		}
	}
	e.mu.Unlock()
	for _, id := range expired {
		_ = e.Fail(id, "reservation expired", now)
	}
}

// SnapshotOpen returns every currently non-terminal position.
func (e *Engine) SnapshotOpen() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Position, 0, len(e.byMint))
	for _, p := range e.byMint {
		out = append(out, *p)
	}
	return out
}

// SnapshotByMint returns the current non-terminal position for mint, if any.
func (e *Engine) SnapshotByMint(mint string) (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.byMint[mint]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// InCooldown reports whether mint currently has a non-closed position or
// is still inside its post-close cooldown window — the tokens pipeline's
// CooldownChecker input to filtering (spec §4.2).
func (e *Engine) InCooldown(mint string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.byMint[mint]; exists {
		return true
	}
	until, cooling := e.cooldown[mint]
	return cooling && now.Before(until)
}

// UpdateUnrealized refreshes an open position's mark-to-market P&L and
// peak/trough tracking from the latest canonical price, without a state
// transition or journal entry (purely a read-model refresh).
func (e *Engine) UpdateUnrealized(mint string, priceSOL float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.byMint[mint]
	if !ok || pos.State != StateOpen {
		return
	}
	tokenAmount := parseTokenAmount(pos.TokenAmountRaw)
	pos.UnrealizedPnlSOL = tokenAmount*priceSOL - pos.EntryAmountSOL
	if priceSOL > pos.PeakPrice {
		pos.PeakPrice = priceSOL
	}
	if pos.TroughPrice == 0 || priceSOL < pos.TroughPrice {
		pos.TroughPrice = priceSOL
	}
}

func pnlBps(realized, entry float64) int64 {
	if entry == 0 {
		return 0
	}
	return int64((realized / entry) * 10000)
}

func parseTokenAmount(raw string) float64 {
	var f float64
	_, _ = fmt.Sscanf(raw, "%f", &f)
	return f
}

func (e *Engine) journal(pos *Position, kind string, extra map[string]any, now time.Time) {
	if e.db == nil {
		return
	}
	payload, _ := json.Marshal(extra)
	if _, err := e.db.AppendJournal(store.JournalRow{PositionID: pos.ID, Mint: pos.Mint, Kind: kind, PayloadJSON: string(payload), At: now}); err != nil {
		e.logger.Warn("positions journal append failed", zap.String("position", pos.ID), zap.Error(err))
	}
	if err := e.db.UpsertPosition(toRow(pos)); err != nil {
		e.logger.Warn("positions projection upsert failed", zap.String("position", pos.ID), zap.Error(err))
	}
}

func (e *Engine) publish(kind events.Kind, pos *Position, now time.Time) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{Kind: kind, At: now, Payload: *pos})
}
