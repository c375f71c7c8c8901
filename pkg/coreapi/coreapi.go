// Package coreapi exposes the core's public surface to the rest of the
// application (webserver, CLI, dashboards) per spec §6: a read API
// returning immutable snapshots, an asynchronous command API for
// user-initiated actions, and the domain-event broadcast. Every command
// returns a typed result carrying an error kind, a human-readable
// message and the offending subsystem, so partial success (quote
// succeeded, broadcast failed) is always distinguishable from total
// failure (spec §7's "user-visible failure behavior").
package coreapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aerogrind/solcore/pkg/config"
	"github.com/aerogrind/solcore/pkg/coreerr"
	"github.com/aerogrind/solcore/pkg/events"
	"github.com/aerogrind/solcore/pkg/pooltypes"
	"github.com/aerogrind/solcore/pkg/positions"
	"github.com/aerogrind/solcore/pkg/pricecache"
	"github.com/aerogrind/solcore/pkg/router"
	"github.com/aerogrind/solcore/pkg/sol"
	"github.com/aerogrind/solcore/pkg/supervisor"
	"github.com/aerogrind/solcore/pkg/tokens"
)

// CommandStatus is the lifecycle state of an asynchronous command.
type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandSucceeded CommandStatus = "succeeded"
	CommandFailed    CommandStatus = "failed"
)

// CommandResult is the typed, user-visible outcome of one command API
// call. Message and Subsystem are always populated on Failed; Signature
// is populated as soon as a swap broadcasts even if confirmation is
// still pending (spec §6: "asynchronous and return an identifier that
// the reconciler later resolves").
type CommandResult struct {
	ID         string
	Status     CommandStatus
	Kind       coreerr.Kind
	Subsystem  string
	Message    string
	Signature  string
	PositionID string
}

// API is the core's single entry point for everything outside the
// trading loop itself: tokens/pool/position reads, user commands, and
// the event broadcast. It holds only references, never owns a mutation
// path of its own — every write goes through the component that owns
// the data (design note #1's "core context" shape, specialized to the
// read/write surface the rest of the application actually needs).
type API struct {
	logger *zap.Logger
	cfg    *config.Store
	bus    *events.Bus

	tokenStore *tokens.Store
	prices     *pricecache.Cache
	engine     *positions.Engine
	swapRouter *router.Router
	solClient  *sol.Client
	super      *supervisor.Supervisor

	commandsMu sync.RWMutex
	commands   map[string]*CommandResult
}

// New wires the read/command API over the core's already-constructed
// components; it never constructs them itself (pkg/core owns that).
func New(logger *zap.Logger, cfg *config.Store, bus *events.Bus, tokenStore *tokens.Store, prices *pricecache.Cache, engine *positions.Engine, swapRouter *router.Router, solClient *sol.Client, super *supervisor.Supervisor) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		logger:     logger,
		cfg:        cfg,
		bus:        bus,
		tokenStore: tokenStore,
		prices:     prices,
		engine:     engine,
		swapRouter: swapRouter,
		solClient:  solClient,
		super:      super,
		commands:   make(map[string]*CommandResult),
	}
}

// BindSupervisor attaches the supervisor once it exists. pkg/core builds
// the API before the supervisor (services close over the API to issue
// commands) and the supervisor before it can be handed back to the API,
// so this closes that one order-of-construction loop; it is not meant to
// be called again after Start.
func (a *API) BindSupervisor(super *supervisor.Supervisor) { a.super = super }

// ---- Read API (spec §6) ----

// ListOpenPositions returns every non-terminal position.
func (a *API) ListOpenPositions() []positions.Position { return a.engine.SnapshotOpen() }

// GetTokenSnapshot returns the fused market view for mint, if known.
func (a *API) GetTokenSnapshot(mint string) (tokens.Snapshot, bool) { return a.tokenStore.Snapshot(mint) }

// GetCanonicalPrice returns the current best price for mint across its
// healthy pools.
func (a *API) GetCanonicalPrice(mint string) (pooltypes.PriceResult, bool) { return a.prices.Canonical(mint) }

// ListFilteredMints returns the current passed/rejected filtering split.
func (a *API) ListFilteredMints(now time.Time) tokens.FilterOutput {
	return tokens.Evaluate(a.tokenStore, a.cfg.Get().Filter, a.inCooldown, now)
}

func (a *API) inCooldown(mint string) bool {
	return a.engine.InCooldown(mint, time.Now())
}

// GetServiceHealth returns every supervised service's current health.
func (a *API) GetServiceHealth() map[string]supervisor.Health { return a.super.Health() }

// Subscribe registers a new bounded, drop-oldest event listener (spec
// §6's broadcast: "best-effort; absence of an event is not an
// authoritative signal").
func (a *API) Subscribe() *events.Subscription { return a.bus.Subscribe() }

// ---- Command API (spec §6) ----

// record stores and returns a pending command result, assigning it a
// fresh identifier the caller can poll via CommandStatusByID.
func (a *API) record() *CommandResult {
	r := &CommandResult{ID: uuid.NewString(), Status: CommandPending}
	a.commandsMu.Lock()
	a.commands[r.ID] = r
	a.commandsMu.Unlock()
	return r
}

func (a *API) finish(r *CommandResult, err error, subsystem string, positionID, signature string) {
	a.commandsMu.Lock()
	defer a.commandsMu.Unlock()
	r.PositionID = positionID
	r.Signature = signature
	if err == nil {
		r.Status = CommandSucceeded
		return
	}
	r.Status = CommandFailed
	r.Subsystem = subsystem
	r.Message = err.Error()
	if classified, ok := err.(*coreerr.Classified); ok {
		r.Kind = classified.Kind
	} else {
		r.Kind = coreerr.KindUnknown
	}
}

// CommandStatusByID returns the current state of a previously issued
// command, for polling after the initiating call returned its ID.
func (a *API) CommandStatusByID(id string) (CommandResult, bool) {
	a.commandsMu.RLock()
	defer a.commandsMu.RUnlock()
	r, ok := a.commands[id]
	if !ok {
		return CommandResult{}, false
	}
	return *r, true
}

// ManualBuy reserves mint, requests the best quote and executes it with
// fallback, returning immediately with a command ID; the transactions
// reconciler resolves the reservation into an Open position once the
// signature confirms (spec §6).
func (a *API) ManualBuy(ctx context.Context, mint string, solAmount float64, slippageBps int) *CommandResult {
	r := a.record()
	go a.runManualBuy(ctx, r, mint, solAmount, slippageBps)
	return r
}

func (a *API) runManualBuy(ctx context.Context, r *CommandResult, mint string, solAmount float64, slippageBps int) {
	cfg := a.cfg.Get()
	guard, err := a.engine.TryReserve(mint, "manual_buy", cfg.ReservationTimeout, time.Now())
	if err != nil {
		a.finish(r, err, "positions", "", "")
		return
	}

	amountLamports := math.NewInt(int64(solAmount * 1e9))

	mintPub, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		guard.Release()
		a.finish(r, fmt.Errorf("%w: invalid mint %s: %v", coreerr.ErrConfig, mint, err), "router", "", "")
		return
	}
	if err := a.solClient.CoverWsol(ctx, cfg.Wallet, amountLamports.Int64()); err != nil {
		guard.Release()
		a.finish(r, fmt.Errorf("cover wsol: %w", err), "router", "", "")
		return
	}
	userInputAccount, err := a.solClient.SelectOrCreateSPLTokenAccount(ctx, cfg.Wallet, sol.WSOL)
	if err != nil {
		guard.Release()
		a.finish(r, fmt.Errorf("resolve wsol account: %w", err), "router", "", "")
		return
	}
	userOutputAccount, err := a.solClient.SelectOrCreateSPLTokenAccount(ctx, cfg.Wallet, mintPub)
	if err != nil {
		guard.Release()
		a.finish(r, fmt.Errorf("resolve output token account: %w", err), "router", "", "")
		return
	}

	req := router.SwapRequest{
		InputMint:         sol.WSOL.String(),
		OutputMint:        mint,
		AmountIn:          amountLamports,
		SlippageBps:       slippageBps,
		User:              cfg.Wallet.PublicKey(),
		UserInputAccount:  userInputAccount,
		UserOutputAccount: userOutputAccount,
	}

	result, err := a.swapRouter.ExecuteSwapWithFallback(ctx, a.solClient, cfg.Wallet, req, 8*time.Second)
	if err != nil {
		guard.Release()
		a.finish(r, fmt.Errorf("%w", err), "router", "", "")
		return
	}
	a.finish(r, nil, "", guard.ID(), result.Signature.String())
}

// ManualSell requests a sell of percent (0..1] of an open position's
// token balance, returning immediately with a command ID.
func (a *API) ManualSell(ctx context.Context, positionID string, percent float64) *CommandResult {
	r := a.record()
	go a.runManualSell(ctx, r, positionID, percent)
	return r
}

func (a *API) runManualSell(ctx context.Context, r *CommandResult, positionID string, percent float64) {
	cfg := a.cfg.Get()
	pos, ok := a.findByID(positionID)
	if !ok || pos.State != positions.StateOpen {
		a.finish(r, fmt.Errorf("%w: position %s not open", coreerr.ErrInvariantViolation, positionID), "positions", "", "")
		return
	}
	if percent <= 0 || percent > 1 {
		percent = 1
	}

	mintPub, err := solana.PublicKeyFromBase58(pos.Mint)
	if err != nil {
		a.finish(r, fmt.Errorf("%w: invalid mint %s: %v", coreerr.ErrConfig, pos.Mint, err), "router", positionID, "")
		return
	}
	total, ok := math.NewIntFromString(pos.TokenAmountRaw)
	if !ok {
		a.finish(r, fmt.Errorf("%w: unparsable token amount %q", coreerr.ErrInvariantViolation, pos.TokenAmountRaw), "positions", positionID, "")
		return
	}
	sellAmount := total
	if percent < 1 {
		sellAmount = total.MulRaw(int64(percent * 1e6)).QuoRaw(1e6)
	}

	userInputAccount, err := a.solClient.SelectOrCreateSPLTokenAccount(ctx, cfg.Wallet, mintPub)
	if err != nil {
		a.finish(r, fmt.Errorf("resolve input token account: %w", err), "router", positionID, "")
		return
	}
	userOutputAccount, err := a.solClient.SelectOrCreateSPLTokenAccount(ctx, cfg.Wallet, sol.WSOL)
	if err != nil {
		a.finish(r, fmt.Errorf("resolve wsol account: %w", err), "router", positionID, "")
		return
	}

	req := router.SwapRequest{
		InputMint:         pos.Mint,
		OutputMint:        sol.WSOL.String(),
		AmountIn:          sellAmount,
		User:              cfg.Wallet.PublicKey(),
		UserInputAccount:  userInputAccount,
		UserOutputAccount: userOutputAccount,
	}
	result, err := a.swapRouter.ExecuteSwapWithFallback(ctx, a.solClient, cfg.Wallet, req, 8*time.Second)
	if err != nil {
		a.finish(r, err, "router", positionID, "")
		return
	}
	// MarkClosing is safe to call for any percent: ConfirmClose (run later
	// against the confirmed swap) compares the sold amount to the
	// position's remaining balance and only finalizes Closed on a full
	// drain, returning the position to Open otherwise.
	if _, err := a.engine.MarkClosing(positionID, result.Signature.String(), time.Now()); err != nil {
		a.finish(r, err, "positions", positionID, result.Signature.String())
		return
	}
	a.finish(r, nil, "", positionID, result.Signature.String())
}

func (a *API) findByID(positionID string) (positions.Position, bool) {
	for _, p := range a.engine.SnapshotOpen() {
		if p.ID == positionID {
			return p, true
		}
	}
	return positions.Position{}, false
}

// BlacklistAdd synchronously blacklists mint; blacklisting is a local,
// in-memory/DB write with no network round trip, so it does not need the
// asynchronous command shape the swap-initiating commands use.
func (a *API) BlacklistAdd(mint, reason string) {
	a.tokenStore.Blacklist(mint, reason, time.Now())
}

// BlacklistRemove clears mint's blacklist flag.
func (a *API) BlacklistRemove(mint string) {
	a.tokenStore.RemoveBlacklist(mint)
}

// TraderStart and TraderStop gate the supervised trading services
// without tearing down the whole supervisor, for an operator pause/resume
// control distinct from full shutdown.
func (a *API) TraderStart(ctx context.Context) error { return a.super.Start(ctx) }
func (a *API) TraderStop()                           { a.super.Stop() }
