package positions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aerogrind/solcore/pkg/config"
	"github.com/aerogrind/solcore/pkg/coreerr"
)

func newTestEngine() *Engine {
	return NewEngine(nil, nil, nil, config.DefaultCooldowns())
}

func TestReserveOpenCloseHappyPath(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	guard, err := e.TryReserve("mintA", "filter_passed", 10*time.Second, now)
	require.NoError(t, err)

	pos, err := e.ConfirmOpen(guard, ParsedSwap{Signature: "sig1", Mint: "mintA", IsBuy: true, SolDelta: -1.0, TokenAmountRaw: "1000", PriceSOL: 0.001}, now)
	require.NoError(t, err)
	require.Equal(t, StateOpen, pos.State)

	snap, ok := e.SnapshotByMint("mintA")
	require.True(t, ok)
	require.Equal(t, StateOpen, snap.State)

	_, err = e.MarkClosing(pos.ID, "sig2", now)
	require.NoError(t, err)

	closed, err := e.ConfirmClose(pos.ID, ParsedSwap{Signature: "sig2", Mint: "mintA", IsBuy: false, SolDelta: 1.5}, now)
	require.NoError(t, err)
	require.Equal(t, StateClosed, closed.State)
	require.InDelta(t, 0.5, closed.RealizedPnlSOL, 1e-9)

	_, ok = e.SnapshotByMint("mintA")
	require.False(t, ok, "closed positions are removed from the live-by-mint index")
}

func TestConfirmClosePartialSellKeepsPositionOpen(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	guard, err := e.TryReserve("mintP", "filter_passed", 10*time.Second, now)
	require.NoError(t, err)
	pos, err := e.ConfirmOpen(guard, ParsedSwap{Signature: "s1", Mint: "mintP", IsBuy: true, SolDelta: -1.0, TokenAmountRaw: "1000", PriceSOL: 0.001}, now)
	require.NoError(t, err)

	_, err = e.MarkClosing(pos.ID, "s2", now)
	require.NoError(t, err)

	// manual_sell(percent=0.4): wallet's token balance drops by 400 of the
	// 1000 remaining, well short of a full drain.
	partial, err := e.ConfirmClose(pos.ID, ParsedSwap{Signature: "s2", Mint: "mintP", IsBuy: false, SolDelta: 0.6, TokenAmountRaw: "-400"}, now)
	require.NoError(t, err)
	require.Equal(t, StateOpen, partial.State, "a partial drain must not close the position")
	require.Equal(t, "600", partial.TokenAmountRaw)
	require.InDelta(t, 0.6, partial.EntryAmountSOL, 1e-9, "cost basis shrinks proportionally to the sold fraction")
	require.InDelta(t, 0.2, partial.RealizedPnlSOL, 1e-9)

	snap, ok := e.SnapshotByMint("mintP")
	require.True(t, ok, "a partially-closed position stays in the live index")
	require.Equal(t, StateOpen, snap.State)

	// A second manual_sell closes out the rest.
	_, err = e.MarkClosing(pos.ID, "s3", now)
	require.NoError(t, err)
	closed, err := e.ConfirmClose(pos.ID, ParsedSwap{Signature: "s3", Mint: "mintP", IsBuy: false, SolDelta: 0.9, TokenAmountRaw: "-600"}, now)
	require.NoError(t, err)
	require.Equal(t, StateClosed, closed.State)
	require.InDelta(t, 0.5, closed.RealizedPnlSOL, 1e-9, "realized P&L accumulates across both sells")

	_, ok = e.SnapshotByMint("mintP")
	require.False(t, ok)
}

func TestReserveRejectsSecondOpenPosition(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	_, err := e.TryReserve("mintB", "filter_passed", 10*time.Second, now)
	require.NoError(t, err)

	_, err = e.TryReserve("mintB", "filter_passed", 10*time.Second, now)
	require.ErrorIs(t, err, coreerr.ErrPositionExists)
}

func TestGuardReleaseFreesReservation(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	guard, err := e.TryReserve("mintC", "filter_passed", 10*time.Second, now)
	require.NoError(t, err)
	guard.Release()

	_, err = e.TryReserve("mintC", "filter_passed", 10*time.Second, now)
	require.NoError(t, err, "a released reservation must not block a fresh one")
}

func TestCooldownBlocksReserveAfterClose(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	guard, err := e.TryReserve("mintD", "filter_passed", 10*time.Second, now)
	require.NoError(t, err)
	pos, err := e.ConfirmOpen(guard, ParsedSwap{Signature: "s1", Mint: "mintD", IsBuy: true, SolDelta: -1.0, TokenAmountRaw: "100", PriceSOL: 0.01}, now)
	require.NoError(t, err)
	_, err = e.MarkClosing(pos.ID, "s2", now)
	require.NoError(t, err)
	// a steep loss should land in the LargeLoss cooldown bucket
	_, err = e.ConfirmClose(pos.ID, ParsedSwap{Signature: "s2", Mint: "mintD", IsBuy: false, SolDelta: 0.5}, now)
	require.NoError(t, err)

	_, err = e.TryReserve("mintD", "filter_passed", 10*time.Second, now.Add(time.Second))
	require.ErrorIs(t, err, coreerr.ErrPositionExists)

	_, err = e.TryReserve("mintD", "filter_passed", 10*time.Second, now.Add(20*time.Minute))
	require.NoError(t, err, "cooldown must have expired by now")
}

func TestExpireReservationsFailsStaleReservation(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	_, err := e.TryReserve("mintE", "filter_passed", time.Second, now)
	require.NoError(t, err)

	e.ExpireReservations(now.Add(2 * time.Second))

	_, ok := e.SnapshotByMint("mintE")
	require.False(t, ok)

	_, err = e.TryReserve("mintE", "filter_passed", time.Second, now.Add(3*time.Second))
	require.ErrorIs(t, err, coreerr.ErrPositionExists, "the failed reservation's cooldown should still be active")
}

func TestConfirmOpenRejectsMintMismatch(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	guard, err := e.TryReserve("mintF", "filter_passed", 10*time.Second, now)
	require.NoError(t, err)

	_, err = e.ConfirmOpen(guard, ParsedSwap{Signature: "sig", Mint: "other", IsBuy: true, SolDelta: -1, PriceSOL: 1}, now)
	require.Error(t, err)
}
