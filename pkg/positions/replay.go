package positions

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/aerogrind/solcore/pkg/store"
)

// toRow projects a Position into the persisted "live view" row (spec §4.3:
// "the journal is append-only; the live view is a projection").
func toRow(p *Position) store.PositionRow {
	row := store.PositionRow{
		ID:             p.ID,
		Mint:           p.Mint,
		State:          string(p.State),
		TokenAmountRaw: p.TokenAmountRaw,
		RealizedPnlSOL: p.RealizedPnlSOL,
	}
	if p.EntryPriceSOL != 0 {
		row.EntryPrice = sql.NullFloat64{Float64: p.EntryPriceSOL, Valid: true}
	}
	if p.EntryAmountSOL != 0 {
		row.EntryAmountSOL = sql.NullFloat64{Float64: p.EntryAmountSOL, Valid: true}
	}
	if p.AverageBuyPrice != 0 {
		row.AverageBuyPrice = sql.NullFloat64{Float64: p.AverageBuyPrice, Valid: true}
	}
	if p.PeakPrice != 0 {
		row.PeakPrice = sql.NullFloat64{Float64: p.PeakPrice, Valid: true}
	}
	if p.TroughPrice != 0 {
		row.TroughPrice = sql.NullFloat64{Float64: p.TroughPrice, Valid: true}
	}
	if !p.OpenedAt.IsZero() {
		row.OpenedAt = sql.NullInt64{Int64: p.OpenedAt.Unix(), Valid: true}
	}
	if !p.ClosedAt.IsZero() {
		row.ClosedAt = sql.NullInt64{Int64: p.ClosedAt.Unix(), Valid: true}
	}
	if p.EntrySig != "" {
		row.EntrySig = sql.NullString{String: p.EntrySig, Valid: true}
	}
	if p.ExitSig != "" {
		row.ExitSig = sql.NullString{String: p.ExitSig, Valid: true}
	}
	if p.StrategyTag != "" {
		row.StrategyTag = sql.NullString{String: p.StrategyTag, Valid: true}
	}
	return row
}

// Restore rebuilds in-memory state by replaying the journal in sequence
// order (spec §4.3: "On restart, the engine rebuilds in-memory state by
// replaying the journal"). Each journal record's kind re-derives the
// position's field set directly from its payload rather than re-running
// the transition methods, since those methods also re-journal and would
// duplicate the log.
func (e *Engine) Restore() error {
	if e.db == nil {
		return nil
	}
	rows, err := e.db.ReplayJournal()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range rows {
		pos, ok := e.byID[r.PositionID]
		if !ok {
			pos = &Position{ID: r.PositionID, Mint: r.Mint}
			e.byID[r.PositionID] = pos
		}
		switch r.Kind {
		case "reserved":
			pos.State = StateReserved
			pos.reservedAt = r.At
			e.byMint[r.Mint] = pos
		case "opened":
			pos.State = StateOpen
			pos.OpenedAt = r.At
		case "closing":
			pos.State = StateClosing
		case "closed", "failed":
			state := StateClosed
			if r.Kind == "failed" {
				state = StateFailed
			}
			pos.State = state
			pos.ClosedAt = r.At
			delete(e.byMint, r.Mint)
		}
	}

	// The live projection table carries the authoritative current field
	// values (price, amounts, P&L) that the journal's free-form payload
	// doesn't need to duplicate; overlay it onto the replayed skeleton.
	liveRows, err := e.db.LoadOpenPositions()
	if err != nil {
		return err
	}
	for _, lr := range liveRows {
		pos, ok := e.byID[lr.ID]
		if !ok {
			continue
		}
		applyRow(pos, lr)
		if !pos.State.Terminal() {
			e.byMint[lr.Mint] = pos
		}
	}

	e.logger.Info("positions restored from journal", zap.Int("journal_records", len(rows)), zap.Int("open_positions", len(e.byMint)))
	return nil
}

func applyRow(pos *Position, lr store.PositionRow) {
	pos.State = State(lr.State)
	pos.TokenAmountRaw = lr.TokenAmountRaw
	pos.RealizedPnlSOL = lr.RealizedPnlSOL
	if lr.EntryPrice.Valid {
		pos.EntryPriceSOL = lr.EntryPrice.Float64
	}
	if lr.EntryAmountSOL.Valid {
		pos.EntryAmountSOL = lr.EntryAmountSOL.Float64
	}
	if lr.AverageBuyPrice.Valid {
		pos.AverageBuyPrice = lr.AverageBuyPrice.Float64
	}
	if lr.PeakPrice.Valid {
		pos.PeakPrice = lr.PeakPrice.Float64
	}
	if lr.TroughPrice.Valid {
		pos.TroughPrice = lr.TroughPrice.Float64
	}
	if lr.OpenedAt.Valid {
		pos.OpenedAt = time.Unix(lr.OpenedAt.Int64, 0)
	}
	if lr.ClosedAt.Valid {
		pos.ClosedAt = time.Unix(lr.ClosedAt.Int64, 0)
	}
	if lr.EntrySig.Valid {
		pos.EntrySig = lr.EntrySig.String
	}
	if lr.ExitSig.Valid {
		pos.ExitSig = lr.ExitSig.String
	}
	if lr.StrategyTag.Valid {
		pos.StrategyTag = lr.StrategyTag.String
	}
}
