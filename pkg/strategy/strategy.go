// Package strategy holds the entry/exit/DCA decision logic the overview
// diagram places between the price cache and the swap router ("strategy &
// exit evaluator"). It never touches the network or the positions store
// directly: it reads immutable snapshots and returns a typed Decision the
// caller (pkg/core's trading loop) executes against pkg/router and
// pkg/positions.
package strategy

import (
	"time"

	"github.com/aerogrind/solcore/pkg/positions"
	"github.com/aerogrind/solcore/pkg/pooltypes"
	"github.com/aerogrind/solcore/pkg/tokens"
)

// Action names what the evaluator wants done with a mint.
type Action string

const (
	ActionNone    Action = "none"
	ActionBuy     Action = "buy"
	ActionSell    Action = "sell"
	ActionAddDCA  Action = "add_dca"
)

// Decision is the evaluator's output for one mint on one evaluation pass.
type Decision struct {
	Mint       string
	Action     Action
	Reason     string
	SolAmount  float64 // buy/DCA size in SOL; ignored for sell
	SellPct    float64 // 0..1 fraction of token_amount_raw to sell
}

// EntryParams bounds how large and how confident a signal must be before
// the evaluator will recommend opening a position.
type EntryParams struct {
	BaseBuySOL       float64
	MinConfidence    float64
	MinLiquiditySOL  float64
}

// ExitParams configures the ROI/stop-loss/trailing-stop exit ladder.
type ExitParams struct {
	TakeProfitPct  float64 // e.g. 0.5 = +50% ROI triggers a full exit
	StopLossPct    float64 // e.g. 0.2 = -20% triggers a full exit
	TrailingStopPct float64 // drawdown from peak that triggers a full exit
	DCADrawdownPct  float64 // price drop from entry that allows one DCA add
	MaxDCAAdds      int
}

func DefaultEntryParams() EntryParams {
	return EntryParams{BaseBuySOL: 0.05, MinConfidence: 0.4, MinLiquiditySOL: 5}
}

func DefaultExitParams() ExitParams {
	return ExitParams{TakeProfitPct: 0.5, StopLossPct: 0.2, TrailingStopPct: 0.25, DCADrawdownPct: 0.3, MaxDCAAdds: 1}
}

// EvaluateEntry decides whether a filter-passed mint with a fresh
// canonical price is worth opening a position on. It is deliberately
// simple (no ML, no backtested signal) — spec §1 scopes the core to
// "correct, low-latency follow-through on clear signals", not signal
// discovery itself; passing the filter plus a confident canonical price
// over the liquidity floor is the clear signal.
func EvaluateEntry(snap tokens.Snapshot, price pooltypes.PriceResult, params EntryParams) Decision {
	if price.Confidence < params.MinConfidence {
		return Decision{Mint: snap.Mint, Action: ActionNone, Reason: "confidence below floor"}
	}
	if snap.LiquiditySOL < params.MinLiquiditySOL {
		return Decision{Mint: snap.Mint, Action: ActionNone, Reason: "liquidity below floor"}
	}
	return Decision{
		Mint:      snap.Mint,
		Action:    ActionBuy,
		Reason:    "filter passed, confident canonical price",
		SolAmount: params.BaseBuySOL,
	}
}

// dcaAddsInTag counts how many DCA adds a position's StrategyTag already
// records (tag format "entry" or "entry+dcaN"), so EvaluateExit can cap
// MaxDCAAdds without needing a separate counter field on Position.
func dcaAddsInTag(tag string) int {
	n := 0
	for i := 0; i < len(tag); i++ {
		if tag[i] == '+' {
			n++
		}
	}
	return n
}

// EvaluateExit runs the ROI/stop-loss/trailing-stop/DCA ladder against an
// Open position's current canonical price. currentPrice must come from
// the price cache, never from an advisory HTTP source (spec §6).
func EvaluateExit(pos positions.Position, currentPrice float64, params ExitParams, now time.Time) Decision {
	if pos.State != positions.StateOpen || pos.EntryPriceSOL <= 0 || currentPrice <= 0 {
		return Decision{Mint: pos.Mint, Action: ActionNone}
	}

	roi := (currentPrice - pos.EntryPriceSOL) / pos.EntryPriceSOL
	if roi >= params.TakeProfitPct {
		return Decision{Mint: pos.Mint, Action: ActionSell, SellPct: 1, Reason: "take profit"}
	}
	if roi <= -params.StopLossPct {
		return Decision{Mint: pos.Mint, Action: ActionSell, SellPct: 1, Reason: "stop loss"}
	}

	if pos.PeakPrice > 0 {
		drawdownFromPeak := (pos.PeakPrice - currentPrice) / pos.PeakPrice
		if drawdownFromPeak >= params.TrailingStopPct && currentPrice > pos.EntryPriceSOL {
			return Decision{Mint: pos.Mint, Action: ActionSell, SellPct: 1, Reason: "trailing stop"}
		}
	}

	dropFromEntry := (pos.EntryPriceSOL - currentPrice) / pos.EntryPriceSOL
	if dropFromEntry >= params.DCADrawdownPct && dcaAddsInTag(pos.StrategyTag) < params.MaxDCAAdds {
		return Decision{
			Mint:      pos.Mint,
			Action:    ActionAddDCA,
			Reason:    "dca drawdown threshold",
			SolAmount: pos.EntryAmountSOL, // match the original size, teacher-style simple doubling-down
		}
	}

	return Decision{Mint: pos.Mint, Action: ActionNone}
}

// UpdatePeakTrough refreshes a position's peak/trough watermarks from a
// fresh price observation; callers persist the mutated Position via the
// positions engine's own update path.
func UpdatePeakTrough(pos *positions.Position, currentPrice float64) {
	if currentPrice <= 0 {
		return
	}
	if pos.PeakPrice == 0 || currentPrice > pos.PeakPrice {
		pos.PeakPrice = currentPrice
	}
	if pos.TroughPrice == 0 || currentPrice < pos.TroughPrice {
		pos.TroughPrice = currentPrice
	}
	// Unrealized P&L is derived from the entry stake and the price ratio
	// rather than re-deriving a token count from the raw decimal string:
	// the raw amount's precision is owned by pkg/positions/pkg/store, not
	// by display-only watermark bookkeeping here.
	if pos.EntryPriceSOL > 0 {
		pos.UnrealizedPnlSOL = pos.EntryAmountSOL * (currentPrice/pos.EntryPriceSOL - 1)
	}
}
