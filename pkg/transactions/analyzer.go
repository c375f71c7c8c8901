// Package transactions reconciles confirmed wallet transactions into
// position transitions: signature polling, balance extraction, DEX
// detection, graph-based classification with confidence grading, ATA rent
// accounting, and idempotent P&L computation (spec §4.5).
package transactions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/aerogrind/solcore/pkg/pooltypes"
	"github.com/aerogrind/solcore/pkg/sol"
)

// Kind is the transactions reconciler's classification output.
type Kind string

const (
	KindBuy      Kind = "buy"
	KindSell     Kind = "sell"
	KindTransfer Kind = "transfer"
	KindAtaOp    Kind = "ata_op"
	KindUnknown  Kind = "unknown"
)

// wsolMint is the SOL-equivalent mint identity used to recognize a
// SOL-node <-> token-node swap edge.
const wsolMint = "So11111111111111111111111111111111111111112"

// knownDEXPrograms are the program IDs the detector recognizes, pulled
// from the decoders this module already knows how to price (spec §4.4.3's
// registered program kinds double as the DEX/router detection table, since
// a pool it can decode is by definition a pool it can also detect a swap
// through).
var knownDEXPrograms = map[string]pooltypes.ProgramKind{
	"CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C": pooltypes.ProgramRaydiumCpmm,
	"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8": pooltypes.ProgramRaydiumLegacyAmm,
	"CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK": pooltypes.ProgramRaydiumClmm,
	"LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo":  pooltypes.ProgramMeteoraDlmm,
	"Eo7WjKq67rjJQSZxS6z3YkapzY3eMj6Xy8X5EQVn5UaB": pooltypes.ProgramMeteoraDamm,
	"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc":  pooltypes.ProgramOrcaWhirlpool,
	"pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA":  pooltypes.ProgramPumpFunAmm,
}

// splTokenProgram is consulted to recognize ATA create/close operations.
const splAssociatedTokenProgram = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"

// BalanceFlow is one account's SOL or token balance delta for a
// transaction, the node-level input to classification's flow graph.
type BalanceFlow struct {
	AccountIndex int
	Owner        solana.PublicKey
	Mint         string // "" for the native SOL node
	PreRaw       *big.Int
	PostRaw      *big.Int
	Decimals     uint8
}

func (f BalanceFlow) Delta() *big.Int { return new(big.Int).Sub(f.PostRaw, f.PreRaw) }

// Analyzed is the full pipeline's output for one signature.
type Analyzed struct {
	Signature         string
	Slot              uint64
	BlockTime         int64
	Kind              Kind
	Confidence        pooltypes.Confidence
	DetectedProgramID string
	Mint              string // the non-SOL side of a detected Buy/Sell
	SolDeltaLamports  int64  // wallet's net lamports change, trading-only
	TokenDeltaRaw     string // wallet's net token-account change, decimal string
	FeeLamports       uint64
	RentDeltaLamports int64 // ATA create/close rent flows, excluded from trading P&L
	TradingDeltaLamports int64 // SolDeltaLamports with fee and rent stripped out
	LogSnippets       []string
}

// FetchAndAnalyze fetches signature once (cache-checked by the caller via
// pkg/store before calling this) and runs the full analyzer pipeline.
func FetchAndAnalyze(ctx context.Context, client *sol.Client, signature solana.Signature, wallet solana.PublicKey) (Analyzed, error) {
	maxVersion := uint64(0)
	result, err := client.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return Analyzed{}, fmt.Errorf("transactions: fetch %s: %w", signature, err)
	}
	if result == nil || result.Meta == nil || result.Transaction == nil {
		return Analyzed{}, fmt.Errorf("transactions: empty result for %s", signature)
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil || tx == nil {
		return Analyzed{}, fmt.Errorf("transactions: decode tx %s: %w", signature, err)
	}

	a := Analyzed{Signature: signature.String(), Slot: result.Slot}
	if result.BlockTime != nil {
		a.BlockTime = int64(*result.BlockTime)
	}
	a.FeeLamports = result.Meta.Fee

	flows := extractBalanceFlows(tx, result.Meta, wallet)
	detectedProgram, programKind := detectDEX(tx, result.Meta)
	a.DetectedProgramID = detectedProgram

	classifyResult(&a, flows, wallet, programKind)
	return a, nil
}

// extractBalanceFlows builds the wallet's native-SOL flow plus every token
// account flow belonging to the wallet, from the transaction's pre/post
// balance arrays (spec §4.5: "balance extraction (pre/post SOL and token
// balances)").
func extractBalanceFlows(tx *solana.Transaction, meta *rpc.TransactionMeta, wallet solana.PublicKey) []BalanceFlow {
	var flows []BalanceFlow

	walletIdx := -1
	for i, key := range tx.Message.AccountKeys {
		if key.Equals(wallet) {
			walletIdx = i
			break
		}
	}
	if walletIdx >= 0 && walletIdx < len(meta.PreBalances) && walletIdx < len(meta.PostBalances) {
		flows = append(flows, BalanceFlow{
			AccountIndex: walletIdx,
			Owner:        wallet,
			Mint:         "",
			PreRaw:       new(big.Int).SetUint64(meta.PreBalances[walletIdx]),
			PostRaw:      new(big.Int).SetUint64(meta.PostBalances[walletIdx]),
			Decimals:     9,
		})
	}

	preByKey := tokenBalanceIndex(meta.PreTokenBalances)
	postByKey := tokenBalanceIndex(meta.PostTokenBalances)
	seen := make(map[string]bool)
	add := func(b rpc.TokenBalance) {
		if b.Owner == nil || !b.Owner.Equals(wallet) {
			return
		}
		key := tokenBalanceKey(b)
		if seen[key] {
			return
		}
		seen[key] = true
		pre, hasPre := preByKey[key]
		post, hasPost := postByKey[key]
		decimals := uint8(0)
		preAmt := big.NewInt(0)
		postAmt := big.NewInt(0)
		if hasPre {
			decimals = pre.UiTokenAmount.Decimals
			if v, ok := new(big.Int).SetString(pre.UiTokenAmount.Amount, 10); ok {
				preAmt = v
			}
		}
		if hasPost {
			decimals = post.UiTokenAmount.Decimals
			if v, ok := new(big.Int).SetString(post.UiTokenAmount.Amount, 10); ok {
				postAmt = v
			}
		}
		flows = append(flows, BalanceFlow{
			AccountIndex: int(b.AccountIndex),
			Owner:        wallet,
			Mint:         b.Mint.String(),
			PreRaw:       preAmt,
			PostRaw:      postAmt,
			Decimals:     decimals,
		})
	}
	for _, b := range meta.PreTokenBalances {
		add(b)
	}
	for _, b := range meta.PostTokenBalances {
		add(b)
	}
	return flows
}

func tokenBalanceKey(b rpc.TokenBalance) string {
	return fmt.Sprintf("%d:%s", b.AccountIndex, b.Mint.String())
}

func tokenBalanceIndex(balances []rpc.TokenBalance) map[string]rpc.TokenBalance {
	out := make(map[string]rpc.TokenBalance, len(balances))
	for _, b := range balances {
		out[tokenBalanceKey(b)] = b
	}
	return out
}

// detectDEX looks for a known DEX/router program ID among the
// transaction's top-level instruction program IDs (spec §4.5: "DEX/router
// detection by program IDs and log patterns" — log-pattern matching is the
// fallback path in detectDEXFromLogs below).
func detectDEX(tx *solana.Transaction, meta *rpc.TransactionMeta) (string, pooltypes.ProgramKind) {
	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			continue
		}
		pid := tx.Message.AccountKeys[ix.ProgramIDIndex].String()
		if kind, ok := knownDEXPrograms[pid]; ok {
			return pid, kind
		}
	}
	if pid, kind, ok := detectDEXFromLogs(meta.LogMessages); ok {
		return pid, kind
	}
	return "", ""
}

func detectDEXFromLogs(logs []string) (string, pooltypes.ProgramKind, bool) {
	for _, line := range logs {
		for pid, kind := range knownDEXPrograms {
			if containsProgramInvoke(line, pid) {
				return pid, kind, true
			}
		}
	}
	return "", "", false
}

func containsProgramInvoke(line, programID string) bool {
	return len(line) > len(programID) && indexOf(line, programID) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
