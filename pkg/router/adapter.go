package router

import (
	"context"
	"fmt"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"

	"github.com/aerogrind/solcore/pkg"
	"github.com/aerogrind/solcore/pkg/sol"
)

// SwapRequest is the router's swap-execution contract input (spec §4.6):
// everything an Adapter needs to quote and, if selected, execute a swap.
// UserInputAccount/UserOutputAccount are the caller's own token accounts
// for InputMint/OutputMint respectively; ProtocolAdapter.Execute maps
// them onto each pool's own base/quote account order via
// Pool.GetTokens(), since a pool's base mint is not always the request's
// input mint.
type SwapRequest struct {
	InputMint        string
	OutputMint       string
	AmountIn         math.Int
	SlippageBps      int
	User             solana.PublicKey
	UserInputAccount  solana.PublicKey
	UserOutputAccount solana.PublicKey
}

// Quote is one adapter's priced route for a SwapRequest.
type Quote struct {
	Adapter   Adapter
	Pool      pkg.Pool
	OutAmount math.Int
	MinOut    math.Int
}

// EffectiveOutput is the output amount after the request's configured
// slippage tolerance, the figure GetBestQuote ranks adapters by.
func (q Quote) EffectiveOutput() math.Int { return q.MinOut }

// Adapter implements the swap-execution contract for one DEX aggregator
// (spec §4.6: "quote(request) -> Quote, execute(quote) -> Signature, plus
// a capability check on the mint"). ProtocolAdapter below is the only
// implementation; the interface exists so the router never special-cases
// a concrete DEX.
type Adapter interface {
	Name() string
	// Priority breaks ties between equally-good quotes; lower wins.
	Priority() int
	CanQuote(ctx context.Context, inputMint, outputMint string) bool
	Quote(ctx context.Context, solClient *sol.Client, req SwapRequest) (Quote, error)
	Execute(ctx context.Context, solClient *sol.Client, signer solana.PrivateKey, quote Quote, req SwapRequest) (solana.Signature, error)
}

// ProtocolAdapter wraps one pkg.Protocol (a single DEX's pool family) as
// a router Adapter. It owns no RPC state of its own beyond the protocol's
// own pool-fetch cache.
type ProtocolAdapter struct {
	protocol pkg.Protocol
	priority int
}

// NewProtocolAdapter wraps protocol with a tie-break priority (lower
// value tried/preferred first on equal output).
func NewProtocolAdapter(protocol pkg.Protocol, priority int) *ProtocolAdapter {
	return &ProtocolAdapter{protocol: protocol, priority: priority}
}

func (a *ProtocolAdapter) Name() string   { return string(a.protocol.ProtocolName()) }
func (a *ProtocolAdapter) Priority() int  { return a.priority }

// CanQuote reports whether this protocol has any pool for the pair at
// all; a genuine "no route" is distinguished from a transient fetch error
// by treating any fetch error here as "cannot quote" rather than propagating.
func (a *ProtocolAdapter) CanQuote(ctx context.Context, inputMint, outputMint string) bool {
	pools, err := a.protocol.FetchPoolsByPair(ctx, inputMint, outputMint)
	return err == nil && len(pools) > 0
}

// Quote fetches every pool this protocol has for the pair and returns the
// single best one by actual output, fixing the teacher's
// `pkg/router/simple_router.go` bug where `GetBestPool` compared
// `result.pool.GetID()` against a hardcoded pool address instead of
// comparing `result.outAmount` against a running maximum.
func (a *ProtocolAdapter) Quote(ctx context.Context, solClient *sol.Client, req SwapRequest) (Quote, error) {
	pools, err := a.protocol.FetchPoolsByPair(ctx, req.InputMint, req.OutputMint)
	if err != nil {
		return Quote{}, fmt.Errorf("router: %s: fetch pools: %w", a.Name(), err)
	}
	if len(pools) == 0 {
		return Quote{}, fmt.Errorf("router: %s: no pools for pair", a.Name())
	}

	type result struct {
		pool pkg.Pool
		out  math.Int
		err  error
	}
	results := make(chan result, len(pools))
	for _, p := range pools {
		p := p
		go func() {
			out, err := p.Quote(ctx, solClient, req.InputMint, req.AmountIn)
			results <- result{pool: p, out: out, err: err}
		}()
	}

	var best pkg.Pool
	maxOut := math.ZeroInt()
	for range pools {
		r := <-results
		if r.err != nil {
			continue
		}
		if best == nil || r.out.GT(maxOut) {
			best = r.pool
			maxOut = r.out
		}
	}
	if best == nil {
		return Quote{}, fmt.Errorf("router: %s: no pool quoted successfully", a.Name())
	}

	minOut := applySlippage(maxOut, req.SlippageBps)
	return Quote{Adapter: a, Pool: best, OutAmount: maxOut, MinOut: minOut}, nil
}

// Execute builds, signs and broadcasts the swap instructions for quote,
// using the teacher's `sol.Client.SignTransaction`/`SendTx` path.
func (a *ProtocolAdapter) Execute(ctx context.Context, solClient *sol.Client, signer solana.PrivateKey, quote Quote, req SwapRequest) (solana.Signature, error) {
	userBaseAccount, userQuoteAccount := req.UserOutputAccount, req.UserInputAccount
	if baseMint, _ := quote.Pool.GetTokens(); baseMint == req.InputMint {
		userBaseAccount, userQuoteAccount = req.UserInputAccount, req.UserOutputAccount
	}
	instrs, err := quote.Pool.BuildSwapInstructions(ctx, solClient, req.User, req.InputMint, req.AmountIn, quote.MinOut, userBaseAccount, userQuoteAccount)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("router: %s: build swap instructions: %w", a.Name(), err)
	}
	tx, err := solClient.SignTransaction(ctx, []solana.PrivateKey{signer}, instrs...)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("router: %s: sign transaction: %w", a.Name(), err)
	}
	sig, err := solClient.SendTx(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("router: %s: send transaction: %w", a.Name(), err)
	}
	return sig, nil
}

// applySlippage derives the minimum acceptable output for a quoted
// amount given a basis-point tolerance.
func applySlippage(out math.Int, slippageBps int) math.Int {
	if slippageBps <= 0 {
		return out
	}
	if slippageBps >= 10_000 {
		return math.ZeroInt()
	}
	num := math.NewInt(10_000 - int64(slippageBps))
	return out.Mul(num).Quo(math.NewInt(10_000))
}
