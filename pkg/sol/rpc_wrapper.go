package sol

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPC wrapper methods. Each one is routed through the provider pool, which
// picks an endpoint, waits on that endpoint's own token bucket, and retries
// transient failures against the pool per the shared back-off policy.

// GetAccountInfoWithOpts wraps getAccountInfo. Confirmed is the default
// commitment for reads; spec §6 reserves "processed" from ever driving a
// position transition, so nothing in this package requests it.
func (c *Client) GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	opts := &rpc.GetAccountInfoOpts{Commitment: rpc.CommitmentConfirmed}
	return call(ctx, c.pool, func(ctx context.Context, p *Provider) (*rpc.GetAccountInfoResult, error) {
		return p.rpcClient.GetAccountInfoWithOpts(ctx, account, opts)
	})
}

// GetMultipleAccountsWithOpts wraps getMultipleAccounts, the fetcher's
// primary RPC call; callers are responsible for capping batch size at 50.
func (c *Client) GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
	opts := &rpc.GetMultipleAccountsOpts{Commitment: rpc.CommitmentConfirmed}
	return call(ctx, c.pool, func(ctx context.Context, p *Provider) (*rpc.GetMultipleAccountsResult, error) {
		return p.rpcClient.GetMultipleAccountsWithOpts(ctx, accounts, opts)
	})
}

// GetProgramAccountsWithOpts wraps getProgramAccounts for pool discovery.
func (c *Client) GetProgramAccountsWithOpts(ctx context.Context, programID solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	return call(ctx, c.pool, func(ctx context.Context, p *Provider) (rpc.GetProgramAccountsResult, error) {
		return p.rpcClient.GetProgramAccountsWithOpts(ctx, programID, opts)
	})
}

// GetTokenAccountsByOwner wraps getTokenAccountsByOwner.
func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, config *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error) {
	return call(ctx, c.pool, func(ctx context.Context, p *Provider) (*rpc.GetTokenAccountsResult, error) {
		return p.rpcClient.GetTokenAccountsByOwner(ctx, owner, config, opts)
	})
}

// GetTokenAccountBalance wraps getTokenAccountBalance.
func (c *Client) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	return call(ctx, c.pool, func(ctx context.Context, p *Provider) (*rpc.GetTokenAccountBalanceResult, error) {
		return p.rpcClient.GetTokenAccountBalance(ctx, account, commitment)
	})
}

// GetBalance wraps getBalance.
func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return call(ctx, c.pool, func(ctx context.Context, p *Provider) (*rpc.GetBalanceResult, error) {
		return p.rpcClient.GetBalance(ctx, account, commitment)
	})
}

// GetLatestBlockhash wraps getLatestBlockhash.
func (c *Client) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return call(ctx, c.pool, func(ctx context.Context, p *Provider) (*rpc.GetLatestBlockhashResult, error) {
		return p.rpcClient.GetLatestBlockhash(ctx, commitment)
	})
}

// SimulateTransaction wraps simulateTransaction.
func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResponse, error) {
	return call(ctx, c.pool, func(ctx context.Context, p *Provider) (*rpc.SimulateTransactionResponse, error) {
		return p.rpcClient.SimulateTransaction(ctx, tx)
	})
}

// SendTransactionWithOpts wraps sendTransaction. Send failures are
// surfaced directly to the caller per §7; the router is responsible for
// advancing to the next adapter on failure, not this wrapper.
func (c *Client) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	return call(ctx, c.pool, func(ctx context.Context, p *Provider) (solana.Signature, error) {
		return p.rpcClient.SendTransactionWithOpts(ctx, tx, opts)
	})
}

// GetSignaturesForAddressWithOpts wraps getSignaturesForAddress, the
// reconciler's polling primitive.
func (c *Client) GetSignaturesForAddressWithOpts(ctx context.Context, addr solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	return call(ctx, c.pool, func(ctx context.Context, p *Provider) ([]*rpc.TransactionSignature, error) {
		return p.rpcClient.GetSignaturesForAddressWithOpts(ctx, addr, opts)
	})
}

// GetTransaction wraps getTransaction, fetched once per signature and
// cached by the reconciler.
func (c *Client) GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	return call(ctx, c.pool, func(ctx context.Context, p *Provider) (*rpc.GetTransactionResult, error) {
		return p.rpcClient.GetTransaction(ctx, sig, opts)
	})
}
