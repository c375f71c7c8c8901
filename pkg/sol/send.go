package sol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

func (c *Client) SendTx(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	// Send transaction with optimized options
	sig, err := c.SendTransactionWithOpts(
		ctx, tx,
		rpc.TransactionOpts{
			SkipPreflight:       true,
			PreflightCommitment: rpc.CommitmentProcessed,
		},
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// SendTxWithJito submits mainTx alongside a tip transaction as a two-leg
// Jito bundle. Every failure is returned to the caller rather than killing
// the process — the router falls back to a direct SendTx on any of these.
func (c *Client) SendTxWithJito(ctx context.Context, jitoTipAmount uint64, signers []solana.PrivateKey, mainTx *solana.Transaction) (string, error) {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if c.jitoClient == nil {
		return "", fmt.Errorf("jito client not configured")
	}

	res, err := c.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to get blockhash for jito tip tx: %w", err)
	}

	tipTx, err := createTipTransaction(signers[0], jitoTipAmount, res.Value.Blockhash, c.jitoClient.tipAccount.String())
	if err != nil {
		return "", fmt.Errorf("failed to create jito tip transaction: %w", err)
	}

	bundleRequest := [][]string{{
		encodeTransaction(mainTx),
		encodeTransaction(tipTx),
	}}

	bundleIdRaw, err := c.jitoClient.rpcClient.SendBundle(bundleRequest)
	if err != nil {
		return "", fmt.Errorf("failed to send jito bundle: %w", err)
	}
	var bundleId string
	if err := json.Unmarshal(bundleIdRaw, &bundleId); err != nil {
		return "", fmt.Errorf("failed to unmarshal jito bundle id: %w", err)
	}

	logger.Info("jito bundle sent", zap.String("bundle_id", bundleId))
	if status, err := c.jitoClient.CheckBundleStatus(ctx, bundleId); err != nil {
		logger.Warn("jito bundle did not finalize cleanly",
			zap.String("bundle_id", bundleId), zap.String("last_status", status), zap.Error(err))
	} else {
		logger.Info("jito bundle finalized", zap.String("bundle_id", bundleId))
	}

	return bundleId, nil
}
