package sol

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	jitorpc "github.com/jito-labs/jito-go-rpc"
)

type JitoClient struct {
	rpcClient  *jitorpc.JitoJsonRpcClient
	tipAccount solana.PublicKey
}

// NewJitoClient builds a client against a Jito block-engine endpoint; see
// https://docs.jito.wtf/lowlatencytxnsend/ for bundle semantics.
func NewJitoClient(ctx context.Context, endpoint string) (*JitoClient, error) {
	rpcClient := jitorpc.NewJitoJsonRpcClient(endpoint, "")
	tipAccount, err := rpcClient.GetRandomTipAccount()
	if err != nil {
		return nil, fmt.Errorf("failed to get random tip account: %w", err)
	}
	tipAccountPublicKey, err := solana.PublicKeyFromBase58(tipAccount.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tip account address: %w", err)
	}
	return &JitoClient{
		rpcClient:  rpcClient,
		tipAccount: tipAccountPublicKey,
	}, nil
}

func createTipTransaction(privateKey solana.PrivateKey, amount uint64, recentBlockhash solana.Hash, tipAddress string) (*solana.Transaction, error) {
	tipAccount, err := solana.PublicKeyFromBase58(tipAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tip account: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(
				amount,
				privateKey.PublicKey(),
				tipAccount,
			).Build(),
		},
		recentBlockhash,
		solana.TransactionPayer(privateKey.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tip transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if privateKey.PublicKey().Equals(key) {
			return &privateKey
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign tip transaction: %w", err)
	}

	return tx, nil
}

func encodeTransaction(tx *solana.Transaction) string {
	serializedTx, err := tx.MarshalBinary()
	if err != nil {
		// Only reachable for an already-signed, well-formed transaction;
		// a marshal failure here means the transaction was built wrong.
		panic(fmt.Sprintf("marshal signed transaction: %v", err))
	}
	return base64.StdEncoding.EncodeToString(serializedTx)
}

// CheckBundleStatus polls a submitted bundle until it reaches a terminal
// status (finalized, a definitive error, or an unexpected status) or ctx
// is done. It returns the last observed confirmation status string.
func (c *JitoClient) CheckBundleStatus(ctx context.Context, bundleId string) (string, error) {
	const maxAttempts = 5
	const pollInterval = 5 * time.Second

	var lastStatus string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return lastStatus, ctx.Err()
		case <-time.After(pollInterval):
		}

		statusResponse, err := c.rpcClient.GetBundleStatuses([]string{bundleId})
		if err != nil {
			lastStatus = fmt.Sprintf("poll error: %v", err)
			continue
		}
		if len(statusResponse.Value) == 0 {
			lastStatus = "unknown"
			continue
		}

		bundleStatus := statusResponse.Value[0]
		lastStatus = bundleStatus.ConfirmationStatus

		switch bundleStatus.ConfirmationStatus {
		case "processed", "confirmed":
			continue
		case "finalized":
			if bundleStatus.Err.Ok != nil {
				return lastStatus, fmt.Errorf("bundle %s finalized with error: %v", bundleId, bundleStatus.Err.Ok)
			}
			return lastStatus, nil
		default:
			return lastStatus, fmt.Errorf("bundle %s in unexpected status %q", bundleId, bundleStatus.ConfirmationStatus)
		}
	}

	return lastStatus, fmt.Errorf("bundle %s status still unresolved after %d attempts", bundleId, maxAttempts)
}
