package sol

import (
	"context"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// SelectOrCreateSPLTokenAccount returns the caller's associated token
// account for tokenMint, creating it on-chain if it doesn't exist yet.
func (t *Client) SelectOrCreateSPLTokenAccount(ctx context.Context, privateKey solana.PrivateKey, tokenMint solana.PublicKey) (solana.PublicKey, error) {
	logger := t.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	user := privateKey.PublicKey()
	acc, err := t.GetTokenAccountsByOwner(ctx, user,
		&rpc.GetTokenAccountsConfig{Mint: tokenMint.ToPointer()},
		&rpc.GetTokenAccountsOpts{
			Encoding: "jsonParsed",
		},
	)
	if err != nil {
		logger.Warn("get token accounts by owner failed", zap.Stringer("mint", tokenMint), zap.Error(err))
		return solana.PublicKey{}, err
	}
	if len(acc.Value) > 0 {
		return acc.Value[0].Pubkey, nil
	}

	// Find ATA address (this will always return a valid PDA)
	ataAddress, _, err := solana.FindAssociatedTokenAddress(user, tokenMint)
	if err != nil {
		logger.Warn("find associated token address failed", zap.Stringer("mint", tokenMint), zap.Error(err))
		return solana.PublicKey{}, err
	}

	createAtaInst, err := associatedtokenaccount.NewCreateInstruction(
		user,
		user,
		tokenMint,
	).ValidateAndBuild()
	if err != nil {
		return solana.PublicKey{}, err
	}

	signers := []solana.PrivateKey{privateKey}
	tx, err := t.SignTransaction(ctx, signers, createAtaInst)
	if err != nil {
		logger.Warn("failed to sign create-ata transaction", zap.Stringer("mint", tokenMint), zap.Error(err))
		return solana.PublicKey{}, err
	}
	if _, err := t.SendTx(ctx, tx); err != nil {
		logger.Warn("failed to send create-ata transaction", zap.Stringer("mint", tokenMint), zap.Error(err))
		return solana.PublicKey{}, err
	}
	return ataAddress, nil
}
