package sol

import (
	"context"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// CoverWsol wraps amount lamports of native SOL into the caller's WSOL
// associated token account, creating the account first if needed.
func (t *Client) CoverWsol(ctx context.Context, privateKey solana.PrivateKey, amount int64) error {
	logger := t.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	signers := []solana.PrivateKey{privateKey}
	allInstrs := make([]solana.Instruction, 0)
	user := privateKey.PublicKey()

	acc, err := t.GetTokenAccountsByOwner(ctx, user,
		&rpc.GetTokenAccountsConfig{Mint: WSOL.ToPointer()},
		&rpc.GetTokenAccountsOpts{
			Encoding: "jsonParsed",
		},
	)
	if err != nil {
		logger.Warn("get wsol token accounts failed", zap.Error(err))
		return err
	}
	if len(acc.Value) == 0 {
		createAtaInst, err := associatedtokenaccount.NewCreateInstruction(
			user,
			user,
			WSOL,
		).ValidateAndBuild()
		if err != nil {
			return err
		}
		allInstrs = append(allInstrs, createAtaInst)
	}

	wsolAccount, _, err := solana.FindAssociatedTokenAddress(user, WSOL)
	if err != nil {
		logger.Warn("find wsol associated token address failed", zap.Error(err))
		return err
	}

	transferInst, err := system.NewTransferInstruction(
		uint64(amount),
		user,
		wsolAccount,
	).ValidateAndBuild()
	if err != nil {
		logger.Warn("build wsol transfer instruction failed", zap.Error(err))
		return err
	}
	allInstrs = append(allInstrs, transferInst)

	// SyncNative makes the wrapped balance reflect the lamports just transferred.
	syncNativeInst, err := token.NewSyncNativeInstruction(
		wsolAccount,
	).ValidateAndBuild()
	if err != nil {
		return err
	}
	allInstrs = append(allInstrs, syncNativeInst)

	tx, err := t.SignTransaction(ctx, signers, allInstrs...)
	if err != nil {
		logger.Warn("failed to sign cover-wsol transaction", zap.Error(err))
		return err
	}
	if _, err := t.SendTx(ctx, tx); err != nil {
		logger.Warn("failed to send cover-wsol transaction", zap.Error(err))
		return err
	}
	return nil
}

// CloseWsol closes the caller's WSOL associated token account, returning
// any remaining wrapped lamports to the owner as native SOL.
func (t *Client) CloseWsol(ctx context.Context, privateKey solana.PrivateKey) error {
	logger := t.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	signers := []solana.PrivateKey{privateKey}
	user := privateKey.PublicKey()

	wsolAccount, _, err := solana.FindAssociatedTokenAddress(user, WSOL)
	if err != nil {
		logger.Warn("find wsol associated token address failed", zap.Error(err))
		return err
	}
	closeInst, err := token.NewCloseAccountInstruction(
		wsolAccount,
		user,
		user,
		[]solana.PublicKey{},
	).ValidateAndBuild()
	if err != nil {
		logger.Warn("build close-wsol instruction failed", zap.Error(err))
		return err
	}

	tx, err := t.SignTransaction(ctx, signers, closeInst)
	if err != nil {
		logger.Warn("failed to sign close-wsol transaction", zap.Error(err))
		return err
	}
	if _, err := t.SendTx(ctx, tx); err != nil {
		logger.Warn("failed to send close-wsol transaction", zap.Error(err))
		return err
	}
	return nil
}
