// Package pooldecoder turns raw account bytes plus pre-fetched vault
// balances into a pooltypes.DecodedPool. No decoder in this package ever
// makes an RPC call — callers (pkg/poolfetch) are responsible for
// supplying every vault balance the decode needs up front.
package pooldecoder

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"

	"github.com/aerogrind/solcore/pkg/coreerr"
	"github.com/aerogrind/solcore/pkg/pool/meteora"
	"github.com/aerogrind/solcore/pkg/pool/pump"
	"github.com/aerogrind/solcore/pkg/pool/raydium"
	"github.com/aerogrind/solcore/pkg/pooltypes"
)

// Decode dispatches account data to the decoder for the program that
// owns it and returns a pure DecodedPool. It never touches the network:
// vault balances must already be present in acct.VaultBalances, keyed by
// the vault's base58 address.
func Decode(acct pooltypes.AccountData) (*pooltypes.DecodedPool, error) {
	switch programKindOf(acct.Owner) {
	case pooltypes.ProgramRaydiumCpmm:
		return decodeRaydiumCpmm(acct)
	case pooltypes.ProgramRaydiumLegacyAmm:
		return decodeRaydiumAmm(acct)
	case pooltypes.ProgramRaydiumClmm:
		return decodeRaydiumClmm(acct)
	case pooltypes.ProgramMeteoraDlmm:
		return decodeMeteoraDlmm(acct)
	case pooltypes.ProgramPumpFunAmm:
		return decodePumpAmm(acct)
	default:
		return nil, fmt.Errorf("pooldecoder: program %s: %w", acct.Owner, coreerr.ErrUndecodable)
	}
}

// programKindOf classifies an account by its owning program id. A program
// id with no case below is undecodable, not an error (spec's pool entity
// model: an unrecognized program kind is a legitimate terminal state).
func programKindOf(owner solana.PublicKey) pooltypes.ProgramKind {
	switch owner {
	case raydium.RAYDIUM_CPMM_PROGRAM_ID:
		return pooltypes.ProgramRaydiumCpmm
	case raydium.RAYDIUM_AMM_PROGRAM_ID:
		return pooltypes.ProgramRaydiumLegacyAmm
	case raydium.RAYDIUM_CLMM_PROGRAM_ID:
		return pooltypes.ProgramRaydiumClmm
	case meteora.MeteoraProgramID:
		return pooltypes.ProgramMeteoraDlmm
	case pump.PumpSwapProgramID:
		return pooltypes.ProgramPumpFunAmm
	default:
		return pooltypes.ProgramKind(owner.String())
	}
}

// PeekVaults decodes just the pool account's address fields (base/quote
// mint and vault) without requiring any pre-fetched vault balance. Pool
// discovery sources that don't expose vault addresses directly (most
// third-party indexers report only the pool/pair address) use this to
// learn which two accounts to fetch before a real, balance-bearing
// Decode can run; it is still a pure function of the account bytes.
func PeekVaults(owner solana.PublicKey, data []byte) (baseVault, quoteVault solana.PublicKey, kind pooltypes.ProgramKind, ok bool) {
	acct := pooltypes.AccountData{Owner: owner, Data: data}
	kind = programKindOf(owner)
	switch kind {
	case pooltypes.ProgramRaydiumCpmm:
		pool := &raydium.CPMMPool{}
		if err := pool.Decode(acct.Data); err != nil {
			return solana.PublicKey{}, solana.PublicKey{}, kind, false
		}
		return pool.Token0Vault, pool.Token1Vault, kind, true
	case pooltypes.ProgramRaydiumLegacyAmm:
		pool := &raydium.AMMPool{}
		if err := pool.Decode(acct.Data); err != nil {
			return solana.PublicKey{}, solana.PublicKey{}, kind, false
		}
		return pool.BaseVault, pool.QuoteVault, kind, true
	case pooltypes.ProgramRaydiumClmm:
		pool := &raydium.CLMMPool{}
		if err := pool.Decode(acct.Data); err != nil {
			return solana.PublicKey{}, solana.PublicKey{}, kind, false
		}
		return pool.TokenVault0, pool.TokenVault1, kind, true
	case pooltypes.ProgramMeteoraDlmm:
		pool := &meteora.MeteoraDlmmPool{}
		if err := pool.Decode(acct.Data); err != nil {
			return solana.PublicKey{}, solana.PublicKey{}, kind, false
		}
		return pool.ReserveX, pool.ReserveY, kind, true
	case pooltypes.ProgramPumpFunAmm:
		pool := &pump.PumpAMMPool{}
		if err := pool.Decode(acct.Data); err != nil {
			return solana.PublicKey{}, solana.PublicKey{}, kind, false
		}
		return pool.PoolBaseTokenAccount, pool.PoolQuoteTokenAccount, kind, true
	default:
		return solana.PublicKey{}, solana.PublicKey{}, kind, false
	}
}

func vaultBalance(acct pooltypes.AccountData, vault solana.PublicKey) (uint64, error) {
	bal, ok := acct.VaultBalances[vault.String()]
	if !ok {
		return 0, fmt.Errorf("pooldecoder: missing pre-fetched balance for vault %s: %w", vault, coreerr.ErrUndecodable)
	}
	return bal, nil
}

func decodeRaydiumCpmm(acct pooltypes.AccountData) (*pooltypes.DecodedPool, error) {
	pool := &raydium.CPMMPool{}
	if err := pool.Decode(acct.Data); err != nil {
		return nil, fmt.Errorf("pooldecoder: decode raydium cpmm %s: %w", acct.PoolAddress, coreerr.ErrUndecodable)
	}
	base, err := vaultBalance(acct, pool.Token0Vault)
	if err != nil {
		return nil, err
	}
	quote, err := vaultBalance(acct, pool.Token1Vault)
	if err != nil {
		return nil, err
	}
	return &pooltypes.DecodedPool{
		PoolAddress:   acct.PoolAddress,
		ProgramKind:   pooltypes.ProgramRaydiumCpmm,
		BaseMint:      pool.Token0Mint,
		QuoteMint:     pool.Token1Mint,
		BaseVault:     pool.Token0Vault,
		QuoteVault:    pool.Token1Vault,
		ReserveBase:   math.NewIntFromUint64(base),
		ReserveQuote:  math.NewIntFromUint64(quote),
		BaseDecimals:  pool.Mint0Decimals,
		QuoteDecimals: pool.Mint1Decimals,
	}, nil
}

func decodeRaydiumAmm(acct pooltypes.AccountData) (*pooltypes.DecodedPool, error) {
	pool := &raydium.AMMPool{}
	if err := pool.Decode(acct.Data); err != nil {
		return nil, fmt.Errorf("pooldecoder: decode raydium amm %s: %w", acct.PoolAddress, coreerr.ErrUndecodable)
	}
	base, err := vaultBalance(acct, pool.BaseVault)
	if err != nil {
		return nil, err
	}
	quote, err := vaultBalance(acct, pool.QuoteVault)
	if err != nil {
		return nil, err
	}
	return &pooltypes.DecodedPool{
		PoolAddress:   acct.PoolAddress,
		ProgramKind:   pooltypes.ProgramRaydiumLegacyAmm,
		BaseMint:      pool.BaseMint,
		QuoteMint:     pool.QuoteMint,
		BaseVault:     pool.BaseVault,
		QuoteVault:    pool.QuoteVault,
		ReserveBase:   math.NewIntFromUint64(base),
		ReserveQuote:  math.NewIntFromUint64(quote),
		BaseDecimals:  uint8(pool.BaseDecimal),
		QuoteDecimals: uint8(pool.QuoteDecimal),
	}, nil
}

func decodeRaydiumClmm(acct pooltypes.AccountData) (*pooltypes.DecodedPool, error) {
	pool := &raydium.CLMMPool{}
	if err := pool.Decode(acct.Data); err != nil {
		return nil, fmt.Errorf("pooldecoder: decode raydium clmm %s: %w", acct.PoolAddress, coreerr.ErrUndecodable)
	}
	base, err := vaultBalance(acct, pool.TokenVault0)
	if err != nil {
		return nil, err
	}
	quote, err := vaultBalance(acct, pool.TokenVault1)
	if err != nil {
		return nil, err
	}
	return &pooltypes.DecodedPool{
		PoolAddress:   acct.PoolAddress,
		ProgramKind:   pooltypes.ProgramRaydiumClmm,
		BaseMint:      pool.TokenMint0,
		QuoteMint:     pool.TokenMint1,
		BaseVault:     pool.TokenVault0,
		QuoteVault:    pool.TokenVault1,
		ReserveBase:   math.NewIntFromUint64(base),
		ReserveQuote:  math.NewIntFromUint64(quote),
		BaseDecimals:  pool.MintDecimals0,
		QuoteDecimals: pool.MintDecimals1,
	}, nil
}

func decodeMeteoraDlmm(acct pooltypes.AccountData) (*pooltypes.DecodedPool, error) {
	pool := &meteora.MeteoraDlmmPool{}
	if err := pool.Decode(acct.Data); err != nil {
		return nil, fmt.Errorf("pooldecoder: decode meteora dlmm %s: %w", acct.PoolAddress, coreerr.ErrUndecodable)
	}
	base, err := vaultBalance(acct, pool.ReserveX)
	if err != nil {
		return nil, err
	}
	quote, err := vaultBalance(acct, pool.ReserveY)
	if err != nil {
		return nil, err
	}
	// DLMM pools don't carry mint decimals in this account layout; the
	// fetcher fills them in from the tokens pipeline's mint cache.
	return &pooltypes.DecodedPool{
		PoolAddress:  acct.PoolAddress,
		ProgramKind:  pooltypes.ProgramMeteoraDlmm,
		BaseMint:     pool.TokenXMint,
		QuoteMint:    pool.TokenYMint,
		BaseVault:    pool.ReserveX,
		QuoteVault:   pool.ReserveY,
		ReserveBase:  math.NewIntFromUint64(base),
		ReserveQuote: math.NewIntFromUint64(quote),
	}, nil
}

func decodePumpAmm(acct pooltypes.AccountData) (*pooltypes.DecodedPool, error) {
	pool := &pump.PumpAMMPool{}
	if err := pool.Decode(acct.Data); err != nil {
		return nil, fmt.Errorf("pooldecoder: decode pump amm %s: %w", acct.PoolAddress, coreerr.ErrUndecodable)
	}
	base, err := vaultBalance(acct, pool.PoolBaseTokenAccount)
	if err != nil {
		return nil, err
	}
	quote, err := vaultBalance(acct, pool.PoolQuoteTokenAccount)
	if err != nil {
		return nil, err
	}
	return &pooltypes.DecodedPool{
		PoolAddress:  acct.PoolAddress,
		ProgramKind:  pooltypes.ProgramPumpFunAmm,
		BaseMint:     pool.BaseMint,
		QuoteMint:    pool.QuoteMint,
		BaseVault:    pool.PoolBaseTokenAccount,
		QuoteVault:   pool.PoolQuoteTokenAccount,
		ReserveBase:  math.NewIntFromUint64(base),
		ReserveQuote: math.NewIntFromUint64(quote),
	}, nil
}
