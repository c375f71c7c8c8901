package transactions

import (
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/aerogrind/solcore/pkg/pooltypes"
)

func TestClassifyBuyHighConfidenceWithKnownProgram(t *testing.T) {
	wallet := solana.PublicKeyFromBytes(make([]byte, 32))
	flows := []BalanceFlow{
		{Mint: "", PreRaw: big.NewInt(2_000_000_000), PostRaw: big.NewInt(1_000_000_000), Decimals: 9},
		{Mint: "tokenMint", PreRaw: big.NewInt(0), PostRaw: big.NewInt(5000), Decimals: 6},
	}
	var a Analyzed
	classifyResult(&a, flows, wallet, pooltypes.ProgramRaydiumCpmm)

	require.Equal(t, KindBuy, a.Kind)
	require.Equal(t, pooltypes.ConfidenceHigh, a.Confidence)
	require.Equal(t, "tokenMint", a.Mint)
}

func TestClassifySellMediumConfidenceWithoutKnownProgram(t *testing.T) {
	wallet := solana.PublicKeyFromBytes(make([]byte, 32))
	flows := []BalanceFlow{
		{Mint: "", PreRaw: big.NewInt(1_000_000_000), PostRaw: big.NewInt(1_500_000_000), Decimals: 9},
		{Mint: "tokenMint", PreRaw: big.NewInt(5000), PostRaw: big.NewInt(0), Decimals: 6},
	}
	var a Analyzed
	classifyResult(&a, flows, wallet, "")

	require.Equal(t, KindSell, a.Kind)
	require.Equal(t, pooltypes.ConfidenceMedium, a.Confidence)
}

func TestClassifyAtaRentOnlyMovement(t *testing.T) {
	wallet := solana.PublicKeyFromBytes(make([]byte, 32))
	flows := []BalanceFlow{
		{Mint: "", PreRaw: big.NewInt(1_000_000_000), PostRaw: big.NewInt(1_000_000_000 - 2_039_280 - 5000), Decimals: 9},
	}
	var a Analyzed
	a.FeeLamports = 5000
	classifyResult(&a, flows, wallet, "")

	require.Equal(t, KindAtaOp, a.Kind)
	require.Equal(t, int64(-2_039_280-5000), a.RentDeltaLamports)
	require.Equal(t, int64(0), a.TradingDeltaLamports, "rent flows must never leak into trading P&L")
}

func TestClassifyMultiTokenMovementIsUnknown(t *testing.T) {
	wallet := solana.PublicKeyFromBytes(make([]byte, 32))
	flows := []BalanceFlow{
		{Mint: "", PreRaw: big.NewInt(1_000_000_000), PostRaw: big.NewInt(900_000_000), Decimals: 9},
		{Mint: "mintA", PreRaw: big.NewInt(0), PostRaw: big.NewInt(100), Decimals: 6},
		{Mint: "mintB", PreRaw: big.NewInt(50), PostRaw: big.NewInt(0), Decimals: 6},
	}
	var a Analyzed
	classifyResult(&a, flows, wallet, "")

	require.Equal(t, KindUnknown, a.Kind)
	require.Equal(t, pooltypes.ConfidenceLow, a.Confidence)
}
