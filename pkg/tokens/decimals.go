package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/aerogrind/solcore/pkg/sol"
	"github.com/aerogrind/solcore/pkg/store"
)

// mintAccountDecimalsOffset is the byte offset of the decimals field in
// the standard SPL Token Mint account layout: mintAuthorityOption(4) +
// mintAuthority(32) + supply(8) = 44.
const mintAccountDecimalsOffset = 44

// Decimals resolves a mint's decimals through the lookup chain spec §4.2
// names: in-memory cache -> local DB -> on-chain mint account. Once
// resolved on-chain, the result is cached permanently in both tiers.
func Decimals(ctx context.Context, tokenStore *Store, db *store.Store, client *sol.Client, mint string) (int, error) {
	if m, ok := tokenStore.GetMint(mint); ok && m.HasDecimals() {
		return m.Decimals, nil
	}

	if db != nil {
		if d, ok, err := db.GetDecimals(mint); err == nil && ok {
			tokenStore.SetDecimals(mint, d, time.Now())
			return d, nil
		}
	}

	pubkey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("tokens: decimals: invalid mint %s: %w", mint, err)
	}
	acct, err := client.GetAccountInfoWithOpts(ctx, pubkey)
	if err != nil {
		return 0, fmt.Errorf("tokens: decimals: fetch mint account %s: %w", mint, err)
	}
	if acct == nil || acct.Value == nil {
		return 0, fmt.Errorf("tokens: decimals: mint account %s not found", mint)
	}
	data := acct.Value.Data.GetBinary()
	if len(data) <= mintAccountDecimalsOffset {
		return 0, fmt.Errorf("tokens: decimals: mint account %s too short for SPL Mint layout", mint)
	}
	decimals := int(data[mintAccountDecimalsOffset])

	tokenStore.SetDecimals(mint, decimals, time.Now())
	return decimals, nil
}
