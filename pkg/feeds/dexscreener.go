// DexScreener is the concrete external pool/market-data API spec §4.2's
// discovery/monitor and §4.4.1's pool discovery describe in the abstract:
// one advisory HTTP source, rate-limited independently of every other
// source, whose responses are never trusted for a position transition
// (spec §6) — only for candidate discovery and display-grade snapshots.
//
// Grounded on other_examples' shlinkLFO-dexscreener-tradebot, which hits
// the same public search/pairs endpoints and unmarshals the same
// Pairs/Liquidity/Volume/Txns response shape; this package turns that
// one-shot script into three small adapters the tokens and pool
// pipelines can depend on through their own interfaces.
package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aerogrind/solcore/pkg/pooldiscovery"
	"github.com/aerogrind/solcore/pkg/pooltypes"
	"github.com/aerogrind/solcore/pkg/tokens"
)

const dexScreenerTokensAPI = "https://api.dexscreener.com/latest/dex/tokens/"

// dexScreenerPair mirrors the subset of DexScreener's pair response this
// package reads; field names match the upstream JSON exactly.
type dexScreenerPair struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	QuoteToken struct {
		Address string `json:"address"`
	} `json:"quoteToken"`
	PriceNative string `json:"priceNative"`
	PriceUsd    string `json:"priceUsd"`
	Volume      struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	Liquidity struct {
		Usd   float64 `json:"usd"`
		Base  float64 `json:"base"`
		Quote float64 `json:"quote"`
	} `json:"liquidity"`
	PairCreatedAt int64 `json:"pairCreatedAt"`
}

type dexScreenerResponse struct {
	Pairs []dexScreenerPair `json:"pairs"`
}

// DexScreenerClient owns the single HTTP client and base URL every
// DexScreener-backed adapter shares.
type DexScreenerClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

func NewDexScreenerClient(logger *zap.Logger) *DexScreenerClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DexScreenerClient{
		httpClient: &http.Client{Timeout: 8 * time.Second},
		baseURL:    dexScreenerTokensAPI,
		logger:     logger,
	}
}

func (c *DexScreenerClient) pairsForMint(ctx context.Context, mint string) ([]dexScreenerPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+mint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dexscreener: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dexscreener: status %d", resp.StatusCode)
	}
	var parsed dexScreenerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("dexscreener: decode: %w", err)
	}
	var solanaPairs []dexScreenerPair
	for _, p := range parsed.Pairs {
		if p.ChainID == "solana" {
			solanaPairs = append(solanaPairs, p)
		}
	}
	return solanaPairs, nil
}

// DexScreenerDiscoverySource implements tokens.Source by walking the
// recently-created pairs DexScreener already returns for a watched set of
// seed mints (e.g. WSOL), attributing every new base token it sees.
type DexScreenerDiscoverySource struct {
	client    *DexScreenerClient
	seedMints []string
}

func NewDexScreenerDiscoverySource(client *DexScreenerClient, seedMints ...string) *DexScreenerDiscoverySource {
	return &DexScreenerDiscoverySource{client: client, seedMints: seedMints}
}

func (s *DexScreenerDiscoverySource) Name() string { return "dexscreener" }

func (s *DexScreenerDiscoverySource) Discover(ctx context.Context) ([]tokens.Candidate, error) {
	var out []tokens.Candidate
	seen := make(map[string]bool)
	for _, seed := range s.seedMints {
		pairs, err := s.client.pairsForMint(ctx, seed)
		if err != nil {
			s.client.logger.Warn("dexscreener discovery failed for seed", zap.String("seed", seed), zap.Error(err))
			continue
		}
		for _, p := range pairs {
			if p.BaseToken.Address == "" || seen[p.BaseToken.Address] {
				continue
			}
			seen[p.BaseToken.Address] = true
			out = append(out, tokens.Candidate{Mint: p.BaseToken.Address, Symbol: p.BaseToken.Symbol, Name: p.BaseToken.Name})
		}
	}
	return out, nil
}

// DexScreenerMonitorFetcher implements tokens.MarketDataFetcher, giving
// the monitor a per-mint market snapshot (price, volume, liquidity) to
// fuse into TokenSnapshot ahead of any on-chain price the pool pipeline
// later computes.
type DexScreenerMonitorFetcher struct {
	client *DexScreenerClient
}

func NewDexScreenerMonitorFetcher(client *DexScreenerClient) *DexScreenerMonitorFetcher {
	return &DexScreenerMonitorFetcher{client: client}
}

func (f *DexScreenerMonitorFetcher) Name() string { return "dexscreener" }

func (f *DexScreenerMonitorFetcher) FetchSnapshot(ctx context.Context, mint string) (tokens.SourcePrice, error) {
	pairs, err := f.client.pairsForMint(ctx, mint)
	if err != nil {
		return tokens.SourcePrice{}, err
	}
	best, ok := bestLiquidityPair(pairs)
	if !ok {
		return tokens.SourcePrice{}, fmt.Errorf("dexscreener: no pairs for mint %s", mint)
	}
	priceSOL := parseFloatOr(best.PriceNative, 0)
	priceUSD := parseFloatOr(best.PriceUsd, 0)
	return tokens.SourcePrice{
		PriceSOL:     priceSOL,
		PriceUSD:     priceUSD,
		Volume24h:    best.Volume.H24,
		LiquidityUSD: best.Liquidity.Usd,
		LiquiditySOL: best.Liquidity.Base,
		At:           time.Now(),
	}, nil
}

func bestLiquidityPair(pairs []dexScreenerPair) (dexScreenerPair, bool) {
	var best dexScreenerPair
	found := false
	for _, p := range pairs {
		if !found || p.Liquidity.Usd > best.Liquidity.Usd {
			best, found = p, true
		}
	}
	return best, found
}

func parseFloatOr(s string, fallback float64) float64 {
	var v float64
	if _, err := fmt.Sscanf(s, "%g", &v); err != nil {
		return fallback
	}
	return v
}

// DexScreenerPoolSource implements pooldiscovery.Source, translating a
// mint's pairs into candidate pools keyed by program (DexScreener's
// "dexId" field maps onto our ProgramKind namespace for the families we
// decode; unrecognized dexIds still round-trip as an opaque ProgramKind
// so the decoder can report them undecodable rather than dropping them
// from the candidate set).
type DexScreenerPoolSource struct {
	client *DexScreenerClient
}

func NewDexScreenerPoolSource(client *DexScreenerClient) *DexScreenerPoolSource {
	return &DexScreenerPoolSource{client: client}
}

func (s *DexScreenerPoolSource) Name() string { return "dexscreener" }

func (s *DexScreenerPoolSource) DiscoverPools(ctx context.Context, mint string) ([]pooldiscovery.CandidatePool, error) {
	pairs, err := s.client.pairsForMint(ctx, mint)
	if err != nil {
		return nil, err
	}
	out := make([]pooldiscovery.CandidatePool, 0, len(pairs))
	for _, p := range pairs {
		if p.PairAddress == "" {
			continue
		}
		out = append(out, pooldiscovery.CandidatePool{
			PoolAddress: p.PairAddress,
			ProgramKind: dexIDToProgramKind(p.DexID),
			QuoteMint:   p.QuoteToken.Address,
		})
	}
	return out, nil
}

// dexIDToProgramKind maps DexScreener's free-text dexId onto our
// ProgramKind enum for the families the pool pipeline can actually
// decode; everything else passes through as its own opaque kind so
// pooldecoder.Decode correctly reports it undecodable instead of the
// discovery layer silently dropping a real candidate.
func dexIDToProgramKind(dexID string) pooltypes.ProgramKind {
	switch dexID {
	case "raydium":
		return pooltypes.ProgramRaydiumLegacyAmm
	case "raydium-clmm":
		return pooltypes.ProgramRaydiumClmm
	case "raydium-cpmm":
		return pooltypes.ProgramRaydiumCpmm
	case "meteora":
		return pooltypes.ProgramMeteoraDlmm
	case "pumpswap", "pumpfun":
		return pooltypes.ProgramPumpFunAmm
	case "orca":
		return pooltypes.ProgramOrcaWhirlpool
	default:
		return pooltypes.ProgramKind(dexID)
	}
}
