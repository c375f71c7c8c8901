// Package config loads the single versioned Config record the core starts
// from and keeps it hot-swappable at runtime, broadcasting change
// notifications to the tokens pipeline's filtering and priority logic.
//
// The teacher hardcodes every knob as a package-level var in main.go; the
// pack's solana-token-lab server instead reads flag.String(..., os.Getenv(...))
// plus a .env loader, which is the shape this package follows.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"

	"github.com/aerogrind/solcore/pkg/coreerr"
)

// Cooldowns holds the per-P&L-bucket cooldown schedule (Resolved Open
// Question #1 in SPEC_FULL.md): win/breakeven, small loss, large loss, and
// the flat duration for a Failed reservation/position.
type Cooldowns struct {
	Win       time.Duration
	SmallLoss time.Duration
	LargeLoss time.Duration
	Failed    time.Duration
	// LargeLossBps is the realized-P&L threshold (in basis points, negative)
	// below which LargeLoss applies instead of SmallLoss.
	LargeLossBps int64
}

// DefaultCooldowns implements the schedule SPEC_FULL.md resolves:
// 30s (win/breakeven) / 2m (small loss) / 15m (large loss, < -2000bps) / 5m (failed).
func DefaultCooldowns() Cooldowns {
	return Cooldowns{
		Win:          30 * time.Second,
		SmallLoss:    2 * time.Minute,
		LargeLoss:    15 * time.Minute,
		Failed:       5 * time.Minute,
		LargeLossBps: -2000,
	}
}

// Filter mirrors §4.2's deterministic filtering predicate.
type Filter struct {
	MinAge          time.Duration
	MinLiquidityUSD float64
	MinLiquiditySOL float64
	MinVolume24hUSD float64
	RequireDecimals bool
	SecurityFloor   float64 // 0 disables the security-score consultation
}

// DefaultFilter is a conservative starting point; operators override via env/flags.
func DefaultFilter() Filter {
	return Filter{
		MinAge:          2 * time.Minute,
		MinLiquidityUSD: 1000,
		MinLiquiditySOL: 5,
		MinVolume24hUSD: 500,
		RequireDecimals: true,
		SecurityFloor:   0,
	}
}

// RPCEndpoint names one provider in pkg/sol's provider pool.
type RPCEndpoint struct {
	Name              string
	URL               string
	Priority          int
	RequestsPerSecond int
}

// Config is the single versioned record loaded at start and mutable at
// runtime behind an RWMutex (see Store below); a mutation triggers
// downstream refresh of filtering and priority per spec §6.
type Config struct {
	Wallet       solana.PrivateKey
	RPCEndpoints []RPCEndpoint
	JitoEndpoint string
	SelectStrategy string // "priority" | "round_robin" | "latency"

	DryRun bool

	Filter    Filter
	Cooldowns Cooldowns

	ReservationTimeout time.Duration
	MaxPrioritySetSize int

	DBPath string

	PoolDiscoveryInterval time.Duration
	PoolDiscoveryTTL      time.Duration
	AccountFetchBatchSize int
	AccountFetchInterval  time.Duration

	SignaturePollInterval time.Duration
	ConfirmWindow         time.Duration

	SolUSDFeedURL         string
	SolUSDFallbackBaseVault  string // WSOL vault of a SOL/stablecoin pool
	SolUSDFallbackQuoteVault string // stablecoin vault of the same pool
	SolUSDFallbackQuoteDecimals int
}

// Default returns a Config with every non-wallet field at a sane default;
// Load overlays flags/env on top of it.
func Default() *Config {
	return &Config{
		SelectStrategy:        "priority",
		Filter:                DefaultFilter(),
		Cooldowns:             DefaultCooldowns(),
		ReservationTimeout:    20 * time.Second,
		MaxPrioritySetSize:    500,
		DBPath:                "solcore.db",
		PoolDiscoveryInterval: 30 * time.Second,
		PoolDiscoveryTTL:      10 * time.Minute,
		AccountFetchBatchSize: 50,
		AccountFetchInterval:  5 * time.Second,
		SignaturePollInterval: 4 * time.Second,
		ConfirmWindow:         60 * time.Second,
		// A well-known mainnet Raydium SOL/USDC vault pair, used only when
		// the configured HTTP feed is unavailable.
		SolUSDFallbackBaseVault:     "DQyrAcCrDXQ7NeoqGgDCZwBvWDcYmFCjSb9JtteuvPpz",
		SolUSDFallbackQuoteVault:    "HLmqeL62xR1QoZ1HKKbXRrdN1p3phKpxRMb2VVopvBBz",
		SolUSDFallbackQuoteDecimals: 6,
	}
}

// Load builds a Config from a .env file (if present, via godotenv, loaded
// the way ChoSanghyuk-blackholedex's pipeline does for DSNs), environment
// variables and flags, in that precedence order (flags win).
func Load(args []string) (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	cfg := Default()

	fs := flag.NewFlagSet("solcore", flag.ContinueOnError)
	rpcURL := fs.String("rpc", os.Getenv("SOLCORE_RPC_URL"), "primary Solana RPC endpoint")
	jitoURL := fs.String("jito-rpc", os.Getenv("SOLCORE_JITO_URL"), "Jito block-engine endpoint (optional)")
	privKey := fs.String("wallet", os.Getenv("SOLCORE_WALLET_PRIVATE_KEY"), "base58 wallet private key")
	dryRun := fs.Bool("dry-run", os.Getenv("SOLCORE_DRY_RUN") == "true", "run without broadcasting swaps")
	dbPath := fs.String("db", envOr("SOLCORE_DB_PATH", cfg.DBPath), "path to the SQLite database file")
	maxPriority := fs.Int("max-priority-set", envIntOr("SOLCORE_MAX_PRIORITY_SET", cfg.MaxPrioritySetSize), "maximum tracked-mint priority set size")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	if *rpcURL == "" {
		return nil, fmt.Errorf("%w: --rpc or SOLCORE_RPC_URL is required", coreerr.ErrConfig)
	}
	if *privKey == "" {
		return nil, fmt.Errorf("%w: --wallet or SOLCORE_WALLET_PRIVATE_KEY is required", coreerr.ErrConfig)
	}
	wallet, err := solana.PrivateKeyFromBase58(*privKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid wallet private key: %v", coreerr.ErrConfig, err)
	}

	cfg.Wallet = wallet
	cfg.RPCEndpoints = []RPCEndpoint{{Name: "primary", URL: *rpcURL, Priority: 0, RequestsPerSecond: 20}}
	cfg.JitoEndpoint = *jitoURL
	cfg.DryRun = *dryRun
	cfg.DBPath = *dbPath
	cfg.MaxPrioritySetSize = *maxPriority

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// Cooldown resolves the configured cooldown duration for a closed
// position's realized-P&L bucket, implementing Resolved Open Question #1.
func (c Cooldowns) Cooldown(realizedPnlBps int64) time.Duration {
	switch {
	case realizedPnlBps >= 0:
		return c.Win
	case realizedPnlBps < c.LargeLossBps:
		return c.LargeLoss
	default:
		return c.SmallLoss
	}
}

// Store holds a live, hot-swappable Config plus subscribers notified on
// every Set, matching §6's "mutations trigger downstream refresh (notably
// filtering and priority)".
type Store struct {
	mu   sync.RWMutex
	cfg  *Config
	subs []chan *Config
}

func NewStore(initial *Config) *Store {
	return &Store{cfg: initial}
}

// Get returns the current Config. Callers must not mutate the returned
// value; Set publishes a new one instead.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set publishes a new Config and notifies every subscriber, dropping the
// notification (never blocking the writer) if a subscriber's channel is full.
func (s *Store) Set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	subs := make([]chan *Config, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- cfg:
		default:
		}
	}
}

// Subscribe returns a channel that receives every subsequent Set. The
// channel is buffered; a slow subscriber misses intermediate updates but
// always eventually observes the latest Config via Get.
func (s *Store) Subscribe() <-chan *Config {
	ch := make(chan *Config, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}
