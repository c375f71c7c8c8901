// Package core wires the leaf packages (tokens, pooldiscovery, poolfetch,
// pooldecoder, pricecache, positions, transactions, router, strategy) into
// the single "core context" design note #1 asks for: every component is
// constructed once, explicitly, from a Config, and handed only the
// capabilities it needs. Nothing here is a global — Context is passed by
// value to cmd/solcore's entrypoint and nowhere else.
package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aerogrind/solcore/pkg/config"
	"github.com/aerogrind/solcore/pkg/coreapi"
	"github.com/aerogrind/solcore/pkg/events"
	"github.com/aerogrind/solcore/pkg/feeds"
	"github.com/aerogrind/solcore/pkg/pooldecoder"
	"github.com/aerogrind/solcore/pkg/pooldiscovery"
	"github.com/aerogrind/solcore/pkg/poolfetch"
	"github.com/aerogrind/solcore/pkg/positions"
	"github.com/aerogrind/solcore/pkg/pricecache"
	"github.com/aerogrind/solcore/pkg/protocol"
	"github.com/aerogrind/solcore/pkg/router"
	"github.com/aerogrind/solcore/pkg/sol"
	"github.com/aerogrind/solcore/pkg/store"
	"github.com/aerogrind/solcore/pkg/supervisor"
	"github.com/aerogrind/solcore/pkg/tokens"
	"github.com/aerogrind/solcore/pkg/transactions"

	"github.com/gagliardetto/solana-go"
)

// Context is the fully wired core: every long-running component plus the
// supervisor that starts and stops them together, and the read/command
// API the rest of the application (CLI, dashboard, webserver) talks to.
// It is constructed once by New and never duplicated — the "single core
// context" design note #1 calls for in place of the teacher's static
// singletons.
type Context struct {
	Logger *zap.Logger
	Cfg    *config.Store
	DB     *store.Store
	Sol    *sol.Client
	Bus    *events.Bus

	Tokens     *tokens.Store
	Prices     *pricecache.Cache
	Positions  *positions.Engine
	Pools      *PoolPipeline
	Router     *router.Router
	Reconciler *transactions.Reconciler

	API *coreapi.API

	super *supervisor.Supervisor
}

// New constructs every component of the core from cfg and registers them
// with a Supervisor in dependency order. It starts nothing; call Start to
// run the supervised set.
func New(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Context, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("core: open store: %w", err)
	}

	providers := make([]*sol.Provider, 0, len(cfg.RPCEndpoints))
	for _, ep := range cfg.RPCEndpoints {
		providers = append(providers, sol.NewProvider(ep.Name, ep.URL, ep.Priority, ep.RequestsPerSecond))
	}
	solClient, err := sol.NewClientFromProviders(ctx, logger, sol.SelectStrategy(cfg.SelectStrategy), cfg.JitoEndpoint, providers...)
	if err != nil {
		return nil, fmt.Errorf("core: construct rpc client: %w", err)
	}

	bus := events.New(256)
	cfgStore := config.NewStore(cfg)

	tokenStore := tokens.NewStore(db)
	dexClient := feeds.NewDexScreenerClient(logger)
	discoverySrc := feeds.NewDexScreenerDiscoverySource(dexClient, sol.WSOL.String())
	discovery := tokens.NewDiscovery(tokenStore, logger, 1, discoverySrc)
	monitor := tokens.NewMonitor(tokenStore, logger, feeds.NewDexScreenerMonitorFetcher(dexClient))

	poolDiscovery := pooldiscovery.NewDiscovery(logger, cfg.PoolDiscoveryTTL, feeds.NewDexScreenerPoolSource(dexClient))
	fetcher := poolfetch.NewFetcher(solClient, logger, cfg.AccountFetchBatchSize, 4, 256)
	failedCache := pooldecoder.NewFailedCache()

	var fallbackBase, fallbackQuote solana.PublicKey
	if cfg.SolUSDFallbackBaseVault != "" {
		fallbackBase, err = solana.PublicKeyFromBase58(cfg.SolUSDFallbackBaseVault)
		if err != nil {
			return nil, fmt.Errorf("core: parse SolUSDFallbackBaseVault: %w", err)
		}
	}
	if cfg.SolUSDFallbackQuoteVault != "" {
		fallbackQuote, err = solana.PublicKeyFromBase58(cfg.SolUSDFallbackQuoteVault)
		if err != nil {
			return nil, fmt.Errorf("core: parse SolUSDFallbackQuoteVault: %w", err)
		}
	}
	solUSDFeed := feeds.NewHTTPSolUsdFeed(logger, cfg.SolUSDFeedURL, 10*time.Second, solClient, fallbackBase, fallbackQuote, cfg.SolUSDFallbackQuoteDecimals)
	prices := pricecache.NewCache(logger, solUSDFeed, bus, 0.05, 4096)

	pools := NewPoolPipeline(logger, tokenStore, poolDiscovery, fetcher, failedCache, prices, solClient, db,
		cfg.PoolDiscoveryInterval, cfg.AccountFetchInterval, cfg.PoolDiscoveryTTL)

	posEngine := positions.NewEngine(logger, db, bus, cfg.Cooldowns)

	reconciler := transactions.NewReconciler(solClient, db, logger, cfg.Wallet.PublicKey(), 1024)

	adapters := []router.Adapter{
		router.NewProtocolAdapter(protocol.NewRaydiumCpmm(solClient), 0),
		router.NewProtocolAdapter(protocol.NewRaydiumAmm(solClient), 1),
		router.NewProtocolAdapter(protocol.NewRaydiumClmm(solClient), 2),
		router.NewProtocolAdapter(protocol.NewMeteoraDlmm(solClient), 3),
		router.NewProtocolAdapter(protocol.NewPumpAmm(solClient), 4),
	}
	swapRouter := router.New(logger, adapters...)

	api := coreapi.New(logger, cfgStore, bus, tokenStore, prices, posEngine, swapRouter, solClient, nil)

	super, err := supervisor.New(logger, 15*time.Second, buildServices(buildServicesArgs{
		logger: logger, cfg: cfg, cfgStore: cfgStore, api: api, db: db, solClient: solClient,
		tokenStore: tokenStore, discovery: discovery, monitor: monitor,
		pools: pools, posEngine: posEngine, reconciler: reconciler,
		swapRouter: swapRouter, prices: prices,
	})...)
	if err != nil {
		return nil, fmt.Errorf("core: build supervisor: %w", err)
	}
	api.BindSupervisor(super)

	return &Context{
		Logger: logger, Cfg: cfgStore, DB: db, Sol: solClient, Bus: bus,
		Tokens: tokenStore, Prices: prices, Positions: posEngine, Pools: pools,
		Router: swapRouter, Reconciler: reconciler, API: api, super: super,
	}, nil
}

// Start rehydrates every component's persisted state and launches the
// supervised service set (spec §4.1, §8 scenario 6: cold-restart recovery).
func (c *Context) Start(ctx context.Context) error {
	if err := c.Tokens.Restore(); err != nil {
		return fmt.Errorf("core: restore tokens: %w", err)
	}
	if err := c.Pools.Restore(); err != nil {
		return fmt.Errorf("core: restore pools: %w", err)
	}
	if err := c.Positions.Restore(); err != nil {
		return fmt.Errorf("core: restore positions: %w", err)
	}
	return c.super.Start(ctx)
}

// Stop signals every supervised task and awaits the configured grace period.
func (c *Context) Stop() { c.super.Stop() }

// Health exposes the supervisor's per-service health for the read API and CLI.
func (c *Context) Health() map[string]supervisor.Health { return c.super.Health() }
