package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aerogrind/solcore/pkg/config"
	"github.com/aerogrind/solcore/pkg/coreapi"
	"github.com/aerogrind/solcore/pkg/positions"
	"github.com/aerogrind/solcore/pkg/pricecache"
	"github.com/aerogrind/solcore/pkg/router"
	"github.com/aerogrind/solcore/pkg/sol"
	"github.com/aerogrind/solcore/pkg/store"
	"github.com/aerogrind/solcore/pkg/supervisor"
	"github.com/aerogrind/solcore/pkg/tokens"
	"github.com/aerogrind/solcore/pkg/transactions"
)

// buildServicesArgs collects every already-constructed component a
// supervised service closes over. It exists only to keep New's call to
// buildServices from growing an unreadable positional argument list.
type buildServicesArgs struct {
	logger     *zap.Logger
	cfg        *config.Config
	cfgStore   *config.Store
	api        *coreapi.API
	db         *store.Store
	solClient  *sol.Client
	tokenStore *tokens.Store
	discovery  *tokens.Discovery
	monitor    *tokens.Monitor
	pools      *PoolPipeline
	posEngine  *positions.Engine
	reconciler *transactions.Reconciler
	swapRouter *router.Router
	prices     *pricecache.Cache
}

// buildServices assembles the full supervised set in the dependency order
// the overview diagram implies: token discovery/monitor feed the pool
// pipeline's priority ranking, the pool pipeline feeds the price cache,
// the reconciler depends on positions existing to transition, and the
// strategy loop depends on everything upstream being live before it is
// allowed to place a trade.
func buildServices(a buildServicesArgs) []supervisor.Service {
	strategyLoop := NewStrategyLoop(a.logger, a.api, a.cfgStore, a.tokenStore, a.prices, a.posEngine, 300)

	return []supervisor.Service{
		supervisor.NewFuncService("token-discovery", 0, nil, true, nil, func(ctx context.Context) error {
			a.discovery.Run(ctx, a.cfg.PoolDiscoveryInterval)
			return nil
		}),
		supervisor.NewFuncService("token-monitor", 0, nil, true, nil, func(ctx context.Context) error {
			a.monitor.Run(ctx, a.cfg.AccountFetchInterval)
			return nil
		}),
		supervisor.NewFuncService("pool-discovery", 1, []string{"token-discovery"}, true, nil, func(ctx context.Context) error {
			return a.pools.RunDiscovery(ctx)
		}),
		supervisor.NewFuncService("pool-accounts", 2, []string{"pool-discovery"}, true, nil, func(ctx context.Context) error {
			return a.pools.RunAccountFetch(ctx)
		}),
		supervisor.NewFuncService("price-history-flush", 3, []string{"pool-accounts"}, true, nil, func(ctx context.Context) error {
			a.pools.RunPriceHistoryFlush(ctx, 30*time.Second)
			return nil
		}),
		supervisor.NewFuncService("tx-signature-poller", 2, nil, true, nil, func(ctx context.Context) error {
			a.reconciler.RunSignaturePoller(ctx, a.cfg.SignaturePollInterval, 50)
			return nil
		}),
		supervisor.NewFuncService("tx-processor", 3, []string{"tx-signature-poller"}, true, nil, func(ctx context.Context) error {
			a.reconciler.RunProcessor(ctx, a.posEngine, a.posEngine.PendingReservation, a.cfg.ConfirmWindow)
			return nil
		}),
		supervisor.NewFuncService("strategy-loop", 4, []string{"pool-accounts", "tx-processor"}, true, nil, func(ctx context.Context) error {
			return strategyLoop.Run(ctx, a.cfg.AccountFetchInterval)
		}),
	}
}
