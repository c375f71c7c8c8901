package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aerogrind/solcore/pkg/config"
	"github.com/aerogrind/solcore/pkg/coreapi"
	"github.com/aerogrind/solcore/pkg/positions"
	"github.com/aerogrind/solcore/pkg/pricecache"
	"github.com/aerogrind/solcore/pkg/strategy"
	"github.com/aerogrind/solcore/pkg/tokens"
)

// StrategyLoop is the piece the overview diagram labels "strategy & exit
// evaluator": it reads filter-passed mints and canonical prices, decides
// buy/sell/add_dca, and issues the decision through coreapi's command
// surface so every trade — manual or automatic — goes through the same
// reservation, fallback and journaling path.
type StrategyLoop struct {
	logger *zap.Logger
	api    *coreapi.API
	cfg    *config.Store
	tokens *tokens.Store
	prices *pricecache.Cache
	engine *positions.Engine

	entryParams strategy.EntryParams
	exitParams  strategy.ExitParams
	slippageBps int
}

func NewStrategyLoop(logger *zap.Logger, api *coreapi.API, cfg *config.Store, tokenStore *tokens.Store, prices *pricecache.Cache, engine *positions.Engine, slippageBps int) *StrategyLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StrategyLoop{
		logger: logger, api: api, cfg: cfg, tokens: tokenStore, prices: prices, engine: engine,
		entryParams: strategy.DefaultEntryParams(), exitParams: strategy.DefaultExitParams(),
		slippageBps: slippageBps,
	}
}

// Run ticks entry/exit evaluation on interval until ctx is canceled (spec §4.5).
func (l *StrategyLoop) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *StrategyLoop) tick(ctx context.Context) {
	now := time.Now()
	l.evaluateExits(ctx, now)
	l.evaluateEntries(ctx, now)
}

func (l *StrategyLoop) evaluateExits(ctx context.Context, now time.Time) {
	for _, pos := range l.engine.SnapshotOpen() {
		price, ok := l.prices.Canonical(pos.Mint)
		if !ok {
			continue
		}
		l.engine.UpdateUnrealized(pos.Mint, price.PriceSOL)
		decision := strategy.EvaluateExit(pos, price.PriceSOL, l.exitParams, now)
		switch decision.Action {
		case strategy.ActionSell:
			l.logger.Info("strategy sell", zap.String("mint", pos.Mint), zap.String("reason", decision.Reason))
			l.api.ManualSell(ctx, pos.ID, decision.SellPct)
		case strategy.ActionAddDCA:
			l.logger.Info("strategy dca add", zap.String("mint", pos.Mint), zap.String("reason", decision.Reason))
			l.api.ManualBuy(ctx, pos.Mint, decision.SolAmount, l.slippageBps)
		}
	}
}

func (l *StrategyLoop) evaluateEntries(ctx context.Context, now time.Time) {
	cfg := l.cfg.Get()
	filtered := tokens.Evaluate(l.tokens, cfg.Filter, func(mint string) bool { return l.engine.InCooldown(mint, now) }, now)
	for _, mint := range filtered.Passed {
		if _, open := l.engine.SnapshotByMint(mint); open {
			continue
		}
		snap, ok := l.tokens.Snapshot(mint)
		if !ok {
			continue
		}
		price, ok := l.prices.Canonical(mint)
		if !ok {
			continue
		}
		decision := strategy.EvaluateEntry(snap, price, l.entryParams)
		if decision.Action != strategy.ActionBuy {
			continue
		}
		l.logger.Info("strategy buy", zap.String("mint", mint), zap.String("reason", decision.Reason))
		l.api.ManualBuy(ctx, mint, decision.SolAmount, l.slippageBps)
	}
}
