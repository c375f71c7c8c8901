// Package sol wraps the Solana JSON-RPC surface the core depends on
// (getAccountInfo, getMultipleAccounts, getProgramAccounts,
// getSignaturesForAddress, getTransaction, sendTransaction) behind a
// provider pool with independent rate limiting and circuit breaking per
// endpoint, plus an optional Jito bundle path for low-latency sends.
package sol

import (
	"context"

	"go.uber.org/zap"
)

// Client is the core's single RPC entry point. It replaces the teacher's
// single-endpoint client with a pool of provider adapters (design note:
// no global singleton — Client is constructed once and threaded through
// every component that needs chain access).
type Client struct {
	pool       *ProviderPool
	jitoClient *JitoClient
	logger     *zap.Logger
}

// NewClient builds a client around a single endpoint, matching the
// teacher's constructor shape, for callers that don't need a provider pool.
func NewClient(ctx context.Context, endpoint, jitoEndpoint string, reqLimitPerSecond int) (*Client, error) {
	return NewClientFromProviders(ctx, zap.NewNop(), StrategyPriority, jitoEndpoint,
		NewProvider("primary", endpoint, 0, reqLimitPerSecond))
}

// NewClientFromProviders builds a client around an explicit provider pool,
// the shape the supervisor uses when the config names several RPC
// endpoints with a selection strategy.
func NewClientFromProviders(ctx context.Context, logger *zap.Logger, strategy SelectStrategy, jitoEndpoint string, providers ...*Provider) (*Client, error) {
	pool, err := NewProviderPool(strategy, logger, providers...)
	if err != nil {
		return nil, err
	}
	c := &Client{pool: pool, logger: logger}

	if jitoEndpoint != "" {
		jitoClient, err := NewJitoClient(ctx, jitoEndpoint)
		if err == nil {
			c.jitoClient = jitoClient
		} else if logger != nil {
			logger.Warn("jito client unavailable, falling back to direct sends", zap.Error(err))
		}
	}
	return c, nil
}

// Stats exposes per-provider rolling health for the read API.
func (c *Client) Stats() []ProviderStat { return c.pool.Stats() }
