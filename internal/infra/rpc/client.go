package rpc

import (
	"context"
	"encoding/json"
	logger "log/slog"

	"github.com/vietddude/chainscan/internal/indexing/metrics"
	"github.com/vietddude/chainscan/internal/infra/rpc/provider"
	"github.com/vietddude/chainscan/internal/infra/rpc/routing"
)

// RPCClient is what chain adapters depend on.
type RPCClient interface {
	// Execute is strict: the final error propagates to the caller.
	Execute(ctx context.Context, op Operation) (json.RawMessage, error)
	// ExecuteResilient never fails; false means no provider produced a result
	// within the attempt budget.
	ExecuteResilient(ctx context.Context, op Operation) (json.RawMessage, bool)
}

// Client executes operations against an ordered list of providers.
// The configured order is the failover order.
type Client struct {
	chain     string
	providers []provider.Provider
	retry     RetryConfig
	log       logger.Logger
}

var _ RPCClient = (*Client)(nil)

// NewClient creates a new RPC client.
func NewClient(chain string, retry RetryConfig, providers ...provider.Provider) *Client {
	return &Client{
		chain:     chain,
		providers: providers,
		retry:     retry,
		log:       *logger.Default(),
	}
}

// Providers returns the configured providers in failover order.
func (c *Client) Providers() []provider.Provider {
	return c.providers
}

// Execute runs op with retry and failover and returns the last error when
// every provider fails.
func (c *Client) Execute(ctx context.Context, op Operation) (json.RawMessage, error) {
	return routing.CallWithRetryAndFailover(ctx, c.chain, c.ordered(), op, c.retry, nil)
}

// ExecuteResilient runs op with at most MaxAttempts upstream calls across all
// providers. On exhaustion it logs and reports false instead of an error.
func (c *Client) ExecuteResilient(ctx context.Context, op Operation) (json.RawMessage, bool) {
	budget := routing.NewBudget(c.retry.MaxAttempts)
	res, err := routing.CallWithRetryAndFailover(ctx, c.chain, c.ordered(), op, c.retry, budget)
	if err != nil {
		metrics.ResilientExhausted.WithLabelValues(c.chain, op.Name).Inc()
		c.log.Warn("Resilient call gave up",
			"chain", c.chain,
			"op", op.Name,
			"error", err,
		)
		return nil, false
	}
	return res, true
}

// ordered puts available providers first, keeping the configured order within
// each group, so a throttled provider is only tried after the healthy ones.
func (c *Client) ordered() []provider.Provider {
	out := make([]provider.Provider, 0, len(c.providers))
	var parked []provider.Provider
	for _, p := range c.providers {
		if p.IsAvailable() {
			out = append(out, p)
		} else {
			parked = append(parked, p)
		}
	}
	return append(out, parked...)
}

// Close releases every provider.
func (c *Client) Close() error {
	for _, p := range c.providers {
		_ = p.Close()
	}
	return nil
}
