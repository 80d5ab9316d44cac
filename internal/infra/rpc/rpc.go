// Package rpc provides the upstream client used by chain adapters.
//
// A Client wraps one or more providers for a chain and offers two modes:
//   - Execute: strict, the final error propagates
//   - ExecuteResilient: bounded by a total attempt budget, reports false
//     instead of failing
//
// # Quick Start
//
//	import "github.com/vietddude/chainscan/internal/infra/rpc"
//
//	client := rpc.NewClient("eth", rpc.DefaultRetryConfig,
//	    rpc.NewHTTPProvider("infura", infuraURL, 30*time.Second),
//	    rpc.NewHTTPProvider("alchemy", alchemyURL, 30*time.Second),
//	)
//	raw, err := client.Execute(ctx, rpc.NewHTTPOperation("eth_blockNumber"))
//
// # Package Structure
//
//   - provider/ - HTTPProvider, throttle monitoring, error types
//   - routing/  - error classification, retry with backoff, failover
//
// Most types are re-exported at the root level for convenience.
package rpc

import (
	"time"

	"github.com/vietddude/chainscan/internal/infra/rpc/provider"
	"github.com/vietddude/chainscan/internal/infra/rpc/routing"
)

// Provider is the core interface for upstream endpoints.
type Provider = provider.Provider

// HTTPProvider implements Provider for REST and JSON-RPC over HTTP.
type HTTPProvider = provider.HTTPProvider

// HTTPOption customizes an HTTPProvider.
type HTTPOption = provider.HTTPOption

// Operation represents one upstream request.
type Operation = provider.Operation

// MonitorStats holds monitoring statistics for a provider.
type MonitorStats = provider.MonitorStats

// RetryConfig defines retry behavior.
type RetryConfig = routing.RetryConfig

// DefaultRetryConfig provides sensible retry defaults.
var DefaultRetryConfig = routing.DefaultRetryConfig

// NewHTTPProvider creates a new HTTP-based provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration, opts ...HTTPOption) *HTTPProvider {
	return provider.NewHTTPProvider(name, endpoint, timeout, opts...)
}

var (
	WithHeader     = provider.WithHeader
	WithQueryParam = provider.WithQueryParam
	WithHTTPClient = provider.WithHTTPClient
)
