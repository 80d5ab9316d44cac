// Package provider implements upstream HTTP endpoints.
//
// This package contains:
//   - Provider interface: core abstraction for one upstream base URL
//   - HTTPProvider: REST and JSON-RPC over HTTP
//   - ProviderMonitor: throttle and latency tracking
package provider

import (
	"context"
	"encoding/json"
	"net/url"
	"time"
)

// Operation represents one upstream request.
type Operation struct {
	// Name is the REST path relative to the endpoint, or the JSON-RPC method.
	Name string

	// Params is the JSON body for REST calls, or the params array for JSON-RPC.
	Params any

	// Query is appended to REST URLs.
	Query url.Values

	// IsREST indicates a REST call instead of JSON-RPC.
	IsREST bool

	// RESTMethod is the HTTP method for REST calls, "GET" when empty.
	RESTMethod string

	// JSONRPCVersion is "2.0" when empty.
	JSONRPCVersion string
}

// Provider defines one upstream endpoint.
type Provider interface {
	// GetName returns the provider identifier (e.g. "tronscan", "infura")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// IsAvailable checks if the provider is healthy enough to use
	IsAvailable() bool

	// Execute performs the operation and returns the raw JSON result
	Execute(ctx context.Context, op Operation) (json.RawMessage, error)

	// Close cleans up resources
	Close() error
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at"`
	MonitorStats  *MonitorStats `json:"monitor_stats,omitempty"`
}
