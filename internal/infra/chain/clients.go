package chain

import (
	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/infra/rpc"
)

// NewProvider builds the HTTP provider for an endpoint, attaching the API key
// the way each upstream kind expects it.
func NewProvider(cfg domain.ProviderConfig, ep domain.Endpoint) *rpc.HTTPProvider {
	name := ep.Name
	if name == "" {
		name = string(ep.Kind)
	}

	var opts []rpc.HTTPOption
	if ep.APIKey != "" {
		switch ep.Kind {
		case domain.KindEtherscan:
			opts = append(opts, rpc.WithQueryParam("apikey", ep.APIKey))
		case domain.KindTronscan, domain.KindTrongrid:
			opts = append(opts, rpc.WithHeader("TRON-PRO-API-KEY", ep.APIKey))
		default:
			opts = append(opts, rpc.WithHeader("X-API-Key", ep.APIKey))
		}
	}
	return rpc.NewHTTPProvider(name, ep.URL, cfg.Timeout, opts...)
}

// NewClient builds an RPC client over endpoints, in the given order.
// It returns nil when endpoints is empty.
func NewClient(cfg domain.ProviderConfig, endpoints []domain.Endpoint) *rpc.Client {
	if len(endpoints) == 0 {
		return nil
	}
	providers := make([]rpc.Provider, 0, len(endpoints))
	for _, ep := range endpoints {
		providers = append(providers, NewProvider(cfg, ep))
	}
	retry := rpc.DefaultRetryConfig
	retry.MaxAttempts = cfg.MaxAttempts
	return rpc.NewClient(string(cfg.Chain), retry, providers...)
}
