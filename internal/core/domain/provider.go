package domain

import "time"

// EndpointKind names the upstream API dialect an endpoint speaks.
type EndpointKind string

const (
	KindBtcCom       EndpointKind = "btc.com"
	KindWhatsOnChain EndpointKind = "whatsonchain"
	KindEthRPC       EndpointKind = "eth-rpc"
	KindEtherscan    EndpointKind = "etherscan"
	KindTronscan     EndpointKind = "tronscan"
	KindTrongrid     EndpointKind = "trongrid"
	KindOmniGateway  EndpointKind = "omni-gateway"
	KindOmniScanner  EndpointKind = "omni-scanner"
)

// ConfirmationSource says where confirmation counts come from.
type ConfirmationSource string

const (
	ConfirmationsFromExplorer ConfirmationSource = "explorer"
	ConfirmationsFromRPC      ConfirmationSource = "rpc"
)

// TokenScheme describes how non-native assets are addressed on a chain.
type TokenScheme string

const (
	TokenSchemeNone  TokenScheme = "none"
	TokenSchemeERC20 TokenScheme = "erc20"
	TokenSchemeTRC20 TokenScheme = "trc20"
	TokenSchemeOmni  TokenScheme = "omni-property"
)

// Endpoint is one upstream base URL.
type Endpoint struct {
	Name   string
	Kind   EndpointKind
	URL    string
	APIKey string
}

// NetworkConfig holds the endpoints of one logical network, in fallback order.
type NetworkConfig struct {
	Endpoints          []Endpoint
	ConfirmationSource ConfirmationSource
}

// ByKind returns the endpoints of the given kinds, preserving configured order.
func (n NetworkConfig) ByKind(kinds ...EndpointKind) []Endpoint {
	var out []Endpoint
	for _, ep := range n.Endpoints {
		for _, k := range kinds {
			if ep.Kind == k {
				out = append(out, ep)
				break
			}
		}
	}
	return out
}

// First returns the first endpoint of the given kind.
func (n NetworkConfig) First(kind EndpointKind) (Endpoint, bool) {
	for _, ep := range n.Endpoints {
		if ep.Kind == kind {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// ProviderConfig is the immutable static configuration of one chain.
type ProviderConfig struct {
	Chain          ChainID
	Family         Family
	DefaultNetwork string
	Networks       map[string]NetworkConfig

	// ConfirmationThreshold is the block count a transaction must exceed to be final.
	ConfirmationThreshold int64
	// DropTimeout is how long a zero-confirmation transaction may stay unseen.
	DropTimeout time.Duration

	TokenScheme TokenScheme
	// TokenID is the gateway property id for omni-style chains.
	TokenID  int64
	Decimals int32

	// MaxAttempts bounds resilient history calls.
	MaxAttempts int
	Timeout     time.Duration
	// BatchWindow is how long a partitioned history batch is reused.
	BatchWindow time.Duration
}

// Network resolves a network by name; the empty name selects DefaultNetwork.
func (p ProviderConfig) Network(name string) (NetworkConfig, bool) {
	if name == "" {
		name = p.DefaultNetwork
	}
	n, ok := p.Networks[name]
	return n, ok
}
