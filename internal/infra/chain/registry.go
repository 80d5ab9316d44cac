package chain

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/chainscan/internal/core/domain"
)

// Selector picks the logical network and asset an adapter serves.
type Selector struct {
	Network string
	Asset   string
}

// Factory builds a Scanner from validated configuration without I/O.
type Factory func(cfg domain.ProviderConfig, sel Selector) (Scanner, error)

var defaultThresholds = map[domain.Family]int64{
	domain.FamilyUTXO: 10,
	domain.FamilyEVM:  12,
	domain.FamilyTron: 19,
	domain.FamilyOmni: 3,
}

const (
	DefaultDropTimeout = 120 * time.Second
	DefaultMaxAttempts = 10
	DefaultTimeout     = 15 * time.Second
	DefaultBatchWindow = 30 * time.Second
)

// Registry holds immutable per-chain configuration and the adapter factory
// for each chain family.
type Registry struct {
	mu        sync.RWMutex
	configs   map[domain.ChainID]domain.ProviderConfig
	factories map[domain.Family]Factory
}

// NewRegistry validates configs, applies defaults and indexes them by chain.
func NewRegistry(configs ...domain.ProviderConfig) (*Registry, error) {
	r := &Registry{
		configs:   make(map[domain.ChainID]domain.ProviderConfig, len(configs)),
		factories: make(map[domain.Family]Factory),
	}
	for _, cfg := range configs {
		cfg = WithDefaults(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		if _, dup := r.configs[cfg.Chain]; dup {
			return nil, fmt.Errorf("chain %s configured twice", cfg.Chain)
		}
		r.configs[cfg.Chain] = cfg
	}
	return r, nil
}

// Register installs the factory for a chain family.
func (r *Registry) Register(family domain.Family, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[family] = f
}

// Config returns the configuration of a chain.
func (r *Registry) Config(chain domain.ChainID) (domain.ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[chain]
	return cfg, ok
}

// Chains returns the configured chain ids in sorted order.
func (r *Registry) Chains() []domain.ChainID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ChainID, 0, len(r.configs))
	for id := range r.configs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New builds the scanner for a currency context.
func (r *Registry) New(cc domain.CurrencyContext) (Scanner, error) {
	r.mu.RLock()
	cfg, ok := r.configs[cc.Chain]
	var factory Factory
	if ok {
		factory = r.factories[cfg.Family]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, cc.Chain)
	}
	if factory == nil {
		return nil, fmt.Errorf("%s: %w: %s", cc.Chain, ErrUnsupportedFamily, cfg.Family)
	}
	return factory(cfg, Selector{Network: cc.Network, Asset: cc.AssetKey()})
}

// WithDefaults fills zero-valued tuning fields.
func WithDefaults(cfg domain.ProviderConfig) domain.ProviderConfig {
	if cfg.ConfirmationThreshold == 0 {
		cfg.ConfirmationThreshold = defaultThresholds[cfg.Family]
	}
	if cfg.DropTimeout == 0 {
		cfg.DropTimeout = DefaultDropTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BatchWindow == 0 {
		cfg.BatchWindow = DefaultBatchWindow
	}
	if cfg.TokenScheme == "" {
		cfg.TokenScheme = domain.TokenSchemeNone
	}
	if cfg.DefaultNetwork == "" && len(cfg.Networks) == 1 {
		for name := range cfg.Networks {
			cfg.DefaultNetwork = name
		}
	}
	networks := make(map[string]domain.NetworkConfig, len(cfg.Networks))
	for name, n := range cfg.Networks {
		if n.ConfirmationSource == "" {
			n.ConfirmationSource = domain.ConfirmationsFromExplorer
		}
		networks[name] = n
	}
	cfg.Networks = networks
	return cfg
}

// Validate checks a provider configuration.
func Validate(cfg domain.ProviderConfig) error {
	if strings.TrimSpace(string(cfg.Chain)) == "" {
		return fmt.Errorf("chain id is required")
	}
	switch cfg.Family {
	case domain.FamilyUTXO, domain.FamilyEVM, domain.FamilyTron, domain.FamilyOmni:
	default:
		return fmt.Errorf("chain %s: %w: %q", cfg.Chain, ErrUnsupportedFamily, cfg.Family)
	}
	if len(cfg.Networks) == 0 {
		return fmt.Errorf("chain %s: no networks configured", cfg.Chain)
	}
	if _, ok := cfg.Networks[cfg.DefaultNetwork]; !ok {
		return fmt.Errorf("chain %s: default network %q: %w", cfg.Chain, cfg.DefaultNetwork, ErrUnknownNetwork)
	}
	for name, n := range cfg.Networks {
		if len(n.Endpoints) == 0 {
			return fmt.Errorf("chain %s network %s: no endpoints", cfg.Chain, name)
		}
		for i, ep := range n.Endpoints {
			if ep.URL == "" {
				return fmt.Errorf("chain %s network %s endpoint %d: url is required", cfg.Chain, name, i)
			}
			if ep.Kind == "" {
				return fmt.Errorf("chain %s network %s endpoint %d: kind is required", cfg.Chain, name, i)
			}
		}
		switch n.ConfirmationSource {
		case domain.ConfirmationsFromExplorer, domain.ConfirmationsFromRPC:
		default:
			return fmt.Errorf("chain %s network %s: bad confirmation source %q", cfg.Chain, name, n.ConfirmationSource)
		}
	}
	if cfg.ConfirmationThreshold < 0 {
		return fmt.Errorf("chain %s: negative confirmation threshold", cfg.Chain)
	}
	return nil
}

// ResolveNetwork returns the network configuration for sel or ErrUnknownNetwork.
func ResolveNetwork(cfg domain.ProviderConfig, sel Selector) (string, domain.NetworkConfig, error) {
	name := sel.Network
	if name == "" {
		name = cfg.DefaultNetwork
	}
	n, ok := cfg.Networks[name]
	if !ok {
		return "", domain.NetworkConfig{}, fmt.Errorf("%s: %w: %q", cfg.Chain, ErrUnknownNetwork, name)
	}
	return name, n, nil
}
