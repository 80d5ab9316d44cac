package config

import (
	"time"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/indexing/emitter"
	redisclient "github.com/vietddude/chainscan/internal/infra/redis"
	"github.com/vietddude/chainscan/internal/infra/storage/sqlstore"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"   mapstructure:"server"`
	Chains   []ChainConfig      `yaml:"chains"   mapstructure:"chains"`
	Redis    redisclient.Config `yaml:"redis"    mapstructure:"redis"`
	NATS     emitter.NATSConfig `yaml:"nats"     mapstructure:"nats"`
	Cache    CacheConfig        `yaml:"cache"    mapstructure:"cache"`
	Logging  LoggingConfig      `yaml:"logging"  mapstructure:"logging"`
	Database sqlstore.Config    `yaml:"database" mapstructure:"database"`
}

// ServerConfig holds HTTP and gRPC server settings.
type ServerConfig struct {
	Port     int `yaml:"port"      mapstructure:"port"`
	GRPCPort int `yaml:"grpc_port" mapstructure:"grpc_port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"  mapstructure:"level"`  // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json, text
}

// CacheConfig sizes the balance cache. An empty redis url keeps it in memory.
type CacheConfig struct {
	BalanceTTL time.Duration `yaml:"balance_ttl" mapstructure:"balance_ttl"`
	Capacity   int           `yaml:"capacity"    mapstructure:"capacity"`
	HeadTTL    time.Duration `yaml:"head_ttl"    mapstructure:"head_ttl"`
}

// ChainConfig holds settings for a specific blockchain.
type ChainConfig struct {
	ChainID               domain.ChainID           `yaml:"id"                     mapstructure:"id"`
	Family                domain.Family            `yaml:"family"                 mapstructure:"family"` // utxo, evm, tron, omni
	DefaultNetwork        string                   `yaml:"default_network"        mapstructure:"default_network"`
	ConfirmationThreshold int64                    `yaml:"confirmation_threshold" mapstructure:"confirmation_threshold"`
	DropTimeout           time.Duration            `yaml:"drop_timeout"           mapstructure:"drop_timeout"`
	TokenScheme           domain.TokenScheme       `yaml:"token_scheme"           mapstructure:"token_scheme"`
	TokenID               int64                    `yaml:"token_id"               mapstructure:"token_id"`
	Decimals              int32                    `yaml:"decimals"               mapstructure:"decimals"`
	MaxAttempts           int                      `yaml:"max_attempts"           mapstructure:"max_attempts"`
	Timeout               time.Duration            `yaml:"timeout"                mapstructure:"timeout"`
	BatchWindow           time.Duration            `yaml:"batch_window"           mapstructure:"batch_window"`
	Networks              map[string]NetworkConfig `yaml:"networks"               mapstructure:"networks"`
}

// NetworkConfig holds the endpoints of one logical network, in fallback order.
type NetworkConfig struct {
	ConfirmationSource domain.ConfirmationSource `yaml:"confirmation_source" mapstructure:"confirmation_source"`
	Endpoints          []EndpointConfig          `yaml:"endpoints"           mapstructure:"endpoints"`
}

// EndpointConfig holds settings for an upstream API.
type EndpointConfig struct {
	Name   string              `yaml:"name"    mapstructure:"name"`
	Kind   domain.EndpointKind `yaml:"kind"    mapstructure:"kind"`
	URL    string              `yaml:"url"     mapstructure:"url"`
	APIKey string              `yaml:"api_key" mapstructure:"api_key"`
}

// Provider converts the YAML form into the registry record.
func (c ChainConfig) Provider() domain.ProviderConfig {
	networks := make(map[string]domain.NetworkConfig, len(c.Networks))
	for name, n := range c.Networks {
		eps := make([]domain.Endpoint, 0, len(n.Endpoints))
		for _, ep := range n.Endpoints {
			name := ep.Name
			if name == "" {
				name = string(ep.Kind)
			}
			eps = append(eps, domain.Endpoint{Name: name, Kind: ep.Kind, URL: ep.URL, APIKey: ep.APIKey})
		}
		networks[name] = domain.NetworkConfig{Endpoints: eps, ConfirmationSource: n.ConfirmationSource}
	}
	return domain.ProviderConfig{
		Chain:                 c.ChainID,
		Family:                c.Family,
		DefaultNetwork:        c.DefaultNetwork,
		Networks:              networks,
		ConfirmationThreshold: c.ConfirmationThreshold,
		DropTimeout:           c.DropTimeout,
		TokenScheme:           c.TokenScheme,
		TokenID:               c.TokenID,
		Decimals:              c.Decimals,
		MaxAttempts:           c.MaxAttempts,
		Timeout:               c.Timeout,
		BatchWindow:           c.BatchWindow,
	}
}

// Providers converts every configured chain.
func (c *AppConfig) Providers() []domain.ProviderConfig {
	out := make([]domain.ProviderConfig, 0, len(c.Chains))
	for _, ch := range c.Chains {
		out = append(out, ch.Provider())
	}
	return out
}
