package domain

import (
	"strings"
	"time"
)

// ChainID identifies a configured chain, e.g. "tron", "bsv", "ethereum".
type ChainID string

// Family selects the adapter shape a chain is scanned with.
type Family string

const (
	FamilyUTXO Family = "utxo"
	FamilyEVM  Family = "evm"
	FamilyTron Family = "tron"
	FamilyOmni Family = "omni"
)

// NativeAsset is the sub-account key of a chain's principal coin.
const NativeAsset = "_"

// CurrencyContext selects one sub-account (asset) on one network of a chain.
type CurrencyContext struct {
	Chain   ChainID `json:"chain"`
	Network string  `json:"network,omitempty"`
	Asset   string  `json:"asset,omitempty"`
}

// IsNative reports whether the context addresses the chain's principal coin.
func (c CurrencyContext) IsNative() bool {
	return c.Asset == "" || c.Asset == NativeAsset
}

// AssetKey returns the sub-account key, mapping the empty asset to NativeAsset.
func (c CurrencyContext) AssetKey() string {
	if c.IsNative() {
		return NativeAsset
	}
	return c.Asset
}

// String renders the context as chain[/network][:asset].
func (c CurrencyContext) String() string {
	var sb strings.Builder
	sb.WriteString(string(c.Chain))
	if c.Network != "" {
		sb.WriteString("/")
		sb.WriteString(c.Network)
	}
	if !c.IsNative() {
		sb.WriteString(":")
		sb.WriteString(c.Asset)
	}
	return sb.String()
}

// ScanContext describes one transaction history request.
type ScanContext struct {
	CurrencyContext
	Address string `json:"address"`

	// ScanTime is the reference "now" for age based heuristics. Zero means time.Now().
	ScanTime time.Time `json:"scanTime"`
}

// Now returns ScanTime, or the wall clock when it is unset.
func (s ScanContext) Now() time.Time {
	if s.ScanTime.IsZero() {
		return time.Now()
	}
	return s.ScanTime
}
