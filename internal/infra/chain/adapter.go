package chain

import (
	"context"
	"errors"

	"github.com/vietddude/chainscan/internal/core/domain"
)

var (
	// ErrUnknownNetwork is returned at construction when the selected network
	// has no configuration.
	ErrUnknownNetwork = errors.New("unknown network")

	// ErrUnknownChain is returned for a chain id with no configuration.
	ErrUnknownChain = errors.New("unknown chain")

	// ErrUnsupportedFamily is returned when no factory handles a chain family.
	ErrUnsupportedFamily = errors.New("unsupported chain family")

	// ErrInvalidAddress is returned when an address fails chain validation.
	ErrInvalidAddress = errors.New("invalid address")
)

// Scanner defines the per-chain read interface.
// Balance lookups are fail-visible. Transaction history is fail-soft: an
// unreachable upstream yields an empty slice, but malformed upstream data
// surfaces as *domain.MalformedDataError.
type Scanner interface {
	// Chain returns the chain identifier
	Chain() domain.ChainID

	// NormalizeAddress validates addr and returns its canonical form
	NormalizeAddress(addr string) (string, error)

	// GetBalance returns the balance for the configured asset, or nil when no
	// provider had a record
	GetBalance(ctx context.Context, address string) (*domain.BalanceRecord, error)

	// GetTransactions returns the normalized history of the scanned address
	GetTransactions(ctx context.Context, scan domain.ScanContext) ([]*domain.UnifiedTransaction, error)
}

// ReceiptSource is implemented by account-style chains that can look up a
// receipt by hash. Used by the pending-transaction reconciler.
type ReceiptSource interface {
	// LatestBlock returns the current head height
	LatestBlock(ctx context.Context) (int64, error)

	// Receipt returns nil when the transaction is not mined yet
	Receipt(ctx context.Context, hash string) (*domain.Receipt, error)
}

// HeadTracker exposes the head height learned during the last history fetch.
type HeadTracker interface {
	LastSeenBlock() int64
}
