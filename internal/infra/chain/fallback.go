package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/chainscan/internal/core/domain"
)

// BalanceProvider is one step of a balance fallback chain.
// FetchBalance returns (nil, nil) when the provider answered but had no record.
type BalanceProvider struct {
	Name         string
	FetchBalance func(ctx context.Context, address string) (*domain.BalanceRecord, error)
}

// FirstBalance asks providers in order and returns the first non-nil record,
// stamped with the provider name unless the provider set its own.
// If every provider answered without a record the result is nil. If none
// answered and at least one failed, the joined errors are returned.
func FirstBalance(ctx context.Context, address string, providers []BalanceProvider) (*domain.BalanceRecord, error) {
	var errs []error
	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := p.FetchBalance(ctx, address)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
			continue
		}
		if rec == nil {
			continue
		}
		if rec.Provider == "" {
			rec.Provider = p.Name
		}
		return rec, nil
	}

	if len(errs) == len(providers) && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}
