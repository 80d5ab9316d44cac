package tron

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/indexing/metrics"
	"github.com/vietddude/chainscan/internal/infra/chain"
	"github.com/vietddude/chainscan/internal/infra/rpc"
)

const (
	providerTronscan    = "tronscan"
	providerTrongrid    = "trongrid"
	providerRawCall     = "tronwallet-raw-call"
	providerNoToken     = "tronscan-ok-but-no-token"
	balanceOfSelector   = "balanceOf(address)"
	holderParamPrefix   = "0000000000000000000000"
	tronscanAccountPath = "api/account"
)

type tronscanAccount struct {
	Address *string          `json:"address"`
	Balance *decimal.Decimal `json:"balance"`
	Tokens  []struct {
		TokenID string          `json:"tokenId"`
		Balance decimal.Decimal `json:"balance"`
	} `json:"tokens"`
	// Entries are either {"tokenId": contract, "balance": n} or the older
	// {contract: n} form.
	TRC20  []json.RawMessage `json:"trc20token_balances"`
	Frozen *struct {
		Total decimal.Decimal `json:"total"`
	} `json:"frozen"`
}

// accountLookup memoizes the tronscan account for one GetBalance call so
// the native, token and "no token" providers share a single request.
type accountLookup struct {
	a    *TronAdapter
	done bool
	acc  *tronscanAccount
	err  error
}

func (l *accountLookup) get(ctx context.Context, address string) (*tronscanAccount, error) {
	if l.done {
		return l.acc, l.err
	}
	l.done = true

	raw, err := l.a.tronscan.Execute(ctx, rpc.NewGETOperation(tronscanAccountPath, url.Values{"address": {address}}))
	if err != nil {
		l.err = err
		return nil, err
	}
	var acc tronscanAccount
	if err := json.Unmarshal(raw, &acc); err != nil {
		l.err = fmt.Errorf("decode tronscan account: %w", err)
		return nil, l.err
	}
	if acc.Balance == nil && acc.Address == nil {
		return nil, nil
	}
	l.acc = &acc
	return l.acc, nil
}

// GetBalance walks the provider chain for the adapter's asset.
func (a *TronAdapter) GetBalance(ctx context.Context, address string) (*domain.BalanceRecord, error) {
	address, err := ToBase58(address)
	if err != nil {
		return nil, err
	}
	lookup := &accountLookup{a: a}

	var providers []chain.BalanceProvider
	if a.isTRC20() {
		if a.trongrid != nil {
			providers = append(providers, chain.BalanceProvider{Name: providerRawCall, FetchBalance: a.contractBalance})
		}
		providers = append(providers,
			chain.BalanceProvider{Name: providerTronscan, FetchBalance: func(ctx context.Context, addr string) (*domain.BalanceRecord, error) {
				return a.tronscanTRC20(ctx, lookup, addr)
			}},
			chain.BalanceProvider{Name: providerNoToken, FetchBalance: func(ctx context.Context, addr string) (*domain.BalanceRecord, error) {
				return a.zeroIfAccountKnown(ctx, lookup, addr)
			}},
		)
	} else {
		providers = append(providers, chain.BalanceProvider{Name: providerTronscan, FetchBalance: func(ctx context.Context, addr string) (*domain.BalanceRecord, error) {
			return a.tronscanBalance(ctx, lookup, addr)
		}})
		if a.trongrid != nil {
			providers = append(providers, chain.BalanceProvider{Name: providerTrongrid, FetchBalance: a.trongridBalance})
		}
		zeroName := providerTronscan
		if a.asset != domain.NativeAsset {
			zeroName = providerNoToken
		}
		providers = append(providers, chain.BalanceProvider{Name: zeroName, FetchBalance: func(ctx context.Context, addr string) (*domain.BalanceRecord, error) {
			return a.zeroIfAccountKnown(ctx, lookup, addr)
		}})
	}

	rec, err := chain.FirstBalance(ctx, address, providers)
	if err != nil {
		return nil, fmt.Errorf("%s balance %s: %w", a.chainID, address, err)
	}
	if rec != nil {
		metrics.BalanceProviderWins.WithLabelValues(string(a.chainID), rec.Provider).Inc()
	}
	return rec, nil
}

// tronscanBalance answers native and TRC10 lookups. Zero is ambiguous on
// tronscan and is left for the node to confirm.
func (a *TronAdapter) tronscanBalance(ctx context.Context, lookup *accountLookup, address string) (*domain.BalanceRecord, error) {
	acc, err := lookup.get(ctx, address)
	if err != nil || acc == nil {
		return nil, err
	}

	var bal decimal.Decimal
	if a.asset == domain.NativeAsset {
		if acc.Balance == nil {
			return nil, nil
		}
		bal = *acc.Balance
	} else {
		found := false
		for _, t := range acc.Tokens {
			if t.TokenID == a.asset {
				bal, found = t.Balance, true
				break
			}
		}
		if !found {
			return nil, nil
		}
	}
	if bal.IsZero() {
		return nil, nil
	}

	rec := &domain.BalanceRecord{Balance: bal, Unconfirmed: decimal.Zero}
	if a.asset == domain.NativeAsset && acc.Frozen != nil {
		frozen := acc.Frozen.Total
		rec.Frozen = &frozen
	}
	return rec, nil
}

func (a *TronAdapter) tronscanTRC20(ctx context.Context, lookup *accountLookup, address string) (*domain.BalanceRecord, error) {
	acc, err := lookup.get(ctx, address)
	if err != nil || acc == nil {
		return nil, err
	}
	for _, entry := range acc.TRC20 {
		var token struct {
			TokenID string          `json:"tokenId"`
			Balance decimal.Decimal `json:"balance"`
		}
		if err := json.Unmarshal(entry, &token); err == nil && token.TokenID != "" {
			if token.TokenID == a.asset {
				return &domain.BalanceRecord{Balance: token.Balance, Unconfirmed: decimal.Zero}, nil
			}
			continue
		}
		var legacy map[string]decimal.Decimal
		if err := json.Unmarshal(entry, &legacy); err != nil {
			continue
		}
		if bal, ok := legacy[a.asset]; ok {
			return &domain.BalanceRecord{Balance: bal, Unconfirmed: decimal.Zero}, nil
		}
	}
	return nil, nil
}

func (a *TronAdapter) zeroIfAccountKnown(ctx context.Context, lookup *accountLookup, address string) (*domain.BalanceRecord, error) {
	acc, err := lookup.get(ctx, address)
	if err != nil || acc == nil {
		return nil, err
	}
	return &domain.BalanceRecord{Balance: decimal.Zero, Unconfirmed: decimal.Zero}, nil
}

type nodeAccount struct {
	Address *string          `json:"address"`
	Balance *decimal.Decimal `json:"balance"`
	Frozen  []struct {
		FrozenBalance decimal.Decimal `json:"frozen_balance"`
	} `json:"frozen"`
	AssetV2 []struct {
		Key   string          `json:"key"`
		Value decimal.Decimal `json:"value"`
	} `json:"assetV2"`
}

func (a *TronAdapter) trongridBalance(ctx context.Context, address string) (*domain.BalanceRecord, error) {
	hexAddr, err := ToHex(address)
	if err != nil {
		return nil, err
	}
	raw, err := a.trongrid.Execute(ctx, rpc.NewRESTOperation(
		"wallet/getaccount", "POST", map[string]string{"address": hexAddr},
	))
	if err != nil {
		return nil, err
	}

	var acc nodeAccount
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("decode getaccount: %w", err)
	}
	// unactivated accounts come back as {}
	if acc.Address == nil {
		return nil, nil
	}

	if a.asset != domain.NativeAsset {
		for _, asset := range acc.AssetV2 {
			if asset.Key == a.asset {
				return &domain.BalanceRecord{Balance: asset.Value, Unconfirmed: decimal.Zero}, nil
			}
		}
		return nil, nil
	}

	bal := decimal.Zero
	if acc.Balance != nil {
		bal = *acc.Balance
	}
	frozen := decimal.Zero
	for _, f := range acc.Frozen {
		frozen = frozen.Add(f.FrozenBalance)
	}
	return &domain.BalanceRecord{Balance: bal, Unconfirmed: decimal.Zero, Frozen: &frozen}, nil
}

// contractBalance runs balanceOf against the TRC20 contract on the node.
func (a *TronAdapter) contractBalance(ctx context.Context, address string) (*domain.BalanceRecord, error) {
	holder, err := ToHex(address)
	if err != nil {
		return nil, err
	}
	contract, err := ToHex(a.asset)
	if err != nil {
		return nil, err
	}

	raw, err := a.trongrid.Execute(ctx, rpc.NewRESTOperation("wallet/triggerconstantcontract", "POST", map[string]string{
		"owner_address":     holder,
		"contract_address":  contract,
		"function_selector": balanceOfSelector,
		"parameter":         holderParamPrefix + holder,
	}))
	if err != nil {
		return nil, err
	}

	var res struct {
		ConstantResult []string `json:"constant_result"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode triggerconstantcontract: %w", err)
	}
	if len(res.ConstantResult) == 0 {
		return nil, nil
	}
	word := strings.TrimSpace(res.ConstantResult[0])
	if word == "" {
		return nil, nil
	}
	b := common.FromHex(word)
	if len(b) == 0 {
		return nil, nil
	}
	bal := decimal.NewFromBigInt(new(big.Int).SetBytes(b), 0)
	return &domain.BalanceRecord{Balance: bal, Unconfirmed: decimal.Zero}, nil
}
