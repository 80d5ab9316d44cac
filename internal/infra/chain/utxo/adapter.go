// Package utxo implements the explorer-backed scanner for UTXO chains
// (BSV style: btc.com address API with whatsonchain as balance fallback).
package utxo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	logger "log/slog"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/core/lifecycle"
	"github.com/vietddude/chainscan/internal/indexing/metrics"
	"github.com/vietddude/chainscan/internal/infra/chain"
	"github.com/vietddude/chainscan/internal/infra/rpc"
)

const providerEmptyIsOK = "btc.com-emptyisok"

// Adapter implements chain.Scanner against address explorers.
type Adapter struct {
	chainID   domain.ChainID
	threshold int64
	params    *chaincfg.Params

	explorer rpc.RPCClient // btc.com style address API
	fallback rpc.RPCClient // whatsonchain, may be nil
	log      logger.Logger
}

var _ chain.Scanner = (*Adapter)(nil)

// NewAdapter creates a UTXO adapter over pre-built clients.
func NewAdapter(chainID domain.ChainID, threshold int64, explorer, fallback rpc.RPCClient) *Adapter {
	return &Adapter{
		chainID:   chainID,
		threshold: threshold,
		params:    &chaincfg.MainNetParams,
		explorer:  explorer,
		fallback:  fallback,
		log:       *logger.Default(),
	}
}

// New is the chain.Factory for the utxo family.
func New(cfg domain.ProviderConfig, sel chain.Selector) (chain.Scanner, error) {
	_, network, err := chain.ResolveNetwork(cfg, sel)
	if err != nil {
		return nil, err
	}
	explorer := chain.NewClient(cfg, network.ByKind(domain.KindBtcCom))
	if explorer == nil {
		return nil, fmt.Errorf("%s: no %s endpoint configured", cfg.Chain, domain.KindBtcCom)
	}
	a := NewAdapter(cfg.Chain, cfg.ConfirmationThreshold, explorer, nil)
	if woc := chain.NewClient(cfg, network.ByKind(domain.KindWhatsOnChain)); woc != nil {
		a.fallback = woc
	}
	return a, nil
}

// Chain returns the chain identifier.
func (a *Adapter) Chain() domain.ChainID {
	return a.chainID
}

// NormalizeAddress validates a base58 address and returns its encoded form.
func (a *Adapter) NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	decoded, err := btcutil.DecodeAddress(addr, a.params)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", chain.ErrInvalidAddress, addr, err)
	}
	return decoded.EncodeAddress(), nil
}

// GetBalance asks btc.com first and whatsonchain second.
func (a *Adapter) GetBalance(ctx context.Context, address string) (*domain.BalanceRecord, error) {
	address = strings.TrimSpace(address)
	providers := []chain.BalanceProvider{
		{Name: string(domain.KindBtcCom), FetchBalance: a.btcComBalance},
	}
	if a.fallback != nil {
		providers = append(providers, chain.BalanceProvider{
			Name:         string(domain.KindWhatsOnChain),
			FetchBalance: a.wocBalance,
		})
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

type btcComEnvelope struct {
	Data  json.RawMessage `json:"data"`
	ErrNo *int            `json:"err_no"`
}

func (a *Adapter) btcComBalance(ctx context.Context, address string) (*domain.BalanceRecord, error) {
	raw, err := a.explorer.Execute(ctx, rpc.NewGETOperation(address, nil))
	if err != nil {
		return nil, err
	}

	var env btcComEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode btc.com balance: %w", err)
	}

	var data struct {
		Balance             *decimal.Decimal `json:"balance"`
		UnconfirmedReceived decimal.Decimal  `json:"unconfirmed_received"`
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("decode btc.com balance data: %w", err)
		}
	}

	if data.Balance == nil {
		// unknown addresses come back as data=null with err_no=0
		if env.ErrNo != nil && *env.ErrNo == 0 {
			return &domain.BalanceRecord{
				Balance:     decimal.Zero,
				Unconfirmed: decimal.Zero,
				Provider:    providerEmptyIsOK,
			}, nil
		}
		return nil, nil
	}

	return &domain.BalanceRecord{
		Balance:     *data.Balance,
		Unconfirmed: data.UnconfirmedReceived,
	}, nil
}

func (a *Adapter) wocBalance(ctx context.Context, address string) (*domain.BalanceRecord, error) {
	raw, err := a.fallback.Execute(ctx, rpc.NewGETOperation("address/"+address+"/balance", nil))
	if err != nil {
		return nil, err
	}

	var res struct {
		Confirmed   *decimal.Decimal `json:"confirmed"`
		Unconfirmed decimal.Decimal  `json:"unconfirmed"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode whatsonchain balance: %w", err)
	}
	if res.Confirmed == nil {
		return nil, nil
	}
	return &domain.BalanceRecord{Balance: *res.Confirmed, Unconfirmed: res.Unconfirmed}, nil
}

type btcComTx struct {
	Hash          string          `json:"hash"`
	BlockHash     string          `json:"block_hash"`
	BlockHeight   int64           `json:"block_height"`
	BlockTime     *int64          `json:"block_time"`
	Confirmations int64           `json:"confirmations"`
	BalanceDiff   decimal.Decimal `json:"balance_diff"`
	Fee           decimal.Decimal `json:"fee"`
	Inputs        []struct {
		PrevAddresses []string `json:"prev_addresses"`
	} `json:"inputs"`
	Outputs []struct {
		Addresses []string `json:"addresses"`
	} `json:"outputs"`
}

// GetTransactions fetches the address history. An unreachable explorer,
// including a 403, yields an empty batch.
func (a *Adapter) GetTransactions(
	ctx context.Context,
	scan domain.ScanContext,
) ([]*domain.UnifiedTransaction, error) {
	address := strings.TrimSpace(scan.Address)

	raw, ok := a.explorer.ExecuteResilient(ctx, rpc.NewGETOperation(address+"/tx", nil))
	if !ok {
		return []*domain.UnifiedTransaction{}, nil
	}

	var env struct {
		Data *struct {
			List []json.RawMessage `json:"list"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.Data == nil || env.Data.List == nil {
		a.log.Debug("No transaction data", "chain", a.chainID, "address", address)
		return []*domain.UnifiedTransaction{}, nil
	}

	out := make([]*domain.UnifiedTransaction, 0, len(env.Data.List))
	for _, item := range env.Data.List {
		tx, err := a.unify(address, item, scan.Now())
		if err != nil {
			return nil, err
		}
		if tx == nil {
			continue
		}
		out = append(out, tx)
	}

	a.log.Debug("Fetched transactions",
		"chain", a.chainID,
		"address", address,
		"count", len(out),
	)
	return out, nil
}

func (a *Adapter) unify(address string, item json.RawMessage, now time.Time) (*domain.UnifiedTransaction, error) {
	var raw btcComTx
	if err := json.Unmarshal(item, &raw); err != nil {
		return nil, domain.NewMalformedDataError(a.chainID, "transaction", item)
	}
	if raw.Hash == "" {
		metrics.TransactionsDropped.WithLabelValues(string(a.chainID), "no_hash").Inc()
		return nil, nil
	}
	if raw.BlockTime == nil {
		metrics.MalformedBatches.WithLabelValues(string(a.chainID), "block_time").Inc()
		return nil, domain.NewMalformedDataError(a.chainID, "block_time", item)
	}

	tx := &domain.UnifiedTransaction{
		TransactionHash:    raw.Hash,
		BlockHash:          raw.BlockHash,
		BlockNumber:        raw.BlockHeight,
		BlockTime:          time.Unix(*raw.BlockTime, 0).UTC(),
		BlockConfirmations: raw.Confirmations,
		AddressFrom:        address,
		AddressTo:          address,
		AddressAmount:      raw.BalanceDiff.Abs(),
		TransactionFee:     raw.Fee,
	}

	if raw.BalanceDiff.IsNegative() {
		tx.TransactionDirection = domain.DirectionOutcome
		for _, out := range raw.Outputs {
			if len(out.Addresses) > 0 && out.Addresses[0] != "" && out.Addresses[0] != address {
				tx.AddressTo = out.Addresses[0]
				break
			}
		}
	} else {
		tx.TransactionDirection = domain.DirectionIncome
		for _, in := range raw.Inputs {
			if len(in.PrevAddresses) > 0 && in.PrevAddresses[0] != "" && in.PrevAddresses[0] != address {
				tx.AddressFrom = in.PrevAddresses[0]
				break
			}
		}
	}

	tx.TransactionStatus = lifecycle.Derive(lifecycle.Observation{
		Confirmations: raw.Confirmations,
		Threshold:     a.threshold,
		Now:           now,
	})
	tx.MaskQueried(address, false)
	if tx.AddressFrom == "" && tx.AddressTo == "" {
		tx.TransactionDirection = domain.DirectionSelf
	}
	return tx, nil
}
