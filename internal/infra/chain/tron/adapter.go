// Package tron implements the scanner for TRX and its TRC10/TRC20 tokens,
// backed by tronscan with trongrid as node fallback.
package tron

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	logger "log/slog"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/indexing/cache"
	"github.com/vietddude/chainscan/internal/indexing/metrics"
	"github.com/vietddude/chainscan/internal/indexing/throttle"
	"github.com/vietddude/chainscan/internal/infra/chain"
	"github.com/vietddude/chainscan/internal/infra/rpc"
)

// TronAdapter implements chain.Scanner for one Tron asset.
// Asset keys: "_" for TRX, a T… contract for TRC20, a numeric id for TRC10.
type TronAdapter struct {
	chainID     domain.ChainID
	asset       string
	threshold   int64
	dropTimeout time.Duration

	tronscan rpc.RPCClient
	trongrid rpc.RPCClient // may be nil

	batch *cache.BatchCache
	head  *throttle.HeadCache
	log   logger.Logger
}

var (
	_ chain.Scanner       = (*TronAdapter)(nil)
	_ chain.ReceiptSource = (*TronAdapter)(nil)
	_ chain.HeadTracker   = (*TronAdapter)(nil)
)

// Config holds the static settings of a TronAdapter.
type Config struct {
	Chain       domain.ChainID
	Asset       string
	Threshold   int64
	DropTimeout time.Duration
	BatchWindow time.Duration
	HeadTTL     time.Duration
}

// NewTronAdapter creates an adapter over pre-built clients. batch may be
// shared between adapters of the same chain; nil creates a private one.
func NewTronAdapter(cfg Config, tronscan, trongrid rpc.RPCClient, batch *cache.BatchCache) *TronAdapter {
	asset := cfg.Asset
	if asset == "" {
		asset = domain.NativeAsset
	}
	if batch == nil {
		batch = cache.NewBatchCache(cfg.BatchWindow)
	}
	a := &TronAdapter{
		chainID:     cfg.Chain,
		asset:       asset,
		threshold:   cfg.Threshold,
		dropTimeout: cfg.DropTimeout,
		tronscan:    tronscan,
		trongrid:    trongrid,
		batch:       batch,
		log:         *logger.Default(),
	}
	a.head = throttle.NewHeadCache(throttle.HeadFunc(a.fetchHead), cfg.HeadTTL)
	return a
}

// Factory builds Tron adapters that share one batch cache per chain, so a
// single history call serves every asset of an address.
type Factory struct {
	mu      sync.Mutex
	batches map[domain.ChainID]*cache.BatchCache
	headTTL time.Duration
}

// NewFactory creates a Factory.
func NewFactory(headTTL time.Duration) *Factory {
	return &Factory{
		batches: make(map[domain.ChainID]*cache.BatchCache),
		headTTL: headTTL,
	}
}

// New is the chain.Factory for the tron family.
func (f *Factory) New(cfg domain.ProviderConfig, sel chain.Selector) (chain.Scanner, error) {
	_, network, err := chain.ResolveNetwork(cfg, sel)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(sel.Asset, "T") {
		if _, err := ToHex(sel.Asset); err != nil {
			return nil, fmt.Errorf("%s token contract: %w", cfg.Chain, err)
		}
	}

	tronscan := chain.NewClient(cfg, network.ByKind(domain.KindTronscan))
	if tronscan == nil {
		return nil, fmt.Errorf("%s: no %s endpoint configured", cfg.Chain, domain.KindTronscan)
	}
	var trongrid rpc.RPCClient
	if c := chain.NewClient(cfg, network.ByKind(domain.KindTrongrid)); c != nil {
		trongrid = c
	}

	f.mu.Lock()
	batch, ok := f.batches[cfg.Chain]
	if !ok {
		batch = cache.NewBatchCache(cfg.BatchWindow)
		f.batches[cfg.Chain] = batch
	}
	f.mu.Unlock()

	return NewTronAdapter(Config{
		Chain:       cfg.Chain,
		Asset:       sel.Asset,
		Threshold:   cfg.ConfirmationThreshold,
		DropTimeout: cfg.DropTimeout,
		BatchWindow: cfg.BatchWindow,
		HeadTTL:     f.headTTL,
	}, tronscan, trongrid, batch), nil
}

// Chain returns the chain identifier.
func (a *TronAdapter) Chain() domain.ChainID {
	return a.chainID
}

// NormalizeAddress accepts display or hex form and returns display form.
func (a *TronAdapter) NormalizeAddress(addr string) (string, error) {
	return ToBase58(addr)
}

// LastSeenBlock returns the highest head seen so far.
func (a *TronAdapter) LastSeenBlock() int64 {
	return a.head.Peek()
}

func (a *TronAdapter) isTRC20() bool {
	return strings.HasPrefix(a.asset, "T")
}

// fetchHead asks trongrid for the current block.
func (a *TronAdapter) fetchHead(ctx context.Context) (int64, error) {
	if a.trongrid == nil {
		return 0, fmt.Errorf("%s: no %s endpoint for head lookup", a.chainID, domain.KindTrongrid)
	}
	raw, err := a.trongrid.Execute(ctx, rpc.NewRESTOperation("wallet/getnowblock", "POST", nil))
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	var block struct {
		BlockHeader struct {
			RawData struct {
				Number int64 `json:"number"`
			} `json:"raw_data"`
		} `json:"block_header"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return 0, fmt.Errorf("decode getnowblock: %w", err)
	}
	if block.BlockHeader.RawData.Number <= 0 {
		return 0, domain.NewMalformedDataError(a.chainID, "block_header.raw_data.number", raw)
	}
	metrics.ChainLatestBlock.WithLabelValues(string(a.chainID)).Set(float64(block.BlockHeader.RawData.Number))
	return block.BlockHeader.RawData.Number, nil
}

// LatestBlock returns the chain head, cached briefly.
func (a *TronAdapter) LatestBlock(ctx context.Context) (int64, error) {
	return a.head.LatestBlock(ctx)
}

type transactionInfo struct {
	ID             string `json:"id"`
	BlockNumber    int64  `json:"blockNumber"`
	BlockTimeStamp int64  `json:"blockTimeStamp"`
	Result         string `json:"result"`
	Receipt        struct {
		Result string `json:"result"`
	} `json:"receipt"`
}

// Receipt looks up transaction info by id. It returns nil while the
// transaction is not in a block.
func (a *TronAdapter) Receipt(ctx context.Context, hash string) (*domain.Receipt, error) {
	if a.trongrid == nil {
		return nil, fmt.Errorf("%s: no %s endpoint for receipts", a.chainID, domain.KindTrongrid)
	}
	raw, err := a.trongrid.Execute(ctx, rpc.NewRESTOperation(
		"wallet/gettransactioninfobyid", "POST", map[string]string{"value": hash},
	))
	if err != nil {
		return nil, fmt.Errorf("gettransactioninfobyid %s: %w", hash, err)
	}

	var info transactionInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode transaction info %s: %w", hash, err)
	}
	if info.BlockNumber <= 1 {
		return nil, nil
	}
	a.head.Observe(info.BlockNumber)

	out := &domain.Receipt{
		TransactionHash: hash,
		BlockNumber:     info.BlockNumber,
		BlockTime:       time.UnixMilli(info.BlockTimeStamp).UTC(),
		Result:          domain.ResultSuccess,
		Raw:             raw,
	}
	if info.Result == "FAILED" {
		out.Result = domain.ResultFailed
		out.FailureReason = info.Receipt.Result
	}
	return out, nil
}
