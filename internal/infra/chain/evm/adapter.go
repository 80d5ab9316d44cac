package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	logger "log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/indexing/metrics"
	"github.com/vietddude/chainscan/internal/infra/chain"
	"github.com/vietddude/chainscan/internal/infra/rpc"
)

// balanceOf(address)
const balanceOfSelector = "0x70a08231"

// EVMAdapter implements chain.Scanner for one logical network of an
// account-style chain (mainnet, testnets, BSC, Polygon).
type EVMAdapter struct {
	chainID   domain.ChainID
	network   string
	asset     string // "" for the native coin, lower-case contract otherwise
	threshold int64
	source    domain.ConfirmationSource

	node     rpc.RPCClient // JSON-RPC, may be nil
	nodeName string
	explorer rpc.RPCClient // etherscan-compatible API, may be nil

	lastSeen atomic.Int64
	log      logger.Logger
}

var (
	_ chain.Scanner       = (*EVMAdapter)(nil)
	_ chain.ReceiptSource = (*EVMAdapter)(nil)
	_ chain.HeadTracker   = (*EVMAdapter)(nil)
)

// Options carries the resolved static configuration of an EVMAdapter.
type Options struct {
	Chain     domain.ChainID
	Network   string
	Asset     string
	Threshold int64
	Source    domain.ConfirmationSource
	NodeName  string
}

// NewEVMAdapter creates an adapter over pre-built clients.
func NewEVMAdapter(opts Options, node, explorer rpc.RPCClient) *EVMAdapter {
	asset := ""
	if opts.Asset != "" && opts.Asset != domain.NativeAsset {
		asset = strings.ToLower(opts.Asset)
	}
	nodeName := opts.NodeName
	if nodeName == "" {
		nodeName = string(domain.KindEthRPC)
	}
	return &EVMAdapter{
		chainID:   opts.Chain,
		network:   opts.Network,
		asset:     asset,
		threshold: opts.Threshold,
		source:    opts.Source,
		node:      node,
		nodeName:  nodeName,
		explorer:  explorer,
		log:       *logger.Default(),
	}
}

// New is the chain.Factory for the evm family. It resolves endpoints from
// configuration only and fails fast on an unknown network.
func New(cfg domain.ProviderConfig, sel chain.Selector) (chain.Scanner, error) {
	name, network, err := chain.ResolveNetwork(cfg, sel)
	if err != nil {
		return nil, err
	}
	if sel.Asset != "" && sel.Asset != domain.NativeAsset && !common.IsHexAddress(sel.Asset) {
		return nil, fmt.Errorf("%s token contract %q: %w", cfg.Chain, sel.Asset, chain.ErrInvalidAddress)
	}

	nodeEndpoints := network.ByKind(domain.KindEthRPC)
	explorerEndpoints := network.ByKind(domain.KindEtherscan)
	if len(nodeEndpoints) == 0 && len(explorerEndpoints) == 0 {
		return nil, fmt.Errorf("%s/%s: no rpc or explorer endpoint configured", cfg.Chain, name)
	}

	opts := Options{
		Chain:     cfg.Chain,
		Network:   name,
		Asset:     sel.Asset,
		Threshold: cfg.ConfirmationThreshold,
		Source:    network.ConfirmationSource,
	}
	var node, explorer rpc.RPCClient
	if c := chain.NewClient(cfg, nodeEndpoints); c != nil {
		node = c
		opts.NodeName = nodeEndpoints[0].Name
	}
	if c := chain.NewClient(cfg, explorerEndpoints); c != nil {
		explorer = c
	}
	return NewEVMAdapter(opts, node, explorer), nil
}

// Chain returns the chain identifier.
func (a *EVMAdapter) Chain() domain.ChainID {
	return a.chainID
}

// Network returns the logical network this adapter serves.
func (a *EVMAdapter) Network() string {
	return a.network
}

// NormalizeAddress validates a hex address and returns it lower-cased.
func (a *EVMAdapter) NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %s", chain.ErrInvalidAddress, addr)
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}

// LastSeenBlock returns the head learned during the last history fetch.
func (a *EVMAdapter) LastSeenBlock() int64 {
	return a.lastSeen.Load()
}

func (a *EVMAdapter) observeHead(head int64) {
	for {
		cur := a.lastSeen.Load()
		if head <= cur || a.lastSeen.CompareAndSwap(cur, head) {
			break
		}
	}
	metrics.ChainLatestBlock.WithLabelValues(string(a.chainID)).Set(float64(a.lastSeen.Load()))
}

// GetBalance returns the native or token balance. Token balances try the
// contract call first and the explorer second.
func (a *EVMAdapter) GetBalance(ctx context.Context, address string) (*domain.BalanceRecord, error) {
	holder, err := a.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	var providers []chain.BalanceProvider
	if a.asset == "" {
		if a.node != nil {
			providers = append(providers, chain.BalanceProvider{Name: a.nodeName, FetchBalance: a.nodeBalance})
		}
		if a.explorer != nil {
			providers = append(providers, chain.BalanceProvider{Name: string(domain.KindEtherscan), FetchBalance: a.explorerBalance})
		}
	} else {
		if a.node != nil {
			providers = append(providers, chain.BalanceProvider{Name: a.nodeName, FetchBalance: a.contractBalance})
		}
		if a.explorer != nil {
			providers = append(providers, chain.BalanceProvider{Name: string(domain.KindEtherscan), FetchBalance: a.explorerTokenBalance})
		}
	}

	rec, err := chain.FirstBalance(ctx, holder, providers)
	if err != nil {
		return nil, fmt.Errorf("%s balance %s: %w", a.chainID, holder, err)
	}
	if rec != nil {
		metrics.BalanceProviderWins.WithLabelValues(string(a.chainID), rec.Provider).Inc()
	}
	return rec, nil
}

func (a *EVMAdapter) nodeBalance(ctx context.Context, address string) (*domain.BalanceRecord, error) {
	raw, err := a.node.Execute(ctx, rpc.NewHTTPOperation("eth_getBalance", address, "latest"))
	if err != nil {
		return nil, err
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return nil, fmt.Errorf("decode eth_getBalance: %w", err)
	}
	if hex == "" {
		return nil, nil
	}
	wei, err := hexutil.DecodeBig(hex)
	if err != nil {
		return nil, fmt.Errorf("decode eth_getBalance %q: %w", hex, err)
	}
	return &domain.BalanceRecord{Balance: decimal.NewFromBigInt(wei, 0), Unconfirmed: decimal.Zero}, nil
}

func (a *EVMAdapter) contractBalance(ctx context.Context, address string) (*domain.BalanceRecord, error) {
	data := balanceOfSelector + common.Bytes2Hex(common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32))
	call := map[string]string{"to": a.asset, "data": data}

	raw, err := a.node.Execute(ctx, rpc.NewHTTPOperation("eth_call", call, "latest"))
	if err != nil {
		return nil, err
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return nil, fmt.Errorf("decode eth_call: %w", err)
	}
	// "0x" means no contract code at the address
	if hex == "" || hex == "0x" {
		return nil, nil
	}
	b, err := hexutil.Decode(hex)
	if err != nil {
		return nil, fmt.Errorf("decode eth_call %q: %w", hex, err)
	}
	return &domain.BalanceRecord{
		Balance:     decimal.NewFromBigInt(new(big.Int).SetBytes(b), 0),
		Unconfirmed: decimal.Zero,
	}, nil
}

type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (r explorerResponse) text() string {
	var s string
	if json.Unmarshal(r.Result, &s) == nil && s != "" {
		return s
	}
	return r.Message
}

func (a *EVMAdapter) explorerQuery(ctx context.Context, action string, extra map[string]string) (*explorerResponse, error) {
	q := map[string][]string{
		"module": {"account"},
		"action": {action},
	}
	for k, v := range extra {
		q[k] = []string{v}
	}
	raw, err := a.explorer.Execute(ctx, rpc.NewGETOperation("", q))
	if err != nil {
		return nil, err
	}
	var res explorerResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode explorer %s: %w", action, err)
	}
	if res.Status != "1" {
		return nil, fmt.Errorf("explorer %s: %s", action, res.text())
	}
	return &res, nil
}

func (a *EVMAdapter) explorerBalance(ctx context.Context, address string) (*domain.BalanceRecord, error) {
	res, err := a.explorerQuery(ctx, "balance", map[string]string{"address": address, "tag": "latest"})
	if err != nil {
		return nil, err
	}
	return decodeExplorerAmount(res.Result)
}

func (a *EVMAdapter) explorerTokenBalance(ctx context.Context, address string) (*domain.BalanceRecord, error) {
	res, err := a.explorerQuery(ctx, "tokenbalance", map[string]string{
		"contractaddress": a.asset,
		"address":         address,
		"tag":             "latest",
	})
	if err != nil {
		return nil, err
	}
	return decodeExplorerAmount(res.Result)
}

func decodeExplorerAmount(raw json.RawMessage) (*domain.BalanceRecord, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode explorer amount: %w", err)
	}
	if s == "" {
		return nil, nil
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("decode explorer amount %q: %w", s, err)
	}
	return &domain.BalanceRecord{Balance: amount, Unconfirmed: decimal.Zero}, nil
}

// LatestBlock returns the node's head height.
func (a *EVMAdapter) LatestBlock(ctx context.Context) (int64, error) {
	if a.node == nil {
		return 0, fmt.Errorf("%s: no rpc endpoint for head lookup", a.chainID)
	}
	raw, err := a.node.Execute(ctx, rpc.NewHTTPOperation("eth_blockNumber"))
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return 0, fmt.Errorf("decode eth_blockNumber: %w", err)
	}
	head, err := hexutil.DecodeUint64(hex)
	if err != nil {
		return 0, fmt.Errorf("decode eth_blockNumber %q: %w", hex, err)
	}
	a.observeHead(int64(head))
	return int64(head), nil
}

type rpcReceipt struct {
	TransactionHash string `json:"transactionHash"`
	BlockHash       string `json:"blockHash"`
	BlockNumber     string `json:"blockNumber"`
	Status          string `json:"status"`
}

// Receipt looks up a receipt by hash. It returns nil while the transaction
// is not mined.
func (a *EVMAdapter) Receipt(ctx context.Context, hash string) (*domain.Receipt, error) {
	if a.node == nil {
		return nil, fmt.Errorf("%s: no rpc endpoint for receipts", a.chainID)
	}
	raw, err := a.node.Execute(ctx, rpc.NewHTTPOperation("eth_getTransactionReceipt", hash))
	if err != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt %s: %w", hash, err)
	}
	if string(raw) == "null" {
		return nil, nil
	}

	var rc rpcReceipt
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("decode receipt %s: %w", hash, err)
	}
	if rc.BlockNumber == "" {
		return nil, nil
	}
	number, err := hexutil.DecodeUint64(rc.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("decode receipt block %q: %w", rc.BlockNumber, err)
	}

	out := &domain.Receipt{
		TransactionHash: hash,
		BlockNumber:     int64(number),
		Result:          domain.ResultSuccess,
		Raw:             raw,
	}
	if rc.Status == "0x0" {
		out.Result = domain.ResultFailed
	}

	blockTime, err := a.blockTime(ctx, rc.BlockNumber)
	if err != nil {
		return nil, err
	}
	out.BlockTime = blockTime
	return out, nil
}

func (a *EVMAdapter) blockTime(ctx context.Context, number string) (time.Time, error) {
	raw, err := a.node.Execute(ctx, rpc.NewHTTPOperation("eth_getBlockByNumber", number, false))
	if err != nil {
		return time.Time{}, fmt.Errorf("eth_getBlockByNumber %s: %w", number, err)
	}
	var header struct {
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &header); err != nil || header.Timestamp == "" {
		return time.Time{}, domain.NewMalformedDataError(a.chainID, "timestamp", raw)
	}
	ts, err := hexutil.DecodeUint64(header.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode block timestamp %q: %w", header.Timestamp, err)
	}
	return time.Unix(int64(ts), 0).UTC(), nil
}
