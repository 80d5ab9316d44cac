// Package omni implements the gateway-backed scanner for Omni layer
// properties (USDT on bitcoin).
package omni

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
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

const (
	providerName = "microscanners"

	// DefaultPropertyID is Tether USD on Omni.
	DefaultPropertyID = 31
	DefaultDecimals   = 8
)

// ErrNodeOut means the gateway answered but its backing node is down.
var ErrNodeOut = errors.New("omni gateway node is out")

// Adapter implements chain.Scanner for one Omni property.
type Adapter struct {
	chainID    domain.ChainID
	propertyID int64
	decimals   int32
	threshold  int64

	gateway rpc.RPCClient
	scanner rpc.RPCClient

	lastBlock atomic.Int64
	log       logger.Logger
}

var (
	_ chain.Scanner     = (*Adapter)(nil)
	_ chain.HeadTracker = (*Adapter)(nil)
)

// NewAdapter creates an Omni adapter over pre-built clients.
func NewAdapter(chainID domain.ChainID, propertyID int64, decimals int32, threshold int64, gateway, scanner rpc.RPCClient) *Adapter {
	if propertyID == 0 {
		propertyID = DefaultPropertyID
	}
	if decimals == 0 {
		decimals = DefaultDecimals
	}
	return &Adapter{
		chainID:    chainID,
		propertyID: propertyID,
		decimals:   decimals,
		threshold:  threshold,
		gateway:    gateway,
		scanner:    scanner,
		log:        *logger.Default(),
	}
}

// New is the chain.Factory for the omni family. A numeric asset selects a
// property other than the configured one.
func New(cfg domain.ProviderConfig, sel chain.Selector) (chain.Scanner, error) {
	_, network, err := chain.ResolveNetwork(cfg, sel)
	if err != nil {
		return nil, err
	}

	propertyID := cfg.TokenID
	if sel.Asset != "" && sel.Asset != domain.NativeAsset {
		id, err := strconv.ParseInt(sel.Asset, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%s: bad property id %q", cfg.Chain, sel.Asset)
		}
		propertyID = id
	}

	gateway := chain.NewClient(cfg, network.ByKind(domain.KindOmniGateway))
	if gateway == nil {
		return nil, fmt.Errorf("%s: no %s endpoint configured", cfg.Chain, domain.KindOmniGateway)
	}
	scanner := chain.NewClient(cfg, network.ByKind(domain.KindOmniScanner))
	if scanner == nil {
		return nil, fmt.Errorf("%s: no %s endpoint configured", cfg.Chain, domain.KindOmniScanner)
	}
	return NewAdapter(cfg.Chain, propertyID, cfg.Decimals, cfg.ConfirmationThreshold, gateway, scanner), nil
}

// Chain returns the chain identifier.
func (a *Adapter) Chain() domain.ChainID {
	return a.chainID
}

// NormalizeAddress trims and validates a bitcoin address.
func (a *Adapter) NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if _, err := btcutil.DecodeAddress(addr, &chaincfg.MainNetParams); err != nil {
		return "", fmt.Errorf("%w: %s: %v", chain.ErrInvalidAddress, addr, err)
	}
	return addr, nil
}

// LastSeenBlock returns the highest lastBlock reported by the scanner.
func (a *Adapter) LastSeenBlock() int64 {
	return a.lastBlock.Load()
}

func (a *Adapter) observe(block int64) {
	for {
		cur := a.lastBlock.Load()
		if block <= cur {
			return
		}
		if a.lastBlock.CompareAndSwap(cur, block) {
			metrics.ChainLatestBlock.WithLabelValues(string(a.chainID)).Set(float64(block))
			return
		}
	}
}

// toUnits scales a decimal coin amount to the smallest unit.
func (a *Adapter) toUnits(raw json.RawMessage) (decimal.Decimal, bool) {
	s := scalar(raw)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d.Shift(a.decimals).Round(0), true
}

// scalar renders a JSON string, number or bool without quotes. Absent and
// null values are "".
func scalar(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

// GetBalance asks the gateway for the property balance.
func (a *Adapter) GetBalance(ctx context.Context, address string) (*domain.BalanceRecord, error) {
	address = strings.TrimSpace(address)
	raw, err := a.gateway.Execute(ctx, rpc.NewRESTOperation("omni-get-balance", "POST", map[string]any{
		"address": address,
		"tokenID": a.propertyID,
	}))
	if err != nil {
		return nil, fmt.Errorf("%s balance %s: %w", a.chainID, address, err)
	}

	var res struct {
		State string `json:"state"`
		Data  *struct {
			Balance json.RawMessage `json:"balance"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode omni balance: %w", err)
	}
	if res.State == "fail" {
		return nil, fmt.Errorf("%s balance %s: %w", a.chainID, address, ErrNodeOut)
	}
	if res.Data == nil {
		return nil, fmt.Errorf("%s balance %s: nothing loaded for address", a.chainID, address)
	}
	bal, ok := a.toUnits(res.Data.Balance)
	if !ok {
		return nil, fmt.Errorf("%s balance %s: nothing loaded for address", a.chainID, address)
	}

	metrics.BalanceProviderWins.WithLabelValues(string(a.chainID), providerName).Inc()
	return &domain.BalanceRecord{
		Balance:     bal,
		Unconfirmed: decimal.Zero,
		Provider:    providerName,
	}, nil
}

type scannerPage struct {
	LastBlock    json.RawMessage   `json:"lastBlock"`
	Transactions []json.RawMessage `json:"transactions"`
	Data         json.RawMessage   `json:"data"`
}

type omniTx struct {
	BlockNumber json.RawMessage `json:"block_number"`
	BlockHash   string          `json:"transaction_block_hash"`
	TxID        string          `json:"transaction_txid"`
	FromAddress string          `json:"from_address"`
	ToAddress   string          `json:"to_address"`
	Amount      json.RawMessage `json:"amount"`
	Fee         json.RawMessage `json:"fee"`
	CustomType  json.RawMessage `json:"custom_type"`
	CustomValid json.RawMessage `json:"custom_valid"`
	CreatedTime *string         `json:"created_time"`
	Removed     json.RawMessage `json:"_removed"`
}

// GetTransactions fetches the property history of an address.
func (a *Adapter) GetTransactions(
	ctx context.Context,
	scan domain.ScanContext,
) ([]*domain.UnifiedTransaction, error) {
	address := strings.TrimSpace(scan.Address)

	raw, ok := a.scanner.ExecuteResilient(ctx, rpc.NewGETOperation("txs/"+address, nil))
	if !ok {
		return []*domain.UnifiedTransaction{}, nil
	}

	var page scannerPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, domain.NewMalformedDataError(a.chainID, "transactions", raw)
	}
	// older scanners nest the page one level deeper
	if len(page.Data) > 0 && scalar(page.Data) != "" {
		body := page.Data
		page = scannerPage{}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, domain.NewMalformedDataError(a.chainID, "transactions", body)
		}
		raw = body
	}
	if page.Transactions == nil {
		metrics.MalformedBatches.WithLabelValues(string(a.chainID), "transactions").Inc()
		return nil, domain.NewMalformedDataError(a.chainID, "transactions", raw)
	}
	if n, err := strconv.ParseInt(scalar(page.LastBlock), 10, 64); err == nil {
		a.observe(n)
	}

	head := a.lastBlock.Load()
	out := make([]*domain.UnifiedTransaction, 0, len(page.Transactions))
	for _, item := range page.Transactions {
		tx, err := a.unify(address, item, head, scan.Now())
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
		"property", a.propertyID,
		"count", len(out),
	)
	return out, nil
}

func (a *Adapter) unify(address string, item json.RawMessage, head int64, now time.Time) (*domain.UnifiedTransaction, error) {
	var raw omniTx
	if err := json.Unmarshal(item, &raw); err != nil {
		return nil, domain.NewMalformedDataError(a.chainID, "transaction", item)
	}
	if raw.TxID == "" {
		metrics.TransactionsDropped.WithLabelValues(string(a.chainID), "no_hash").Inc()
		return nil, nil
	}
	if raw.CreatedTime == nil {
		metrics.MalformedBatches.WithLabelValues(string(a.chainID), "created_time").Inc()
		return nil, domain.NewMalformedDataError(a.chainID, "created_time", item)
	}
	blockTime, err := time.Parse(time.RFC3339, *raw.CreatedTime)
	if err != nil {
		return nil, domain.NewMalformedDataError(a.chainID, "created_time", item)
	}

	block, _ := strconv.ParseInt(scalar(raw.BlockNumber), 10, 64)
	confirmations := int64(0)
	if block > 0 && head > block {
		confirmations = head - block
	}

	amount, _ := a.toUnits(raw.Amount)
	// fees are always in BTC
	fee := decimal.Zero
	if d, err := decimal.NewFromString(scalar(raw.Fee)); err == nil {
		fee = d.Shift(8).Round(0)
	}

	obs := lifecycle.Observation{
		Confirmations: confirmations,
		Threshold:     a.threshold,
		Now:           now,
	}
	if scalar(raw.CustomValid) != "1" || scalar(raw.Removed) != "0" {
		obs.Result = domain.ResultFailed
	}

	tx := &domain.UnifiedTransaction{
		TransactionHash:    raw.TxID,
		BlockHash:          raw.BlockHash,
		BlockNumber:        block,
		BlockTime:          blockTime.UTC(),
		BlockConfirmations: confirmations,
		AddressFrom:        raw.FromAddress,
		AddressTo:          raw.ToAddress,
		AddressAmount:      amount,
		TransactionStatus:  lifecycle.Derive(obs),
		TransactionFee:     fee,
		InputValue:         scalar(raw.CustomType),
	}
	if strings.EqualFold(raw.FromAddress, address) {
		tx.TransactionDirection = domain.DirectionOutcome
	} else {
		tx.TransactionDirection = domain.DirectionIncome
	}
	tx.MaskQueried(address, true)
	if tx.AddressFrom == "" && tx.AddressTo == "" {
		tx.TransactionDirection = domain.DirectionSelf
	}
	return tx, nil
}
