package tron

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/core/lifecycle"
	"github.com/vietddude/chainscan/internal/indexing/cache"
	"github.com/vietddude/chainscan/internal/indexing/metrics"
	"github.com/vietddude/chainscan/internal/infra/rpc"
)

const (
	historyLimit = "50"

	// swap incomes need an extra lookup and are only resolved while fresh
	swapIncomeMaxAge = 600 * time.Second

	// very young transactions report their age in seconds as confirmations
	youngTxAge         = 600 * time.Second
	youngTxMaxBlockGap = 100
)

// Tron contract types that carry no transferable amount.
const (
	contractVote        = 4
	contractFreeze      = 11
	contractUnfreeze    = 12
	contractClaimReward = 13
	contractTrigger     = 31
)

type tronscanTx struct {
	Hash         string          `json:"hash"`
	Block        int64           `json:"block"`
	Timestamp    *int64          `json:"timestamp"`
	OwnerAddress string          `json:"ownerAddress"`
	ToAddress    string          `json:"toAddress"`
	ContractType int             `json:"contractType"`
	Confirmed    bool            `json:"confirmed"`
	ContractRet  *string         `json:"contractRet"`
	Amount       json.RawMessage `json:"amount"`
	Data         string          `json:"data"`
	ContractData *contractData   `json:"contractData"`
	Cost         struct {
		Fee decimal.Decimal `json:"fee"`
	} `json:"cost"`
}

type contractData struct {
	Amount          json.RawMessage `json:"amount"`
	FrozenBalance   json.RawMessage `json:"frozen_balance"`
	CallValue       json.RawMessage `json:"call_value"`
	ContractAddress *string         `json:"contract_address"`
	AssetName       *string         `json:"asset_name"`
}

// amountOf reads a number that upstreams send either quoted or bare.
// ok is false when the field is absent.
func amountOf(raw json.RawMessage) (decimal.Decimal, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Zero, false
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return decimal.Zero, true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// GetTransactions returns the history of one sub-account. Native and TRC10
// queries share a partitioned batch per address; TRC20 queries read the
// contract's transfer list.
func (a *TronAdapter) GetTransactions(
	ctx context.Context,
	scan domain.ScanContext,
) ([]*domain.UnifiedTransaction, error) {
	address, err := ToBase58(scan.Address)
	if err != nil {
		return nil, err
	}
	now := scan.Now()

	if a.isTRC20() {
		return a.trc20Transfers(ctx, address, now)
	}

	key := cache.Key{Chain: a.chainID, Address: address}
	txs, err := a.batch.Get(ctx, key, a.asset, func(ctx context.Context) (cache.Partitions, bool, error) {
		return a.fetchPartitions(ctx, address, now)
	})
	if err != nil {
		return nil, err
	}

	a.log.Debug("Fetched transactions",
		"chain", a.chainID,
		"address", address,
		"asset", a.asset,
		"count", len(txs),
	)
	return txs, nil
}

// currentHead never fails; without a node answer it falls back to the
// highest head already seen.
func (a *TronAdapter) currentHead(ctx context.Context) int64 {
	if a.trongrid == nil {
		return a.head.Peek()
	}
	head, err := a.head.LatestBlock(ctx)
	if err != nil {
		a.log.Warn("Head lookup failed", "chain", a.chainID, "error", err)
		return a.head.Peek()
	}
	return head
}

func (a *TronAdapter) fetchPartitions(ctx context.Context, address string, now time.Time) (cache.Partitions, bool, error) {
	raw, ok := a.tronscan.ExecuteResilient(ctx, rpc.NewGETOperation("api/transaction", url.Values{
		"sort":    {"-timestamp"},
		"count":   {"true"},
		"limit":   {historyLimit},
		"address": {address},
	}))
	if !ok {
		return nil, false, nil
	}

	var env struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Data) == 0 {
		a.log.Debug("No transaction data", "chain", a.chainID, "address", address)
		return nil, false, nil
	}

	head := a.currentHead(ctx)
	parts := cache.Partitions{}
	for _, item := range env.Data {
		tx, sub, err := a.unify(ctx, address, item, &head, now)
		if err != nil {
			return nil, false, err
		}
		if tx == nil {
			continue
		}
		parts[sub] = append(parts[sub], tx)
	}
	return parts, true, nil
}

// unify maps one tronscan row and returns the sub-account it belongs to.
// A nil transaction means the row is skipped.
func (a *TronAdapter) unify(
	ctx context.Context,
	address string,
	item json.RawMessage,
	head *int64,
	now time.Time,
) (*domain.UnifiedTransaction, string, error) {
	var raw tronscanTx
	if err := json.Unmarshal(item, &raw); err != nil {
		return nil, "", domain.NewMalformedDataError(a.chainID, "transaction", item)
	}
	if raw.Hash == "" {
		metrics.TransactionsDropped.WithLabelValues(string(a.chainID), "no_hash").Inc()
		return nil, "", nil
	}
	if raw.Timestamp == nil {
		metrics.MalformedBatches.WithLabelValues(string(a.chainID), "timestamp").Inc()
		return nil, "", domain.NewMalformedDataError(a.chainID, "timestamp", item)
	}
	blockTime := time.UnixMilli(*raw.Timestamp).UTC()
	age := now.Sub(blockTime)

	if raw.Block > *head {
		*head = raw.Block
		a.head.Observe(raw.Block)
	}

	tx := &domain.UnifiedTransaction{
		TransactionHash:    raw.Hash,
		BlockNumber:        raw.Block,
		BlockTime:          blockTime,
		BlockConfirmations: a.confirmations(*head, raw.Block, age),
		AddressFrom:        raw.OwnerAddress,
		AddressTo:          raw.ToAddress,
		TransactionFee:     raw.Cost.Fee,
		InputValue:         raw.Data,
		TransactionStatus:  a.status(raw.Confirmed, raw.ContractRet, raw.Block, age),
	}

	sub := ""
	cd := raw.ContractData
	if cd == nil {
		cd = &contractData{}
	}

	if amount, ok := amountOf(cd.Amount); ok {
		tx.AddressAmount = amount
		if strings.EqualFold(raw.OwnerAddress, address) {
			tx.TransactionDirection = domain.DirectionOutcome
		} else {
			tx.TransactionDirection = domain.DirectionIncome
		}
	} else {
		topAmount, hasTopAmount := amountOf(raw.Amount)
		frozen, hasFrozen := amountOf(cd.FrozenBalance)
		callValue, hasCallValue := amountOf(cd.CallValue)

		switch {
		case hasFrozen:
			tx.AddressAmount = frozen
			tx.TransactionDirection = domain.DirectionFreeze
		case hasTopAmount && raw.ContractType == contractClaimReward:
			tx.AddressAmount = topAmount
			tx.TransactionDirection = domain.DirectionClaim
		case raw.ContractType == contractTrigger && !hasCallValue:
			if age > swapIncomeMaxAge {
				metrics.TransactionsDropped.WithLabelValues(string(a.chainID), "stale_swap").Inc()
				return nil, "", nil
			}
			tx.AddressAmount = a.swapIncomeAmount(ctx, raw.Hash)
			tx.TransactionDirection = domain.DirectionSwapIncome
			sub = domain.NativeAsset
		case raw.ContractType == contractTrigger:
			tx.AddressAmount = callValue
			tx.TransactionDirection = domain.DirectionSwapOutcome
			sub = domain.NativeAsset
		case raw.ContractType == contractUnfreeze:
			tx.AddressAmount = topAmount
			tx.TransactionDirection = domain.DirectionUnfreeze
		default:
			switch raw.ContractType {
			case contractFreeze, contractVote, contractClaimReward:
				metrics.TransactionsDropped.WithLabelValues(string(a.chainID), "no_amount").Inc()
			default:
				metrics.TransactionsDropped.WithLabelValues(string(a.chainID), "unknown_contract").Inc()
				a.log.Warn("Skipping buggy transaction",
					"chain", a.chainID,
					"hash", raw.Hash,
					"contract_type", raw.ContractType,
				)
			}
			return nil, "", nil
		}
	}

	tx.MaskQueried(address, true)
	return tx, partitionOf(sub, raw.ContractData, a.asset), nil
}

// partitionOf picks the sub-account key: a forced key first, the requested
// asset for rows without contract data, then the contract address, then the
// TRC10 asset name, then native.
func partitionOf(forced string, cd *contractData, requested string) string {
	switch {
	case forced != "":
		return forced
	case cd == nil:
		return requested
	case cd.ContractAddress != nil:
		return *cd.ContractAddress
	case cd.AssetName != nil:
		return *cd.AssetName
	}
	return domain.NativeAsset
}

func (a *TronAdapter) confirmations(head, block int64, age time.Duration) int64 {
	if block <= 0 || head < block {
		return 0
	}
	n := head - block
	if n > youngTxMaxBlockGap && age < youngTxAge {
		n = int64(age / time.Second)
	}
	return n
}

// status follows the explorer's own confirmed flag. Unconfirmed rows that
// are already in a block fail once they outlive the drop timeout.
func (a *TronAdapter) status(confirmed bool, contractRet *string, block int64, age time.Duration) domain.TxStatus {
	if confirmed {
		result := domain.ResultSuccess
		reason := ""
		if contractRet != nil && *contractRet != "SUCCESS" {
			result = domain.ResultFailed
			reason = *contractRet
		}
		return lifecycle.Derive(lifecycle.Observation{Result: result, FailureReason: reason})
	}
	if block <= 0 {
		return domain.TxStatusNew
	}
	if age > a.dropTimeout {
		return domain.TxStatusFail
	}
	return domain.TxStatusConfirming
}

// swapIncomeAmount reads the TRX leg of a swap from its internal
// transactions. Lookup failures leave the amount at zero.
func (a *TronAdapter) swapIncomeAmount(ctx context.Context, hash string) decimal.Decimal {
	raw, ok := a.tronscan.ExecuteResilient(ctx, rpc.NewGETOperation("api/transaction-info", url.Values{"hash": {hash}}))
	if !ok {
		a.log.Warn("Swap income lookup failed", "chain", a.chainID, "hash", hash)
		return decimal.Zero
	}

	var info struct {
		InternalTransactions map[string][]struct {
			TokenList []struct {
				TokenID   string          `json:"token_id"`
				CallValue json.RawMessage `json:"call_value"`
			} `json:"token_list"`
		} `json:"internal_transactions"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		a.log.Warn("Swap income decode failed", "chain", a.chainID, "hash", hash, "error", err)
		return decimal.Zero
	}

	amount := decimal.Zero
	for _, group := range info.InternalTransactions {
		for _, itx := range group {
			if len(itx.TokenList) == 0 || itx.TokenList[0].TokenID != domain.NativeAsset {
				continue
			}
			if v, ok := amountOf(itx.TokenList[0].CallValue); ok {
				amount = v
			}
		}
	}
	return amount
}

type trc20Transfer struct {
	TransactionID string          `json:"transaction_id"`
	BlockTS       *int64          `json:"block_ts"`
	Block         int64           `json:"block"`
	FromAddress   string          `json:"from_address"`
	ToAddress     string          `json:"to_address"`
	Quant         json.RawMessage `json:"quant"`
	Confirmed     bool            `json:"confirmed"`
	ContractRet   *string         `json:"contractRet"`
	FinalResult   string          `json:"finalResult"`
}

func (a *TronAdapter) trc20Transfers(ctx context.Context, address string, now time.Time) ([]*domain.UnifiedTransaction, error) {
	raw, ok := a.tronscan.ExecuteResilient(ctx, rpc.NewGETOperation("api/token_trc20/transfers", url.Values{
		"limit":            {historyLimit},
		"start":            {"0"},
		"sort":             {"-timestamp"},
		"count":            {"true"},
		"relatedAddress":   {address},
		"contract_address": {a.asset},
	}))
	if !ok {
		return []*domain.UnifiedTransaction{}, nil
	}

	var env struct {
		TokenTransfers []json.RawMessage `json:"token_transfers"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return []*domain.UnifiedTransaction{}, nil
	}

	head := a.currentHead(ctx)
	out := make([]*domain.UnifiedTransaction, 0, len(env.TokenTransfers))
	for _, item := range env.TokenTransfers {
		var t trc20Transfer
		if err := json.Unmarshal(item, &t); err != nil {
			return nil, domain.NewMalformedDataError(a.chainID, "transfer", item)
		}
		if t.TransactionID == "" {
			metrics.TransactionsDropped.WithLabelValues(string(a.chainID), "no_hash").Inc()
			continue
		}
		if t.BlockTS == nil {
			metrics.MalformedBatches.WithLabelValues(string(a.chainID), "block_ts").Inc()
			return nil, domain.NewMalformedDataError(a.chainID, "block_ts", item)
		}
		if t.Block > head {
			head = t.Block
			a.head.Observe(t.Block)
		}

		blockTime := time.UnixMilli(*t.BlockTS).UTC()
		age := now.Sub(blockTime)
		amount, _ := amountOf(t.Quant)

		ret := t.ContractRet
		if ret == nil && t.FinalResult != "" {
			ret = &t.FinalResult
		}
		tx := &domain.UnifiedTransaction{
			TransactionHash:    t.TransactionID,
			BlockNumber:        t.Block,
			BlockTime:          blockTime,
			BlockConfirmations: a.confirmations(head, t.Block, age),
			AddressFrom:        t.FromAddress,
			AddressTo:          t.ToAddress,
			AddressAmount:      amount,
			TransactionStatus:  a.status(t.Confirmed, ret, t.Block, age),
		}
		if strings.EqualFold(t.FromAddress, address) {
			tx.TransactionDirection = domain.DirectionOutcome
		} else {
			tx.TransactionDirection = domain.DirectionIncome
		}
		tx.MaskQueried(address, true)
		if tx.AddressFrom == "" && tx.AddressTo == "" {
			tx.TransactionDirection = domain.DirectionSelf
		}
		out = append(out, tx)
	}
	return out, nil
}
