package evm

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/core/lifecycle"
	"github.com/vietddude/chainscan/internal/indexing/metrics"
	"github.com/vietddude/chainscan/internal/infra/rpc"
)

// explorerTx covers txlist, txlistinternal and tokentx rows. Every field is
// a string upstream.
type explorerTx struct {
	BlockNumber     string  `json:"blockNumber"`
	TimeStamp       *string `json:"timeStamp"`
	Hash            string  `json:"hash"`
	BlockHash       string  `json:"blockHash"`
	From            string  `json:"from"`
	To              string  `json:"to"`
	Value           string  `json:"value"`
	GasPrice        string  `json:"gasPrice"`
	GasUsed         string  `json:"gasUsed"`
	IsError         string  `json:"isError"`
	TxReceiptStatus string  `json:"txreceipt_status"`
	Confirmations   string  `json:"confirmations"`
	Input           string  `json:"input"`
	ContractAddress string  `json:"contractAddress"`
}

// GetTransactions fetches history from the explorer. Native history merges
// normal and internal transfers, fetched concurrently.
func (a *EVMAdapter) GetTransactions(
	ctx context.Context,
	scan domain.ScanContext,
) ([]*domain.UnifiedTransaction, error) {
	if a.explorer == nil {
		return []*domain.UnifiedTransaction{}, nil
	}
	address, err := a.NormalizeAddress(scan.Address)
	if err != nil {
		return nil, err
	}

	var normal, internal []json.RawMessage
	g, gctx := errgroup.WithContext(ctx)
	if a.asset == "" {
		g.Go(func() (err error) {
			normal, err = a.fetchList(gctx, "txlist", address)
			return err
		})
		g.Go(func() (err error) {
			internal, err = a.fetchList(gctx, "txlistinternal", address)
			return err
		})
	} else {
		g.Go(func() (err error) {
			normal, err = a.fetchList(gctx, "tokentx", address)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	head := a.resolveHead(ctx, len(internal) > 0)
	if head == 0 {
		head = explorerHead(normal)
	}

	out := make([]*domain.UnifiedTransaction, 0, len(normal)+len(internal))
	seen := make(map[string]struct{}, len(normal))
	for _, batch := range [][]json.RawMessage{normal, internal} {
		for _, item := range batch {
			tx, err := a.unify(address, item, head, scan.Now())
			if err != nil {
				return nil, err
			}
			if tx == nil {
				continue
			}
			if _, dup := seen[tx.TransactionHash]; dup && a.asset == "" {
				continue
			}
			seen[tx.TransactionHash] = struct{}{}
			out = append(out, tx)
		}
	}

	a.log.Debug("Fetched transactions",
		"chain", a.chainID,
		"network", a.network,
		"address", address,
		"count", len(out),
	)
	return out, nil
}

// fetchList returns nil when the explorer has nothing or is unreachable.
// Only cancellation of ctx is an error.
func (a *EVMAdapter) fetchList(ctx context.Context, action, address string) ([]json.RawMessage, error) {
	q := map[string][]string{
		"module":  {"account"},
		"action":  {action},
		"address": {address},
		"sort":    {"desc"},
	}
	if action == "tokentx" {
		q["contractaddress"] = []string{a.asset}
	}

	raw, ok := a.explorer.ExecuteResilient(ctx, rpc.NewGETOperation("", q))
	if !ok {
		return nil, ctx.Err()
	}
	var res explorerResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(res.Result, &list); err != nil {
		// rate limit and similar errors come back as a string result
		a.log.Warn("Explorer returned no list",
			"chain", a.chainID,
			"action", action,
			"message", res.text(),
		)
		return nil, nil
	}
	return list, nil
}

// resolveHead returns the head used to count confirmations, or 0 when the
// explorer's own counts should be used.
func (a *EVMAdapter) resolveHead(ctx context.Context, needed bool) int64 {
	if a.node == nil || (a.source != domain.ConfirmationsFromRPC && !needed) {
		return 0
	}
	head, err := a.LatestBlock(ctx)
	if err != nil {
		a.log.Warn("Head lookup failed", "chain", a.chainID, "error", err)
		return 0
	}
	return head
}

func (a *EVMAdapter) unify(
	address string,
	item json.RawMessage,
	head int64,
	now time.Time,
) (*domain.UnifiedTransaction, error) {
	var raw explorerTx
	if err := json.Unmarshal(item, &raw); err != nil {
		return nil, domain.NewMalformedDataError(a.chainID, "transaction", item)
	}
	if raw.Hash == "" {
		metrics.TransactionsDropped.WithLabelValues(string(a.chainID), "no_hash").Inc()
		return nil, nil
	}
	if raw.TimeStamp == nil || *raw.TimeStamp == "" {
		metrics.MalformedBatches.WithLabelValues(string(a.chainID), "timeStamp").Inc()
		return nil, domain.NewMalformedDataError(a.chainID, "timeStamp", item)
	}
	ts, err := strconv.ParseInt(*raw.TimeStamp, 10, 64)
	if err != nil {
		metrics.MalformedBatches.WithLabelValues(string(a.chainID), "timeStamp").Inc()
		return nil, domain.NewMalformedDataError(a.chainID, "timeStamp", item)
	}

	block := parseInt(raw.BlockNumber)
	confirmations := parseInt(raw.Confirmations)
	if head > 0 && block > 0 && (a.source == domain.ConfirmationsFromRPC || raw.Confirmations == "") {
		if block > head {
			a.observeHead(block)
			head = block
		}
		confirmations = head - block
	}

	tx := &domain.UnifiedTransaction{
		TransactionHash:    raw.Hash,
		BlockHash:          raw.BlockHash,
		BlockNumber:        block,
		BlockTime:          time.Unix(ts, 0).UTC(),
		BlockConfirmations: confirmations,
		AddressFrom:        raw.From,
		AddressTo:          raw.To,
		AddressAmount:      parseDecimal(raw.Value),
		TransactionFee:     parseDecimal(raw.GasUsed).Mul(parseDecimal(raw.GasPrice)),
	}
	if raw.Input != "" && raw.Input != "0x" && raw.Input != "deprecated" {
		tx.InputValue = raw.Input
	}

	fromUs := domain.SameAddress(raw.From, address, true)
	toUs := domain.SameAddress(raw.To, address, true)
	switch {
	case fromUs && toUs:
		tx.TransactionDirection = domain.DirectionSelf
	case fromUs:
		tx.TransactionDirection = domain.DirectionOutcome
	default:
		tx.TransactionDirection = domain.DirectionIncome
	}

	result := domain.ResultUnknown
	if raw.IsError == "1" || raw.TxReceiptStatus == "0" {
		result = domain.ResultFailed
	}
	tx.TransactionStatus = lifecycle.Derive(lifecycle.Observation{
		Result:        result,
		Confirmations: confirmations,
		Threshold:     a.threshold,
		Now:           now,
	})

	tx.MaskQueried(address, true)
	return tx, nil
}

// explorerHead estimates the head from explorer confirmation counts, for rows
// such as internal transfers that carry none.
func explorerHead(items []json.RawMessage) int64 {
	var head int64
	for _, item := range items {
		var row struct {
			BlockNumber   string `json:"blockNumber"`
			Confirmations string `json:"confirmations"`
		}
		if json.Unmarshal(item, &row) != nil || row.Confirmations == "" {
			continue
		}
		if h := parseInt(row.BlockNumber) + parseInt(row.Confirmations); h > head {
			head = h
		}
	}
	return head
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
