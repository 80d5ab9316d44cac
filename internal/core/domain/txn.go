package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the canonical movement of value relative to the queried address.
type Direction string

const (
	DirectionIncome      Direction = "income"
	DirectionOutcome     Direction = "outcome"
	DirectionSelf        Direction = "self"
	DirectionFreeze      Direction = "freeze"
	DirectionUnfreeze    Direction = "unfreeze"
	DirectionClaim       Direction = "claim"
	DirectionSwapIncome  Direction = "swap_income"
	DirectionSwapOutcome Direction = "swap_outcome"
)

type TxStatus string

const (
	TxStatusNew         TxStatus = "new"
	TxStatusConfirming  TxStatus = "confirming"
	TxStatusSuccess     TxStatus = "success"
	TxStatusFail        TxStatus = "fail"
	TxStatusOutOfEnergy TxStatus = "out_of_energy"
)

// ExecResult is an execution outcome reported explicitly by an upstream.
type ExecResult int

const (
	ResultUnknown ExecResult = iota
	ResultSuccess
	ResultFailed
)

// UnifiedTransaction is the chain agnostic record every adapter emits.
//
// AddressFrom and AddressTo are empty when they equal the queried address.
type UnifiedTransaction struct {
	TransactionHash      string          `json:"transactionHash"`
	BlockHash            string          `json:"blockHash"`
	BlockNumber          int64           `json:"blockNumber"`
	BlockTime            time.Time       `json:"blockTime"`
	BlockConfirmations   int64           `json:"blockConfirmations"`
	TransactionDirection Direction       `json:"transactionDirection"`
	AddressFrom          string          `json:"addressFrom"`
	AddressTo            string          `json:"addressTo"`
	AddressAmount        decimal.Decimal `json:"addressAmount"`
	TransactionStatus    TxStatus        `json:"transactionStatus"`
	TransactionFee       decimal.Decimal `json:"transactionFee"`
	InputValue           string          `json:"inputValue,omitempty"`
}

// MaskQueried blanks AddressFrom/AddressTo when they equal the queried address.
func (t *UnifiedTransaction) MaskQueried(query string, foldCase bool) {
	if SameAddress(t.AddressFrom, query, foldCase) {
		t.AddressFrom = ""
	}
	if SameAddress(t.AddressTo, query, foldCase) {
		t.AddressTo = ""
	}
}

// Resolve reconstructs the concrete counterparties for the queried address.
func (t *UnifiedTransaction) Resolve(query string) (from, to string) {
	from, to = t.AddressFrom, t.AddressTo
	if from == "" {
		from = query
	}
	if to == "" {
		to = query
	}
	return from, to
}

// SameAddress compares two addresses, optionally ignoring case (hex forms).
func SameAddress(a, b string, foldCase bool) bool {
	if a == "" || b == "" {
		return false
	}
	if foldCase {
		return strings.EqualFold(a, b)
	}
	return a == b
}
