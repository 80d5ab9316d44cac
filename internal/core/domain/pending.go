package domain

import (
	"encoding/json"
	"time"
)

// PendingRow is a wallet-originated transaction that has no confirmed block yet.
type PendingRow struct {
	ID              int64
	TransactionHash string
	ScanLog         string
	CreatedAt       time.Time
}

// StoredTransaction is the persisted form the reconciler narrows.
type StoredTransaction struct {
	ID                 int64
	Chain              ChainID
	Network            string
	Asset              string
	TransactionHash    string
	WalletOriginated   bool
	BlockNumber        int64
	BlockTime          time.Time
	BlockConfirmations int64
	Status             TxStatus
	ScanLog            string
	CreatedAt          time.Time
}

// ReceiptUpdate is the confirmation data written back for one pending row.
type ReceiptUpdate struct {
	BlockNumber        int64
	BlockTime          time.Time
	BlockConfirmations int64
	Status             TxStatus
	// ScanLogLine is appended to the row's audit log.
	ScanLogLine string
}

// Receipt is a node's execution receipt for one transaction.
type Receipt struct {
	TransactionHash string
	BlockNumber     int64
	BlockTime       time.Time
	Result          ExecResult
	// FailureReason is the provider specific code, e.g. OUT_OF_ENERGY.
	FailureReason string
	Raw           json.RawMessage
}
