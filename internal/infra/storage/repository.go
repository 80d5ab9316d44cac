// Package storage defines the persistence contract of the transaction table.
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/core/lifecycle"
)

var (
	// ErrNotFound is returned when a transaction row doesn't exist
	ErrNotFound = errors.New("transaction not found")
)

// TransactionRepository handles transaction storage operations.
// Rows are only ever narrowed; nothing here deletes.
type TransactionRepository interface {
	// Save inserts a row, or narrows the row with the same chain and hash
	// as MergeSaved does. It returns the row id.
	Save(ctx context.Context, tx *domain.StoredTransaction) (int64, error)

	// GetByHash retrieves a row by chain and hash
	GetByHash(ctx context.Context, chain domain.ChainID, hash string) (*domain.StoredTransaction, error)

	// FindPending returns up to limit wallet-originated rows of chain that
	// have no block yet, newest first. An empty network matches every network.
	FindPending(ctx context.Context, chain domain.ChainID, network string, limit int) ([]domain.PendingRow, error)

	// ApplyReceipt narrows one row with confirmation data and returns it
	// as persisted.
	ApplyReceipt(ctx context.Context, id int64, upd domain.ReceiptUpdate) (*domain.StoredTransaction, error)
}

// Narrow applies upd to tx in place. The status never regresses and the
// scan log only grows.
func Narrow(tx *domain.StoredTransaction, upd domain.ReceiptUpdate) {
	tx.BlockNumber = upd.BlockNumber
	tx.BlockTime = upd.BlockTime
	if upd.BlockConfirmations > tx.BlockConfirmations {
		tx.BlockConfirmations = upd.BlockConfirmations
	}
	tx.Status = lifecycle.Merge(tx.Status, upd.Status)
	tx.ScanLog = AppendScanLog(tx.ScanLog, upd.ScanLogLine)
}

// MergeSaved folds a repeated save of the same hash into the existing row.
// Block data is only filled in, confirmations and status never regress and
// the scan log only grows.
func MergeSaved(prev, next *domain.StoredTransaction) {
	if prev.Network == "" {
		prev.Network = next.Network
	}
	prev.WalletOriginated = prev.WalletOriginated || next.WalletOriginated
	if prev.BlockNumber <= 0 && next.BlockNumber > 0 {
		prev.BlockNumber = next.BlockNumber
		prev.BlockTime = next.BlockTime
	}
	if next.BlockConfirmations > prev.BlockConfirmations {
		prev.BlockConfirmations = next.BlockConfirmations
	}
	if next.Status != "" {
		prev.Status = lifecycle.Merge(prev.Status, next.Status)
	}
	prev.ScanLog = AppendScanLog(prev.ScanLog, next.ScanLog)
}

// AppendScanLog adds one line to an audit log.
func AppendScanLog(prior, line string) string {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return prior
	case prior == "":
		return line
	}
	return prior + "\n" + line
}
