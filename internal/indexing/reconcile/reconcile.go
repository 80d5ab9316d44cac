// Package reconcile re-resolves pending wallet transactions against a node.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	logger "log/slog"

	"github.com/google/uuid"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/core/lifecycle"
	"github.com/vietddude/chainscan/internal/indexing/emitter"
	"github.com/vietddude/chainscan/internal/indexing/metrics"
	"github.com/vietddude/chainscan/internal/infra/chain"
	"github.com/vietddude/chainscan/internal/infra/storage"
)

// MaxRowsPerPass bounds the receipts checked in one pass.
const MaxRowsPerPass = 10

// State is the reconciler's knowledge about pending rows.
type State int

const (
	StateUnknown State = iota
	StateHasPending
	StateConfirmedEmpty
)

func (s State) String() string {
	switch s {
	case StateHasPending:
		return "has_pending"
	case StateConfirmedEmpty:
		return "confirmed_empty"
	}
	return "unknown"
}

// Config holds the per-network settings of a Reconciler. An empty Network
// reconciles the rows of every network of Chain.
type Config struct {
	Chain     domain.ChainID
	Network   string
	Threshold int64
}

// Reconciler checks up to MaxRowsPerPass pending rows per pass. Once a pass
// finds nothing pending it short-circuits until Reset.
type Reconciler struct {
	cfg     Config
	source  chain.ReceiptSource
	head    chain.HeadTracker // optional
	repo    storage.TransactionRepository
	emitter emitter.Emitter

	mu    sync.Mutex
	state State

	now func() time.Time
	log logger.Logger
}

// New creates a reconciler. head and em may be nil.
func New(
	cfg Config,
	source chain.ReceiptSource,
	head chain.HeadTracker,
	repo storage.TransactionRepository,
	em emitter.Emitter,
) *Reconciler {
	return &Reconciler{
		cfg:     cfg,
		source:  source,
		head:    head,
		repo:    repo,
		emitter: em,
		now:     time.Now,
		log:     *logger.Default(),
	}
}

// State returns the current pending-row knowledge.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Reset forgets a previous empty pass.
func (r *Reconciler) Reset() {
	r.setState(StateUnknown)
}

func (r *Reconciler) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	scope := domain.CurrencyContext{Chain: r.cfg.Chain, Network: r.cfg.Network}
	metrics.ReconcilePending.WithLabelValues(scope.String()).Set(float64(s))
}

// Reconcile runs one pass and reports whether any row became successful.
// Failures on single rows leave them pending and never abort the pass.
func (r *Reconciler) Reconcile(ctx context.Context) (bool, error) {
	if r.State() == StateConfirmedEmpty {
		return false, nil
	}

	rows, err := r.repo.FindPending(ctx, r.cfg.Chain, r.cfg.Network, MaxRowsPerPass)
	if err != nil {
		return false, fmt.Errorf("find pending %s: %w", r.cfg.Chain, err)
	}
	if len(rows) > MaxRowsPerPass {
		rows = rows[:MaxRowsPerPass]
	}
	if len(rows) == 0 {
		r.setState(StateConfirmedEmpty)
		return false, nil
	}
	r.setState(StateHasPending)

	passID := uuid.NewString()
	head, err := r.resolveHead(ctx)
	if err != nil {
		// receipts are still applied; confirmations clamp to zero
		r.log.Warn("Latest block lookup failed",
			"chain", r.cfg.Chain,
			"network", r.cfg.Network,
			"pass", passID,
			"error", err,
		)
		head = 0
	}

	r.log.Debug("Reconciling pending transactions",
		"chain", r.cfg.Chain,
		"network", r.cfg.Network,
		"pass", passID,
		"rows", len(rows),
		"head", head,
	)

	flipped := false
	for _, row := range rows {
		ok, err := r.recheck(ctx, row, head)
		if err != nil {
			metrics.ReconcileRowsChecked.WithLabelValues(string(r.cfg.Chain), "error").Inc()
			r.log.Warn("Receipt recheck failed",
				"chain", r.cfg.Chain,
				"pass", passID,
				"hash", row.TransactionHash,
				"error", err,
			)
			continue
		}
		if ok {
			flipped = true
		}
	}
	return flipped, nil
}

// resolveHead prefers the head learned by a just-completed history fetch.
func (r *Reconciler) resolveHead(ctx context.Context) (int64, error) {
	if r.head != nil {
		if h := r.head.LastSeenBlock(); h > 0 {
			return h, nil
		}
	}
	return r.source.LatestBlock(ctx)
}

func (r *Reconciler) recheck(ctx context.Context, row domain.PendingRow, head int64) (bool, error) {
	receipt, err := r.source.Receipt(ctx, row.TransactionHash)
	if err != nil {
		return false, err
	}
	if receipt == nil || receipt.BlockNumber <= 0 {
		metrics.ReconcileRowsChecked.WithLabelValues(string(r.cfg.Chain), "pending").Inc()
		return false, nil
	}

	confirmations := head - receipt.BlockNumber
	if confirmations < 0 {
		confirmations = 0
	}
	status := lifecycle.Derive(lifecycle.Observation{
		Result:        receipt.Result,
		FailureReason: receipt.FailureReason,
		Confirmations: confirmations,
		Threshold:     r.cfg.Threshold,
	})

	now := r.now()
	updated, err := r.repo.ApplyReceipt(ctx, row.ID, domain.ReceiptUpdate{
		BlockNumber:        receipt.BlockNumber,
		BlockTime:          receipt.BlockTime,
		BlockConfirmations: confirmations,
		Status:             status,
		ScanLogLine:        auditLine(now, receipt),
	})
	if err != nil {
		return false, fmt.Errorf("apply receipt: %w", err)
	}
	metrics.ReconcileRowsChecked.WithLabelValues(string(r.cfg.Chain), string(updated.Status)).Inc()

	r.emit(ctx, updated, now)
	return updated.Status == domain.TxStatusSuccess, nil
}

func auditLine(now time.Time, receipt *domain.Receipt) string {
	raw := receipt.Raw
	if len(raw) == 0 {
		raw, _ = json.Marshal(receipt)
	}
	return now.UTC().Format(time.RFC3339) + " RECEIPT RECHECK " + string(raw)
}

func (r *Reconciler) emit(ctx context.Context, tx *domain.StoredTransaction, now time.Time) {
	if r.emitter == nil {
		return
	}
	eventType := domain.EventTypeTransactionConfirming
	switch tx.Status {
	case domain.TxStatusSuccess:
		eventType = domain.EventTypeTransactionConfirmed
	case domain.TxStatusFail, domain.TxStatusOutOfEnergy:
		eventType = domain.EventTypeTransactionFailed
	}

	event := &domain.Event{
		ID:              uuid.NewString(),
		EventType:       eventType,
		Chain:           r.cfg.Chain,
		TransactionHash: tx.TransactionHash,
		Status:          tx.Status,
		BlockNumber:     tx.BlockNumber,
		Confirmations:   tx.BlockConfirmations,
		EmittedAt:       now,
	}
	if err := r.emitter.Emit(ctx, event); err != nil {
		r.log.Warn("Failed to emit status event", "chain", r.cfg.Chain, "hash", tx.TransactionHash, "error", err)
	}
}
