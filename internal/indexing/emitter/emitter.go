// Package emitter publishes transaction status changes made by the
// reconciler.
package emitter

import (
	"context"
	"errors"

	logger "log/slog"

	"github.com/vietddude/chainscan/internal/core/domain"
)

// Emitter defines the interface for emitting status events
type Emitter interface {
	// Emit sends a single event
	Emit(ctx context.Context, event *domain.Event) error

	// Close releases the underlying connection
	Close() error
}

// LogEmitter writes events to the structured log.
type LogEmitter struct {
	log logger.Logger
}

// NewLogEmitter creates a LogEmitter on the default logger.
func NewLogEmitter() *LogEmitter {
	return &LogEmitter{log: *logger.Default()}
}

func (e *LogEmitter) Emit(ctx context.Context, event *domain.Event) error {
	e.log.Info("Transaction status changed",
		"id", event.ID,
		"type", event.EventType,
		"chain", event.Chain,
		"hash", event.TransactionHash,
		"status", event.Status,
		"block", event.BlockNumber,
		"confirmations", event.Confirmations,
	)
	return nil
}

func (e *LogEmitter) Close() error { return nil }

// Multi fans an event out to several emitters. Every emitter is tried;
// the errors are joined.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, event *domain.Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, e := range m {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
