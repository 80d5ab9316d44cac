package domain

import "time"

// Event is emitted when the reconciler persists a status change.
type Event struct {
	ID              string    `json:"id"`
	EventType       EventType `json:"eventType"`
	Chain           ChainID   `json:"chain"`
	TransactionHash string    `json:"transactionHash"`
	Status          TxStatus  `json:"status"`
	BlockNumber     int64     `json:"blockNumber"`
	Confirmations   int64     `json:"confirmations"`
	EmittedAt       time.Time `json:"emittedAt"`
}

type EventType string

const (
	EventTypeTransactionConfirming EventType = "transaction_confirming"
	EventTypeTransactionConfirmed  EventType = "transaction_confirmed"
	EventTypeTransactionFailed     EventType = "transaction_failed"
)
