package models

import "time"

const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// EventTransactionCompleted is emitted once per completed posting pair.
const EventTransactionCompleted = "ledger.transaction.completed"

type OutboxMessage struct {
	ID         int64     `json:"id"`
	MessageKey string    `json:"message_key"`
	Topic      string    `json:"topic"`
	Payload    []byte    `json:"payload"`
	Status     string    `json:"status"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
