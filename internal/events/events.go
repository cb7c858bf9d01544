package events

import (
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/finanza-bank/ledger-core/internal/models"
)

// TransactionCompleted is the payload of models.EventTransactionCompleted.
// Amounts are serialized as decimal strings.
type TransactionCompleted struct {
	TransactionID   int64                  `json:"transactionId"`
	Type            models.TransactionType `json:"type"`
	UserID          int64                  `json:"userId"`
	Amount          decimal.Decimal        `json:"amount"`
	NewBalance      decimal.Decimal        `json:"newBalance"`
	ReferenceNumber string                 `json:"referenceNumber"`
}

// NewCompletedMessage builds the outbox row announcing that userID was
// credited by a completed transaction.
func NewCompletedMessage(txn models.Transaction, userID int64, newBalance decimal.Decimal) (models.OutboxMessage, error) {
	payload, err := json.Marshal(TransactionCompleted{
		TransactionID:   txn.ID,
		Type:            txn.Type,
		UserID:          userID,
		Amount:          txn.Amount,
		NewBalance:      newBalance,
		ReferenceNumber: txn.ReferenceNumber,
	})
	if err != nil {
		return models.OutboxMessage{}, err
	}
	return models.OutboxMessage{
		MessageKey: strconv.FormatInt(userID, 10),
		Topic:      models.EventTransactionCompleted,
		Payload:    payload,
		Status:     models.OutboxPending,
	}, nil
}
