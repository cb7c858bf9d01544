package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxnDeposit           TransactionType = "deposit"
	TxnFunding           TransactionType = "funding"
	TxnTransfer          TransactionType = "transfer"
	TxnBalanceAdjustment TransactionType = "balance_adjustment"
	TxnSystemSeed        TransactionType = "system_seed"
	TxnReversal          TransactionType = "reversal"
)

type TransactionStatus string

const (
	TxnPending   TransactionStatus = "pending"
	TxnBlocked   TransactionStatus = "blocked"
	TxnCompleted TransactionStatus = "completed"
	TxnFailed    TransactionStatus = "failed"
	TxnCancelled TransactionStatus = "cancelled"
)

// IsHeld reports whether the amount counts as held funds.
func (s TransactionStatus) IsHeld() bool { return s == TxnPending || s == TxnBlocked }

func (s TransactionStatus) IsTerminal() bool {
	return s == TxnCompleted || s == TxnFailed || s == TxnCancelled
}

var transitions = map[TransactionStatus][]TransactionStatus{
	TxnPending: {TxnCompleted, TxnBlocked, TxnFailed, TxnCancelled},
	TxnBlocked: {TxnCompleted, TxnBlocked, TxnFailed, TxnCancelled},
}

// CanTransition reports whether a transaction may move from one status to
// another. Terminal statuses never move; a completed transaction is undone
// only by a separate reversal transaction.
func CanTransition(from, to TransactionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Transaction struct {
	ID                 int64             `json:"id"`
	UserID             int64             `json:"user_id"`
	AccountID          int64             `json:"account_id"`
	CounterpartyUserID *int64            `json:"counterparty_user_id,omitempty"`
	Amount             decimal.Decimal   `json:"amount"`
	Type               TransactionType   `json:"transaction_type"`
	Status             TransactionStatus `json:"status"`
	StatusReason       string            `json:"status_reason,omitempty"`
	KYCStatusAtTime    KYCStatus         `json:"kyc_status_at_time"`
	ReferenceNumber    string            `json:"reference_number"`
	ReversalOfID       *int64            `json:"reversal_of_id,omitempty"`
	Description        string            `json:"description,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}
