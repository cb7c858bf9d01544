package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuditAction string

const (
	AuditFund               AuditAction = "fund"
	AuditCancelTransaction  AuditAction = "cancel_transaction"
	AuditReverseTransaction AuditAction = "reverse_transaction"
)

type AuditLog struct {
	ID              int64           `json:"id"`
	AdminID         int64           `json:"admin_id"`
	UserID          int64           `json:"user_id"`
	AccountID       *int64          `json:"account_id,omitempty"`
	Action          AuditAction     `json:"action_type"`
	Outcome         string          `json:"outcome"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionID   *int64          `json:"transaction_id,omitempty"`
	DebitPostingID  *int64          `json:"debit_posting_id,omitempty"`
	CreditPostingID *int64          `json:"credit_posting_id,omitempty"`
	Reason          string          `json:"reason"`
	CreatedAt       time.Time       `json:"created_at"`
}
