package services

import (
	"github.com/shopspring/decimal"
)

// Amount validity is a gate decision, not a request error: a non-positive
// amount yields a failed outcome rather than VALIDATION_ERROR.

type DepositRequest struct {
	UserID          int64           `json:"user_id" validate:"required,gt=0"`
	AccountID       *int64          `json:"account_id,omitempty" validate:"omitempty,gt=0"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description,omitempty" validate:"max=255"`
	ReferenceNumber string          `json:"reference_number,omitempty" validate:"omitempty,reference"`
}

type TransferRequest struct {
	SenderID           int64           `json:"sender_id" validate:"required,gt=0"`
	RecipientID        int64           `json:"recipient_id" validate:"required,gt=0"`
	SenderAccountID    *int64          `json:"sender_account_id,omitempty" validate:"omitempty,gt=0"`
	RecipientAccountID *int64          `json:"recipient_account_id,omitempty" validate:"omitempty,gt=0"`
	Amount             decimal.Decimal `json:"amount"`
	Description        string          `json:"description,omitempty" validate:"max=255"`
	ReferenceNumber    string          `json:"reference_number,omitempty" validate:"omitempty,reference"`
}

type FundingRequest struct {
	TargetUserID    int64           `json:"target_user_id" validate:"required,gt=0"`
	TargetAccountID int64           `json:"target_account_id" validate:"required,gt=0"`
	Amount          decimal.Decimal `json:"amount"`
	AdminUserID     int64           `json:"admin_user_id" validate:"required,gt=0"`
	Reason          string          `json:"reason" validate:"max=500"`
	ReferenceNumber string          `json:"reference_number,omitempty" validate:"omitempty,reference"`
}

type CancelRequest struct {
	TransactionID int64  `json:"transaction_id" validate:"required,gt=0"`
	AdminUserID   int64  `json:"admin_user_id" validate:"required,gt=0"`
	Reason        string `json:"reason" validate:"required,max=500"`
}

type ReversalRequest struct {
	TransactionID int64  `json:"transaction_id" validate:"required,gt=0"`
	AdminUserID   int64  `json:"admin_user_id" validate:"required,gt=0"`
	Reason        string `json:"reason" validate:"required,max=500"`
}
