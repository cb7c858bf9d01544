package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryRole string

const (
	RoleCredit EntryRole = "credit"
	RoleDebit  EntryRole = "debit"
)

type PostingStatus string

const (
	PostingPosted   PostingStatus = "posted"
	PostingReversed PostingStatus = "reversed"
)

// Posting is one immutable ledger line. Amount is always positive; the
// direction is carried by Role alone.
type Posting struct {
	ID                int64           `json:"id"`
	UserID            int64           `json:"user_id"`
	Role              EntryRole       `json:"entry_role"`
	Amount            decimal.Decimal `json:"amount"`
	Status            PostingStatus   `json:"status"`
	TransactionID     int64           `json:"transaction_id"`
	SourceUserID      *int64          `json:"source_user_id,omitempty"`
	DestinationUserID *int64          `json:"destination_user_id,omitempty"`
	Description       string          `json:"description"`
	ReferenceNumber   string          `json:"reference_number,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}
