package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountChecking AccountType = "checking"
	AccountTreasury AccountType = "treasury"
	AccountAdmin    AccountType = "admin"
)

type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountClosed AccountStatus = "closed"
)

// Account.Balance is a cache of the owner's ledger-derived balance. It is
// refreshed by the posting service and must never be read as the truth.
type Account struct {
	ID            int64           `json:"id"`
	OwnerID       int64           `json:"owner_id"`
	AccountNumber string          `json:"account_number"`
	Type          AccountType     `json:"account_type"`
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	Status        AccountStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (a Account) IsActive() bool { return a.Status == AccountActive }
