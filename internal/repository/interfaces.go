package repository

import (
	"context"
	"errors"

	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateReference = errors.New("duplicate reference number")
)

type Users interface {
	// Create inserts u. A non-zero u.ID is kept, which bootstrap relies on
	// for the configured reserve owner.
	Create(ctx context.Context, u models.User) (models.User, error)
	GetByID(ctx context.Context, id int64) (models.User, error)
	SetKYCStatus(ctx context.Context, id int64, status models.KYCStatus) error
	SetActive(ctx context.Context, id int64, active bool) error
}

type Accounts interface {
	Create(ctx context.Context, a models.Account) (models.Account, error)
	GetByID(ctx context.Context, id int64) (models.Account, error)
	GetByNumber(ctx context.Context, number string) (models.Account, error)
	// ListByOwner returns the owner's accounts ordered by id.
	ListByOwner(ctx context.Context, ownerID int64) ([]models.Account, error)
	// List pages through all accounts by id.
	List(ctx context.Context, afterID int64, limit int) ([]models.Account, error)
	// LockByID reads the account row and holds it until the unit of work ends.
	LockByID(ctx context.Context, id int64) (models.Account, error)
	// SetCachedBalance overwrites the cached balance on every account the
	// owner holds.
	SetCachedBalance(ctx context.Context, ownerID int64, balance decimal.Decimal) error
}

// PostingFilter narrows a posting sum. Only posted entries are ever summed;
// zero-valued fields do not filter.
type PostingFilter struct {
	UserID              *int64
	Role                models.EntryRole
	SourceUserID        *int64
	ExcludeSourceUserID *int64
	DestinationUserID   *int64
	TransactionTypes    []models.TransactionType
}

// PostingAnomaly is a transaction whose postings break the pairing rule.
type PostingAnomaly struct {
	TransactionID int64
	Type          models.TransactionType
	Status        models.TransactionStatus
	Postings      int
}

type Postings interface {
	Create(ctx context.Context, p models.Posting) (models.Posting, error)
	ListByTransaction(ctx context.Context, transactionID int64) ([]models.Posting, error)
	Sum(ctx context.Context, f PostingFilter) (decimal.Decimal, error)
	Anomalies(ctx context.Context, limit int) ([]PostingAnomaly, error)
}

type HeldTotals struct {
	Amount  decimal.Decimal
	Pending int
	Blocked int
}

type Transactions interface {
	// Create returns ErrDuplicateReference when the reference number is taken.
	Create(ctx context.Context, t models.Transaction) (models.Transaction, error)
	GetByID(ctx context.Context, id int64) (models.Transaction, error)
	GetByReference(ctx context.Context, ref string) (models.Transaction, error)
	GetReversalOf(ctx context.Context, originalID int64) (models.Transaction, error)
	LockByID(ctx context.Context, id int64) (models.Transaction, error)
	UpdateStatus(ctx context.Context, id int64, status models.TransactionStatus, reason string) error
	// AssignAccount records the account a held transaction resolved to once
	// it can complete.
	AssignAccount(ctx context.Context, id, accountID int64) error
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Transaction, error)
	// ListHeldByUser returns the user's pending and blocked transactions in
	// creation order.
	ListHeldByUser(ctx context.Context, userID int64) ([]models.Transaction, error)
	UsersWithHeld(ctx context.Context, limit int) ([]int64, error)
	HeldTotals(ctx context.Context, userID int64) (HeldTotals, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) (models.AuditLog, error)
	ListByTransaction(ctx context.Context, transactionID int64) ([]models.AuditLog, error)
}

type Outbox interface {
	Create(ctx context.Context, m models.OutboxMessage) (models.OutboxMessage, error)
	ListPending(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
	// MarkRetry bumps the retry counter and parks the row as failed once
	// maxRetries is reached.
	MarkRetry(ctx context.Context, id int64, maxRetries int) error
}

type Repositories struct {
	Users        Users
	Accounts     Accounts
	Postings     Postings
	Transactions Transactions
	AuditLogs    AuditLogs
	Outbox       Outbox
}

// Store hands out repositories bound either to the shared connection or to
// a single unit of work. WithTx commits when fn returns nil and rolls back
// every write otherwise.
type Store interface {
	Repos() Repositories
	WithTx(ctx context.Context, fn func(Repositories) error) error
}
