package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/finanza-bank/ledger-core/internal/apperr"
	"github.com/finanza-bank/ledger-core/internal/config"
	"github.com/finanza-bank/ledger-core/internal/lock"
	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/finanza-bank/ledger-core/internal/repository"
)

// reserveFunder moves money out of the system reserve. Deposits, admin
// funding and their re-evaluation all go through it so the reserve is
// locked, checked and posted the same way.
type reserveFunder struct {
	sys      config.SystemAccounts
	locker   lock.Locker
	gate     *TransactionGate
	balances *BalanceEngine
	postings *LedgerPostingService
}

// acquire takes the cross-process reserve lock.
func (f *reserveFunder) acquire(ctx context.Context) (func(), error) {
	release, err := f.locker.Acquire(ctx, lock.ReserveKey(f.sys.ReserveAccountNumber))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDependency, err, "reserve lock unavailable")
	}
	return release, nil
}

// lockReserve resolves the configured reserve account and row-locks it for
// the rest of the unit of work.
func (f *reserveFunder) lockReserve(ctx context.Context, repos repository.Repositories) (models.Account, error) {
	number := f.sys.ReserveAccountNumber
	acct, err := repos.Accounts.GetByNumber(ctx, number)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Account{}, apperr.New(apperr.CodeReserveMissing,
			fmt.Sprintf("reserve account %s not found; run the bootstrap routine", number))
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("load reserve account: %w", err)
	}
	if acct.OwnerID != f.sys.ReserveUserID {
		return models.Account{}, apperr.New(apperr.CodeReserveMissing,
			fmt.Sprintf("reserve account %s is owned by user %d, expected %d", number, acct.OwnerID, f.sys.ReserveUserID))
	}
	if !acct.IsActive() {
		return models.Account{}, apperr.New(apperr.CodeReserveMissing, fmt.Sprintf("reserve account %s is not active", number))
	}
	locked, err := repos.Accounts.LockByID(ctx, acct.ID)
	if err != nil {
		return models.Account{}, fmt.Errorf("lock reserve account: %w", err)
	}
	return locked, nil
}

// decide runs the deposit gate for the target and, when it would complete,
// checks that the reserve's derived balance covers the amount. Callers
// must hold the reserve row lock.
func (f *reserveFunder) decide(ctx context.Context, repos repository.Repositories, userID int64, accountID *int64, amount decimal.Decimal) (Decision, error) {
	d, err := f.gate.WithRepos(repos).EvaluateDeposit(ctx, userID, amount, accountID)
	if err != nil || !d.CanComplete() {
		return d, err
	}
	available, err := f.balances.WithRepos(repos).Balance(ctx, f.sys.ReserveUserID)
	if err != nil {
		return Decision{}, err
	}
	if available.LessThan(amount) {
		return d.with(models.TxnFailed, ReasonInsufficientReserve), nil
	}
	return d, nil
}

type reserveCredit struct {
	UserID      int64
	AccountID   *int64
	Amount      decimal.Decimal
	Type        models.TransactionType
	Reference   string
	Description string
}

type creditOutcome struct {
	Decision    Decision
	Transaction models.Transaction
	Postings    *PostingPair
}

// credit locks the reserve, decides, and persists the outcome: nothing for
// failed, a held transaction for blocked, transaction plus posting pair for
// completed.
func (f *reserveFunder) credit(ctx context.Context, repos repository.Repositories, in reserveCredit) (creditOutcome, error) {
	if _, err := f.lockReserve(ctx, repos); err != nil {
		return creditOutcome{}, err
	}
	d, err := f.decide(ctx, repos, in.UserID, in.AccountID, in.Amount)
	if err != nil {
		return creditOutcome{}, err
	}
	out := creditOutcome{Decision: d}
	if d.Status == models.TxnFailed {
		return out, nil
	}

	txn, err := repos.Transactions.Create(ctx, models.Transaction{
		UserID:             in.UserID,
		AccountID:          d.Account.ID,
		CounterpartyUserID: ptr(f.sys.ReserveUserID),
		Amount:             in.Amount,
		Type:               in.Type,
		Status:             d.Status,
		StatusReason:       d.Reason,
		KYCStatusAtTime:    d.KYCStatus,
		ReferenceNumber:    in.Reference,
		Description:        in.Description,
	})
	if errors.Is(err, repository.ErrDuplicateReference) {
		return creditOutcome{}, duplicateReference(in.Reference)
	}
	if err != nil {
		return creditOutcome{}, fmt.Errorf("record %s transaction: %w", in.Type, err)
	}
	out.Transaction = txn

	if d.CanComplete() {
		pair, err := f.postings.Post(ctx, repos, PostingRequest{
			Transaction: txn,
			FromUserID:  f.sys.ReserveUserID,
			ToUserID:    in.UserID,
			Amount:      in.Amount,
			Description: in.Description,
		})
		if err != nil {
			return creditOutcome{}, err
		}
		out.Postings = &pair
	}
	return out, nil
}
