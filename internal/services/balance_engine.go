package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/finanza-bank/ledger-core/internal/apperr"
	"github.com/finanza-bank/ledger-core/internal/config"
	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/finanza-bank/ledger-core/internal/repository"
)

// reconcileTolerance is the largest cache/ledger difference treated as in sync.
var reconcileTolerance = decimal.New(1, -2)

const integrityAnomalyLimit = 100

// BalanceEngine derives balances from posted ledger entries. It never
// reads the cached Account.Balance except to compare against it.
type BalanceEngine struct {
	repos repository.Repositories
	sys   config.SystemAccounts
}

func NewBalanceEngine(repos repository.Repositories, sys config.SystemAccounts) *BalanceEngine {
	return &BalanceEngine{repos: repos, sys: sys}
}

// WithRepos returns an engine reading through repos, typically the
// repositories of an open unit of work.
func (e *BalanceEngine) WithRepos(repos repository.Repositories) *BalanceEngine {
	return &BalanceEngine{repos: repos, sys: e.sys}
}

func (e *BalanceEngine) sum(ctx context.Context, f repository.PostingFilter) (decimal.Decimal, error) {
	total, err := e.repos.Postings.Sum(ctx, f)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum postings: %w", err)
	}
	return total, nil
}

// Balance is posted credits minus posted debits. A user without postings
// has a zero balance.
func (e *BalanceEngine) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	credits, err := e.sum(ctx, repository.PostingFilter{UserID: &userID, Role: models.RoleCredit})
	if err != nil {
		return decimal.Zero, err
	}
	debits, err := e.sum(ctx, repository.PostingFilter{UserID: &userID, Role: models.RoleDebit})
	if err != nil {
		return decimal.Zero, err
	}
	return credits.Sub(debits), nil
}

// DepositTotal sums the user's credits funded by the reserve.
func (e *BalanceEngine) DepositTotal(ctx context.Context, userID int64) (decimal.Decimal, error) {
	reserve := e.sys.ReserveUserID
	return e.sum(ctx, repository.PostingFilter{UserID: &userID, Role: models.RoleCredit, SourceUserID: &reserve})
}

// WithdrawalTotal sums the user's debits paid back to the reserve. Peer
// transfers are not withdrawals.
func (e *BalanceEngine) WithdrawalTotal(ctx context.Context, userID int64) (decimal.Decimal, error) {
	reserve := e.sys.ReserveUserID
	return e.sum(ctx, repository.PostingFilter{UserID: &userID, Role: models.RoleDebit, DestinationUserID: &reserve})
}

// TransferReceivedTotal sums the user's credits from anyone but the reserve.
func (e *BalanceEngine) TransferReceivedTotal(ctx context.Context, userID int64) (decimal.Decimal, error) {
	reserve := e.sys.ReserveUserID
	return e.sum(ctx, repository.PostingFilter{UserID: &userID, Role: models.RoleCredit, ExcludeSourceUserID: &reserve})
}

func (e *BalanceEngine) PlatformTotalDeposits(ctx context.Context) (decimal.Decimal, error) {
	reserve := e.sys.ReserveUserID
	return e.sum(ctx, repository.PostingFilter{Role: models.RoleCredit, SourceUserID: &reserve})
}

// PlatformTotalVolume is the amount moved by all completed transactions.
// Every movement has exactly one debit, so it is the debit total.
func (e *BalanceEngine) PlatformTotalVolume(ctx context.Context) (decimal.Decimal, error) {
	return e.sum(ctx, repository.PostingFilter{Role: models.RoleDebit})
}

// Reconcile reports whether the account's cached balance matches the
// owner's derived balance within one cent.
func (e *BalanceEngine) Reconcile(ctx context.Context, accountID int64) (bool, error) {
	acct, err := e.repos.Accounts.GetByID(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, apperr.New(apperr.CodeNotFound, fmt.Sprintf("account %d not found", accountID))
	}
	if err != nil {
		return false, err
	}
	ok, _, err := e.reconcileAccount(ctx, acct)
	return ok, err
}

func (e *BalanceEngine) reconcileAccount(ctx context.Context, acct models.Account) (bool, decimal.Decimal, error) {
	derived, err := e.Balance(ctx, acct.OwnerID)
	if err != nil {
		return false, decimal.Zero, err
	}
	return acct.Balance.Sub(derived).Abs().LessThan(reconcileTolerance), derived, nil
}

type Breakdown struct {
	UserID            int64           `json:"user_id"`
	Balance           decimal.Decimal `json:"balance"`
	Deposits          decimal.Decimal `json:"deposits"`
	TransfersReceived decimal.Decimal `json:"transfers_received"`
	Withdrawals       decimal.Decimal `json:"withdrawals"`
	Held              decimal.Decimal `json:"held"`
	PendingCount      int             `json:"pending_count"`
	BlockedCount      int             `json:"blocked_count"`
}

func (e *BalanceEngine) Breakdown(ctx context.Context, userID int64) (Breakdown, error) {
	b := Breakdown{UserID: userID}
	var err error
	if b.Balance, err = e.Balance(ctx, userID); err != nil {
		return Breakdown{}, err
	}
	if b.Deposits, err = e.DepositTotal(ctx, userID); err != nil {
		return Breakdown{}, err
	}
	if b.TransfersReceived, err = e.TransferReceivedTotal(ctx, userID); err != nil {
		return Breakdown{}, err
	}
	if b.Withdrawals, err = e.WithdrawalTotal(ctx, userID); err != nil {
		return Breakdown{}, err
	}
	held, err := e.repos.Transactions.HeldTotals(ctx, userID)
	if err != nil {
		return Breakdown{}, fmt.Errorf("held totals: %w", err)
	}
	b.Held, b.PendingCount, b.BlockedCount = held.Amount, held.Pending, held.Blocked
	return b, nil
}

type IntegrityReport struct {
	TotalCredits decimal.Decimal            `json:"total_credits"`
	TotalDebits  decimal.Decimal            `json:"total_debits"`
	SeedCapital  decimal.Decimal            `json:"seed_capital"`
	Difference   decimal.Decimal            `json:"difference"`
	Anomalies    []repository.PostingAnomaly `json:"anomalies,omitempty"`
}

// Balanced is true when credits equal debits plus seed capital and no
// transaction breaks the pairing rule.
func (r IntegrityReport) Balanced() bool {
	return r.Difference.IsZero() && len(r.Anomalies) == 0
}

func (e *BalanceEngine) Integrity(ctx context.Context) (IntegrityReport, error) {
	var (
		r   IntegrityReport
		err error
	)
	if r.TotalCredits, err = e.sum(ctx, repository.PostingFilter{Role: models.RoleCredit}); err != nil {
		return IntegrityReport{}, err
	}
	if r.TotalDebits, err = e.sum(ctx, repository.PostingFilter{Role: models.RoleDebit}); err != nil {
		return IntegrityReport{}, err
	}
	r.SeedCapital, err = e.sum(ctx, repository.PostingFilter{
		Role:             models.RoleCredit,
		TransactionTypes: []models.TransactionType{models.TxnSystemSeed},
	})
	if err != nil {
		return IntegrityReport{}, err
	}
	r.Difference = r.TotalCredits.Sub(r.TotalDebits).Sub(r.SeedCapital)
	if r.Anomalies, err = e.repos.Postings.Anomalies(ctx, integrityAnomalyLimit); err != nil {
		return IntegrityReport{}, fmt.Errorf("posting anomalies: %w", err)
	}
	return r, nil
}
