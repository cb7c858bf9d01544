package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/finanza-bank/ledger-core/internal/config"
	"github.com/finanza-bank/ledger-core/internal/lock"
	"github.com/finanza-bank/ledger-core/internal/logger"
	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/finanza-bank/ledger-core/internal/repository"
	"github.com/finanza-bank/ledger-core/internal/repository/memory"
	"github.com/finanza-bank/ledger-core/internal/worker"
)

const reserveID int64 = 1

type fixture struct {
	ctx        context.Context
	store      *memory.Store
	sys        config.SystemAccounts
	balances   *BalanceEngine
	gate       *TransactionGate
	postings   *LedgerPostingService
	txns       *TransactionService
	funds      *SystemFundService
	reconciler *Reconciler
	boot       *Bootstrapper
	n          int64
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newBareFixture wires the services without provisioning the reserve.
func newBareFixture(t *testing.T, seed string) *fixture {
	t.Helper()
	store := memory.NewStore()
	sys := config.SystemAccounts{
		ReserveUserID:        reserveID,
		ReserveAccountNumber: "SYS-RESERVE-0001",
		SeedAmount:           money(seed),
		Currency:             "USD",
	}
	log := logger.Discard()
	pool := worker.NewPool(3)
	t.Cleanup(pool.Stop)

	f := &fixture{ctx: context.Background(), store: store, sys: sys}
	f.balances = NewBalanceEngine(store.Repos(), sys)
	f.gate = NewTransactionGate(store.Repos(), f.balances)
	f.postings = NewLedgerPostingService(sys, log)
	f.txns = NewTransactionService(store, f.gate, f.balances, f.postings, sys, lock.Noop{}, pool, log)
	f.funds = NewSystemFundService(store, f.gate, f.balances, f.postings, sys, lock.Noop{}, log)
	f.reconciler = NewReconciler(store, f.balances, f.postings, log)
	f.boot = NewBootstrapper(store, f.postings, sys, log)
	return f
}

// newFixture provisions a reserve seeded with one million.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := newBareFixture(t, "1000000.00")
	_, err := f.boot.EnsureReserve(f.ctx)
	require.NoError(t, err)
	return f
}

func (f *fixture) repos() repository.Repositories { return f.store.Repos() }

type userOpt func(*models.User)

func pendingKYC(u *models.User) { u.KYCStatus = models.KYCPending }
func inactive(u *models.User)   { u.IsActive = false }
func admin(u *models.User)      { u.IsAdmin = true }

// newUser creates an approved, active user holding one checking account.
func (f *fixture) newUser(t *testing.T, opts ...userOpt) (models.User, models.Account) {
	t.Helper()
	u := f.newUserWithoutAccount(t, opts...)
	return u, f.openAccount(t, u.ID)
}

func (f *fixture) newUserWithoutAccount(t *testing.T, opts ...userOpt) models.User {
	t.Helper()
	u := models.User{KYCStatus: models.KYCApproved, IsActive: true}
	for _, o := range opts {
		o(&u)
	}
	u.Email = fmt.Sprintf("user%d@example.com", f.nextSeq())
	u, err := f.repos().Users.Create(f.ctx, u)
	require.NoError(t, err)
	return u
}

func (f *fixture) nextSeq() int64 { f.n++; return f.n }

func (f *fixture) openAccount(t *testing.T, ownerID int64) models.Account {
	t.Helper()
	a, err := f.repos().Accounts.Create(f.ctx, models.Account{
		OwnerID:       ownerID,
		AccountNumber: fmt.Sprintf("CHK-%06d", f.nextSeq()),
		Type:          models.AccountChecking,
		Currency:      "USD",
		Status:        models.AccountActive,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) balance(t *testing.T, userID int64) string {
	t.Helper()
	b, err := f.balances.Balance(f.ctx, userID)
	require.NoError(t, err)
	return b.StringFixed(2)
}

func (f *fixture) cached(t *testing.T, accountID int64) string {
	t.Helper()
	a, err := f.repos().Accounts.GetByID(f.ctx, accountID)
	require.NoError(t, err)
	return a.Balance.StringFixed(2)
}

func (f *fixture) postingsOf(t *testing.T, txnID int64) []models.Posting {
	t.Helper()
	ps, err := f.repos().Postings.ListByTransaction(f.ctx, txnID)
	require.NoError(t, err)
	return ps
}

func (f *fixture) deposit(t *testing.T, userID int64, amount string) TransactionResult {
	t.Helper()
	res, err := f.txns.Deposit(f.ctx, DepositRequest{UserID: userID, Amount: money(amount)})
	require.NoError(t, err)
	return res
}

func (f *fixture) requireBalanced(t *testing.T) {
	t.Helper()
	r, err := f.balances.Integrity(f.ctx)
	require.NoError(t, err)
	require.True(t, r.Balanced(), "ledger out of balance: %+v", r)
}
