package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finanza-bank/ledger-core/internal/apperr"
	"github.com/finanza-bank/ledger-core/internal/models"
)

func TestFundUserFromSystem(t *testing.T) {
	f := newFixture(t)
	adminUser, _ := f.newUser(t, admin)
	u, acct := f.newUser(t)

	res, err := f.funds.FundUserFromSystem(f.ctx, FundingRequest{
		TargetUserID: u.ID, TargetAccountID: acct.ID, Amount: money("250.00"),
		AdminUserID: adminUser.ID, Reason: "goodwill credit",
	})
	require.NoError(t, err)
	require.Equal(t, models.TxnCompleted, res.Status)
	assert.NotZero(t, res.DebitEntryID)
	assert.NotZero(t, res.CreditEntryID)
	assert.Equal(t, "250.00", res.NewBalance.StringFixed(2))
	assert.Equal(t, "250.00", f.balance(t, u.ID))
	assert.Equal(t, "999750.00", f.balance(t, reserveID))

	logs, err := f.repos().AuditLogs.ListByTransaction(f.ctx, res.TransactionID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, res.AuditLogID, logs[0].ID)
	assert.Equal(t, models.AuditFund, logs[0].Action)
	assert.Equal(t, adminUser.ID, logs[0].AdminID)
	require.NotNil(t, logs[0].CreditPostingID)
	assert.Equal(t, res.CreditEntryID, *logs[0].CreditPostingID)

	bd, err := f.balances.Breakdown(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "250.00", bd.Deposits.StringFixed(2))
	f.requireBalanced(t)
}

func TestFundUserBlockedIsAudited(t *testing.T) {
	f := newFixture(t)
	adminUser, _ := f.newUser(t, admin)
	u, acct := f.newUser(t, pendingKYC)

	res, err := f.funds.FundUserFromSystem(f.ctx, FundingRequest{
		TargetUserID: u.ID, TargetAccountID: acct.ID, Amount: money("10.00"), AdminUserID: adminUser.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TxnBlocked, res.Status)
	assert.Equal(t, ReasonKYCNotApproved, res.Reason)
	assert.Zero(t, res.CreditEntryID)
	assert.NotZero(t, res.AuditLogID)
	assert.Equal(t, "0.00", res.NewBalance.StringFixed(2))
}

func TestFundUserFailedPersistsNothing(t *testing.T) {
	f := newFixture(t)
	adminUser, _ := f.newUser(t, admin)
	u, acct := f.newUser(t)
	other, _ := f.newUser(t)

	res, err := f.funds.FundUserFromSystem(f.ctx, FundingRequest{
		TargetUserID: u.ID, TargetAccountID: acct.ID, Amount: money("-1"), AdminUserID: adminUser.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TxnFailed, res.Status)
	assert.Zero(t, res.TransactionID)
	assert.Zero(t, res.AuditLogID)

	// an account owned by someone else is no account at all
	res, err = f.funds.FundUserFromSystem(f.ctx, FundingRequest{
		TargetUserID: other.ID, TargetAccountID: acct.ID, Amount: money("1.00"), AdminUserID: adminUser.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TxnBlocked, res.Status)
	assert.Equal(t, ReasonNoAccount, res.Reason)
}

func TestFundUserRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	u, acct := f.newUser(t)

	_, err := f.funds.FundUserFromSystem(f.ctx, FundingRequest{
		TargetUserID: u.ID, TargetAccountID: acct.ID, Amount: money("1.00"), AdminUserID: u.ID,
	})
	assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	assert.Equal(t, "0.00", f.balance(t, u.ID))
}

func TestFundUserReserveMissing(t *testing.T) {
	f := newBareFixture(t, "0")
	adminUser, _ := f.newUser(t, admin)
	u, acct := f.newUser(t)

	_, err := f.funds.FundUserFromSystem(f.ctx, FundingRequest{
		TargetUserID: u.ID, TargetAccountID: acct.ID, Amount: money("1.00"), AdminUserID: adminUser.ID,
	})
	assert.True(t, apperr.Is(err, apperr.CodeReserveMissing))
}

func TestFundUserAtomicOnCreditFailure(t *testing.T) {
	f := newFixture(t)
	adminUser, _ := f.newUser(t, admin)
	u, acct := f.newUser(t)
	n := 0
	f.store.FailOn(func(op string) error {
		if op == "postings.create" {
			if n++; n == 2 {
				return assert.AnError
			}
		}
		return nil
	})

	_, err := f.funds.FundUserFromSystem(f.ctx, FundingRequest{
		TargetUserID: u.ID, TargetAccountID: acct.ID, Amount: money("5.00"),
		AdminUserID: adminUser.ID, ReferenceNumber: "FUND-ATOMIC",
	})
	require.Error(t, err)
	assert.True(t, apperr.Retryable(err))
	f.store.FailOn(nil)

	_, err = f.repos().Transactions.GetByReference(f.ctx, "FUND-ATOMIC")
	assert.Error(t, err)
	assert.Equal(t, "1000000.00", f.balance(t, reserveID))
	f.requireBalanced(t)

	// the retry goes through cleanly
	res, err := f.funds.FundUserFromSystem(f.ctx, FundingRequest{
		TargetUserID: u.ID, TargetAccountID: acct.ID, Amount: money("5.00"),
		AdminUserID: adminUser.ID, ReferenceNumber: "FUND-ATOMIC",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TxnCompleted, res.Status)
	assert.False(t, res.Replayed)
}

func TestFundUserReplay(t *testing.T) {
	f := newFixture(t)
	adminUser, _ := f.newUser(t, admin)
	u, acct := f.newUser(t)
	req := FundingRequest{
		TargetUserID: u.ID, TargetAccountID: acct.ID, Amount: money("12.50"),
		AdminUserID: adminUser.ID, ReferenceNumber: "FUND-0001",
	}

	first, err := f.funds.FundUserFromSystem(f.ctx, req)
	require.NoError(t, err)
	second, err := f.funds.FundUserFromSystem(f.ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, first.CreditEntryID, second.CreditEntryID)
	assert.Equal(t, "12.50", f.balance(t, u.ID))

	// a deposit may not borrow the funding's reference
	_, err = f.txns.Deposit(f.ctx, DepositRequest{UserID: u.ID, Amount: money("12.50"), ReferenceNumber: "FUND-0001"})
	assert.True(t, apperr.Is(err, apperr.CodeConflict))
}
