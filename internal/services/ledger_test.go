package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finanza-bank/ledger-core/internal/apperr"
	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/finanza-bank/ledger-core/internal/repository"
)

func TestBootstrapIsIdempotent(t *testing.T) {
	f := newBareFixture(t, "5000.00")

	first, err := f.boot.EnsureReserve(f.ctx)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.NotZero(t, first.SeedTransactionID)
	assert.Equal(t, reserveID, first.User.ID)
	assert.True(t, first.User.IsAdmin)
	assert.Equal(t, models.AccountTreasury, first.Account.Type)

	second, err := f.boot.EnsureReserve(f.ctx)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Zero(t, second.SeedTransactionID)
	assert.Equal(t, first.Account.ID, second.Account.ID)

	assert.Equal(t, "5000.00", f.balance(t, reserveID))
	seed := f.postingsOf(t, first.SeedTransactionID)
	require.Len(t, seed, 1)
	assert.Equal(t, models.RoleCredit, seed[0].Role)
	f.requireBalanced(t)
}

func TestBootstrapWithoutSeed(t *testing.T) {
	f := newBareFixture(t, "0")
	res, err := f.boot.EnsureReserve(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.SeedTransactionID)
	assert.Equal(t, "0.00", f.balance(t, reserveID))
}

func TestPostRefusesUncompletedTransactions(t *testing.T) {
	f := newFixture(t)
	u, _ := f.newUser(t)
	err := f.store.WithTx(f.ctx, func(r repository.Repositories) error {
		_, err := f.postings.Post(f.ctx, r, PostingRequest{
			Transaction: models.Transaction{ID: 42, Status: models.TxnBlocked, Type: models.TxnDeposit},
			FromUserID:  reserveID, ToUserID: u.ID, Amount: money("1.00"),
		})
		return err
	})
	assert.True(t, apperr.Is(err, apperr.CodeStateConflict))

	err = f.store.WithTx(f.ctx, func(r repository.Repositories) error {
		_, err := f.postings.Post(f.ctx, r, PostingRequest{
			Transaction: models.Transaction{ID: 42, Status: models.TxnCompleted, Type: models.TxnTransfer},
			FromUserID:  u.ID, ToUserID: u.ID, Amount: money("1.00"),
		})
		return err
	})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestGateIsDeterministicAndReadOnly(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.newUser(t)
	bob, _ := f.newUser(t, pendingKYC)
	f.deposit(t, alice.ID, "20.00")

	before, err := f.repos().Outbox.ListPending(f.ctx, 100)
	require.NoError(t, err)

	a, err := f.gate.EvaluateTransfer(f.ctx, alice.ID, bob.ID, money("5.00"), nil, nil)
	require.NoError(t, err)
	b, err := f.gate.EvaluateTransfer(f.ctx, alice.ID, bob.ID, money("5.00"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, a.Status, b.Status)
	assert.Equal(t, a.Reason, b.Reason)
	assert.Equal(t, ReasonRecipientKYC, a.Reason)

	after, err := f.repos().Outbox.ListPending(f.ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
	list, err := f.txns.ListByUser(f.ctx, alice.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGateRejectsForeignOrClosedAccount(t *testing.T) {
	f := newFixture(t)
	u, _ := f.newUser(t)
	_, otherAcct := f.newUser(t)

	d, err := f.gate.EvaluateDeposit(f.ctx, u.ID, money("1.00"), &otherAcct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxnBlocked, d.Status)
	assert.Equal(t, ReasonNoAccount, d.Reason)

	missing := int64(987654)
	d, err = f.gate.EvaluateDeposit(f.ctx, u.ID, money("1.00"), &missing)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoAccount, d.Reason)
}

func TestWithdrawalTotalCountsOnlyReturnsToReserve(t *testing.T) {
	f := newFixture(t)
	adminUser, _ := f.newUser(t, admin)
	alice, _ := f.newUser(t)
	bob, _ := f.newUser(t)
	dep := f.deposit(t, alice.ID, "500.00")
	_, err := f.txns.Transfer(f.ctx, TransferRequest{SenderID: alice.ID, RecipientID: bob.ID, Amount: money("200.00")})
	require.NoError(t, err)

	w, err := f.balances.WithdrawalTotal(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.00", w.StringFixed(2))

	_, err = f.txns.Reverse(f.ctx, ReversalRequest{TransactionID: dep.Transaction.ID, AdminUserID: adminUser.ID, Reason: "chargeback"})
	require.NoError(t, err)
	w, err = f.balances.WithdrawalTotal(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "500.00", w.StringFixed(2))
	assert.Equal(t, "-200.00", f.balance(t, alice.ID))
	f.requireBalanced(t)
}

func TestBalanceBreakdownAndPlatformTotals(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.newUser(t)
	bob, _ := f.newUser(t)
	carol, _ := f.newUser(t, pendingKYC)
	f.deposit(t, alice.ID, "100.00")
	f.deposit(t, bob.ID, "10.00")
	_, err := f.txns.Transfer(f.ctx, TransferRequest{SenderID: alice.ID, RecipientID: bob.ID, Amount: money("25.00")})
	require.NoError(t, err)
	_, err = f.txns.Transfer(f.ctx, TransferRequest{SenderID: alice.ID, RecipientID: carol.ID, Amount: money("5.00")})
	require.NoError(t, err)

	bd, err := f.balances.Breakdown(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "75.00", bd.Balance.StringFixed(2))
	assert.Equal(t, "100.00", bd.Deposits.StringFixed(2))
	assert.Equal(t, "0.00", bd.Withdrawals.StringFixed(2))
	assert.Equal(t, "5.00", bd.Held.StringFixed(2))
	assert.Equal(t, 1, bd.BlockedCount)

	deposits, err := f.balances.PlatformTotalDeposits(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "110.00", deposits.StringFixed(2))
	volume, err := f.balances.PlatformTotalVolume(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "135.00", volume.StringFixed(2))

	report, err := f.balances.Integrity(f.ctx)
	require.NoError(t, err)
	assert.True(t, report.Balanced())
	assert.Equal(t, "1000000.00", report.SeedCapital.StringFixed(2))
}

func TestIntegrityFlagsUnpairedPosting(t *testing.T) {
	f := newFixture(t)
	u, _ := f.newUser(t)
	res := f.deposit(t, u.ID, "10.00")

	_, err := f.repos().Postings.Create(f.ctx, models.Posting{
		UserID: u.ID, Role: models.RoleCredit, Amount: money("1.00"),
		Status: models.PostingPosted, TransactionID: res.Transaction.ID,
	})
	require.NoError(t, err)

	report, err := f.balances.Integrity(f.ctx)
	require.NoError(t, err)
	assert.False(t, report.Balanced())
	assert.Equal(t, "1.00", report.Difference.StringFixed(2))
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, res.Transaction.ID, report.Anomalies[0].TransactionID)
}

func TestReconcileDetectsAndRepairsDrift(t *testing.T) {
	f := newFixture(t)
	u, acct := f.newUser(t)
	f.deposit(t, u.ID, "60.00")

	ok, err := f.balances.Reconcile(f.ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.repos().Accounts.SetCachedBalance(f.ctx, u.ID, money("61.00")))
	ok, err = f.balances.Reconcile(f.ctx, acct.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	report, err := f.reconciler.RunOnce(f.ctx, false)
	require.NoError(t, err)
	require.Len(t, report.Drifted, 1)
	assert.Equal(t, acct.ID, report.Drifted[0].AccountID)
	assert.Equal(t, "60.00", report.Drifted[0].Derived.StringFixed(2))
	assert.Zero(t, report.Repaired)
	assert.Equal(t, "61.00", f.cached(t, acct.ID))

	report, err = f.reconciler.RunOnce(f.ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)
	assert.Equal(t, "60.00", f.cached(t, acct.ID))

	report, err = f.reconciler.RunOnce(f.ctx, false)
	require.NoError(t, err)
	assert.Empty(t, report.Drifted)
	assert.Equal(t, 2, report.Checked)
}

func TestReconcileToleratesSubCentDrift(t *testing.T) {
	f := newFixture(t)
	u, acct := f.newUser(t)
	f.deposit(t, u.ID, "60.00")
	require.NoError(t, f.repos().Accounts.SetCachedBalance(f.ctx, u.ID, money("60.009")))

	ok, err := f.balances.Reconcile(f.ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.balances.Reconcile(f.ctx, 424242)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestReconcilePagesThroughAccounts(t *testing.T) {
	f := newFixture(t)
	f.reconciler.pageSize = 2
	for i := 0; i < 4; i++ {
		f.newUser(t)
	}
	report, err := f.reconciler.RunOnce(f.ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Checked)
}
