package services

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/finanza-bank/ledger-core/internal/repository"
)

func TestConcurrentFundingAndCrossingTransfersStayBalanced(t *testing.T) {
	f := newBareFixture(t, "1000.00")
	_, err := f.boot.EnsureReserve(f.ctx)
	require.NoError(t, err)
	adminUser, _ := f.newUser(t, admin)

	type holder struct {
		user models.User
		acct models.Account
	}
	holders := make([]holder, 4)
	for i := range holders {
		holders[i].user, holders[i].acct = f.newUser(t)
	}

	const fundings = 30
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		failed    int
		errs      []error
	)
	for i := 0; i < fundings; i++ {
		h := holders[i%len(holders)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.funds.FundUserFromSystem(f.ctx, FundingRequest{
				TargetUserID: h.user.ID, TargetAccountID: h.acct.ID,
				Amount: money("50.00"), AdminUserID: adminUser.ID,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			switch res.Status {
			case models.TxnCompleted:
				completed++
			case models.TxnFailed:
				assert.Equal(t, ReasonInsufficientReserve, res.Reason)
				failed++
			}
		}()
	}
	for i := 0; i < 40; i++ {
		a, b := holders[i%2], holders[1-i%2]
		if i%4 >= 2 {
			a, b = holders[2+i%2], holders[3-i%2]
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.txns.Transfer(f.ctx, TransferRequest{SenderID: a.user.ID, RecipientID: b.user.ID, Amount: money("10.00")})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			assert.NotEqual(t, models.TxnBlocked, res.Status)
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 20, completed)
	assert.Equal(t, 10, failed)
	assert.Equal(t, "0.00", f.balance(t, reserveID))

	report, err := f.balances.Integrity(f.ctx)
	require.NoError(t, err)
	require.True(t, report.Balanced(), "ledger out of balance: %+v", report)

	users := []int64{reserveID, adminUser.ID}
	for _, h := range holders {
		users = append(users, h.user.ID)
	}
	total := decimal.Zero
	for _, uid := range users {
		b, err := f.balances.Balance(f.ctx, uid)
		require.NoError(t, err)
		assert.False(t, b.IsNegative(), "user %d balance %s", uid, b)
		total = total.Add(b)
	}
	assert.True(t, total.Equal(report.TotalCredits.Sub(report.TotalDebits)), "sum %s", total)
	assert.Equal(t, "1000.00", total.StringFixed(2))

	rec, err := f.reconciler.RunOnce(f.ctx, false)
	require.NoError(t, err)
	assert.Empty(t, rec.Drifted)
}

// lockRecorder records the order in which account rows are locked.
type lockRecorder struct {
	repository.Accounts
	locked []int64
}

func (r *lockRecorder) LockByID(ctx context.Context, id int64) (models.Account, error) {
	r.locked = append(r.locked, id)
	return r.Accounts.LockByID(ctx, id)
}

func TestLockPartiesLocksBothSidesInAccountOrder(t *testing.T) {
	f := newFixture(t)
	alice, a1 := f.newUser(t)
	bob, b1 := f.newUser(t)
	a2 := f.openAccount(t, alice.ID)

	for _, order := range [][2]int64{{alice.ID, bob.ID}, {bob.ID, alice.ID}} {
		err := f.store.WithTx(f.ctx, func(repos repository.Repositories) error {
			rec := &lockRecorder{Accounts: repos.Accounts}
			repos.Accounts = rec
			if err := lockParties(f.ctx, repos, order[0], order[1]); err != nil {
				return err
			}
			assert.Equal(t, []int64{a1.ID, b1.ID, a2.ID}, rec.locked)
			return nil
		})
		require.NoError(t, err)
	}

	err := f.store.WithTx(f.ctx, func(repos repository.Repositories) error {
		rec := &lockRecorder{Accounts: repos.Accounts}
		repos.Accounts = rec
		require.NoError(t, lockParties(f.ctx, repos, alice.ID, alice.ID))
		assert.Equal(t, []int64{a1.ID, a2.ID}, rec.locked)
		return nil
	})
	require.NoError(t, err)
}
