package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/finanza-bank/ledger-core/internal/apperr"
	"github.com/finanza-bank/ledger-core/internal/config"
	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/finanza-bank/ledger-core/internal/repository"
)

const reserveEmail = "treasury@system.local"

type BootstrapResult struct {
	User    models.User    `json:"user"`
	Account models.Account `json:"account"`
	// SeedTransactionID is zero when no seed was posted by this run.
	SeedTransactionID int64 `json:"seed_transaction_id,omitempty"`
	Created           bool  `json:"created"`
}

// Bootstrapper provisions the system reserve: its owner, its treasury
// account and the opening system_seed credit. It is safe to run on every
// start; existing pieces are left alone.
type Bootstrapper struct {
	store    repository.Store
	postings *LedgerPostingService
	sys      config.SystemAccounts
	log      *slog.Logger
}

func NewBootstrapper(store repository.Store, postings *LedgerPostingService, sys config.SystemAccounts, log *slog.Logger) *Bootstrapper {
	return &Bootstrapper{store: store, postings: postings, sys: sys, log: log}
}

func (b *Bootstrapper) EnsureReserve(ctx context.Context) (BootstrapResult, error) {
	var res BootstrapResult
	err := b.store.WithTx(ctx, func(repos repository.Repositories) error {
		res = BootstrapResult{}
		owner, err := repos.Users.GetByID(ctx, b.sys.ReserveUserID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			owner, err = repos.Users.Create(ctx, models.User{
				ID:        b.sys.ReserveUserID,
				Email:     reserveEmail,
				FullName:  "System Reserve",
				KYCStatus: models.KYCApproved,
				IsActive:  true,
				IsAdmin:   true,
			})
			if err != nil {
				return fmt.Errorf("create reserve owner: %w", err)
			}
			res.Created = true
		case err != nil:
			return err
		}
		res.User = owner

		acct, err := repos.Accounts.GetByNumber(ctx, b.sys.ReserveAccountNumber)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			acct, err = repos.Accounts.Create(ctx, models.Account{
				OwnerID:       owner.ID,
				AccountNumber: b.sys.ReserveAccountNumber,
				Type:          models.AccountTreasury,
				Currency:      b.sys.Currency,
				Status:        models.AccountActive,
			})
			if err != nil {
				return fmt.Errorf("create reserve account: %w", err)
			}
			res.Created = true
		case err != nil:
			return err
		case acct.OwnerID != owner.ID:
			return apperr.New(apperr.CodeReserveMissing,
				fmt.Sprintf("account %s exists but is owned by user %d", acct.AccountNumber, acct.OwnerID))
		}
		res.Account = acct

		if !b.sys.SeedAmount.IsPositive() {
			return nil
		}
		ref := "SEED-" + b.sys.ReserveAccountNumber
		if _, err := repos.Transactions.GetByReference(ctx, ref); err == nil {
			return nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		seed, err := repos.Transactions.Create(ctx, models.Transaction{
			UserID:          owner.ID,
			AccountID:       acct.ID,
			Amount:          b.sys.SeedAmount,
			Type:            models.TxnSystemSeed,
			Status:          models.TxnCompleted,
			KYCStatusAtTime: owner.KYCStatus,
			ReferenceNumber: ref,
			Description:     "System reserve opening balance",
		})
		if err != nil {
			return fmt.Errorf("record seed transaction: %w", err)
		}
		if _, err := b.postings.PostOpening(ctx, repos, seed, b.sys.SeedAmount); err != nil {
			return err
		}
		res.SeedTransactionID = seed.ID
		acct.Balance = b.sys.SeedAmount
		res.Account = acct
		return nil
	})
	if err != nil {
		return BootstrapResult{}, internal(err, "reserve bootstrap")
	}
	b.log.InfoContext(ctx, "system reserve ready",
		"user_id", res.User.ID, "account", res.Account.AccountNumber,
		"created", res.Created, "seeded", res.SeedTransactionID != 0)
	return res, nil
}
