package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/finanza-bank/ledger-core/internal/config"
	"github.com/finanza-bank/ledger-core/internal/lock"
	"github.com/finanza-bank/ledger-core/internal/metrics"
	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/finanza-bank/ledger-core/internal/repository"
	"github.com/finanza-bank/ledger-core/internal/validate"
)

type FundingResult struct {
	Status          models.TransactionStatus `json:"status"`
	Reason          string                   `json:"reason,omitempty"`
	TransactionID   int64                    `json:"transaction_id,omitempty"`
	ReferenceNumber string                   `json:"reference_number,omitempty"`
	DebitEntryID    int64                    `json:"debit_entry_id,omitempty"`
	CreditEntryID   int64                    `json:"credit_entry_id,omitempty"`
	AuditLogID      int64                    `json:"audit_log_id,omitempty"`
	NewBalance      decimal.Decimal          `json:"new_balance"`
	// Replayed is set when the reference number matched an earlier request
	// and its original outcome was returned without posting again.
	Replayed bool `json:"replayed,omitempty"`
}

// SystemFundService lets an administrator credit a user from the reserve.
type SystemFundService struct {
	store    repository.Store
	funder   *reserveFunder
	balances *BalanceEngine
	log      *slog.Logger
}

func NewSystemFundService(store repository.Store, gate *TransactionGate, balances *BalanceEngine, postings *LedgerPostingService, sys config.SystemAccounts, locker lock.Locker, log *slog.Logger) *SystemFundService {
	return &SystemFundService{
		store: store,
		funder: &reserveFunder{
			sys: sys, locker: locker, gate: gate, balances: balances, postings: postings,
		},
		balances: balances,
		log:      log,
	}
}

// FundUserFromSystem gates the funding like a deposit and, in one unit of
// work, records the transaction, the reserve-to-user posting pair when
// completed, and the audit entry. A failed decision persists nothing and
// is returned as a result, not an error.
func (s *SystemFundService) FundUserFromSystem(ctx context.Context, req FundingRequest) (FundingResult, error) {
	if err := validate.Struct(req); err != nil {
		return FundingResult{}, validationError(err)
	}
	release, err := s.funder.acquire(ctx)
	if err != nil {
		return FundingResult{}, err
	}
	defer release()

	var res FundingResult
	err = s.store.WithTx(ctx, func(repos repository.Repositories) error {
		res = FundingResult{}
		if req.ReferenceNumber != "" {
			prior, err := repos.Transactions.GetByReference(ctx, req.ReferenceNumber)
			if err == nil {
				res, err = s.replay(ctx, repos, prior, req)
				return err
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
		}
		if _, err := requireAdmin(ctx, repos.Users, req.AdminUserID); err != nil {
			return err
		}

		ref := req.ReferenceNumber
		if ref == "" {
			ref = NewReferenceNumber("FUND")
		}
		out, err := s.funder.credit(ctx, repos, reserveCredit{
			UserID:      req.TargetUserID,
			AccountID:   &req.TargetAccountID,
			Amount:      req.Amount,
			Type:        models.TxnFunding,
			Reference:   ref,
			Description: req.Reason,
		})
		if err != nil {
			return err
		}
		res.Status, res.Reason = out.Decision.Status, out.Decision.Reason
		if out.Decision.Status == models.TxnFailed {
			return nil
		}
		res.TransactionID, res.ReferenceNumber = out.Transaction.ID, out.Transaction.ReferenceNumber

		entry := models.AuditLog{
			AdminID:       req.AdminUserID,
			UserID:        req.TargetUserID,
			AccountID:     accountRef(out.Decision.Account.ID),
			Action:        models.AuditFund,
			Outcome:       string(out.Decision.Status),
			Amount:        req.Amount,
			TransactionID: ptr(out.Transaction.ID),
			Reason:        req.Reason,
		}
		if out.Postings != nil {
			entry.DebitPostingID = ptr(out.Postings.Debit.ID)
			entry.CreditPostingID = ptr(out.Postings.Credit.ID)
			res.DebitEntryID, res.CreditEntryID = out.Postings.Debit.ID, out.Postings.Credit.ID
			res.NewBalance = out.Postings.ToBalance
		} else if res.NewBalance, err = s.balances.WithRepos(repos).Balance(ctx, req.TargetUserID); err != nil {
			return err
		}
		entry, err = repos.AuditLogs.Create(ctx, entry)
		if err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}
		res.AuditLogID = entry.ID
		return nil
	})
	if err != nil {
		s.log.ErrorContext(ctx, "funding aborted",
			"target_user", req.TargetUserID, "admin", req.AdminUserID, "err", err)
		return FundingResult{}, internal(err, "funding")
	}

	if !res.Replayed {
		metrics.TransactionsTotal.WithLabelValues(string(models.TxnFunding), string(res.Status)).Inc()
		if res.Status == models.TxnFailed {
			metrics.TransactionsFailed.Inc()
		}
	}
	s.log.InfoContext(ctx, "funding processed",
		"transaction_id", res.TransactionID, "target_user", req.TargetUserID, "admin", req.AdminUserID,
		"status", res.Status, "reason", res.Reason, "replayed", res.Replayed)
	return res, nil
}

// replay rebuilds the result of an earlier funding with the same reference.
func (s *SystemFundService) replay(ctx context.Context, repos repository.Repositories, prior models.Transaction, req FundingRequest) (FundingResult, error) {
	if prior.Type != models.TxnFunding || prior.UserID != req.TargetUserID || !prior.Amount.Equal(req.Amount) {
		return FundingResult{}, duplicateReference(req.ReferenceNumber)
	}
	res := FundingResult{
		Status:          prior.Status,
		Reason:          prior.StatusReason,
		TransactionID:   prior.ID,
		ReferenceNumber: prior.ReferenceNumber,
		Replayed:        true,
	}
	postings, err := repos.Postings.ListByTransaction(ctx, prior.ID)
	if err != nil {
		return FundingResult{}, err
	}
	for _, p := range postings {
		if p.Role == models.RoleDebit {
			res.DebitEntryID = p.ID
		} else {
			res.CreditEntryID = p.ID
		}
	}
	audits, err := repos.AuditLogs.ListByTransaction(ctx, prior.ID)
	if err != nil {
		return FundingResult{}, err
	}
	for _, a := range audits {
		if a.Action == models.AuditFund {
			res.AuditLogID = a.ID
			break
		}
	}
	if res.NewBalance, err = s.balances.WithRepos(repos).Balance(ctx, prior.UserID); err != nil {
		return FundingResult{}, err
	}
	return res, nil
}
