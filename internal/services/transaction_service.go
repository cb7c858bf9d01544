package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finanza-bank/ledger-core/internal/apperr"
	"github.com/finanza-bank/ledger-core/internal/config"
	"github.com/finanza-bank/ledger-core/internal/lock"
	"github.com/finanza-bank/ledger-core/internal/metrics"
	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/finanza-bank/ledger-core/internal/repository"
	"github.com/finanza-bank/ledger-core/internal/validate"
	"github.com/finanza-bank/ledger-core/internal/worker"
)

type TransactionResult struct {
	Status models.TransactionStatus `json:"status"`
	Reason string                   `json:"reason,omitempty"`
	// Transaction is zero for a failed decision on a new request; failed
	// requests leave no row behind.
	Transaction models.Transaction `json:"transaction"`
	Postings    *PostingPair       `json:"postings,omitempty"`
	Replayed    bool               `json:"replayed,omitempty"`
}

type TransactionService struct {
	store    repository.Store
	gate     *TransactionGate
	balances *BalanceEngine
	postings *LedgerPostingService
	funder   *reserveFunder
	locker   lock.Locker
	pool     *worker.Pool
	log      *slog.Logger
}

func NewTransactionService(store repository.Store, gate *TransactionGate, balances *BalanceEngine, postings *LedgerPostingService, sys config.SystemAccounts, locker lock.Locker, pool *worker.Pool, log *slog.Logger) *TransactionService {
	return &TransactionService{
		store:    store,
		gate:     gate,
		balances: balances,
		postings: postings,
		funder: &reserveFunder{
			sys: sys, locker: locker, gate: gate, balances: balances, postings: postings,
		},
		locker: locker,
		pool:   pool,
		log:    log,
	}
}

// ----------------- Deposit -----------------

func (s *TransactionService) Deposit(ctx context.Context, req DepositRequest) (TransactionResult, error) {
	if err := validate.Struct(req); err != nil {
		return TransactionResult{}, validationError(err)
	}
	release, err := s.funder.acquire(ctx)
	if err != nil {
		return TransactionResult{}, err
	}
	defer release()

	var res TransactionResult
	err = s.store.WithTx(ctx, func(repos repository.Repositories) error {
		res = TransactionResult{}
		if replayed, ok, err := s.replay(ctx, repos, req.ReferenceNumber, models.TxnDeposit, req.UserID, req.Amount); err != nil || ok {
			res = replayed
			return err
		}
		ref := req.ReferenceNumber
		if ref == "" {
			ref = NewReferenceNumber("DEP")
		}
		out, err := s.funder.credit(ctx, repos, reserveCredit{
			UserID:      req.UserID,
			AccountID:   req.AccountID,
			Amount:      req.Amount,
			Type:        models.TxnDeposit,
			Reference:   ref,
			Description: req.Description,
		})
		if err != nil {
			return err
		}
		res = TransactionResult{
			Status:      out.Decision.Status,
			Reason:      out.Decision.Reason,
			Transaction: out.Transaction,
			Postings:    out.Postings,
		}
		return nil
	})
	if err != nil {
		s.log.ErrorContext(ctx, "deposit aborted", "user_id", req.UserID, "err", err)
		return TransactionResult{}, internal(err, "deposit")
	}
	s.record(ctx, models.TxnDeposit, res)
	return res, nil
}

// ----------------- Transfer -----------------

func (s *TransactionService) Transfer(ctx context.Context, req TransferRequest) (TransactionResult, error) {
	if err := validate.Struct(req); err != nil {
		return TransactionResult{}, validationError(err)
	}
	release, err := s.acquireUser(ctx, req.SenderID)
	if err != nil {
		return TransactionResult{}, err
	}
	defer release()

	var res TransactionResult
	err = s.store.WithTx(ctx, func(repos repository.Repositories) error {
		res = TransactionResult{}
		if replayed, ok, err := s.replay(ctx, repos, req.ReferenceNumber, models.TxnTransfer, req.SenderID, req.Amount); err != nil || ok {
			res = replayed
			return err
		}
		if err := lockParties(ctx, repos, req.SenderID, req.RecipientID); err != nil {
			return err
		}
		d, err := s.gate.WithRepos(repos).EvaluateTransfer(ctx, req.SenderID, req.RecipientID, req.Amount, req.SenderAccountID, req.RecipientAccountID)
		if err != nil {
			return err
		}
		res.Status, res.Reason = d.Status, d.Reason
		if d.Status == models.TxnFailed {
			return nil
		}

		ref := req.ReferenceNumber
		if ref == "" {
			ref = NewReferenceNumber("TRF")
		}
		txn, err := repos.Transactions.Create(ctx, models.Transaction{
			UserID:             req.SenderID,
			AccountID:          d.Account.ID,
			CounterpartyUserID: ptr(req.RecipientID),
			Amount:             req.Amount,
			Type:               models.TxnTransfer,
			Status:             d.Status,
			StatusReason:       d.Reason,
			KYCStatusAtTime:    d.KYCStatus,
			ReferenceNumber:    ref,
			Description:        req.Description,
		})
		if errors.Is(err, repository.ErrDuplicateReference) {
			return duplicateReference(ref)
		}
		if err != nil {
			return fmt.Errorf("record transfer: %w", err)
		}
		res.Transaction = txn

		if d.CanComplete() {
			pair, err := s.postings.Post(ctx, repos, PostingRequest{
				Transaction: txn,
				FromUserID:  req.SenderID,
				ToUserID:    req.RecipientID,
				Amount:      req.Amount,
				Description: req.Description,
			})
			if err != nil {
				return err
			}
			res.Postings = &pair
		}
		return nil
	})
	if err != nil {
		s.log.ErrorContext(ctx, "transfer aborted", "sender_id", req.SenderID, "recipient_id", req.RecipientID, "err", err)
		return TransactionResult{}, internal(err, "transfer")
	}
	s.record(ctx, models.TxnTransfer, res)
	return res, nil
}

// ----------------- Re-evaluation -----------------

// Reevaluate re-runs the gate for a pending or blocked transaction. A
// completed decision posts the pair; failed is final; blocked keeps the
// transaction held with the latest reason.
func (s *TransactionService) Reevaluate(ctx context.Context, transactionID int64) (TransactionResult, error) {
	current, err := s.store.Repos().Transactions.GetByID(ctx, transactionID)
	if errors.Is(err, repository.ErrNotFound) {
		return TransactionResult{}, apperr.New(apperr.CodeNotFound, fmt.Sprintf("transaction %d not found", transactionID))
	}
	if err != nil {
		return TransactionResult{}, internal(err, "re-evaluation")
	}

	var release func()
	switch current.Type {
	case models.TxnDeposit, models.TxnFunding:
		release, err = s.funder.acquire(ctx)
	case models.TxnTransfer:
		release, err = s.acquireUser(ctx, current.UserID)
	default:
		return TransactionResult{}, apperr.New(apperr.CodeStateConflict,
			fmt.Sprintf("%s transactions are never held", current.Type))
	}
	if err != nil {
		return TransactionResult{}, err
	}
	defer release()

	var res TransactionResult
	err = s.store.WithTx(ctx, func(repos repository.Repositories) error {
		res = TransactionResult{}
		txn, err := repos.Transactions.LockByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if !txn.Status.IsHeld() {
			return apperr.New(apperr.CodeStateConflict,
				fmt.Sprintf("transaction %d is %s; only pending or blocked transactions can be re-evaluated", txn.ID, txn.Status))
		}

		var (
			d        Decision
			from, to int64
		)
		switch txn.Type {
		case models.TxnDeposit, models.TxnFunding:
			if _, err := s.funder.lockReserve(ctx, repos); err != nil {
				return err
			}
			d, err = s.funder.decide(ctx, repos, txn.UserID, accountRef(txn.AccountID), txn.Amount)
			from, to = s.funder.sys.ReserveUserID, txn.UserID
		case models.TxnTransfer:
			if txn.CounterpartyUserID == nil {
				return apperr.New(apperr.CodeInternal, fmt.Sprintf("transfer %d has no recipient", txn.ID))
			}
			if err := lockParties(ctx, repos, txn.UserID, *txn.CounterpartyUserID); err != nil {
				return err
			}
			d, err = s.gate.WithRepos(repos).EvaluateTransfer(ctx, txn.UserID, *txn.CounterpartyUserID, txn.Amount, accountRef(txn.AccountID), nil)
			from, to = txn.UserID, *txn.CounterpartyUserID
		}
		if err != nil {
			return err
		}
		res.Status, res.Reason = d.Status, d.Reason

		if d.Status == models.TxnBlocked && txn.Status == models.TxnBlocked && d.Reason == txn.StatusReason {
			res.Transaction = txn
			return nil
		}
		if err := repos.Transactions.UpdateStatus(ctx, txn.ID, d.Status, d.Reason); err != nil {
			return fmt.Errorf("update transaction %d: %w", txn.ID, err)
		}
		txn.Status, txn.StatusReason = d.Status, d.Reason
		if d.CanComplete() && txn.AccountID == 0 && d.Account.ID != 0 {
			if err := repos.Transactions.AssignAccount(ctx, txn.ID, d.Account.ID); err != nil {
				return fmt.Errorf("assign account to transaction %d: %w", txn.ID, err)
			}
			txn.AccountID = d.Account.ID
		}
		res.Transaction = txn

		if d.CanComplete() {
			pair, err := s.postings.Post(ctx, repos, PostingRequest{
				Transaction: txn,
				FromUserID:  from,
				ToUserID:    to,
				Amount:      txn.Amount,
				Description: txn.Description,
			})
			if err != nil {
				return err
			}
			res.Postings = &pair
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return TransactionResult{}, apperr.New(apperr.CodeNotFound, fmt.Sprintf("transaction %d not found", transactionID))
		}
		return TransactionResult{}, internal(err, "re-evaluation")
	}
	if res.Status != current.Status || res.Reason != current.StatusReason {
		metrics.TransactionsTotal.WithLabelValues(string(current.Type), string(res.Status)).Inc()
		s.log.InfoContext(ctx, "held transaction re-evaluated",
			"transaction_id", transactionID, "from", current.Status, "status", res.Status, "reason", res.Reason)
	}
	return res, nil
}

type ReleaseReport struct {
	Users     int `json:"users"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	StillHeld int `json:"still_held"`
	Errors    int `json:"errors"`
}

// ReleaseHeld re-evaluates held transactions of up to limit users. Users
// are processed concurrently on the worker pool; one user's transactions
// are processed one at a time in creation order.
func (s *TransactionService) ReleaseHeld(ctx context.Context, limit int) (ReleaseReport, error) {
	users, err := s.store.Repos().Transactions.UsersWithHeld(ctx, limit)
	if err != nil {
		return ReleaseReport{}, internal(err, "release pass")
	}

	var (
		mu     sync.Mutex
		report = ReleaseReport{Users: len(users)}
	)
	jobs := make([]func(), 0, len(users))
	for _, uid := range users {
		jobs = append(jobs, func() {
			r := s.releaseUser(ctx, uid)
			mu.Lock()
			defer mu.Unlock()
			report.Completed += r.Completed
			report.Failed += r.Failed
			report.StillHeld += r.StillHeld
			report.Errors += r.Errors
		})
	}
	if s.pool != nil {
		s.pool.Run(jobs...)
	} else {
		for _, job := range jobs {
			job()
		}
	}

	if report.Users > 0 {
		s.log.InfoContext(ctx, "release pass finished",
			"users", report.Users, "completed", report.Completed, "failed", report.Failed,
			"still_held", report.StillHeld, "errors", report.Errors)
	}
	return report, ctx.Err()
}

// StartRelease runs a release pass of up to batch users every interval
// until ctx is done.
func (s *TransactionService) StartRelease(ctx context.Context, interval time.Duration, batch int) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.ReleaseHeld(ctx, batch); err != nil && ctx.Err() == nil {
				s.log.ErrorContext(ctx, "release pass failed", "err", err)
			}
		}
	}
}

func (s *TransactionService) releaseUser(ctx context.Context, userID int64) ReleaseReport {
	var r ReleaseReport
	held, err := s.store.Repos().Transactions.ListHeldByUser(ctx, userID)
	if err != nil {
		s.log.ErrorContext(ctx, "list held transactions", "user_id", userID, "err", err)
		r.Errors++
		return r
	}
	for _, t := range held {
		if ctx.Err() != nil {
			return r
		}
		res, err := s.Reevaluate(ctx, t.ID)
		switch {
		case apperr.Is(err, apperr.CodeStateConflict):
			// settled by someone else since the listing
		case err != nil:
			s.log.ErrorContext(ctx, "re-evaluate held transaction", "transaction_id", t.ID, "err", err)
			r.Errors++
		case res.Status == models.TxnCompleted:
			r.Completed++
		case res.Status == models.TxnFailed:
			r.Failed++
		default:
			r.StillHeld++
		}
	}
	return r
}

// ----------------- Admin transitions -----------------

// Cancel moves a pending or blocked transaction to cancelled. Nothing was
// posted for it, so nothing is unwound.
func (s *TransactionService) Cancel(ctx context.Context, req CancelRequest) (models.Transaction, error) {
	if err := validate.Struct(req); err != nil {
		return models.Transaction{}, validationError(err)
	}
	var out models.Transaction
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		if _, err := requireAdmin(ctx, repos.Users, req.AdminUserID); err != nil {
			return err
		}
		txn, err := repos.Transactions.LockByID(ctx, req.TransactionID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.CodeNotFound, fmt.Sprintf("transaction %d not found", req.TransactionID))
		}
		if err != nil {
			return err
		}
		if !models.CanTransition(txn.Status, models.TxnCancelled) {
			return apperr.New(apperr.CodeStateConflict,
				fmt.Sprintf("transaction %d is %s and cannot be cancelled", txn.ID, txn.Status))
		}
		if err := repos.Transactions.UpdateStatus(ctx, txn.ID, models.TxnCancelled, req.Reason); err != nil {
			return err
		}
		txn.Status, txn.StatusReason = models.TxnCancelled, req.Reason
		if _, err := repos.AuditLogs.Create(ctx, models.AuditLog{
			AdminID:       req.AdminUserID,
			UserID:        txn.UserID,
			AccountID:     accountRef(txn.AccountID),
			Action:        models.AuditCancelTransaction,
			Outcome:       string(models.TxnCancelled),
			Amount:        txn.Amount,
			TransactionID: ptr(txn.ID),
			Reason:        req.Reason,
		}); err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}
		out = txn
		return nil
	})
	if err != nil {
		return models.Transaction{}, internal(err, "cancellation")
	}
	metrics.TransactionsTotal.WithLabelValues(string(out.Type), string(models.TxnCancelled)).Inc()
	s.log.InfoContext(ctx, "transaction cancelled", "transaction_id", out.ID, "admin", req.AdminUserID)
	return out, nil
}

// Reverse undoes a completed transaction with a new reversal transaction
// whose pair swaps the original roles. The original and its postings stay
// untouched, and a transaction is reversed at most once.
func (s *TransactionService) Reverse(ctx context.Context, req ReversalRequest) (TransactionResult, error) {
	if err := validate.Struct(req); err != nil {
		return TransactionResult{}, validationError(err)
	}
	var res TransactionResult
	err := s.store.WithTx(ctx, func(repos repository.Repositories) error {
		res = TransactionResult{}
		if _, err := requireAdmin(ctx, repos.Users, req.AdminUserID); err != nil {
			return err
		}
		orig, err := repos.Transactions.LockByID(ctx, req.TransactionID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.CodeNotFound, fmt.Sprintf("transaction %d not found", req.TransactionID))
		}
		if err != nil {
			return err
		}
		if orig.Status != models.TxnCompleted {
			return apperr.New(apperr.CodeStateConflict,
				fmt.Sprintf("transaction %d is %s; only completed transactions can be reversed", orig.ID, orig.Status))
		}
		if orig.Type == models.TxnSystemSeed || orig.Type == models.TxnReversal {
			return apperr.New(apperr.CodeStateConflict, fmt.Sprintf("%s transactions cannot be reversed", orig.Type))
		}
		if prior, err := repos.Transactions.GetReversalOf(ctx, orig.ID); err == nil {
			return apperr.New(apperr.CodeConflict,
				fmt.Sprintf("transaction %d was already reversed by transaction %d", orig.ID, prior.ID))
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		pair, err := repos.Postings.ListByTransaction(ctx, orig.ID)
		if err != nil {
			return err
		}
		var debit, credit *models.Posting
		for i := range pair {
			switch pair[i].Role {
			case models.RoleDebit:
				debit = &pair[i]
			case models.RoleCredit:
				credit = &pair[i]
			}
		}
		if len(pair) != 2 || debit == nil || credit == nil {
			return apperr.New(apperr.CodeInternal, fmt.Sprintf("transaction %d does not have a posting pair", orig.ID))
		}

		if err := lockParties(ctx, repos, credit.UserID, debit.UserID); err != nil {
			return err
		}

		rev, err := repos.Transactions.Create(ctx, models.Transaction{
			UserID:             orig.UserID,
			AccountID:          orig.AccountID,
			CounterpartyUserID: orig.CounterpartyUserID,
			Amount:             orig.Amount,
			Type:               models.TxnReversal,
			Status:             models.TxnCompleted,
			KYCStatusAtTime:    orig.KYCStatusAtTime,
			ReferenceNumber:    NewReferenceNumber("REV"),
			ReversalOfID:       ptr(orig.ID),
			Description:        req.Reason,
		})
		if errors.Is(err, repository.ErrDuplicateReference) {
			return apperr.New(apperr.CodeConflict, fmt.Sprintf("transaction %d was already reversed", orig.ID))
		}
		if err != nil {
			return fmt.Errorf("record reversal: %w", err)
		}

		posted, err := s.postings.Post(ctx, repos, PostingRequest{
			Transaction: rev,
			FromUserID:  credit.UserID,
			ToUserID:    debit.UserID,
			Amount:      credit.Amount,
			Description: fmt.Sprintf("reversal of %s", orig.ReferenceNumber),
		})
		if err != nil {
			return err
		}
		if _, err := repos.AuditLogs.Create(ctx, models.AuditLog{
			AdminID:         req.AdminUserID,
			UserID:          orig.UserID,
			AccountID:       accountRef(orig.AccountID),
			Action:          models.AuditReverseTransaction,
			Outcome:         string(models.TxnCompleted),
			Amount:          orig.Amount,
			TransactionID:   ptr(rev.ID),
			DebitPostingID:  ptr(posted.Debit.ID),
			CreditPostingID: ptr(posted.Credit.ID),
			Reason:          req.Reason,
		}); err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}
		res = TransactionResult{Status: rev.Status, Transaction: rev, Postings: &posted}
		return nil
	})
	if err != nil {
		return TransactionResult{}, internal(err, "reversal")
	}
	s.record(ctx, models.TxnReversal, res)
	return res, nil
}

// ----------------- Reads -----------------

func (s *TransactionService) GetByID(ctx context.Context, id int64) (models.Transaction, error) {
	t, err := s.store.Repos().Transactions.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Transaction{}, apperr.New(apperr.CodeNotFound, fmt.Sprintf("transaction %d not found", id))
	}
	return t, internal(err, "load transaction")
}

func (s *TransactionService) GetByReference(ctx context.Context, ref string) (models.Transaction, error) {
	t, err := s.store.Repos().Transactions.GetByReference(ctx, ref)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Transaction{}, apperr.New(apperr.CodeNotFound, fmt.Sprintf("transaction %s not found", ref))
	}
	return t, internal(err, "load transaction")
}

func (s *TransactionService) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	out, err := s.store.Repos().Transactions.ListByUser(ctx, userID, limit, offset)
	return out, internal(err, "list transactions")
}

// ----------------- Helpers -----------------

// replay returns the stored outcome for a reused reference number. The
// reference must belong to the same kind of request for the same user and
// amount, otherwise it is a conflict.
func (s *TransactionService) replay(ctx context.Context, repos repository.Repositories, ref string, typ models.TransactionType, userID int64, amount decimal.Decimal) (TransactionResult, bool, error) {
	if ref == "" {
		return TransactionResult{}, false, nil
	}
	prior, err := repos.Transactions.GetByReference(ctx, ref)
	if errors.Is(err, repository.ErrNotFound) {
		return TransactionResult{}, false, nil
	}
	if err != nil {
		return TransactionResult{}, false, err
	}
	if prior.Type != typ || prior.UserID != userID || !prior.Amount.Equal(amount) {
		return TransactionResult{}, false, duplicateReference(ref)
	}
	res := TransactionResult{Status: prior.Status, Reason: prior.StatusReason, Transaction: prior, Replayed: true}
	postings, err := repos.Postings.ListByTransaction(ctx, prior.ID)
	if err != nil {
		return TransactionResult{}, false, err
	}
	if len(postings) == 2 {
		pair := PostingPair{}
		for _, p := range postings {
			if p.Role == models.RoleDebit {
				pair.Debit = p
			} else {
				pair.Credit = p
			}
		}
		res.Postings = &pair
	}
	return res, true, nil
}

func (s *TransactionService) acquireUser(ctx context.Context, userID int64) (func(), error) {
	release, err := s.locker.Acquire(ctx, lock.UserKey(userID))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDependency, err, "account lock unavailable")
	}
	return release, nil
}

// lockParties row-locks every account of the given users in ascending
// account id order. Both sides of a movement are locked before the gate
// reads a balance, and the fixed order keeps crossing transfers from
// waiting on each other.
func lockParties(ctx context.Context, repos repository.Repositories, userIDs ...int64) error {
	var ids []int64
	for _, uid := range userIDs {
		accts, err := repos.Accounts.ListByOwner(ctx, uid)
		if err != nil {
			return fmt.Errorf("list accounts of user %d: %w", uid, err)
		}
		for _, a := range accts {
			ids = append(ids, a.ID)
		}
	}
	slices.Sort(ids)
	for _, id := range slices.Compact(ids) {
		if _, err := repos.Accounts.LockByID(ctx, id); err != nil {
			return fmt.Errorf("lock account %d: %w", id, err)
		}
	}
	return nil
}

func (s *TransactionService) record(ctx context.Context, typ models.TransactionType, res TransactionResult) {
	if res.Replayed {
		return
	}
	metrics.TransactionsTotal.WithLabelValues(string(typ), string(res.Status)).Inc()
	if res.Status == models.TxnFailed {
		metrics.TransactionsFailed.Inc()
	}
	level := slog.LevelInfo
	if res.Status == models.TxnCompleted {
		level = slog.LevelDebug
	}
	s.log.Log(ctx, level, "transaction processed",
		"type", typ, "transaction_id", res.Transaction.ID, "status", res.Status, "reason", res.Reason)
}
