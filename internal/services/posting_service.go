package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/finanza-bank/ledger-core/internal/apperr"
	"github.com/finanza-bank/ledger-core/internal/config"
	"github.com/finanza-bank/ledger-core/internal/events"
	"github.com/finanza-bank/ledger-core/internal/metrics"
	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/finanza-bank/ledger-core/internal/repository"
)

type PostingRequest struct {
	Transaction models.Transaction
	FromUserID  int64
	ToUserID    int64
	Amount      decimal.Decimal
	Description string
}

type PostingPair struct {
	Debit       models.Posting  `json:"debit"`
	Credit      models.Posting  `json:"credit"`
	FromBalance decimal.Decimal `json:"from_balance"`
	ToBalance   decimal.Decimal `json:"to_balance"`
}

// LedgerPostingService is the only writer of ledger postings and of the
// cached account balances. It performs no policy checks: callers post only
// transactions the gate already completed, inside their unit of work.
type LedgerPostingService struct {
	sys config.SystemAccounts
	log *slog.Logger
}

func NewLedgerPostingService(sys config.SystemAccounts, log *slog.Logger) *LedgerPostingService {
	return &LedgerPostingService{sys: sys, log: log}
}

// Post writes the debit then the credit for one movement, refreshes both
// parties' cached balances and queues the completion event. Any failure
// must abort the caller's unit of work so neither posting survives.
func (s *LedgerPostingService) Post(ctx context.Context, repos repository.Repositories, req PostingRequest) (PostingPair, error) {
	txn := req.Transaction
	switch {
	case txn.ID == 0:
		return PostingPair{}, apperr.New(apperr.CodeInternal, "posting requires a persisted transaction")
	case txn.Status != models.TxnCompleted:
		return PostingPair{}, apperr.New(apperr.CodeStateConflict,
			fmt.Sprintf("transaction %d is %s; only completed transactions post", txn.ID, txn.Status))
	case !req.Amount.IsPositive():
		return PostingPair{}, apperr.New(apperr.CodeValidation, "posting amount must be positive")
	case req.FromUserID == req.ToUserID:
		return PostingPair{}, apperr.New(apperr.CodeValidation, "posting parties must differ")
	}

	desc := req.Description
	if desc == "" {
		desc = string(txn.Type)
	}
	from, to := req.FromUserID, req.ToUserID

	debit, err := repos.Postings.Create(ctx, models.Posting{
		UserID:            from,
		Role:              models.RoleDebit,
		Amount:            req.Amount,
		Status:            models.PostingPosted,
		TransactionID:     txn.ID,
		SourceUserID:      &from,
		DestinationUserID: &to,
		Description:       "Debit: " + desc,
		ReferenceNumber:   txn.ReferenceNumber,
	})
	if err != nil {
		return PostingPair{}, fmt.Errorf("write debit posting: %w", err)
	}
	credit, err := repos.Postings.Create(ctx, models.Posting{
		UserID:            to,
		Role:              models.RoleCredit,
		Amount:            req.Amount,
		Status:            models.PostingPosted,
		TransactionID:     txn.ID,
		SourceUserID:      &from,
		DestinationUserID: &to,
		Description:       "Credit: " + desc,
		ReferenceNumber:   txn.ReferenceNumber,
	})
	if err != nil {
		return PostingPair{}, fmt.Errorf("write credit posting: %w", err)
	}

	balances, err := s.RefreshCachedBalances(ctx, repos, from, to)
	if err != nil {
		return PostingPair{}, err
	}

	msg, err := events.NewCompletedMessage(txn, to, balances[to])
	if err != nil {
		return PostingPair{}, fmt.Errorf("build completion event: %w", err)
	}
	if _, err := repos.Outbox.Create(ctx, msg); err != nil {
		return PostingPair{}, fmt.Errorf("queue completion event: %w", err)
	}

	metrics.PostingsTotal.WithLabelValues(string(models.RoleDebit)).Inc()
	metrics.PostingsTotal.WithLabelValues(string(models.RoleCredit)).Inc()
	s.log.DebugContext(ctx, "ledger pair posted",
		"transaction_id", txn.ID, "debit_id", debit.ID, "credit_id", credit.ID,
		"from_user", from, "to_user", to, "amount", req.Amount.StringFixed(2))

	return PostingPair{Debit: debit, Credit: credit, FromBalance: balances[from], ToBalance: balances[to]}, nil
}

// PostOpening writes the single credit of the reserve's system_seed
// transaction, the one movement with no counter-entry.
func (s *LedgerPostingService) PostOpening(ctx context.Context, repos repository.Repositories, txn models.Transaction, amount decimal.Decimal) (models.Posting, error) {
	if txn.Type != models.TxnSystemSeed || txn.Status != models.TxnCompleted {
		return models.Posting{}, apperr.New(apperr.CodeStateConflict, "only a completed system_seed transaction posts a single credit")
	}
	if !amount.IsPositive() {
		return models.Posting{}, apperr.New(apperr.CodeValidation, "seed amount must be positive")
	}
	credit, err := repos.Postings.Create(ctx, models.Posting{
		UserID:          txn.UserID,
		Role:            models.RoleCredit,
		Amount:          amount,
		Status:          models.PostingPosted,
		TransactionID:   txn.ID,
		Description:     "Credit: system reserve opening balance",
		ReferenceNumber: txn.ReferenceNumber,
	})
	if err != nil {
		return models.Posting{}, fmt.Errorf("write seed posting: %w", err)
	}
	if _, err := s.RefreshCachedBalances(ctx, repos, txn.UserID); err != nil {
		return models.Posting{}, err
	}
	metrics.PostingsTotal.WithLabelValues(string(models.RoleCredit)).Inc()
	return credit, nil
}

// RefreshCachedBalances recomputes each user's ledger balance and writes
// it to every account they hold. It returns the balances it wrote.
func (s *LedgerPostingService) RefreshCachedBalances(ctx context.Context, repos repository.Repositories, userIDs ...int64) (map[int64]decimal.Decimal, error) {
	engine := NewBalanceEngine(repos, s.sys)
	out := make(map[int64]decimal.Decimal, len(userIDs))
	for _, id := range userIDs {
		if _, done := out[id]; done {
			continue
		}
		bal, err := engine.Balance(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := repos.Accounts.SetCachedBalance(ctx, id, bal); err != nil {
			return nil, fmt.Errorf("refresh cached balance of user %d: %w", id, err)
		}
		out[id] = bal
	}
	return out, nil
}
