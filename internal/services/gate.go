package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/finanza-bank/ledger-core/internal/metrics"
	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/finanza-bank/ledger-core/internal/repository"
	"github.com/finanza-bank/ledger-core/internal/validate"
)

// Decision reasons. Callers and stored status_reason values use these
// strings verbatim.
const (
	ReasonInvalidAmount       = "invalid amount"
	ReasonSelfTransfer        = "cannot transfer to self"
	ReasonUserNotFound        = "user not found"
	ReasonSenderNotFound      = "sender not found"
	ReasonRecipientNotFound   = "recipient not found"
	ReasonNoAccount           = "no account"
	ReasonSenderNoAccount     = "sender has no account"
	ReasonRecipientNoAccount  = "recipient has no account"
	ReasonInsufficientFunds   = "insufficient funds"
	ReasonKYCNotApproved      = "KYC not approved"
	ReasonSenderKYC           = "sender KYC not approved"
	ReasonRecipientKYC        = "recipient KYC not approved"
	ReasonUserInactive        = "user inactive"
	ReasonSenderInactive      = "sender inactive"
	ReasonRecipientInactive   = "recipient inactive"
	ReasonInsufficientReserve = "insufficient reserve funds"
)

// Decision is the gate's verdict. Only a completed decision may be posted;
// blocked is a policy hold that can be re-evaluated later; failed is final.
type Decision struct {
	Status models.TransactionStatus `json:"status"`
	Reason string                   `json:"reason,omitempty"`
	// Account is the resolved target account for deposits and the sender's
	// account for transfers. Zero when it could not be resolved.
	Account models.Account `json:"-"`
	// Counterparty is the recipient's account on transfers.
	Counterparty models.Account   `json:"-"`
	KYCStatus    models.KYCStatus `json:"-"`
}

func (d Decision) CanComplete() bool { return d.Status == models.TxnCompleted }

func (d Decision) with(status models.TransactionStatus, reason string) Decision {
	d.Status, d.Reason = status, reason
	return d
}

// TransactionGate decides whether a movement may post. It reads state and
// never writes; the same inputs against the same state give the same
// decision.
type TransactionGate struct {
	repos    repository.Repositories
	balances *BalanceEngine
}

func NewTransactionGate(repos repository.Repositories, balances *BalanceEngine) *TransactionGate {
	return &TransactionGate{repos: repos, balances: balances}
}

func (g *TransactionGate) WithRepos(repos repository.Repositories) *TransactionGate {
	return &TransactionGate{repos: repos, balances: g.balances.WithRepos(repos)}
}

// EvaluateDeposit checks, in order: amount, user, account, KYC, active flag.
func (g *TransactionGate) EvaluateDeposit(ctx context.Context, userID int64, amount decimal.Decimal, accountID *int64) (Decision, error) {
	d, err := g.evaluateDeposit(ctx, userID, amount, accountID)
	if err == nil {
		metrics.GateDecisions.WithLabelValues("deposit", string(d.Status)).Inc()
	}
	return d, err
}

func (g *TransactionGate) evaluateDeposit(ctx context.Context, userID int64, amount decimal.Decimal, accountID *int64) (Decision, error) {
	var d Decision
	if !validate.Amount(amount) {
		return d.with(models.TxnFailed, ReasonInvalidAmount), nil
	}
	user, found, err := g.user(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if !found {
		return d.with(models.TxnFailed, ReasonUserNotFound), nil
	}
	d.KYCStatus = user.KYCStatus

	acct, ok, err := g.resolveAccount(ctx, userID, accountID)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return d.with(models.TxnBlocked, ReasonNoAccount), nil
	}
	d.Account = acct

	if !user.KYCApproved() {
		return d.with(models.TxnBlocked, ReasonKYCNotApproved), nil
	}
	if !user.IsActive {
		return d.with(models.TxnBlocked, ReasonUserInactive), nil
	}
	return d.with(models.TxnCompleted, ""), nil
}

// EvaluateTransfer checks, in order: amount, self-transfer, both users,
// sender account, recipient account, sender balance, sender KYC, recipient
// KYC, active flags.
func (g *TransactionGate) EvaluateTransfer(ctx context.Context, senderID, recipientID int64, amount decimal.Decimal, senderAccountID, recipientAccountID *int64) (Decision, error) {
	d, err := g.evaluateTransfer(ctx, senderID, recipientID, amount, senderAccountID, recipientAccountID)
	if err == nil {
		metrics.GateDecisions.WithLabelValues("transfer", string(d.Status)).Inc()
	}
	return d, err
}

func (g *TransactionGate) evaluateTransfer(ctx context.Context, senderID, recipientID int64, amount decimal.Decimal, senderAccountID, recipientAccountID *int64) (Decision, error) {
	var d Decision
	if !validate.Amount(amount) {
		return d.with(models.TxnFailed, ReasonInvalidAmount), nil
	}
	if senderID == recipientID {
		return d.with(models.TxnFailed, ReasonSelfTransfer), nil
	}
	sender, found, err := g.user(ctx, senderID)
	if err != nil {
		return Decision{}, err
	}
	if !found {
		return d.with(models.TxnFailed, ReasonSenderNotFound), nil
	}
	d.KYCStatus = sender.KYCStatus
	recipient, found, err := g.user(ctx, recipientID)
	if err != nil {
		return Decision{}, err
	}
	if !found {
		return d.with(models.TxnFailed, ReasonRecipientNotFound), nil
	}

	from, ok, err := g.resolveAccount(ctx, senderID, senderAccountID)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return d.with(models.TxnBlocked, ReasonSenderNoAccount), nil
	}
	d.Account = from
	to, ok, err := g.resolveAccount(ctx, recipientID, recipientAccountID)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return d.with(models.TxnBlocked, ReasonRecipientNoAccount), nil
	}
	d.Counterparty = to

	balance, err := g.balances.Balance(ctx, senderID)
	if err != nil {
		return Decision{}, err
	}
	if balance.LessThan(amount) {
		return d.with(models.TxnFailed, ReasonInsufficientFunds), nil
	}

	switch {
	case !sender.KYCApproved():
		return d.with(models.TxnBlocked, ReasonSenderKYC), nil
	case !recipient.KYCApproved():
		return d.with(models.TxnBlocked, ReasonRecipientKYC), nil
	case !sender.IsActive:
		return d.with(models.TxnBlocked, ReasonSenderInactive), nil
	case !recipient.IsActive:
		return d.with(models.TxnBlocked, ReasonRecipientInactive), nil
	}
	return d.with(models.TxnCompleted, ""), nil
}

// HeldFunds sums the user's pending and blocked transactions. Held funds
// were never posted and do not change the balance.
func (g *TransactionGate) HeldFunds(ctx context.Context, userID int64) (decimal.Decimal, error) {
	h, err := g.repos.Transactions.HeldTotals(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("held totals: %w", err)
	}
	return h.Amount, nil
}

func (g *TransactionGate) user(ctx context.Context, id int64) (models.User, bool, error) {
	u, err := g.repos.Users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, fmt.Errorf("load user %d: %w", id, err)
	}
	return u, true, nil
}

// resolveAccount returns the requested account, or the user's first active
// account when none is named. The account must exist, be active and belong
// to the user.
func (g *TransactionGate) resolveAccount(ctx context.Context, userID int64, accountID *int64) (models.Account, bool, error) {
	if accountID != nil {
		acct, err := g.repos.Accounts.GetByID(ctx, *accountID)
		if errors.Is(err, repository.ErrNotFound) {
			return models.Account{}, false, nil
		}
		if err != nil {
			return models.Account{}, false, fmt.Errorf("load account %d: %w", *accountID, err)
		}
		if acct.OwnerID != userID || !acct.IsActive() {
			return models.Account{}, false, nil
		}
		return acct, true, nil
	}

	accts, err := g.repos.Accounts.ListByOwner(ctx, userID)
	if err != nil {
		return models.Account{}, false, fmt.Errorf("list accounts of user %d: %w", userID, err)
	}
	for _, a := range accts {
		if a.IsActive() {
			return a, true, nil
		}
	}
	return models.Account{}, false, nil
}
