package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finanza-bank/ledger-core/internal/metrics"
	"github.com/finanza-bank/ledger-core/internal/repository"
)

const defaultReconcilePage = 200

type Drift struct {
	AccountID int64           `json:"account_id"`
	OwnerID   int64           `json:"owner_id"`
	Cached    decimal.Decimal `json:"cached"`
	Derived   decimal.Decimal `json:"derived"`
}

type ReconcileReport struct {
	Checked  int     `json:"checked"`
	Drifted  []Drift `json:"drifted,omitempty"`
	Repaired int     `json:"repaired"`
}

// Reconciler walks every account and compares its cached balance with the
// balance derived from postings. With repair set, drifted owners get their
// cached balance rewritten from the ledger.
type Reconciler struct {
	store    repository.Store
	balances *BalanceEngine
	postings *LedgerPostingService
	log      *slog.Logger
	pageSize int
}

func NewReconciler(store repository.Store, balances *BalanceEngine, postings *LedgerPostingService, log *slog.Logger) *Reconciler {
	return &Reconciler{store: store, balances: balances, postings: postings, log: log, pageSize: defaultReconcilePage}
}

func (r *Reconciler) RunOnce(ctx context.Context, repair bool) (ReconcileReport, error) {
	var (
		report  ReconcileReport
		afterID int64
		repos   = r.store.Repos()
		engine  = r.balances.WithRepos(repos)
	)
	for {
		page, err := repos.Accounts.List(ctx, afterID, r.pageSize)
		if err != nil {
			return report, internal(err, "reconcile")
		}
		for _, acct := range page {
			ok, derived, err := engine.reconcileAccount(ctx, acct)
			if err != nil {
				return report, internal(err, "reconcile")
			}
			report.Checked++
			if !ok {
				report.Drifted = append(report.Drifted, Drift{
					AccountID: acct.ID, OwnerID: acct.OwnerID, Cached: acct.Balance, Derived: derived,
				})
			}
		}
		if len(page) < r.pageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}
	metrics.ReconcileDrift.Set(float64(len(report.Drifted)))

	if repair && len(report.Drifted) > 0 {
		owners := make([]int64, 0, len(report.Drifted))
		for _, d := range report.Drifted {
			owners = append(owners, d.OwnerID)
		}
		err := r.store.WithTx(ctx, func(repos repository.Repositories) error {
			_, err := r.postings.RefreshCachedBalances(ctx, repos, owners...)
			return err
		})
		if err != nil {
			return report, internal(err, "reconcile repair")
		}
		report.Repaired = len(report.Drifted)
	}
	for _, d := range report.Drifted {
		r.log.WarnContext(ctx, "cached balance drift",
			"account_id", d.AccountID, "owner_id", d.OwnerID,
			"cached", d.Cached.StringFixed(2), "derived", d.Derived.StringFixed(2), "repaired", repair)
	}
	return report, nil
}

// Start runs a repairing pass every interval until ctx is done.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.RunOnce(ctx, true); err != nil && ctx.Err() == nil {
				r.log.ErrorContext(ctx, "reconcile pass failed", "err", err)
			}
		}
	}
}
