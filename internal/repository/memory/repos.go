package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/finanza-bank/ledger-core/internal/repository"
)

type usersRepo struct{ v *view }

func (r *usersRepo) Create(_ context.Context, u models.User) (models.User, error) {
	err := r.v.write("users.create", func(st *state) error {
		if u.ID == 0 {
			u.ID = st.next("users")
		} else if u.ID > st.seq["users"] {
			st.seq["users"] = u.ID
		}
		if _, ok := st.users[u.ID]; ok {
			return repository.ErrDuplicateReference
		}
		if u.KYCStatus == "" {
			u.KYCStatus = models.KYCNotStarted
		}
		u.CreatedAt, u.UpdatedAt = time.Now(), time.Now()
		st.users[u.ID] = u
		return nil
	})
	return u, err
}

func (r *usersRepo) GetByID(_ context.Context, id int64) (models.User, error) {
	var u models.User
	err := r.v.read(func(st *state) error {
		var ok bool
		if u, ok = st.users[id]; !ok {
			return repository.ErrNotFound
		}
		return nil
	})
	return u, err
}

func (r *usersRepo) SetKYCStatus(_ context.Context, id int64, status models.KYCStatus) error {
	return r.v.write("users.set_kyc", func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		u.KYCStatus, u.UpdatedAt = status, time.Now()
		st.users[id] = u
		return nil
	})
}

func (r *usersRepo) SetActive(_ context.Context, id int64, active bool) error {
	return r.v.write("users.set_active", func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		u.IsActive, u.UpdatedAt = active, time.Now()
		st.users[id] = u
		return nil
	})
}

type accountsRepo struct{ v *view }

func (r *accountsRepo) Create(_ context.Context, a models.Account) (models.Account, error) {
	err := r.v.write("accounts.create", func(st *state) error {
		for _, existing := range st.accounts {
			if existing.AccountNumber == a.AccountNumber {
				return repository.ErrDuplicateReference
			}
		}
		a.ID = st.next("accounts")
		if a.Status == "" {
			a.Status = models.AccountActive
		}
		a.CreatedAt, a.UpdatedAt = time.Now(), time.Now()
		st.accounts[a.ID] = a
		return nil
	})
	return a, err
}

func (r *accountsRepo) GetByID(_ context.Context, id int64) (models.Account, error) {
	var a models.Account
	err := r.v.read(func(st *state) error {
		var ok bool
		if a, ok = st.accounts[id]; !ok {
			return repository.ErrNotFound
		}
		return nil
	})
	return a, err
}

func (r *accountsRepo) GetByNumber(_ context.Context, number string) (models.Account, error) {
	var a models.Account
	err := r.v.read(func(st *state) error {
		for _, acct := range st.accounts {
			if acct.AccountNumber == number {
				a = acct
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return a, err
}

func (r *accountsRepo) ListByOwner(_ context.Context, ownerID int64) ([]models.Account, error) {
	var out []models.Account
	err := r.v.read(func(st *state) error {
		for _, a := range st.accounts {
			if a.OwnerID == ownerID {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *accountsRepo) List(_ context.Context, afterID int64, limit int) ([]models.Account, error) {
	var out []models.Account
	err := r.v.read(func(st *state) error {
		for _, a := range st.accounts {
			if a.ID > afterID {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// LockByID is a plain read; units of work are already serialized.
func (r *accountsRepo) LockByID(ctx context.Context, id int64) (models.Account, error) {
	return r.GetByID(ctx, id)
}

func (r *accountsRepo) SetCachedBalance(_ context.Context, ownerID int64, balance decimal.Decimal) error {
	return r.v.write("accounts.set_cached_balance", func(st *state) error {
		for id, a := range st.accounts {
			if a.OwnerID == ownerID {
				a.Balance, a.UpdatedAt = balance, time.Now()
				st.accounts[id] = a
			}
		}
		return nil
	})
}

type postingsRepo struct{ v *view }

func (r *postingsRepo) Create(_ context.Context, p models.Posting) (models.Posting, error) {
	err := r.v.write("postings.create", func(st *state) error {
		p.ID = st.next("postings")
		if p.Status == "" {
			p.Status = models.PostingPosted
		}
		p.CreatedAt = time.Now()
		st.postings = append(st.postings, p)
		return nil
	})
	return p, err
}

func (r *postingsRepo) ListByTransaction(_ context.Context, transactionID int64) ([]models.Posting, error) {
	var out []models.Posting
	err := r.v.read(func(st *state) error {
		for _, p := range st.postings {
			if p.TransactionID == transactionID {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

func (r *postingsRepo) Sum(_ context.Context, f repository.PostingFilter) (decimal.Decimal, error) {
	total := decimal.Zero
	err := r.v.read(func(st *state) error {
		for _, p := range st.postings {
			if p.Status != models.PostingPosted {
				continue
			}
			if f.UserID != nil && p.UserID != *f.UserID {
				continue
			}
			if f.Role != "" && p.Role != f.Role {
				continue
			}
			if f.SourceUserID != nil && (p.SourceUserID == nil || *p.SourceUserID != *f.SourceUserID) {
				continue
			}
			if f.DestinationUserID != nil && (p.DestinationUserID == nil || *p.DestinationUserID != *f.DestinationUserID) {
				continue
			}
			if f.ExcludeSourceUserID != nil && p.SourceUserID != nil && *p.SourceUserID == *f.ExcludeSourceUserID {
				continue
			}
			if len(f.TransactionTypes) > 0 && !hasType(f.TransactionTypes, st.transactions[p.TransactionID].Type) {
				continue
			}
			total = total.Add(p.Amount)
		}
		return nil
	})
	return total, err
}

func hasType(types []models.TransactionType, t models.TransactionType) bool {
	for _, tt := range types {
		if tt == t {
			return true
		}
	}
	return false
}

func (r *postingsRepo) Anomalies(_ context.Context, limit int) ([]repository.PostingAnomaly, error) {
	var out []repository.PostingAnomaly
	err := r.v.read(func(st *state) error {
		type agg struct {
			n, credits    int
			credit, debit decimal.Decimal
		}
		byTxn := map[int64]*agg{}
		for _, p := range st.postings {
			a := byTxn[p.TransactionID]
			if a == nil {
				a = &agg{}
				byTxn[p.TransactionID] = a
			}
			a.n++
			if p.Role == models.RoleCredit {
				a.credits++
				a.credit = a.credit.Add(p.Amount)
			} else {
				a.debit = a.debit.Add(p.Amount)
			}
		}
		for id, t := range st.transactions {
			a := byTxn[id]
			if a == nil {
				a = &agg{}
			}
			bad := false
			if t.Status == models.TxnCompleted {
				bad = t.Type != models.TxnSystemSeed &&
					(a.n != 2 || a.credits != 1 || !a.credit.Equal(a.debit))
			} else {
				bad = a.n > 0
			}
			if bad {
				out = append(out, repository.PostingAnomaly{TransactionID: id, Type: t.Type, Status: t.Status, Postings: a.n})
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type transactionsRepo struct{ v *view }

func (r *transactionsRepo) Create(_ context.Context, t models.Transaction) (models.Transaction, error) {
	err := r.v.write("transactions.create", func(st *state) error {
		for _, existing := range st.transactions {
			if existing.ReferenceNumber == t.ReferenceNumber {
				return repository.ErrDuplicateReference
			}
			if t.ReversalOfID != nil && existing.ReversalOfID != nil && *existing.ReversalOfID == *t.ReversalOfID {
				return repository.ErrDuplicateReference
			}
		}
		t.ID = st.next("transactions")
		t.CreatedAt, t.UpdatedAt = time.Now(), time.Now()
		st.transactions[t.ID] = t
		return nil
	})
	return t, err
}

func (r *transactionsRepo) find(match func(models.Transaction) bool) (models.Transaction, error) {
	var out models.Transaction
	err := r.v.read(func(st *state) error {
		for _, t := range st.transactions {
			if match(t) {
				out = t
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *transactionsRepo) GetByID(_ context.Context, id int64) (models.Transaction, error) {
	return r.find(func(t models.Transaction) bool { return t.ID == id })
}

func (r *transactionsRepo) GetByReference(_ context.Context, ref string) (models.Transaction, error) {
	return r.find(func(t models.Transaction) bool { return t.ReferenceNumber == ref })
}

func (r *transactionsRepo) GetReversalOf(_ context.Context, originalID int64) (models.Transaction, error) {
	return r.find(func(t models.Transaction) bool { return t.ReversalOfID != nil && *t.ReversalOfID == originalID })
}

func (r *transactionsRepo) LockByID(ctx context.Context, id int64) (models.Transaction, error) {
	return r.GetByID(ctx, id)
}

func (r *transactionsRepo) UpdateStatus(_ context.Context, id int64, status models.TransactionStatus, reason string) error {
	return r.v.write("transactions.update_status", func(st *state) error {
		t, ok := st.transactions[id]
		if !ok {
			return repository.ErrNotFound
		}
		t.Status, t.StatusReason, t.UpdatedAt = status, reason, time.Now()
		st.transactions[id] = t
		return nil
	})
}

func (r *transactionsRepo) AssignAccount(_ context.Context, id, accountID int64) error {
	return r.v.write("transactions.assign_account", func(st *state) error {
		t, ok := st.transactions[id]
		if !ok {
			return repository.ErrNotFound
		}
		t.AccountID, t.UpdatedAt = accountID, time.Now()
		st.transactions[id] = t
		return nil
	})
}

func (r *transactionsRepo) sorted(match func(models.Transaction) bool) ([]models.Transaction, error) {
	var out []models.Transaction
	err := r.v.read(func(st *state) error {
		for _, t := range st.transactions {
			if match(t) {
				out = append(out, t)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *transactionsRepo) ListByUser(_ context.Context, userID int64, limit, offset int) ([]models.Transaction, error) {
	all, err := r.sorted(func(t models.Transaction) bool {
		return t.UserID == userID || (t.CounterpartyUserID != nil && *t.CounterpartyUserID == userID)
	})
	if err != nil {
		return nil, err
	}
	// newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *transactionsRepo) ListHeldByUser(_ context.Context, userID int64) ([]models.Transaction, error) {
	return r.sorted(func(t models.Transaction) bool { return t.UserID == userID && t.Status.IsHeld() })
}

func (r *transactionsRepo) UsersWithHeld(_ context.Context, limit int) ([]int64, error) {
	held, err := r.sorted(func(t models.Transaction) bool { return t.Status.IsHeld() })
	if err != nil {
		return nil, err
	}
	seen := map[int64]bool{}
	var out []int64
	for _, t := range held {
		if seen[t.UserID] {
			continue
		}
		seen[t.UserID] = true
		out = append(out, t.UserID)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *transactionsRepo) HeldTotals(ctx context.Context, userID int64) (repository.HeldTotals, error) {
	held, err := r.ListHeldByUser(ctx, userID)
	if err != nil {
		return repository.HeldTotals{}, err
	}
	h := repository.HeldTotals{Amount: decimal.Zero}
	for _, t := range held {
		h.Amount = h.Amount.Add(t.Amount)
		if t.Status == models.TxnPending {
			h.Pending++
		} else {
			h.Blocked++
		}
	}
	return h, nil
}

type auditLogsRepo struct{ v *view }

func (r *auditLogsRepo) Create(_ context.Context, l models.AuditLog) (models.AuditLog, error) {
	err := r.v.write("audit_logs.create", func(st *state) error {
		l.ID = st.next("audit")
		l.CreatedAt = time.Now()
		st.audit = append(st.audit, l)
		return nil
	})
	return l, err
}

func (r *auditLogsRepo) ListByTransaction(_ context.Context, transactionID int64) ([]models.AuditLog, error) {
	var out []models.AuditLog
	err := r.v.read(func(st *state) error {
		for _, l := range st.audit {
			if l.TransactionID != nil && *l.TransactionID == transactionID {
				out = append(out, l)
			}
		}
		return nil
	})
	return out, err
}

type outboxRepo struct{ v *view }

func (r *outboxRepo) Create(_ context.Context, m models.OutboxMessage) (models.OutboxMessage, error) {
	err := r.v.write("outbox.create", func(st *state) error {
		m.ID = st.next("outbox")
		if m.Status == "" {
			m.Status = models.OutboxPending
		}
		m.CreatedAt, m.UpdatedAt = time.Now(), time.Now()
		st.outbox = append(st.outbox, m)
		return nil
	})
	return m, err
}

func (r *outboxRepo) ListPending(_ context.Context, limit int) ([]models.OutboxMessage, error) {
	var out []models.OutboxMessage
	err := r.v.read(func(st *state) error {
		for _, m := range st.outbox {
			if m.Status == models.OutboxPending {
				out = append(out, m)
				if len(out) == limit {
					break
				}
			}
		}
		return nil
	})
	return out, err
}

func (r *outboxRepo) update(op string, id int64, fn func(m *models.OutboxMessage)) error {
	return r.v.write(op, func(st *state) error {
		for i := range st.outbox {
			if st.outbox[i].ID == id {
				fn(&st.outbox[i])
				st.outbox[i].UpdatedAt = time.Now()
				return nil
			}
		}
		return repository.ErrNotFound
	})
}

func (r *outboxRepo) MarkSent(_ context.Context, id int64) error {
	return r.update("outbox.mark_sent", id, func(m *models.OutboxMessage) { m.Status = models.OutboxSent })
}

func (r *outboxRepo) MarkRetry(_ context.Context, id int64, maxRetries int) error {
	return r.update("outbox.mark_retry", id, func(m *models.OutboxMessage) {
		m.RetryCount++
		if m.RetryCount >= maxRetries {
			m.Status = models.OutboxFailed
		}
	})
}
