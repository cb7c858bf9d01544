package postgres

import (
	"context"

	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/finanza-bank/ledger-core/internal/repository"
)

type transactionsRepo struct{ db DBTX }

const transactionColumns = `id, user_id, COALESCE(account_id, 0), counterparty_user_id, amount::text, transaction_type, status,
  status_reason, kyc_status_at_time, reference_number, reversal_of_id, description, created_at, updated_at`

func (r *transactionsRepo) Create(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO transactions
		   (user_id, account_id, counterparty_user_id, amount, transaction_type, status,
		    status_reason, kyc_status_at_time, reference_number, reversal_of_id, description)
		 VALUES ($1,NULLIF($2::bigint, 0),$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 RETURNING `+transactionColumns,
		t.UserID, t.AccountID, t.CounterpartyUserID, money(t.Amount), t.Type, t.Status,
		t.StatusReason, t.KYCStatusAtTime, t.ReferenceNumber, t.ReversalOfID, t.Description)
	out, err := scanTransaction(row)
	if isUniqueViolation(err) {
		return models.Transaction{}, repository.ErrDuplicateReference
	}
	return out, err
}

func (r *transactionsRepo) GetByID(ctx context.Context, id int64) (models.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=$1`, id))
	return t, notFound(err)
}

func (r *transactionsRepo) GetByReference(ctx context.Context, ref string) (models.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference_number=$1`, ref))
	return t, notFound(err)
}

func (r *transactionsRepo) GetReversalOf(ctx context.Context, originalID int64) (models.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reversal_of_id=$1`, originalID))
	return t, notFound(err)
}

func (r *transactionsRepo) LockByID(ctx context.Context, id int64) (models.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=$1 FOR UPDATE`, id))
	return t, notFound(err)
}

func (r *transactionsRepo) UpdateStatus(ctx context.Context, id int64, status models.TransactionStatus, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE transactions SET status=$2, status_reason=$3, updated_at=now() WHERE id=$1`,
		id, status, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *transactionsRepo) AssignAccount(ctx context.Context, id, accountID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE transactions SET account_id=$2, updated_at=now() WHERE id=$1`, id, accountID)
	return err
}

func (r *transactionsRepo) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Transaction, error) {
	return r.list(ctx,
		`SELECT `+transactionColumns+`
		   FROM transactions
		  WHERE user_id=$1 OR counterparty_user_id=$1
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2 OFFSET $3`,
		userID, limit, offset)
}

func (r *transactionsRepo) ListHeldByUser(ctx context.Context, userID int64) ([]models.Transaction, error) {
	return r.list(ctx,
		`SELECT `+transactionColumns+`
		   FROM transactions
		  WHERE user_id=$1 AND status IN ('pending','blocked')
		  ORDER BY id`,
		userID)
}

func (r *transactionsRepo) UsersWithHeld(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id FROM transactions
		  WHERE status IN ('pending','blocked')
		  GROUP BY user_id
		  ORDER BY MIN(id)
		  LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *transactionsRepo) HeldTotals(ctx context.Context, userID int64) (repository.HeldTotals, error) {
	var (
		h   repository.HeldTotals
		amt string
	)
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount),0)::text,
		        COUNT(*) FILTER (WHERE status='pending')::int,
		        COUNT(*) FILTER (WHERE status='blocked')::int
		   FROM transactions
		  WHERE user_id=$1 AND status IN ('pending','blocked')`,
		userID).Scan(&amt, &h.Pending, &h.Blocked)
	if err != nil {
		return repository.HeldTotals{}, err
	}
	h.Amount, err = parseMoney(amt)
	return h, err
}

func (r *transactionsRepo) list(ctx context.Context, q string, args ...any) ([]models.Transaction, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row scanner) (models.Transaction, error) {
	var (
		t   models.Transaction
		amt string
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &t.CounterpartyUserID, &amt, &t.Type, &t.Status,
		&t.StatusReason, &t.KYCStatusAtTime, &t.ReferenceNumber, &t.ReversalOfID, &t.Description,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return models.Transaction{}, err
	}
	var err error
	t.Amount, err = parseMoney(amt)
	return t, err
}
