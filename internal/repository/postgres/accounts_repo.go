package postgres

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/finanza-bank/ledger-core/internal/models"
)

type accountsRepo struct{ db DBTX }

const accountColumns = `id, owner_id, account_number, account_type, currency, balance::text, status, created_at, updated_at`

func (r *accountsRepo) Create(ctx context.Context, a models.Account) (models.Account, error) {
	if a.Status == "" {
		a.Status = models.AccountActive
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO accounts (owner_id, account_number, account_type, currency, balance, status)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 RETURNING `+accountColumns,
		a.OwnerID, a.AccountNumber, a.Type, a.Currency, money(a.Balance), a.Status)
	return scanAccount(row)
}

func (r *accountsRepo) GetByID(ctx context.Context, id int64) (models.Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	return a, notFound(err)
}

func (r *accountsRepo) GetByNumber(ctx context.Context, number string) (models.Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number=$1`, number))
	return a, notFound(err)
}

func (r *accountsRepo) ListByOwner(ctx context.Context, ownerID int64) ([]models.Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id=$1 ORDER BY id`, ownerID)
}

func (r *accountsRepo) List(ctx context.Context, afterID int64, limit int) ([]models.Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
}

func (r *accountsRepo) LockByID(ctx context.Context, id int64) (models.Account, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1 FOR UPDATE`, id))
	return a, notFound(err)
}

func (r *accountsRepo) SetCachedBalance(ctx context.Context, ownerID int64, balance decimal.Decimal) error {
	_, err := r.db.Exec(ctx,
		`UPDATE accounts SET balance=$2, updated_at=now() WHERE owner_id=$1`,
		ownerID, money(balance))
	return err
}

func (r *accountsRepo) list(ctx context.Context, q string, args ...any) ([]models.Account, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAccount(row scanner) (models.Account, error) {
	var (
		a   models.Account
		bal string
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.AccountNumber, &a.Type, &a.Currency, &bal, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return models.Account{}, err
	}
	var err error
	a.Balance, err = parseMoney(bal)
	return a, err
}
