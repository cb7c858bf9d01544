package postgres

import (
	"context"

	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/finanza-bank/ledger-core/internal/repository"
)

type usersRepo struct{ db DBTX }

const userColumns = `id, email, full_name, kyc_status, is_active, is_admin, created_at, updated_at`

func (r *usersRepo) Create(ctx context.Context, u models.User) (models.User, error) {
	if u.KYCStatus == "" {
		u.KYCStatus = models.KYCNotStarted
	}
	if u.ID == 0 {
		row := r.db.QueryRow(ctx,
			`INSERT INTO users (email, full_name, kyc_status, is_active, is_admin)
			 VALUES ($1,$2,$3,$4,$5)
			 RETURNING `+userColumns,
			u.Email, u.FullName, u.KYCStatus, u.IsActive, u.IsAdmin)
		return scanUser(row)
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO users (id, email, full_name, kyc_status, is_active, is_admin)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 RETURNING `+userColumns,
		u.ID, u.Email, u.FullName, u.KYCStatus, u.IsActive, u.IsAdmin)
	out, err := scanUser(row)
	if err != nil {
		return models.User{}, err
	}
	// keep BIGSERIAL ahead of explicitly assigned ids
	if _, err := r.db.Exec(ctx,
		`SELECT setval(pg_get_serial_sequence('users','id'), GREATEST((SELECT MAX(id) FROM users), 1))`); err != nil {
		return models.User{}, err
	}
	return out, nil
}

func (r *usersRepo) GetByID(ctx context.Context, id int64) (models.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	return u, notFound(err)
}

func (r *usersRepo) SetKYCStatus(ctx context.Context, id int64, status models.KYCStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET kyc_status=$2, updated_at=now() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *usersRepo) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET is_active=$2, updated_at=now() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.KYCStatus, &u.IsActive, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}
