package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	repo "github.com/finanza-bank/ledger-core/internal/repository"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Pool interface {
	DBTX
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

func NewRepositories(db DBTX) repo.Repositories {
	return repo.Repositories{
		Users:        &usersRepo{db},
		Accounts:     &accountsRepo{db},
		Postings:     &postingsRepo{db},
		Transactions: &transactionsRepo{db},
		AuditLogs:    &auditLogsRepo{db},
		Outbox:       &outboxRepo{db},
	}
}

type Store struct{ pool Pool }

func NewStore(pool Pool) *Store { return &Store{pool: pool} }

func (s *Store) Repos() repo.Repositories { return NewRepositories(s.pool) }

// WithTx runs fn in one READ COMMITTED transaction. Writers serialize on
// explicit row locks (LockByID), not on the isolation level.
func (s *Store) WithTx(ctx context.Context, fn func(repo.Repositories) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	if err := fn(NewRepositories(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repo.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// money renders an amount for a NUMERIC(18,2) parameter.
func money(d decimal.Decimal) string { return d.StringFixed(2) }

func parseMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
