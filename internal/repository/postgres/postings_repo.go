package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/finanza-bank/ledger-core/internal/models"
	"github.com/finanza-bank/ledger-core/internal/repository"
)

type postingsRepo struct{ db DBTX }

const postingColumns = `id, user_id, entry_role, amount::text, status, transaction_id, source_user_id, destination_user_id, description, reference_number, created_at`

// Create appends one posting. Rows are never updated or deleted; the
// append-only trigger enforces it at the database.
func (r *postingsRepo) Create(ctx context.Context, p models.Posting) (models.Posting, error) {
	if p.Status == "" {
		p.Status = models.PostingPosted
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO ledger_postings
		   (user_id, entry_role, amount, status, transaction_id, source_user_id, destination_user_id, description, reference_number)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 RETURNING `+postingColumns,
		p.UserID, p.Role, money(p.Amount), p.Status, p.TransactionID,
		p.SourceUserID, p.DestinationUserID, p.Description, p.ReferenceNumber)
	return scanPosting(row)
}

func (r *postingsRepo) ListByTransaction(ctx context.Context, transactionID int64) ([]models.Posting, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+postingColumns+` FROM ledger_postings WHERE transaction_id=$1 ORDER BY id`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *postingsRepo) Sum(ctx context.Context, f repository.PostingFilter) (decimal.Decimal, error) {
	q, args := sumQuery(f)
	var total string
	if err := r.db.QueryRow(ctx, q, args...).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return parseMoney(total)
}

func sumQuery(f repository.PostingFilter) (string, []any) {
	var (
		b     strings.Builder
		where = []string{"p.status = 'posted'"}
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	b.WriteString(`SELECT COALESCE(SUM(p.amount),0)::text FROM ledger_postings p`)
	if len(f.TransactionTypes) > 0 {
		b.WriteString(` JOIN transactions t ON t.id = p.transaction_id`)
		types := make([]string, len(f.TransactionTypes))
		for i, tt := range f.TransactionTypes {
			types[i] = string(tt)
		}
		where = append(where, "t.transaction_type = ANY("+arg(types)+")")
	}
	if f.UserID != nil {
		where = append(where, "p.user_id = "+arg(*f.UserID))
	}
	if f.Role != "" {
		where = append(where, "p.entry_role = "+arg(string(f.Role)))
	}
	if f.SourceUserID != nil {
		where = append(where, "p.source_user_id = "+arg(*f.SourceUserID))
	}
	if f.DestinationUserID != nil {
		where = append(where, "p.destination_user_id = "+arg(*f.DestinationUserID))
	}
	if f.ExcludeSourceUserID != nil {
		where = append(where, "(p.source_user_id IS NULL OR p.source_user_id <> "+arg(*f.ExcludeSourceUserID)+")")
	}
	b.WriteString(" WHERE ")
	b.WriteString(strings.Join(where, " AND "))
	return b.String(), args
}

// Anomalies lists completed transactions (other than the one-sided seed)
// without exactly one balanced debit/credit pair, and non-completed
// transactions that carry any posting.
func (r *postingsRepo) Anomalies(ctx context.Context, limit int) ([]repository.PostingAnomaly, error) {
	rows, err := r.db.Query(ctx, `
SELECT t.id, t.transaction_type, t.status, COUNT(p.id)::int
  FROM transactions t
  LEFT JOIN ledger_postings p ON p.transaction_id = t.id
 GROUP BY t.id, t.transaction_type, t.status
HAVING (t.status = 'completed' AND t.transaction_type <> 'system_seed' AND (
          COUNT(p.id) <> 2
       OR COUNT(p.id) FILTER (WHERE p.entry_role = 'credit') <> 1
       OR COALESCE(SUM(p.amount) FILTER (WHERE p.entry_role = 'credit'),0)
          <> COALESCE(SUM(p.amount) FILTER (WHERE p.entry_role = 'debit'),0)))
    OR (t.status <> 'completed' AND COUNT(p.id) > 0)
 ORDER BY t.id
 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.PostingAnomaly
	for rows.Next() {
		var a repository.PostingAnomaly
		if err := rows.Scan(&a.TransactionID, &a.Type, &a.Status, &a.Postings); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanPosting(row scanner) (models.Posting, error) {
	var (
		p   models.Posting
		amt string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Role, &amt, &p.Status, &p.TransactionID,
		&p.SourceUserID, &p.DestinationUserID, &p.Description, &p.ReferenceNumber, &p.CreatedAt); err != nil {
		return models.Posting{}, err
	}
	var err error
	p.Amount, err = parseMoney(amt)
	return p, err
}
