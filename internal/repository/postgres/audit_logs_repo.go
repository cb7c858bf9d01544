package postgres

import (
	"context"

	"github.com/finanza-bank/ledger-core/internal/models"
)

type auditLogsRepo struct{ db DBTX }

const auditColumns = `id, admin_id, user_id, account_id, action_type, outcome, amount::text,
  transaction_id, debit_posting_id, credit_posting_id, reason, created_at`

func (r *auditLogsRepo) Create(ctx context.Context, l models.AuditLog) (models.AuditLog, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO audit_logs
		   (admin_id, user_id, account_id, action_type, outcome, amount,
		    transaction_id, debit_posting_id, credit_posting_id, reason)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 RETURNING `+auditColumns,
		l.AdminID, l.UserID, l.AccountID, l.Action, l.Outcome, money(l.Amount),
		l.TransactionID, l.DebitPostingID, l.CreditPostingID, l.Reason)
	return scanAudit(row)
}

func (r *auditLogsRepo) ListByTransaction(ctx context.Context, transactionID int64) ([]models.AuditLog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+auditColumns+` FROM audit_logs WHERE transaction_id=$1 ORDER BY id`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditLog
	for rows.Next() {
		l, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanAudit(row scanner) (models.AuditLog, error) {
	var (
		l   models.AuditLog
		amt string
	)
	if err := row.Scan(&l.ID, &l.AdminID, &l.UserID, &l.AccountID, &l.Action, &l.Outcome, &amt,
		&l.TransactionID, &l.DebitPostingID, &l.CreditPostingID, &l.Reason, &l.CreatedAt); err != nil {
		return models.AuditLog{}, err
	}
	var err error
	l.Amount, err = parseMoney(amt)
	return l, err
}
