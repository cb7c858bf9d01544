package postgres

import (
	"context"

	"github.com/finanza-bank/ledger-core/internal/models"
)

type outboxRepo struct{ db DBTX }

const outboxColumns = `id, message_key, topic, payload, status, retry_count, created_at, updated_at`

func (r *outboxRepo) Create(ctx context.Context, m models.OutboxMessage) (models.OutboxMessage, error) {
	if m.Status == "" {
		m.Status = models.OutboxPending
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO outbox_messages (message_key, topic, payload, status)
		 VALUES ($1,$2,$3,$4)
		 RETURNING `+outboxColumns,
		m.MessageKey, m.Topic, m.Payload, m.Status)
	return scanOutbox(row)
}

// ListPending claims up to limit pending rows; concurrent relays skip rows
// another relay already holds.
func (r *outboxRepo) ListPending(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+outboxColumns+`
		   FROM outbox_messages
		  WHERE status='pending'
		  ORDER BY id
		  LIMIT $1
		  FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OutboxMessage
	for rows.Next() {
		m, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *outboxRepo) MarkSent(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE outbox_messages SET status='sent', updated_at=now() WHERE id=$1`, id)
	return err
}

func (r *outboxRepo) MarkRetry(ctx context.Context, id int64, maxRetries int) error {
	_, err := r.db.Exec(ctx,
		`UPDATE outbox_messages
		    SET retry_count = retry_count + 1,
		        status = CASE WHEN retry_count + 1 >= $2 THEN 'failed' ELSE status END,
		        updated_at = now()
		  WHERE id=$1`, id, maxRetries)
	return err
}

func scanOutbox(row scanner) (models.OutboxMessage, error) {
	var m models.OutboxMessage
	err := row.Scan(&m.ID, &m.MessageKey, &m.Topic, &m.Payload, &m.Status, &m.RetryCount, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}
