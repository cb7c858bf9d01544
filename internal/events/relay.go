package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/finanza-bank/ledger-core/internal/metrics"
	"github.com/finanza-bank/ledger-core/internal/repository"
)

// Relay drains pending outbox rows to a Publisher.
type Relay struct {
	store      repository.Store
	pub        Publisher
	log        *slog.Logger
	batchSize  int
	maxRetries int
}

func NewRelay(store repository.Store, pub Publisher, log *slog.Logger, batchSize, maxRetries int) *Relay {
	return &Relay{store: store, pub: pub, log: log, batchSize: batchSize, maxRetries: maxRetries}
}

func (r *Relay) Start(ctx context.Context, interval time.Duration) {
	r.log.Info("outbox relay started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, _, err := r.RunOnce(ctx); err != nil {
				r.log.Error("outbox relay pass failed", "err", err)
			}
		}
	}
}

// RunOnce publishes one batch. A failed publish bumps the row's retry
// counter; rows reaching maxRetries are parked as failed.
func (r *Relay) RunOnce(ctx context.Context) (sent, failed int, err error) {
	err = r.store.WithTx(ctx, func(repos repository.Repositories) error {
		sent, failed = 0, 0
		msgs, err := repos.Outbox.ListPending(ctx, r.batchSize)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if perr := r.pub.Publish(ctx, msg); perr != nil {
				failed++
				metrics.OutboxPublished.WithLabelValues("error").Inc()
				r.log.Warn("outbox publish failed", "id", msg.ID, "retry", msg.RetryCount+1, "err", perr)
				if err := repos.Outbox.MarkRetry(ctx, msg.ID, r.maxRetries); err != nil {
					return err
				}
				continue
			}
			sent++
			metrics.OutboxPublished.WithLabelValues("sent").Inc()
			if err := repos.Outbox.MarkSent(ctx, msg.ID); err != nil {
				return err
			}
		}
		return nil
	})
	return sent, failed, err
}
