package events

import (
	"context"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/finanza-bank/ledger-core/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, msg models.OutboxMessage) error
}

func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_8_0_0
	return sarama.NewSyncProducer(brokers, cfg)
}

// KafkaPublisher sends every outbox row to one topic, keyed by the row's
// message key so a user's events stay ordered within a partition. The
// event name travels in the event_type header.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(_ context.Context, msg models.OutboxMessage) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(msg.MessageKey),
		Value: sarama.ByteEncoder(msg.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(msg.Topic)},
		},
	})
	return err
}

func (p *KafkaPublisher) Close() error { return p.producer.Close() }

// LogPublisher writes events to the logger. Used when no broker is
// configured so the outbox still drains.
type LogPublisher struct{ Log *slog.Logger }

func (p LogPublisher) Publish(ctx context.Context, msg models.OutboxMessage) error {
	p.Log.InfoContext(ctx, "ledger event", "event", msg.Topic, "key", msg.MessageKey, "payload", string(msg.Payload))
	return nil
}
