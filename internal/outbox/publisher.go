package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/traveland-bookings/internal/adapters/postgres"
	"github.com/robertarktes/traveland-bookings/internal/observability"
)

const DefaultMaxAttempts = 10

type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

type Store interface {
	ClaimUnpublished(ctx context.Context, q postgres.DBTX, limit int) ([]postgres.OutboxRecord, error)
	MarkPublished(ctx context.Context, q postgres.DBTX, id uuid.UUID, publishedAt time.Time) error
	MarkAttemptFailed(ctx context.Context, q postgres.DBTX, id uuid.UUID, maxAttempts int) error
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	tx          TxRunner
	store       Store
	broker      Broker
	logger      observability.Logger
	interval    time.Duration
	batch       int
	maxAttempts int
	now         func() time.Time
}

func NewPublisher(tx TxRunner, store Store, broker Broker, logger observability.Logger, interval time.Duration, batch int) *Publisher {
	return &Publisher{
		tx:          tx,
		store:       store,
		broker:      broker,
		logger:      logger,
		interval:    interval,
		batch:       batch,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PublishBatch(ctx)
			if err != nil {
				p.logger.WithError(err).Error("outbox batch failed")
				continue
			}
			if n > 0 {
				p.logger.WithField("published", n).Debug("outbox batch published")
			}
		}
	}
}

// PublishBatch claims up to one batch of NEW records under row locks,
// publishes them and marks each one published or failed in the same unit of
// work. It returns how many records were published.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	published := 0
	err := p.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		records, err := p.store.ClaimUnpublished(ctx, tx, p.batch)
		if err != nil {
			return err
		}
		published = 0

		var lag time.Duration
		for _, rec := range records {
			msg := amqp.Publishing{
				MessageId:    rec.DedupeKey,
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    rec.CreatedAt,
				Type:         rec.EventType,
				Headers: amqp.Table{
					"aggregate_type": rec.AggregateType,
					"aggregate_id":   rec.AggregateID.String(),
				},
				Body: rec.Payload,
			}
			if err := p.broker.Publish(ctx, rec.EventType, msg); err != nil {
				observability.RabbitPublishRetries.Inc()
				p.logger.WithError(err).WithField("outbox_id", rec.ID.String()).Warn("publish outbox record")
				if err := p.store.MarkAttemptFailed(ctx, tx, rec.ID, p.maxAttempts); err != nil {
					return err
				}
				continue
			}

			now := p.now()
			if err := p.store.MarkPublished(ctx, tx, rec.ID, now); err != nil {
				return err
			}
			published++
			if d := now.Sub(rec.CreatedAt); d > lag {
				lag = d
			}
		}
		observability.OutboxLag.Set(lag.Seconds())
		return nil
	})
	return published, err
}
