package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/traveland-bookings/internal/domain"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	DedupeKey     string
	Attempts      int
}

type Outbox struct {
	db DBTX
}

func NewOutbox(db DBTX) *Outbox {
	return &Outbox{db: db}
}

func (o *Outbox) Insert(ctx context.Context, q DBTX, ev domain.OutboxEvent) error {
	_, err := pick(q, o.db).Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
	`, ev.ID, ev.AggregateType, ev.AggregateID, ev.EventType, ev.Payload, ev.DedupeKey)
	if err != nil {
		return errors.Wrap(err, "insert outbox")
	}
	return nil
}

// ClaimUnpublished locks up to limit NEW records. Call it inside a transaction
// so concurrent publishers skip each other's rows.
func (o *Outbox) ClaimUnpublished(ctx context.Context, q DBTX, limit int) ([]OutboxRecord, error) {
	rows, err := pick(q, o.db).Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key, attempts
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "claim outbox")
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt,
			&rec.PublishedAt, &rec.Status, &rec.DedupeKey, &rec.Attempts)
		if err != nil {
			return nil, errors.Wrap(err, "scan outbox")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (o *Outbox) MarkPublished(ctx context.Context, q DBTX, id uuid.UUID, publishedAt time.Time) error {
	_, err := pick(q, o.db).Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	if err != nil {
		return errors.Wrap(err, "mark outbox published")
	}
	return nil
}

// MarkAttemptFailed bumps the attempt counter and parks the record as FAILED
// once maxAttempts is reached.
func (o *Outbox) MarkAttemptFailed(ctx context.Context, q DBTX, id uuid.UUID, maxAttempts int) error {
	_, err := pick(q, o.db).Exec(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $2 THEN 'FAILED' ELSE status END
		WHERE id = $1
	`, id, maxAttempts)
	if err != nil {
		return errors.Wrap(err, "mark outbox attempt")
	}
	return nil
}
