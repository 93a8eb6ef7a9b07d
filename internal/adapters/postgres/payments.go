package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/traveland-bookings/internal/domain"
)

// PaymentLedger persists payment attempts. A booking may have several.
type PaymentLedger struct {
	db DBTX
}

func NewPaymentLedger(db DBTX) *PaymentLedger {
	return &PaymentLedger{db: db}
}

func (l *PaymentLedger) Create(ctx context.Context, q DBTX, p *domain.Payment) error {
	err := pick(q, l.db).QueryRow(ctx, `
		INSERT INTO payments (id, booking_id, user_id, amount, currency, method, transaction_id, status)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
		RETURNING created_at
	`, p.ID, p.BookingID, p.UserID, p.Amount, p.Currency, p.Method, p.TransactionID, string(p.Status)).
		Scan(&p.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert payment")
	}
	return nil
}

func (l *PaymentLedger) UpdateStatus(ctx context.Context, q DBTX, id uuid.UUID, status domain.PaymentStatus, paidAt *time.Time) (int64, error) {
	tag, err := pick(q, l.db).Exec(ctx, `
		UPDATE payments SET status = $2, paid_at = $3 WHERE id = $1
	`, id, string(status), paidAt)
	if err != nil {
		return 0, errors.Wrap(err, "update payment status")
	}
	return tag.RowsAffected(), nil
}

// SetGatewayReference records how the attempt was paid.
func (l *PaymentLedger) SetGatewayReference(ctx context.Context, q DBTX, id uuid.UUID, method, transactionID string) error {
	_, err := pick(q, l.db).Exec(ctx, `
		UPDATE payments
		SET method = COALESCE(NULLIF($2, ''), method), transaction_id = COALESCE(NULLIF($3, ''), transaction_id)
		WHERE id = $1
	`, id, method, transactionID)
	if err != nil {
		return errors.Wrap(err, "set payment reference")
	}
	return nil
}

// LockPendingByBooking returns the newest pending attempt for the booking, locked.
func (l *PaymentLedger) LockPendingByBooking(ctx context.Context, q DBTX, bookingID uuid.UUID) (*domain.Payment, error) {
	p, err := scanPayment(pick(q, l.db).QueryRow(ctx, paymentColumns+`
		FROM payments
		WHERE booking_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, bookingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("Payment not found.")
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock pending payment")
	}
	return p, nil
}

// FailPending marks every pending attempt of the booking as failed.
func (l *PaymentLedger) FailPending(ctx context.Context, q DBTX, bookingID uuid.UUID) (int64, error) {
	tag, err := pick(q, l.db).Exec(ctx, `
		UPDATE payments SET status = 'failed' WHERE booking_id = $1 AND status = 'pending'
	`, bookingID)
	if err != nil {
		return 0, errors.Wrap(err, "fail pending payments")
	}
	return tag.RowsAffected(), nil
}

func (l *PaymentLedger) GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]domain.Payment, error) {
	rows, err := l.db.Query(ctx, paymentColumns+`
		FROM payments WHERE booking_id = $1 ORDER BY created_at DESC
	`, bookingID)
	if err != nil {
		return nil, errors.Wrap(err, "list booking payments")
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan payment")
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (l *PaymentLedger) ListByUser(ctx context.Context, userID uuid.UUID, page domain.Page) ([]domain.Payment, int, error) {
	rows, err := l.db.Query(ctx, `
		SELECT pay.id, pay.booking_id, pay.user_id, pay.amount, pay.currency,
		       COALESCE(pay.method, ''), COALESCE(pay.transaction_id, ''), pay.status, pay.paid_at, pay.created_at,
		       b.travel_date, p.title
		FROM payments pay
		JOIN bookings b ON b.id = pay.booking_id
		JOIN packages p ON p.id = b.package_id
		WHERE pay.user_id = $1
		ORDER BY pay.created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list payments")
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		var (
			p          domain.Payment
			status     string
			travelDate time.Time
		)
		if err := rows.Scan(&p.ID, &p.BookingID, &p.UserID, &p.Amount, &p.Currency, &p.Method, &p.TransactionID,
			&status, &p.PaidAt, &p.CreatedAt, &travelDate, &p.PackageTitle); err != nil {
			return nil, 0, errors.Wrap(err, "scan payment")
		}
		p.Status = domain.PaymentStatus(status)
		p.TravelDate = &travelDate
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "list payments")
	}

	var total int
	if err := l.db.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count payments")
	}
	return out, total, nil
}

const paymentColumns = `
	SELECT id, booking_id, user_id, amount, currency, COALESCE(method, ''), COALESCE(transaction_id, ''),
	       status, paid_at, created_at
`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p      domain.Payment
		status string
	)
	if err := row.Scan(&p.ID, &p.BookingID, &p.UserID, &p.Amount, &p.Currency, &p.Method, &p.TransactionID,
		&status, &p.PaidAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}
