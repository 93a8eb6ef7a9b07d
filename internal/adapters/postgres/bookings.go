package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/traveland-bookings/internal/domain"
)

// BookingLedger persists bookings. Business rules are the caller's job.
type BookingLedger struct {
	db DBTX
}

func NewBookingLedger(db DBTX) *BookingLedger {
	return &BookingLedger{db: db}
}

func (l *BookingLedger) Create(ctx context.Context, q DBTX, b *domain.Booking) error {
	var notes *string
	if b.Notes != "" {
		notes = &b.Notes
	}
	err := pick(q, l.db).QueryRow(ctx, `
		INSERT INTO bookings (id, user_id, package_id, guests, travel_date, return_date, total_price, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, b.ID, b.UserID, b.PackageID, b.Guests, b.TravelDate, b.ReturnDate, b.TotalPrice, notes, string(b.Status)).
		Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "insert booking")
	}
	return nil
}

const bookingView = `
	SELECT b.id, b.user_id, b.package_id, b.guests, b.travel_date, b.return_date, b.total_price,
	       COALESCE(b.notes, ''), b.status, b.created_at, b.updated_at,
	       p.title, p.price_per_person,
	       COALESCE(d.name, ''), COALESCE(d.country, ''),
	       COALESCE(u.full_name, ''), COALESCE(u.email, '')
	FROM bookings b
	JOIN packages p ON p.id = b.package_id
	LEFT JOIN destinations d ON d.id = p.destination_id
	LEFT JOIN users u ON u.id = b.user_id
`

// FindByID returns the booking with its package, destination and user display fields.
func (l *BookingLedger) FindByID(ctx context.Context, q DBTX, id uuid.UUID) (*domain.Booking, error) {
	b, err := scanBookingView(pick(q, l.db).QueryRow(ctx, bookingView+` WHERE b.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("Booking not found.")
	}
	if err != nil {
		return nil, errors.Wrap(err, "find booking")
	}
	return b, nil
}

// LockByID reads the bare booking row and holds its row lock until the
// surrounding transaction ends.
func (l *BookingLedger) LockByID(ctx context.Context, q DBTX, id uuid.UUID) (*domain.Booking, error) {
	var (
		b      domain.Booking
		notes  *string
		status string
	)
	err := pick(q, l.db).QueryRow(ctx, `
		SELECT id, user_id, package_id, guests, travel_date, return_date, total_price, notes, status, created_at, updated_at
		FROM bookings WHERE id = $1
		FOR UPDATE
	`, id).Scan(&b.ID, &b.UserID, &b.PackageID, &b.Guests, &b.TravelDate, &b.ReturnDate, &b.TotalPrice,
		&notes, &status, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("Booking not found.")
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock booking")
	}
	if notes != nil {
		b.Notes = *notes
	}
	b.Status = domain.BookingStatus(status)
	return &b, nil
}

// UpdateStatus overwrites the status unconditionally and returns the affected row count.
func (l *BookingLedger) UpdateStatus(ctx context.Context, q DBTX, id uuid.UUID, status domain.BookingStatus) (int64, error) {
	tag, err := pick(q, l.db).Exec(ctx, `
		UPDATE bookings SET status = $2, updated_at = now() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return 0, errors.Wrap(err, "update booking status")
	}
	return tag.RowsAffected(), nil
}

func (l *BookingLedger) ListByUser(ctx context.Context, userID uuid.UUID, page domain.Page) ([]domain.Booking, int, error) {
	rows, err := l.db.Query(ctx, bookingView+`
		WHERE b.user_id = $1
		ORDER BY b.created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list bookings")
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBookingView(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan booking")
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "list bookings")
	}

	var total int
	if err := l.db.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count bookings")
	}
	return out, total, nil
}

// ListStalePending returns ids of bookings still pending that were created before cutoff.
func (l *BookingLedger) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := l.db.Query(ctx, `
		SELECT id FROM bookings
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list stale bookings")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan stale booking")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanBookingView(row pgx.Row) (*domain.Booking, error) {
	var (
		b      domain.Booking
		status string
	)
	err := row.Scan(&b.ID, &b.UserID, &b.PackageID, &b.Guests, &b.TravelDate, &b.ReturnDate, &b.TotalPrice,
		&b.Notes, &status, &b.CreatedAt, &b.UpdatedAt,
		&b.PackageTitle, &b.PricePerPerson,
		&b.DestinationName, &b.Country,
		&b.UserName, &b.UserEmail)
	if err != nil {
		return nil, err
	}
	b.Status = domain.BookingStatus(status)
	return &b, nil
}
