package postgres

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/traveland-bookings/internal/domain"
)

// Catalog reads package pricing and limits. It never writes.
type Catalog struct {
	db DBTX
}

func NewCatalog(db DBTX) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) GetPackage(ctx context.Context, q DBTX, id uuid.UUID) (*domain.Package, error) {
	var (
		pkg   domain.Package
		limit *int
	)
	err := pick(q, c.db).QueryRow(ctx, `
		SELECT id, destination_id, title, price_per_person, duration_days, max_guests,
		       max_booking_limit, is_group_package, is_active
		FROM packages WHERE id = $1 AND is_active
	`, id).Scan(&pkg.ID, &pkg.DestinationID, &pkg.Title, &pkg.PricePerPerson, &pkg.DurationDays,
		&pkg.MaxGuests, &limit, &pkg.IsGroupPackage, &pkg.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("Package not found.")
	}
	if err != nil {
		return nil, errors.Wrap(err, "get package")
	}
	if limit != nil {
		pkg.MaxBookingLimit = *limit
	}
	return &pkg, nil
}
