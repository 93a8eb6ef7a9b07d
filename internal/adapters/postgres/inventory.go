package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/traveland-bookings/internal/domain"
)

// Inventory owns the per-package, per-date slot counters.
type Inventory struct {
	db DBTX
}

func NewInventory(db DBTX) *Inventory {
	return &Inventory{db: db}
}

// CheckAvailability is a user-facing pre-check only. DecrementSlots is the
// authoritative guard.
func (i *Inventory) CheckAvailability(ctx context.Context, q DBTX, packageID uuid.UUID, date time.Time, guests int) (domain.AvailabilityCheck, error) {
	var slots int
	err := pick(q, i.db).QueryRow(ctx, `
		SELECT available_slots FROM package_availability
		WHERE package_id = $1 AND available_date = $2
	`, packageID, date).Scan(&slots)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AvailabilityCheck{Reason: domain.ReasonNoAvailability}, nil
	}
	if err != nil {
		return domain.AvailabilityCheck{}, errors.Wrap(err, "check availability")
	}
	if slots < guests {
		return domain.AvailabilityCheck{Reason: domain.InsufficientSlots(slots)}, nil
	}
	return domain.AvailabilityCheck{Available: true}, nil
}

// DecrementSlots takes guests slots in a single guarded statement and reports
// whether the guard held.
func (i *Inventory) DecrementSlots(ctx context.Context, q DBTX, packageID uuid.UUID, date time.Time, guests int) (bool, error) {
	tag, err := pick(q, i.db).Exec(ctx, `
		UPDATE package_availability
		SET available_slots = available_slots - $1
		WHERE package_id = $2 AND available_date = $3 AND available_slots >= $1
	`, guests, packageID, date)
	if err != nil {
		return false, errors.Wrap(err, "decrement slots")
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseSlots gives guests slots back. It reports false when the date no
// longer has an availability row.
func (i *Inventory) ReleaseSlots(ctx context.Context, q DBTX, packageID uuid.UUID, date time.Time, guests int) (bool, error) {
	tag, err := pick(q, i.db).Exec(ctx, `
		UPDATE package_availability
		SET available_slots = available_slots + $1
		WHERE package_id = $2 AND available_date = $3
	`, guests, packageID, date)
	if err != nil {
		return false, errors.Wrap(err, "release slots")
	}
	return tag.RowsAffected() == 1, nil
}

// ReplaceAvailability drops every row of the package and writes slots in
// their place.
func (i *Inventory) ReplaceAvailability(ctx context.Context, q DBTX, packageID uuid.UUID, slots []domain.Availability) error {
	db := pick(q, i.db)
	if _, err := db.Exec(ctx, `DELETE FROM package_availability WHERE package_id = $1`, packageID); err != nil {
		return errors.Wrap(err, "delete availability")
	}
	for _, s := range slots {
		_, err := db.Exec(ctx, `
			INSERT INTO package_availability (package_id, available_date, available_slots)
			VALUES ($1, $2, $3)
		`, packageID, s.Date, s.AvailableSlots)
		if err != nil {
			return errors.Wrapf(err, "insert availability %s", s.Date.Format(time.DateOnly))
		}
	}
	return nil
}

func (i *Inventory) ListAvailability(ctx context.Context, q DBTX, packageID uuid.UUID, from time.Time) ([]domain.Availability, error) {
	rows, err := pick(q, i.db).Query(ctx, `
		SELECT package_id, available_date, available_slots
		FROM package_availability
		WHERE package_id = $1 AND available_date >= $2
		ORDER BY available_date ASC
	`, packageID, from)
	if err != nil {
		return nil, errors.Wrap(err, "list availability")
	}
	defer rows.Close()

	var out []domain.Availability
	for rows.Next() {
		var a domain.Availability
		if err := rows.Scan(&a.PackageID, &a.Date, &a.AvailableSlots); err != nil {
			return nil, errors.Wrap(err, "scan availability")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
