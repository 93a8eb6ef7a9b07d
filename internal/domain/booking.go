package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookingInput is a validated booking request.
type BookingInput struct {
	PackageID  uuid.UUID
	Guests     int
	TravelDate time.Time
	ReturnDate *time.Time
	Notes      string
}

// NewBooking prices the booking from the package as it is right now. The
// total is never recomputed afterwards.
func NewBooking(userID uuid.UUID, pkg Package, in BookingInput, now time.Time) Booking {
	return Booking{
		ID:             uuid.New(),
		UserID:         userID,
		PackageID:      pkg.ID,
		Guests:         in.Guests,
		TravelDate:     in.TravelDate,
		ReturnDate:     in.ReturnDate,
		TotalPrice:     pkg.PricePerPerson.Mul(decimal.NewFromInt(int64(in.Guests))),
		Notes:          in.Notes,
		Status:         BookingPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		PackageTitle:   pkg.Title,
		PricePerPerson: pkg.PricePerPerson,
	}
}

func NewPayment(b Booking, currency string, now time.Time) Payment {
	return Payment{
		ID:        uuid.New(),
		BookingID: b.ID,
		UserID:    b.UserID,
		Amount:    b.TotalPrice,
		Currency:  currency,
		Status:    PaymentPending,
		CreatedAt: now,
	}
}

// Event types written to the outbox.
const (
	EventBookingCreated   = "booking.created"
	EventBookingCancelled = "booking.cancelled"
	EventBookingExpired   = "booking.expired"
	EventBookingConfirmed = "booking.confirmed"
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
)

type OutboxEvent struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	DedupeKey     string
}
