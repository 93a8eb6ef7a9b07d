package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/traveland-bookings/internal/adapters/postgres"
	"github.com/robertarktes/traveland-bookings/internal/domain"
)

// TxRunner opens units of work. fn must use the context it is handed.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

type CatalogReader interface {
	GetPackage(ctx context.Context, q postgres.DBTX, id uuid.UUID) (*domain.Package, error)
}

type InventoryStore interface {
	CheckAvailability(ctx context.Context, q postgres.DBTX, packageID uuid.UUID, date time.Time, guests int) (domain.AvailabilityCheck, error)
	DecrementSlots(ctx context.Context, q postgres.DBTX, packageID uuid.UUID, date time.Time, guests int) (bool, error)
	ReleaseSlots(ctx context.Context, q postgres.DBTX, packageID uuid.UUID, date time.Time, guests int) (bool, error)
	ReplaceAvailability(ctx context.Context, q postgres.DBTX, packageID uuid.UUID, slots []domain.Availability) error
	ListAvailability(ctx context.Context, q postgres.DBTX, packageID uuid.UUID, from time.Time) ([]domain.Availability, error)
}

type BookingLedger interface {
	Create(ctx context.Context, q postgres.DBTX, b *domain.Booking) error
	FindByID(ctx context.Context, q postgres.DBTX, id uuid.UUID) (*domain.Booking, error)
	LockByID(ctx context.Context, q postgres.DBTX, id uuid.UUID) (*domain.Booking, error)
	UpdateStatus(ctx context.Context, q postgres.DBTX, id uuid.UUID, status domain.BookingStatus) (int64, error)
	ListByUser(ctx context.Context, userID uuid.UUID, page domain.Page) ([]domain.Booking, int, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

type PaymentLedger interface {
	Create(ctx context.Context, q postgres.DBTX, p *domain.Payment) error
	UpdateStatus(ctx context.Context, q postgres.DBTX, id uuid.UUID, status domain.PaymentStatus, paidAt *time.Time) (int64, error)
	SetGatewayReference(ctx context.Context, q postgres.DBTX, id uuid.UUID, method, transactionID string) error
	LockPendingByBooking(ctx context.Context, q postgres.DBTX, bookingID uuid.UUID) (*domain.Payment, error)
	FailPending(ctx context.Context, q postgres.DBTX, bookingID uuid.UUID) (int64, error)
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) ([]domain.Payment, error)
	ListByUser(ctx context.Context, userID uuid.UUID, page domain.Page) ([]domain.Payment, int, error)
}

type EventOutbox interface {
	Insert(ctx context.Context, q postgres.DBTX, ev domain.OutboxEvent) error
}

// Auditor records committed state changes. Failures are logged, never returned to callers.
type Auditor interface {
	Record(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error
}

type Stores struct {
	Catalog   CatalogReader
	Inventory InventoryStore
	Bookings  BookingLedger
	Payments  PaymentLedger
	Outbox    EventOutbox
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, string, uuid.UUID, map[string]interface{}) error {
	return nil
}
