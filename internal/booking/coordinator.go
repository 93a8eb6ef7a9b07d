package booking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/traveland-bookings/internal/adapters/postgres"
	"github.com/robertarktes/traveland-bookings/internal/domain"
	"github.com/robertarktes/traveland-bookings/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/robertarktes/traveland-bookings/internal/booking")

var errSlotsContended = domain.Conflict("Could not reserve slots. Please try again.")

type Option func(*Coordinator)

func WithCurrency(currency string) Option {
	return func(c *Coordinator) {
		if currency != "" {
			c.currency = currency
		}
	}
}

func WithAuditor(a Auditor) Option {
	return func(c *Coordinator) {
		if a != nil {
			c.audit = a
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

func WithGateway(g Gateway) Option {
	return func(c *Coordinator) {
		c.gateway = g
	}
}

// Coordinator runs every multi-row booking change as one unit of work.
type Coordinator struct {
	tx        TxRunner
	catalog   CatalogReader
	inventory InventoryStore
	bookings  BookingLedger
	payments  PaymentLedger
	outbox    EventOutbox
	audit     Auditor
	gateway   Gateway
	logger    observability.Logger
	currency  string
	now       func() time.Time
}

func NewCoordinator(tx TxRunner, stores Stores, logger observability.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		tx:        tx,
		catalog:   stores.Catalog,
		inventory: stores.Inventory,
		bookings:  stores.Bookings,
		payments:  stores.Payments,
		outbox:    stores.Outbox,
		audit:     nopAuditor{},
		gateway:   SimulatedGateway{},
		logger:    logger,
		currency:  "USD",
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateBooking reserves slots for the caller and opens a pending payment.
// Either the booking, the slot decrement, the payment and the outbox event
// all commit, or none of them do.
func (c *Coordinator) CreateBooking(ctx context.Context, who domain.Identity, req CreateRequest) (*domain.Booking, error) {
	in, err := req.Validate()
	if err != nil {
		observability.BookingRejections.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "booking.Create", trace.WithAttributes(
		attribute.String("package_id", in.PackageID.String()),
		attribute.Int("guests", in.Guests),
	))
	defer span.End()

	var created domain.Booking
	err = c.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		pkg, err := c.catalog.GetPackage(ctx, tx, in.PackageID)
		if err != nil {
			return err
		}

		if limit := pkg.BookingCap(); in.Guests > limit {
			return domain.Invalid("Maximum booking limit is %d for this package.", limit)
		}

		check, err := c.inventory.CheckAvailability(ctx, tx, pkg.ID, in.TravelDate, in.Guests)
		if err != nil {
			return err
		}
		if !check.Available {
			return domain.Invalid("%s", check.Reason)
		}

		created = domain.NewBooking(who.UserID, *pkg, in, c.now())
		if err := c.bookings.Create(ctx, tx, &created); err != nil {
			return err
		}

		ok, err := c.inventory.DecrementSlots(ctx, tx, pkg.ID, in.TravelDate, in.Guests)
		if err != nil {
			return err
		}
		if !ok {
			return errSlotsContended
		}

		payment := domain.NewPayment(created, c.currency, c.now())
		if err := c.payments.Create(ctx, tx, &payment); err != nil {
			return err
		}

		return c.emit(ctx, tx, "booking", created.ID, domain.EventBookingCreated, map[string]interface{}{
			"booking_id":  created.ID,
			"user_id":     created.UserID,
			"package_id":  created.PackageID,
			"guests":      created.Guests,
			"travel_date": created.TravelDate.Format(time.DateOnly),
			"total_price": created.TotalPrice,
			"payment_id":  payment.ID,
		})
	})
	if err != nil {
		c.reject(ctx, span, err)
		return nil, err
	}

	observability.BookingsCreated.Inc()
	span.SetAttributes(attribute.String("booking_id", created.ID.String()))
	c.record(ctx, domain.EventBookingCreated, who.UserID, map[string]interface{}{
		"booking_id":  created.ID.String(),
		"package_id":  created.PackageID.String(),
		"guests":      created.Guests,
		"total_price": created.TotalPrice.String(),
	})

	// The booking is committed; a failed reload must not turn into an error a
	// client would retry.
	booking, err := c.bookings.FindByID(ctx, nil, created.ID)
	if err != nil {
		observability.LoggerFrom(ctx, c.logger).WithError(err).
			WithField("booking_id", created.ID.String()).
			Warn("reload created booking")
		return &created, nil
	}
	return booking, nil
}

func (c *Coordinator) GetBooking(ctx context.Context, who domain.Identity, id uuid.UUID) (*domain.Booking, error) {
	b, err := c.bookings.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if !who.CanAccess(b.UserID) {
		return nil, domain.Forbidden("Access denied.")
	}
	return b, nil
}

func (c *Coordinator) ListMyBookings(ctx context.Context, who domain.Identity, page domain.Page) ([]domain.Booking, int, error) {
	return c.bookings.ListByUser(ctx, who.UserID, page)
}

func (c *Coordinator) ListMyPayments(ctx context.Context, who domain.Identity, page domain.Page) ([]domain.Payment, int, error) {
	return c.payments.ListByUser(ctx, who.UserID, page)
}

func (c *Coordinator) PaymentsForBooking(ctx context.Context, who domain.Identity, bookingID uuid.UUID) ([]domain.Payment, error) {
	if _, err := c.GetBooking(ctx, who, bookingID); err != nil {
		return nil, err
	}
	return c.payments.GetByBookingID(ctx, bookingID)
}

// PackageDetails returns an active package with its availability from today on.
func (c *Coordinator) PackageDetails(ctx context.Context, id uuid.UUID) (*domain.Package, error) {
	pkg, err := c.catalog.GetPackage(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	today := c.now().Truncate(24 * time.Hour)
	pkg.Availability, err = c.inventory.ListAvailability(ctx, nil, id, today)
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

// ReplaceAvailability swaps every availability row of a package for slots.
func (c *Coordinator) ReplaceAvailability(ctx context.Context, who domain.Identity, packageID uuid.UUID, slots []domain.Availability) error {
	if !who.IsAdmin() {
		return domain.Forbidden("Access forbidden. Required role: admin.")
	}
	for _, s := range slots {
		if s.AvailableSlots < 0 {
			return domain.Invalid("available_slots cannot be negative.")
		}
	}
	err := c.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := c.catalog.GetPackage(ctx, tx, packageID); err != nil {
			return err
		}
		return c.inventory.ReplaceAvailability(ctx, tx, packageID, slots)
	})
	if err != nil {
		return err
	}
	c.record(ctx, "package.availability_replaced", who.UserID, map[string]interface{}{
		"package_id": packageID.String(),
		"dates":      len(slots),
	})
	return nil
}

func (c *Coordinator) emit(ctx context.Context, q postgres.DBTX, aggregate string, id uuid.UUID, eventType string, payload map[string]interface{}) error {
	payload["event"] = eventType
	payload["occurred_at"] = c.now().Format(time.RFC3339Nano)
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal event payload")
	}
	return c.outbox.Insert(ctx, q, domain.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: aggregate,
		AggregateID:   id,
		EventType:     eventType,
		Payload:       raw,
		DedupeKey:     eventType + ":" + id.String(),
	})
}

func (c *Coordinator) record(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) {
	if err := c.audit.Record(ctx, action, userID, data); err != nil {
		observability.LoggerFrom(ctx, c.logger).WithError(err).WithField("action", action).Warn("audit record failed")
	}
}

func (c *Coordinator) reject(ctx context.Context, span trace.Span, err error) {
	reason := rejectionReason(err)
	observability.BookingRejections.WithLabelValues(reason).Inc()
	if reason == "slot_contention" {
		observability.SlotContention.Inc()
	}
	if reason == "internal" || reason == "retryable" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.LoggerFrom(ctx, c.logger).WithError(err).Error("booking transaction rolled back")
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "slot_contention"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_request"
	case domain.IsRetryable(err):
		return "retryable"
	default:
		return "internal"
	}
}
