package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/traveland-bookings/internal/adapters/postgres"
	"github.com/robertarktes/traveland-bookings/internal/domain"
	"github.com/robertarktes/traveland-bookings/internal/observability"
)

var errAlreadyResolved = errors.New("booking no longer pending")

// CancelBooking moves a pending or confirmed booking to cancelled, gives its
// guests back to the date's inventory and fails any pending payment.
func (c *Coordinator) CancelBooking(ctx context.Context, who domain.Identity, id uuid.UUID) (*domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.Cancel")
	defer span.End()

	err := c.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		b, err := c.bookings.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if !who.CanAccess(b.UserID) {
			return domain.Forbidden("Access denied.")
		}
		return c.cancelLocked(ctx, tx, b, domain.EventBookingCancelled)
	})
	if err != nil {
		return nil, err
	}

	c.record(ctx, domain.EventBookingCancelled, who.UserID, map[string]interface{}{
		"booking_id": id.String(),
	})
	return c.bookings.FindByID(ctx, nil, id)
}

func (c *Coordinator) cancelLocked(ctx context.Context, q postgres.DBTX, b *domain.Booking, eventType string) error {
	next, err := b.Status.TransitionTo(domain.BookingCancelled)
	if err != nil {
		return err
	}
	if _, err := c.bookings.UpdateStatus(ctx, q, b.ID, next); err != nil {
		return err
	}

	released, err := c.inventory.ReleaseSlots(ctx, q, b.PackageID, b.TravelDate, b.Guests)
	if err != nil {
		return err
	}
	if !released {
		// The date was removed by an admin edit; nothing to give back.
		observability.LoggerFrom(ctx, c.logger).WithFields(map[string]interface{}{
			"booking_id":  b.ID.String(),
			"travel_date": b.TravelDate.Format(time.DateOnly),
		}).Warn("no availability row to release slots into")
	}

	failed, err := c.payments.FailPending(ctx, q, b.ID)
	if err != nil {
		return err
	}

	return c.emit(ctx, q, "booking", b.ID, eventType, map[string]interface{}{
		"booking_id":      b.ID,
		"user_id":         b.UserID,
		"package_id":      b.PackageID,
		"guests":          b.Guests,
		"travel_date":     b.TravelDate.Format(time.DateOnly),
		"previous_status": b.Status,
		"slots_released":  released,
		"payments_failed": failed,
	})
}

// Pay charges the booking through the gateway and settles the outcome.
func (c *Coordinator) Pay(ctx context.Context, who domain.Identity, req PaymentRequest) (*domain.Payment, error) {
	if err := ValidateStruct(req); err != nil {
		return nil, err
	}
	bookingID := uuid.MustParse(req.BookingID)

	b, err := c.GetBooking(ctx, who, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BookingPending {
		return nil, domain.Invalid("Booking is not awaiting payment.")
	}

	method := req.Method
	if method == "" {
		method = "card"
	}
	res, err := c.gateway.Charge(ctx, b, method)
	if err != nil {
		return nil, errors.Wrap(err, "payment gateway")
	}

	return c.SettlePayment(ctx, who, SettleRequest{
		BookingID:     bookingID,
		Succeeded:     res.Succeeded,
		Method:        method,
		TransactionID: res.TransactionID,
	})
}

// SettlePayment applies a gateway outcome. Success completes the pending
// payment and confirms the booking; failure marks the payment failed and
// leaves the booking pending.
func (c *Coordinator) SettlePayment(ctx context.Context, who domain.Identity, req SettleRequest) (*domain.Payment, error) {
	ctx, span := tracer.Start(ctx, "booking.SettlePayment")
	defer span.End()

	var settled domain.Payment
	err := c.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		b, err := c.bookings.LockByID(ctx, tx, req.BookingID)
		if err != nil {
			return err
		}
		if !who.CanAccess(b.UserID) {
			return domain.Forbidden("Access denied.")
		}
		if b.Status != domain.BookingPending {
			return domain.Invalid("Booking is not awaiting payment.")
		}

		now := c.now()
		p, err := c.payments.LockPendingByBooking(ctx, tx, b.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			fresh := domain.NewPayment(*b, c.currency, now)
			fresh.Method = req.Method
			fresh.TransactionID = req.TransactionID
			if err := c.payments.Create(ctx, tx, &fresh); err != nil {
				return err
			}
			p = &fresh
		case err != nil:
			return err
		default:
			if err := c.payments.SetGatewayReference(ctx, tx, p.ID, req.Method, req.TransactionID); err != nil {
				return err
			}
			p.Method = req.Method
			p.TransactionID = req.TransactionID
		}

		target := domain.PaymentFailed
		var paidAt *time.Time
		if req.Succeeded {
			target = domain.PaymentCompleted
			paidAt = &now
		}
		next, err := p.Status.TransitionTo(target)
		if err != nil {
			return err
		}
		if _, err := c.payments.UpdateStatus(ctx, tx, p.ID, next, paidAt); err != nil {
			return err
		}
		p.Status = next
		p.PaidAt = paidAt
		settled = *p

		if !req.Succeeded {
			return c.emit(ctx, tx, "payment", p.ID, domain.EventPaymentFailed, map[string]interface{}{
				"payment_id":     p.ID,
				"booking_id":     b.ID,
				"transaction_id": p.TransactionID,
			})
		}

		confirmed, err := b.Status.TransitionTo(domain.BookingConfirmed)
		if err != nil {
			return err
		}
		if _, err := c.bookings.UpdateStatus(ctx, tx, b.ID, confirmed); err != nil {
			return err
		}
		if err := c.emit(ctx, tx, "payment", p.ID, domain.EventPaymentCompleted, map[string]interface{}{
			"payment_id":     p.ID,
			"booking_id":     b.ID,
			"amount":         p.Amount,
			"currency":       p.Currency,
			"transaction_id": p.TransactionID,
		}); err != nil {
			return err
		}
		return c.emit(ctx, tx, "booking", b.ID, domain.EventBookingConfirmed, map[string]interface{}{
			"booking_id": b.ID,
			"user_id":    b.UserID,
			"payment_id": p.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	action := domain.EventPaymentFailed
	if settled.Status == domain.PaymentCompleted {
		action = domain.EventPaymentCompleted
	}
	c.record(ctx, action, who.UserID, map[string]interface{}{
		"booking_id":     req.BookingID.String(),
		"payment_id":     settled.ID.String(),
		"transaction_id": settled.TransactionID,
	})
	return &settled, nil
}

// ExpireStalePending cancels up to limit bookings that stayed pending longer
// than ttl and returns the ones it cancelled. Each booking is its own unit of
// work; one failure does not stop the batch.
func (c *Coordinator) ExpireStalePending(ctx context.Context, ttl time.Duration, limit int) ([]domain.Booking, error) {
	ids, err := c.bookings.ListStalePending(ctx, c.now().Add(-ttl), limit)
	if err != nil {
		return nil, err
	}

	var expired []domain.Booking
	for _, id := range ids {
		var b *domain.Booking
		err := c.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			var err error
			b, err = c.bookings.LockByID(ctx, tx, id)
			if err != nil {
				return err
			}
			if b.Status != domain.BookingPending {
				return errAlreadyResolved
			}
			return c.cancelLocked(ctx, tx, b, domain.EventBookingExpired)
		})
		switch {
		case err == nil:
			b.Status = domain.BookingCancelled
			expired = append(expired, *b)
			observability.BookingsExpired.Inc()
			c.record(ctx, domain.EventBookingExpired, b.UserID, map[string]interface{}{
				"booking_id": b.ID.String(),
			})
		case errors.Is(err, errAlreadyResolved):
		default:
			observability.LoggerFrom(ctx, c.logger).WithError(err).WithField("booking_id", id.String()).Error("expire booking")
		}
	}
	return expired, nil
}
