package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/traveland-bookings/internal/booking"
	"github.com/robertarktes/traveland-bookings/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelBooking_ReleasesSlotsAndFailsPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.coord.CreateBooking(ctx, f.alice, f.request(2, "2025-06-01"))
	require.NoError(t, err)

	cancelled, err := f.coord.CancelBooking(ctx, f.alice, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, cancelled.Status)

	slots, _ := f.store.Slots(f.pkg.ID, june1)
	assert.Equal(t, 3, slots)
	payments := f.store.PaymentsFor(b.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentFailed, payments[0].Status)
	assert.Equal(t, []string{domain.EventBookingCreated, domain.EventBookingCancelled}, f.store.EventTypes())
}

func TestCancelBooking_AlreadyCancelledLeavesStateAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.coord.CreateBooking(ctx, f.alice, f.request(2, "2025-06-01"))
	require.NoError(t, err)
	first, err := f.coord.CancelBooking(ctx, f.alice, b.ID)
	require.NoError(t, err)

	_, err = f.coord.CancelBooking(ctx, f.alice, b.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Equal(t, "Booking is already cancelled.", err.Error())

	again, err := f.coord.GetBooking(ctx, f.alice, b.ID)
	require.NoError(t, err)
	assert.Equal(t, first.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, domain.BookingCancelled, again.Status)
	slots, _ := f.store.Slots(f.pkg.ID, june1)
	assert.Equal(t, 3, slots)
	assert.Len(t, f.store.Events(), 2)
}

func TestCancelBooking_Access(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.coord.CreateBooking(ctx, f.alice, f.request(1, "2025-06-01"))
	require.NoError(t, err)

	_, err = f.coord.CancelBooking(ctx, f.bob, b.ID)
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	_, err = f.coord.CancelBooking(ctx, f.admin, b.ID)
	require.NoError(t, err)

	_, err = f.coord.CancelBooking(ctx, f.admin, uuid.New())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCancelBooking_DateRemovedStillCancels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.coord.CreateBooking(ctx, f.alice, f.request(1, "2025-06-01"))
	require.NoError(t, err)
	require.NoError(t, f.coord.ReplaceAvailability(ctx, f.admin, f.pkg.ID, nil))

	cancelled, err := f.coord.CancelBooking(ctx, f.alice, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, cancelled.Status)
	_, ok := f.store.Slots(f.pkg.ID, june1)
	assert.False(t, ok)
}

func TestPay_ConfirmsBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.coord.CreateBooking(ctx, f.alice, f.request(2, "2025-06-01"))
	require.NoError(t, err)

	p, err := f.coord.Pay(ctx, f.alice, booking.PaymentRequest{BookingID: b.ID.String(), Method: "paypal"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, p.Status)
	assert.Equal(t, "paypal", p.Method)
	assert.Regexp(t, `^TXN-\d+-\d{9}$`, p.TransactionID)
	require.NotNil(t, p.PaidAt)
	assert.True(t, clock.Equal(*p.PaidAt))

	got, err := f.coord.GetBooking(ctx, f.alice, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.Status)

	payments := f.store.PaymentsFor(b.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, p.ID, payments[0].ID)
	assert.Equal(t, []string{
		domain.EventBookingCreated,
		domain.EventPaymentCompleted,
		domain.EventBookingConfirmed,
	}, f.store.EventTypes())

	_, err = f.coord.Pay(ctx, f.alice, booking.PaymentRequest{BookingID: b.ID.String()})
	require.Error(t, err)
	assert.Equal(t, "Booking is not awaiting payment.", err.Error())
}

func TestPay_RequiresOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.coord.CreateBooking(ctx, f.alice, f.request(1, "2025-06-01"))
	require.NoError(t, err)

	_, err = f.coord.Pay(ctx, f.bob, booking.PaymentRequest{BookingID: b.ID.String()})
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	_, err = f.coord.Pay(ctx, f.alice, booking.PaymentRequest{BookingID: "nope"})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

type decliningGateway struct{}

func (decliningGateway) Charge(context.Context, *domain.Booking, string) (booking.ChargeResult, error) {
	return booking.ChargeResult{Succeeded: false, TransactionID: "TXN-declined"}, nil
}

func TestPay_DeclinedThenRetried(t *testing.T) {
	f := newFixture(t, booking.WithGateway(decliningGateway{}))
	ctx := context.Background()

	b, err := f.coord.CreateBooking(ctx, f.alice, f.request(1, "2025-06-01"))
	require.NoError(t, err)

	p, err := f.coord.Pay(ctx, f.alice, booking.PaymentRequest{BookingID: b.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, p.Status)
	assert.Nil(t, p.PaidAt)

	got, err := f.coord.GetBooking(ctx, f.alice, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, got.Status)

	retry, err := f.coord.SettlePayment(ctx, f.admin, booking.SettleRequest{
		BookingID:     b.ID,
		Succeeded:     true,
		Method:        "card",
		TransactionID: "TXN-1-000000001",
	})
	require.NoError(t, err)
	assert.NotEqual(t, p.ID, retry.ID)
	assert.Equal(t, domain.PaymentCompleted, retry.Status)
	assert.True(t, b.TotalPrice.Equal(retry.Amount))

	assert.Len(t, f.store.PaymentsFor(b.ID), 2)
	history, err := f.coord.PaymentsForBooking(ctx, f.alice, b.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, retry.ID, history[0].ID)
}

func TestSettlePayment_CancelledBookingRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.coord.CreateBooking(ctx, f.alice, f.request(1, "2025-06-01"))
	require.NoError(t, err)
	_, err = f.coord.CancelBooking(ctx, f.alice, b.ID)
	require.NoError(t, err)

	_, err = f.coord.SettlePayment(ctx, f.admin, booking.SettleRequest{BookingID: b.ID, Succeeded: true, TransactionID: "TXN-x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Len(t, f.store.PaymentsFor(b.ID), 1)
}

func TestListMyPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.coord.CreateBooking(ctx, f.alice, f.request(1, "2025-06-01"))
	require.NoError(t, err)

	payments, total, err := f.coord.ListMyPayments(ctx, f.alice, domain.NewPage(1, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, payments, 1)
	assert.Equal(t, b.ID, payments[0].BookingID)
	assert.Equal(t, "Lisbon Weekend", payments[0].PackageTitle)
	require.NotNil(t, payments[0].TravelDate)
	assert.True(t, june1.Equal(*payments[0].TravelDate))

	_, total, err = f.coord.ListMyPayments(ctx, f.bob, domain.NewPage(1, 10))
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestExpireStalePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale, err := f.coord.CreateBooking(ctx, f.alice, f.request(1, "2025-06-01"))
	require.NoError(t, err)
	paid, err := f.coord.CreateBooking(ctx, f.alice, f.request(1, "2025-06-01"))
	require.NoError(t, err)
	fresh, err := f.coord.CreateBooking(ctx, f.bob, f.request(1, "2025-06-01"))
	require.NoError(t, err)

	f.store.Backdate(stale.ID, clock.Add(-2*time.Hour))
	f.store.Backdate(paid.ID, clock.Add(-2*time.Hour))
	_, err = f.coord.Pay(ctx, f.alice, booking.PaymentRequest{BookingID: paid.ID.String()})
	require.NoError(t, err)

	expired, err := f.coord.ExpireStalePending(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)
	assert.Equal(t, domain.BookingCancelled, expired[0].Status)

	got, err := f.coord.GetBooking(ctx, f.admin, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, got.Status)

	got, err = f.coord.GetBooking(ctx, f.admin, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, got.Status)

	slots, _ := f.store.Slots(f.pkg.ID, june1)
	assert.Equal(t, 1, slots)
	assert.Contains(t, f.store.EventTypes(), domain.EventBookingExpired)

	expired, err = f.coord.ExpireStalePending(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, expired)
}
