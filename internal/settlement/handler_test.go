package settlement

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/traveland-bookings/internal/booking"
	"github.com/robertarktes/traveland-bookings/internal/booking/bookingtest"
	"github.com/robertarktes/traveland-bookings/internal/domain"
	"github.com/robertarktes/traveland-bookings/internal/observability"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settlerFunc func(ctx context.Context, who domain.Identity, req booking.SettleRequest) (*domain.Payment, error)

func (f settlerFunc) SettlePayment(ctx context.Context, who domain.Identity, req booking.SettleRequest) (*domain.Payment, error) {
	return f(ctx, who, req)
}

type acks struct {
	acked, requeued, dropped []uint64
}

func (a *acks) Ack(tag uint64, _ bool) error {
	a.acked = append(a.acked, tag)
	return nil
}

func (a *acks) Nack(tag uint64, _ bool, requeue bool) error {
	if requeue {
		a.requeued = append(a.requeued, tag)
	} else {
		a.dropped = append(a.dropped, tag)
	}
	return nil
}

func (a *acks) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func body(t *testing.T, msg Message) []byte {
	t.Helper()
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	return b
}

func TestParse(t *testing.T) {
	id := uuid.New()

	req, err := parse([]byte(`{"booking_id":"` + id.String() + `","status":"SUCCEEDED","transaction_id":"TXN-1"}`))
	require.NoError(t, err)
	assert.Equal(t, booking.SettleRequest{BookingID: id, Succeeded: true, Method: "card", TransactionID: "TXN-1"}, req)

	req, err = parse([]byte(`{"booking_id":"` + id.String() + `","status":"FAILED","method":"paypal"}`))
	require.NoError(t, err)
	assert.False(t, req.Succeeded)
	assert.Equal(t, "paypal", req.Method)

	for _, raw := range []string{
		`not json`,
		`{"booking_id":"nope","status":"FAILED"}`,
		`{"booking_id":"` + id.String() + `","status":"MAYBE"}`,
	} {
		_, err := parse([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestHandle_Outcomes(t *testing.T) {
	msg := Message{BookingID: uuid.NewString(), Status: StatusSucceeded, TransactionID: "TXN-1"}

	tests := []struct {
		name        string
		err         error
		redelivered bool
		want        Action
	}{
		{"settled", nil, false, Ack},
		{"booking gone", domain.NotFound("Booking not found."), false, Ack},
		{"already confirmed", domain.Invalid("Booking is not awaiting payment."), false, Ack},
		{"serialization", errors.Wrap(domain.ErrSerializationFailure, "commit"), true, Requeue},
		{"first failure", errors.New("connection reset"), false, Requeue},
		{"second failure", errors.New("connection reset"), true, Drop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var who domain.Identity
			h := NewHandler(settlerFunc(func(_ context.Context, id domain.Identity, _ booking.SettleRequest) (*domain.Payment, error) {
				who = id
				if tt.err != nil {
					return nil, tt.err
				}
				return &domain.Payment{Status: domain.PaymentCompleted}, nil
			}), observability.NewNopLogger())

			got := h.Handle(context.Background(), amqp.Delivery{Body: body(t, msg), Redelivered: tt.redelivered})
			assert.Equal(t, tt.want, got)
			assert.True(t, who.IsAdmin())
		})
	}

	h := NewHandler(settlerFunc(func(context.Context, domain.Identity, booking.SettleRequest) (*domain.Payment, error) {
		t.Fatal("malformed message reached the settler")
		return nil, nil
	}), observability.NewNopLogger())
	assert.Equal(t, Drop, h.Handle(context.Background(), amqp.Delivery{Body: []byte("{")}))
}

func TestRun_SettlesThroughCoordinator(t *testing.T) {
	store := bookingtest.NewStore()
	pkg := domain.Package{ID: uuid.New(), Title: "Atlas Trek", PricePerPerson: decimal.NewFromInt(80), MaxBookingLimit: 4}
	store.AddPackage(pkg)
	date := time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC)
	store.SetSlots(pkg.ID, date, 4)

	coord := booking.NewCoordinator(store, store.Stores(), observability.NewNopLogger())
	owner := domain.Identity{UserID: uuid.New(), Role: "user"}
	guests := 2
	b, err := coord.CreateBooking(context.Background(), owner, booking.CreateRequest{
		PackageID:  pkg.ID.String(),
		Guests:     &guests,
		TravelDate: "2025-09-10",
	})
	require.NoError(t, err)

	ack := &acks{}
	deliveries := make(chan amqp.Delivery, 3)
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body(t, Message{BookingID: b.ID.String(), Status: StatusFailed, TransactionID: "TXN-1"})}
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: body(t, Message{BookingID: b.ID.String(), Status: StatusSucceeded, TransactionID: "TXN-2"})}
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte("garbage")}
	close(deliveries)

	err = NewHandler(coord, observability.NewNopLogger()).Run(context.Background(), deliveries)
	require.Error(t, err)

	assert.Equal(t, []uint64{1, 2}, ack.acked)
	assert.Equal(t, []uint64{3}, ack.dropped)
	assert.Empty(t, ack.requeued)

	got, err := coord.GetBooking(context.Background(), owner, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.Status)

	payments := store.PaymentsFor(b.ID)
	require.Len(t, payments, 2)
	statuses := []domain.PaymentStatus{payments[0].Status, payments[1].Status}
	assert.ElementsMatch(t, []domain.PaymentStatus{domain.PaymentFailed, domain.PaymentCompleted}, statuses)
}

func TestRun_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := NewHandler(settlerFunc(nil), observability.NewNopLogger())
	assert.NoError(t, h.Run(ctx, make(chan amqp.Delivery)))
}
