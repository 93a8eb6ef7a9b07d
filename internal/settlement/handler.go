// Package settlement applies payment gateway results delivered over RabbitMQ.
package settlement

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/traveland-bookings/internal/booking"
	"github.com/robertarktes/traveland-bookings/internal/domain"
	"github.com/robertarktes/traveland-bookings/internal/observability"
)

const (
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// Message is the gateway result body.
type Message struct {
	BookingID     string `json:"booking_id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Method        string `json:"method"`
}

type Settler interface {
	SettlePayment(ctx context.Context, who domain.Identity, req booking.SettleRequest) (*domain.Payment, error)
}

// Action is what happens to a delivery after it was handled.
type Action int

const (
	Ack Action = iota
	Requeue
	Drop
)

func (a Action) String() string {
	switch a {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	default:
		return "drop"
	}
}

// worker is the identity settlement runs under; it may settle any booking.
var worker = domain.Identity{Email: "settlement-worker", Role: domain.RoleAdmin}

type Handler struct {
	settler Settler
	logger  observability.Logger
}

func NewHandler(settler Settler, logger observability.Logger) *Handler {
	return &Handler{settler: settler, logger: logger}
}

func parse(body []byte) (booking.SettleRequest, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return booking.SettleRequest{}, errors.Wrap(err, "decode settlement")
	}
	id, err := uuid.Parse(msg.BookingID)
	if err != nil {
		return booking.SettleRequest{}, errors.Wrapf(err, "booking_id %q", msg.BookingID)
	}

	req := booking.SettleRequest{BookingID: id, Method: msg.Method, TransactionID: msg.TransactionID}
	switch msg.Status {
	case StatusSucceeded:
		req.Succeeded = true
	case StatusFailed:
	default:
		return booking.SettleRequest{}, errors.Newf("unknown settlement status %q", msg.Status)
	}
	if req.Method == "" {
		req.Method = "card"
	}
	return req, nil
}

// Handle settles one delivery and decides its fate. Malformed messages are
// dropped. Results for missing or already resolved bookings are acked since
// redelivery cannot change them. Retryable storage errors are requeued; other
// failures get one redelivery before they are dropped.
func (h *Handler) Handle(ctx context.Context, d amqp.Delivery) Action {
	logger := h.logger.WithField("message_id", d.MessageId)

	req, err := parse(d.Body)
	if err != nil {
		logger.WithError(err).Warn("malformed settlement message")
		return Drop
	}
	logger = logger.WithFields(map[string]interface{}{
		"booking_id":     req.BookingID.String(),
		"transaction_id": req.TransactionID,
	})

	p, err := h.settler.SettlePayment(ctx, worker, req)
	switch {
	case err == nil:
		logger.WithField("payment_status", string(p.Status)).Info("payment settled")
		return Ack
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidInput):
		logger.WithError(err).Warn("settlement not applicable")
		return Ack
	case domain.IsRetryable(err):
		logger.WithError(err).Warn("settlement will be retried")
		return Requeue
	case d.Redelivered:
		logger.WithError(err).Error("settlement failed twice")
		return Drop
	default:
		logger.WithError(err).Error("settlement failed")
		return Requeue
	}
}

// Run handles deliveries until ctx is done or the channel closes.
func (h *Handler) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("settlement deliveries closed")
			}
			action := h.Handle(ctx, d)
			observability.SettlementsHandled.WithLabelValues(action.String()).Inc()

			var err error
			switch action {
			case Ack:
				err = d.Ack(false)
			case Requeue:
				err = d.Nack(false, true)
			default:
				err = d.Nack(false, false)
			}
			if err != nil {
				return errors.Wrap(err, "acknowledge delivery")
			}
		}
	}
}
