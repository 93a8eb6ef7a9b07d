package rabbit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
)

// EventsExchange receives every domain event, routed by event type.
const EventsExchange = "traveland.events"

type Publisher struct {
	ch      *amqp.Channel
	breaker *gobreaker.CircuitBreaker
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	return &Publisher{ch: ch, breaker: NewBreaker("rabbit-publisher")}, nil
}

// NewBreaker opens after five consecutive failures and probes again after 30s.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// Publish sends msg and waits for the broker to confirm it. While the
// breaker is open calls fail fast with gobreaker.ErrOpenState.
func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, EventsExchange, key, false, false, msg)
		if err != nil {
			return nil, err
		}
		ok, err := conf.WaitContext(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Newf("broker nacked %s", msg.MessageId)
		}
		return nil, nil
	})
	return err
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
