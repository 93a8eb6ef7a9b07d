package rabbit

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Consumer struct {
	ch    *amqp.Channel
	queue string
}

// NewConsumer declares a durable queue, binds it to EventsExchange for each
// routing key and limits unacked deliveries to prefetch.
func NewConsumer(conn *amqp.Connection, queue string, prefetch int, keys ...string) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	_, err = ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	if len(keys) > 0 {
		err = ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil)
		if err != nil {
			return nil, err
		}
	}
	for _, key := range keys {
		if err := ch.QueueBind(queue, key, EventsExchange, false, nil); err != nil {
			return nil, err
		}
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, err
	}
	return &Consumer{ch: ch, queue: queue}, nil
}

func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
