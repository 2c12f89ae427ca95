package publish

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/moto-driver/internal/observability"
)

// AMQPPublisher sends offers to a topic exchange with the topic as routing key.
type AMQPPublisher struct {
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, errors.Join(err, ch.Close(), conn.Close())
	}
	return &AMQPPublisher{exchange: exchange, conn: conn, ch: ch}, nil
}

func (a *AMQPPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.ch.PublishWithContext(ctx, a.exchange, topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
	if err != nil {
		return err
	}
	observability.PublishedOffers.WithLabelValues("amqp").Inc()
	return nil
}

func (a *AMQPPublisher) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return errors.Join(a.ch.Close(), a.conn.Close())
}
