package realtime

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/moto-driver/internal/offer"
)

// AMQPFeed binds a private, auto-deleted queue to a topic exchange using the
// feed topic as routing key.
type AMQPFeed struct {
	URL      string
	Exchange string
}

func NewAMQPFeed(url, exchange string) *AMQPFeed {
	return &AMQPFeed{URL: url, Exchange: exchange}
}

func (f *AMQPFeed) Subscribe(ctx context.Context, topic string) (offer.Subscription, error) {
	if f.URL == "" {
		return nil, ErrNoBrokers
	}
	conn, err := amqp.Dial(f.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	fail := func(err error) (offer.Subscription, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if err := ch.ExchangeDeclare(f.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fail(err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fail(err)
	}
	if err := ch.QueueBind(q.Name, topic, f.Exchange, false, nil); err != nil {
		return fail(err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fail(err)
	}

	s := newSubscription(16, func() error {
		return errors.Join(ch.Close(), conn.Close())
	})
	go func() {
		defer close(s.ch)
		for d := range deliveries {
			if !s.deliver(d.Body) {
				return
			}
		}
	}()
	return s, nil
}
