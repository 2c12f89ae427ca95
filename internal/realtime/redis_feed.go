package realtime

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/moto-driver/internal/offer"
)

// RedisFeed receives offers over Redis pub/sub; the topic is the channel name.
type RedisFeed struct {
	Client *redis.Client
}

func NewRedisFeed(addr, password string) *RedisFeed {
	return &RedisFeed{Client: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

func (f *RedisFeed) Subscribe(ctx context.Context, topic string) (offer.Subscription, error) {
	ps := f.Client.Subscribe(ctx, topic)
	// Receive blocks until the server confirms the subscription
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	msgs := ps.Channel()

	s := newSubscription(16, ps.Close)
	go func() {
		defer close(s.ch)
		for {
			select {
			case m, ok := <-msgs:
				if !ok {
					return
				}
				if !s.deliver([]byte(m.Payload)) {
					return
				}
			case <-s.done:
				return
			}
		}
	}()
	return s, nil
}

func (f *RedisFeed) Close() error { return f.Client.Close() }
