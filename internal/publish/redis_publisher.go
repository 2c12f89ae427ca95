package publish

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/moto-driver/internal/observability"
)

type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (r *RedisPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.client.Publish(ctx, topic, payload).Err(); err != nil {
		return err
	}
	observability.PublishedOffers.WithLabelValues("redis").Inc()
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (r *RedisPublisher) Close() error { return nil }
