package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWriter is the subset of redis operations the notifier needs.
type RedisWriter interface {
	HSet(ctx context.Context, key string, values map[string]interface{}) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return r.c.HSet(ctx, key, values).Err()
}

func (r *redisAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.c.Expire(ctx, key, ttl).Err()
}

func (r *redisAdapter) Del(ctx context.Context, key string) error {
	return r.c.Del(ctx, key).Err()
}

// Redis mirrors the driver's presence into a hash other services can read.
// The key expires after TTL so a crashed agent does not look online forever.
type Redis struct {
	w        RedisWriter
	driverID string
	ttl      time.Duration
	attempts int
	delay    time.Duration
	logger   *slog.Logger
}

func NewRedis(client *redis.Client, driverID string, ttl time.Duration, logger *slog.Logger) *Redis {
	return newRedis(&redisAdapter{c: client}, driverID, ttl, logger)
}

func newRedis(w RedisWriter, driverID string, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{w: w, driverID: driverID, ttl: ttl, attempts: 3, delay: 200 * time.Millisecond, logger: logger}
}

func presenceKey(driverID string) string { return "driver:presence:" + driverID }

func (r *Redis) SetStatus(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	fields := map[string]interface{}{"status": text, "updated": time.Now().Format(time.RFC3339)}
	if err := writeWithRetry(ctx, r.w, presenceKey(r.driverID), fields, r.ttl, r.attempts, r.delay); err != nil {
		r.logger.Warn("presence update failed", "driver_id", r.driverID, "error", err)
	}
}

func (r *Redis) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.w.Del(ctx, presenceKey(r.driverID)); err != nil {
		r.logger.Warn("presence clear failed", "driver_id", r.driverID, "error", err)
	}
}

// writeWithRetry sets the hash and its expiry, backing off between attempts.
func writeWithRetry(ctx context.Context, w RedisWriter, key string, fields map[string]interface{}, ttl time.Duration, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = w.HSet(ctx, key, fields); err == nil {
			if err = w.Expire(ctx, key, ttl); err == nil {
				return nil
			}
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
