package ridesim

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker grants the accept of a ride to exactly one driver.
type Locker interface {
	TryLock(ctx context.Context, rideID, owner string) (bool, error)
	Release(ctx context.Context, rideID string) error
}

type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]string)}
}

func (m *MemoryLocker) TryLock(ctx context.Context, rideID, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[rideID]; ok {
		return false, nil
	}
	m.held[rideID] = owner
	return true, nil
}

func (m *MemoryLocker) Release(ctx context.Context, rideID string) error {
	m.mu.Lock()
	delete(m.held, rideID)
	m.mu.Unlock()
	return nil
}

// RedisLocker uses SETNX so several simulator replicas agree on the winner.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func lockKey(rideID string) string { return "ride:accept:" + rideID }

func (r *RedisLocker) TryLock(ctx context.Context, rideID, owner string) (bool, error) {
	return r.client.SetNX(ctx, lockKey(rideID), owner, r.ttl).Result()
}

func (r *RedisLocker) Release(ctx context.Context, rideID string) error {
	return r.client.Del(ctx, lockKey(rideID)).Err()
}
