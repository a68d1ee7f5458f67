// Package idempotency provides a shared TTL'd key store used to suppress
// duplicate lifecycle-event emission when concurrent scheduler instances
// race on the same send. An in-process map would not survive restarts or
// multiple instances, so keys live in redis.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store registers idempotency keys with a TTL.
type Store interface {
	// Claim registers the key. Returns true if this caller is first; false
	// means the key was already claimed within the TTL window.
	Claim(ctx context.Context, key string) (bool, error)
}

// RedisStore implements Store on a redis SET NX per key.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a key store. Keys expire after ttl.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Claim registers the key if it is not already present.
func (s *RedisStore) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, fmt.Sprintf("%s:%s", s.prefix, key), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key %s: %w", key, err)
	}
	return ok, nil
}

// Noop is a Store that claims every key. Used when redis is not configured;
// duplicate events are then bounded only by the schedulers' selection
// filters, which is the accepted low-tick-frequency tradeoff.
type Noop struct{}

// Claim always reports first-claim.
func (Noop) Claim(context.Context, string) (bool, error) { return true, nil }
