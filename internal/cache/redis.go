package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of Redis. Entries are stored as the
// same JSON document the disk store writes, with the max age applied as the
// Redis TTL, so expiry is handled natively.
type RedisStore struct {
	client *redis.Client
	prefix string
	maxAge time.Duration
}

type RedisConfig struct {
	Prefix string
	MaxAge time.Duration
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, cfg RedisConfig) *RedisStore {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		maxAge: maxAge,
	}
}

// key builds the final Redis key with prefix.
func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Get retrieves an entry from Redis. On a Redis error it reports a miss and
// returns the error so the caller can log and regenerate.
func (s *RedisStore) Get(ctx context.Context, key string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return miss(MissError), fmt.Errorf("cache: context error: %w", err)
	}

	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return miss(MissNotFound), nil
	}
	if err != nil {
		return miss(MissError), fmt.Errorf("cache: redis get failed: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return miss(MissCorrupt), fmt.Errorf("cache: decode entry: %w", err)
	}

	// TTL already bounds the age, but keep the same validity rule as disk.
	if time.Since(e.Timestamp) > s.maxAge {
		return miss(MissExpired), nil
	}

	return hit(&e), nil
}

// Set stores an entry with the max age as its TTL.
func (s *RedisStore) Set(ctx context.Context, key string, payload any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cache: context error: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cache: marshal payload: %w", err)
	}
	e := Entry{
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}

	if err := s.client.Set(ctx, s.key(key), raw, s.maxAge).Err(); err != nil {
		return fmt.Errorf("cache: redis set failed: %w", err)
	}
	return nil
}

// Sweep is a no-op for Redis: keys expire via their TTL.
func (s *RedisStore) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("cache: context error: %w", err)
	}
	return 0, nil
}

// Delete removes a key from the store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cache: context error: %w", err)
	}
	return s.client.Del(ctx, s.key(key)).Err()
}

// Ping checks if the Redis connection is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cache: context error: %w", err)
	}
	return s.client.Ping(ctx).Err()
}
