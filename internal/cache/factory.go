package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Backend string // "disk" (default), "memory" or "redis"
	Dir     string // entry directory for the disk backend
	MaxAge  time.Duration
	Prefix  string // key prefix for the redis backend
}

// NewStore builds the configured backend. redisClient is only consulted for
// the redis backend.
func NewStore(cfg Config, redisClient *redis.Client) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(cfg.MaxAge), nil
	case "redis":
		return NewRedisStore(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
			MaxAge: cfg.MaxAge,
		}), nil
	default:
		return NewDiskStore(cfg.Dir, cfg.MaxAge)
	}
}
