package app

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient builds the Redis client backing the lockout and denylist
// guards. Redis is optional: an unreachable server is logged and the client
// is still returned, since the guards fail open and recover when Redis does.
// An empty address returns nil, disabling the guards.
func NewRedisClient(ctx context.Context, cfg Config, log Logger) redis.UniversalClient {
	if cfg.RedisAddr == "" {
		log.Info("redis.disabled.guards_off")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis.unreachable.guards_degraded", "err", err, "addr", cfg.RedisAddr)
	} else {
		log.Info("redis.enabled", "addr", cfg.RedisAddr)
	}

	return rdb
}
