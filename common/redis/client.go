package redis

import (
	"context"
	"fmt"
	"time"

	"sleepdebt/common/config"

	"github.com/go-redis/redis/v8"
)

// Client alias so callers do not import go-redis directly.
type Client = redis.Client

// NewRedisClient builds a lazily dialing client with short timeouts.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// Ping dials and checks the server.
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", client.Options().Addr, err)
	}
	return nil
}

// Close tolerates a nil client.
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
