package database

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient creates a Redis client from environment variables and
// verifies connectivity. Redis holds the per-event capacity counters
// and the distributed locks that serialize join/leave operations, so
// the service refuses to start without it.
func NewRedisClient(ctx context.Context) (*redis.Client, error) {
	db, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_DB: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return client, nil
}
