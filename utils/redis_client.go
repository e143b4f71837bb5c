package utils

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client with connection pooling and checks
// connectivity. url may be a redis:// URL or a bare host:port.
func NewRedisClient(ctx context.Context, url, password string, db int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{
			Addr:     url,
			Password: password,
			DB:       db,
		}
	}

	if opts.Password == "" {
		opts.Password = password
	}

	opts.PoolSize = 100
	opts.MinIdleConns = 10
	opts.MaxRetries = 3

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}

	slog.Info("Connected to Redis", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}

// RedisHealthCheck performs a health check on Redis connection
func RedisHealthCheck(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}
