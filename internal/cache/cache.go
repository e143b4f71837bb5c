// Package cache holds short-lived per-user read caches.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ticket-ledger/models"
)

// UserCache caches a user's ticket list. Misses and cache errors are
// indistinguishable to callers; errors are logged.
type UserCache interface {
	GetTickets(ctx context.Context, userID string) ([]models.Ticket, bool)
	SetTickets(ctx context.Context, userID string, tickets []models.Ticket)
	Invalidate(ctx context.Context, userIDs ...string)
}

func ticketsKey(userID string) string {
	return fmt.Sprintf("user:tickets:%s", userID)
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "cache"),
	}
}

func (c *RedisCache) GetTickets(ctx context.Context, userID string) ([]models.Ticket, bool) {
	data, err := c.client.Get(ctx, ticketsKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("Failed to read ticket cache", "error", err, "user_id", userID)
		return nil, false
	}

	var tickets []models.Ticket
	if err := json.Unmarshal(data, &tickets); err != nil {
		c.logger.Warn("Discarding corrupt ticket cache entry", "error", err, "user_id", userID)
		return nil, false
	}
	return tickets, true
}

func (c *RedisCache) SetTickets(ctx context.Context, userID string, tickets []models.Ticket) {
	data, err := json.Marshal(tickets)
	if err != nil {
		c.logger.Warn("Failed to encode ticket cache", "error", err, "user_id", userID)
		return
	}
	if err := c.client.Set(ctx, ticketsKey(userID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to write ticket cache", "error", err, "user_id", userID)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = ticketsKey(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("Failed to invalidate ticket cache", "error", err, "user_ids", userIDs)
	}
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) GetTickets(context.Context, string) ([]models.Ticket, bool) { return nil, false }
func (NopCache) SetTickets(context.Context, string, []models.Ticket) {}
func (NopCache) Invalidate(context.Context, ...string) {}
