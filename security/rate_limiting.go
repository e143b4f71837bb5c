package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/redis/go-redis/v9"

	"ticket-ledger/internal/status"
)

const (
	antiBotLimit  = 30
	antiBotWindow = time.Minute
	storeTimeout  = 2 * time.Second
)

// RateLimiter counts requests per client in fixed Redis windows. A nil
// limiter lets everything through.
type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
	logger *slog.Logger
}

func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration) *RateLimiter {
	if redisClient == nil {
		return nil
	}
	return &RateLimiter{
		redis:  redisClient,
		limit:  int64(limit),
		window: window,
		logger: slog.Default().With("component", "ratelimit"),
	}
}

func rateKey(scope, client string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, client)
}

func antiBotKey(ip string) string {
	return fmt.Sprintf("antibot:%s", ip)
}

// hit counts one request under key and reports whether the count is still
// within limit. The window starts on the first hit.
func (r *RateLimiter) hit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, window).Err(); err != nil {
			return false, err
		}
	}
	return count <= limit, nil
}

// redisStore backs echo's rate limiter middleware with a shared counter so
// every replica sees the same budget.
type redisStore struct {
	limiter *RateLimiter
	scope   string
}

// Allow fails open when Redis is unreachable.
func (s *redisStore) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	allowed, err := s.limiter.hit(ctx, rateKey(s.scope, identifier), s.limiter.limit, s.limiter.window)
	if err != nil {
		s.limiter.logger.Warn("Rate limit check failed, allowing request", "error", err, "scope", s.scope, "client", identifier)
		return true, nil
	}
	return allowed, nil
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

// Middleware limits by user when authenticated, by client IP otherwise.
func (r *RateLimiter) Middleware(scope string) echo.MiddlewareFunc {
	if r == nil || r.limit <= 0 {
		return passThrough
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: &redisStore{limiter: r, scope: scope},
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if actor, ok := ActorFrom(c); ok {
				return "user:" + actor.UserID, nil
			}
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return status.Wrap(status.KindForbidden, "unable to identify client", err)
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return status.ErrRateLimited
		},
	})
}

var suspiciousAgents = []string{"bot", "crawler", "spider", "scraper"}

func isSuspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, pattern := range suspiciousAgents {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}

// AntiBot turns away clients that announce themselves as automated and, with
// Redis available, any IP sending more than 30 requests a minute.
func (r *RateLimiter) AntiBot() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isSuspiciousUserAgent(c.Request().Header.Get("User-Agent")) {
				return status.New(status.KindForbidden, "Access denied")
			}
			if r == nil {
				return next(c)
			}

			ip := c.RealIP()
			allowed, err := r.hit(c.Request().Context(), antiBotKey(ip), antiBotLimit, antiBotWindow)
			if err != nil {
				r.logger.Warn("Request frequency check failed", "error", err, "ip", ip)
				return next(c)
			}
			if !allowed {
				return status.New(status.KindRateLimited, "Too many requests")
			}
			return next(c)
		}
	}
}
