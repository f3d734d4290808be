package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pair-backend/pkg/logger"
	"pair-backend/pkg/response"
)

// RateLimiter applies a fixed-window request limit per user (falling
// back to client IP for unauthenticated requests), counted in Redis so
// the limit holds across service instances.
type RateLimiter struct {
	client   *redis.Client
	requests int
	window   time.Duration
}

func NewRateLimiter(client *redis.Client, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client:   client,
		requests: requests,
		window:   window,
	}
}

// Middleware returns the gin handler enforcing the limit. Redis
// failures fail open so a degraded cache never blocks calls.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, ok := c.Get("user_id"); ok {
			identifier = fmt.Sprintf("user:%v", userID)
		}

		count, ttl, err := rl.hit(c.Request.Context(), identifier)
		if err != nil {
			logger.Log.Warn("Rate limit check failed, allowing request",
				zap.String("identifier", identifier),
				zap.Error(err))
			c.Next()
			return
		}

		remaining := rl.requests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))

		if count > rl.requests {
			response.Error(c, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests")
			c.Abort()
			return
		}

		c.Next()
	}
}

// hit increments the window counter, setting the expiry when the
// window opens, and reports the new count plus time until reset.
func (rl *RateLimiter) hit(ctx context.Context, identifier string) (int, time.Duration, error) {
	key := "ratelimit:" + identifier

	pipe := rl.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	count := int(incr.Val())
	if count == 1 {
		if err := rl.client.Expire(ctx, key, rl.window).Err(); err != nil {
			return 0, 0, fmt.Errorf("failed to set rate limit window: %w", err)
		}
		return count, rl.window, nil
	}

	ttl, err := rl.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = rl.window
	}
	return count, ttl, nil
}
