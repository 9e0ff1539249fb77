package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RateLimiterConfig struct {
	RedisClient *redis.Client
	Limit       int
	Window      time.Duration
	KeyPrefix   string
	Extractor   func(c *gin.Context) string
	Logger      zerolog.Logger
}

// NewRateLimiter counts requests per caller in fixed windows stored in redis.
// Redis errors let the request through.
func NewRateLimiter(cfg RateLimiterConfig) gin.HandlerFunc {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "printdesk:rl:"
	}
	if cfg.Extractor == nil {
		cfg.Extractor = func(c *gin.Context) string {
			if id := c.GetString(ContextUserID); id != "" {
				return "user:" + id
			}
			return "ip:" + c.ClientIP()
		}
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := cfg.Extractor(c)
		if id == "" {
			id = "anonymous"
		}
		key := cfg.KeyPrefix + id

		count, err := cfg.RedisClient.Incr(ctx, key).Result()
		if err != nil {
			cfg.Logger.Warn().Err(err).Msg("rate limiter unavailable")
			c.Next()
			return
		}

		// A key left without a TTL never resets; keep re-applying the window.
		ttl, err := cfg.RedisClient.TTL(ctx, key).Result()
		if err != nil {
			cfg.Logger.Warn().Err(err).Str("key", key).Msg("rate limiter ttl lookup failed")
		} else if ttl < 0 {
			if err := cfg.RedisClient.Expire(ctx, key, cfg.Window).Err(); err != nil {
				cfg.Logger.Warn().Err(err).Str("key", key).Msg("rate limiter expire failed")
			} else {
				ttl = cfg.Window
			}
		}

		reset := int(ttl.Seconds())
		if reset < 0 {
			reset = 0
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.Limit))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", reset))

		if count > int64(cfg.Limit) {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", fmt.Sprintf("%d", reset))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":           "rate limit exceeded",
				"retry_after_sec": reset,
			})
			return
		}

		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", cfg.Limit-int(count)))
		c.Next()
	}
}
