package middleware

import (
	"net/http"
	"strconv"
	"time"

	"kb-search-platform/internal/config"
	"kb-search-platform/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles requests with fixed windows kept in Redis. All
// limits fail open: when Redis is unreachable requests pass, so a cache
// outage cannot take the API down with it.
type RateLimiter struct {
	rdb *redis.Client
	cfg *config.Config
}

func NewRateLimiter(rdb *redis.Client, cfg *config.Config) *RateLimiter {
	return &RateLimiter{rdb: rdb, cfg: cfg}
}

// Global limits by client IP and endpoint. Mounted before authentication,
// so it is the only throttle anonymous callers ever meet.
func (rl *RateLimiter) Global() gin.HandlerFunc {
	return func(c *gin.Context) {
		if path := c.FullPath(); path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		key := "ratelimit:" + c.ClientIP() + ":" + c.FullPath()
		if !rl.allow(c, key, rl.cfg.RateLimitReqs) {
			utils.AbortWithError(c, http.StatusTooManyRequests,
				"rate_limit_exceeded",
				"Too many requests. Please try again later.",
				gin.H{
					"retry_after": rl.cfg.RateLimitWindow,
					"limit":       rl.cfg.RateLimitReqs,
				})
			return
		}
		c.Next()
	}
}

// PerRole applies a role-scaled limit on top of the global one. Mount after
// RequireAuth so claims are present; anything without a role gets the base
// limit.
func (rl *RateLimiter) PerRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		limit := rl.roleBudget(role)

		key := "ratelimit:" + role + ":" + c.ClientIP() + ":" + c.FullPath()
		if !rl.allow(c, key, limit) {
			utils.AbortWithError(c, http.StatusTooManyRequests,
				"rate_limit_exceeded",
				"Too many requests. Please try again later.",
				gin.H{
					"retry_after": rl.cfg.RateLimitWindow,
					"limit":       limit,
					"role":        role,
				})
			return
		}
		c.Next()
	}
}

// roleBudget scales the base limit so operators working across a tenant do
// not trip the member ceiling.
func (rl *RateLimiter) roleBudget(role string) int {
	switch role {
	case "superadmin", "admin":
		return rl.cfg.RateLimitReqs * 10
	case "member":
		return rl.cfg.RateLimitReqs * 2
	default:
		return rl.cfg.RateLimitReqs
	}
}

// allow spends one request from the fixed window behind key and writes the
// X-RateLimit response headers. Returns false once the window is exhausted.
func (rl *RateLimiter) allow(c *gin.Context, key string, limit int) bool {
	ctx := c.Request.Context()
	window := time.Duration(rl.cfg.RateLimitWindow) * time.Second

	count, err := rl.rdb.Incr(ctx, key).Result()
	if err != nil {
		if rl.cfg.GinMode == "debug" {
			c.Set("ratelimit_error", err.Error())
		}
		return true
	}
	if count == 1 {
		rl.rdb.Expire(ctx, key, window)
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	if count > int64(limit) {
		c.Header("X-RateLimit-Remaining", "0")
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(window).Unix(), 10))
		return false
	}
	c.Header("X-RateLimit-Remaining", strconv.Itoa(limit-int(count)))
	return true
}
