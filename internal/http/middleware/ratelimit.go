package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basegraph.app/warden/internal/ratelimit"
)

// RateLimit admits requests through limiter under kind. Limiter errors fail
// open. Denials get 429 with Retry-After set to the time one token takes to
// refill under rule.
func RateLimit(limiter ratelimit.Limiter, kind string, rule ratelimit.Rule) gin.HandlerFunc {
	retryAfter := 1
	if rate := rule.Rate(); rate > 0 {
		retryAfter = int(math.Ceil(1 / rate))
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := ClientKey(c)

		ok, err := limiter.CheckRate(ctx, key, kind)
		if err != nil {
			slog.WarnContext(ctx, "rate limiter unavailable, admitting request", "error", err, "kind", kind)
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"kind":  kind,
			})
			return
		}
		c.Next()
	}
}
