package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/metrics"
	"github.com/oriyet/backend/pkg/response"
)

// Counter counts hits of key inside a fixed window that starts at the first hit.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimit allows limit requests per client IP within window. When the
// counter backend fails the request is let through.
func RateLimit(counter Counter, name string, limit int, window time.Duration, message string, logger *zap.Logger) gin.HandlerFunc {
	return rateLimit(counter, name, limit, window, logger, func(c *gin.Context) {
		c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
		response.TooManyRequests(c, message)
	})
}

// AcknowledgedRateLimit is RateLimit for callers that retry on any non-200
// status, such as payment gateway webhooks. Rejected requests get 200 with a
// failed envelope.
func AcknowledgedRateLimit(counter Counter, name string, limit int, window time.Duration, message string, logger *zap.Logger) gin.HandlerFunc {
	return rateLimit(counter, name, limit, window, logger, func(c *gin.Context) {
		response.Fail(c, http.StatusOK, message, nil)
	})
}

func rateLimit(counter Counter, name string, limit int, window time.Duration, logger *zap.Logger, reject func(c *gin.Context)) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:%s:%s", name, c.ClientIP())
		count, err := counter.Incr(c.Request.Context(), key, window)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("limiter", name), zap.Error(err))
			c.Next()
			return
		}
		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if count > int64(limit) {
			metrics.RateLimited.WithLabelValues(name).Inc()
			reject(c)
			c.Abort()
			return
		}
		c.Next()
	}
}
