package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adamscao/ticketauth/internal/apperr"
	"github.com/adamscao/ticketauth/internal/metrics"
	"github.com/adamscao/ticketauth/internal/ratelimit"
)

// RateLimit throttles route per account for identified callers and per
// source address otherwise. A nil override applies the role limit.
// Limiter errors fail closed.
func RateLimit(limiter ratelimit.Limiter, route string, override *ratelimit.Limit, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := ratelimit.Anonymous
		key := ratelimit.AddrKey(route, ClientIP(c))
		if id, ok := IdentityFrom(c); ok {
			role = string(id.Role)
			key = ratelimit.AccountKey(route, id.AccountID)
		}

		limit := ratelimit.ForRole(role)
		if override != nil {
			limit = *override
		}

		allowed, err := limiter.Allow(c.Request.Context(), key, limit)
		if err != nil {
			logger.Error("rate limiter unavailable", zap.String("route", route), zap.Error(err))
			Abort(c, err)
			return
		}
		if !allowed {
			metrics.RateLimitedTotal.WithLabelValues(role).Inc()
			c.Header("Retry-After", retryAfter(limit))
			Abort(c, apperr.ErrRateLimited)
			return
		}

		c.Next()
	}
}

func retryAfter(l ratelimit.Limit) string {
	secs := int(l.Window.Seconds()) / l.Requests
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
