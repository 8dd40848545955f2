package middleware

import (
	"net"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const clientIPKey = "ticketauth.client_ip"

// ClientAddr resolves the source address once per request. Forwarding
// headers are only honored behind a trusted proxy.
func ClientAddr(trustProxyHeaders bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(clientIPKey, resolveClientIP(c, trustProxyHeaders))
		c.Next()
	}
}

// ClientIP returns the source address resolved by ClientAddr
func ClientIP(c *gin.Context) string {
	if v, ok := c.Get(clientIPKey); ok {
		if ip, ok := v.(string); ok {
			return ip
		}
	}
	return resolveClientIP(c, false)
}

func resolveClientIP(c *gin.Context, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		// X-Forwarded-For lists the original client first
		if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
			if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); net.ParseIP(first) != nil {
				return first
			}
		}
		if ip := strings.TrimSpace(c.GetHeader("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return c.RemoteIP()
}

// Logger writes one structured line per request
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", ClientIP(c)),
		}
		if id, ok := IdentityFrom(c); ok {
			fields = append(fields, zap.Int64("account_id", id.AccountID))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("request", fields...)
		case status >= 400:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}
