package middleware

import (
	"time"

	"kb-search-platform/internal/auth"
	"kb-search-platform/internal/telemetry"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware starts a server span for every request.
func TracingMiddleware() gin.HandlerFunc {
	return otelgin.Middleware("kb-search-platform")
}

// EnrichTrace stamps the server span with attributes otelgin does not set
// itself. Identity attributes are read after the handler chain runs, once
// RequireAuth has resolved the claims.
func EnrichTrace() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		span.SetAttributes(
			attribute.String("http.client_ip", c.ClientIP()),
			attribute.String("http.user_agent", c.Request.UserAgent()),
		)

		c.Next()

		span.SetAttributes(
			attribute.Int("http.response.status_code", c.Writer.Status()),
			attribute.Int("http.response.size", c.Writer.Size()),
		)
		if claims, ok := c.Get(ctxClaims); ok {
			if cl, ok := claims.(*auth.Claims); ok {
				span.SetAttributes(
					attribute.String("tenant.id", cl.TenantID),
					attribute.String("user.id", cl.UserID),
					attribute.String("user.role", cl.Role),
				)
			}
		}
	}
}

// MetricsMiddleware records request rate and latency per route pattern.
// Patterns, not raw paths, keep metric label cardinality bounded.
func MetricsMiddleware(metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		outcome := "success"
		if c.Writer.Status() >= 400 {
			outcome = "error"
		}
		metrics.RecordRequest(c.Request.Method, route, outcome, time.Since(start).Seconds())
	}
}
