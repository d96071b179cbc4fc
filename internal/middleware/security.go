package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/neuroscan-portal/internal/domain"
)

// CorrelationIDKey is the gin context key holding the request's correlation ID
const CorrelationIDKey = "correlation_id"

// SecurityHeaders adds security headers to all responses
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		// Patient data must not linger in shared caches
		c.Header("Cache-Control", "no-store")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		c.Next()
	}
}

// CorrelationID adds a unique correlation ID to each request for audit trails
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Set(CorrelationIDKey, correlationID)
		c.Header("X-Correlation-ID", correlationID)

		c.Next()
	}
}

// RequestTimeout bounds the request context. Handlers that detach from the
// request context are not affected.
func RequestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if ctx.Err() == context.DeadlineExceeded && !c.Writer.Written() {
			Abort(c, http.StatusGatewayTimeout, domain.ErrCodeInternalServer, "Request timeout", "")
		}
	}
}

// AuditLogger writes one JSON line per request
func AuditLogger(out io.Writer) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Output: out,
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf(`{"timestamp":"%s","correlation_id":"%v","username":"%v","method":"%s","path":"%s","status":%d,"latency":"%s","client_ip":"%s","user_agent":%q,"response_size":%d}%s`,
				param.TimeStamp.Format(time.RFC3339),
				valueOrEmpty(param.Keys, CorrelationIDKey),
				valueOrEmpty(param.Keys, UsernameKey),
				param.Method,
				param.Path,
				param.StatusCode,
				param.Latency,
				param.ClientIP,
				param.Request.UserAgent(),
				param.BodySize,
				"\n",
			)
		},
	})
}

func valueOrEmpty(keys map[string]any, key string) any {
	if v, ok := keys[key]; ok {
		return v
	}
	return ""
}

// Abort renders an APIError and stops the handler chain
func Abort(c *gin.Context, status int, code, message, redirect string) {
	apiErr := domain.NewAPIError(code, message, "", c.GetString(CorrelationIDKey))
	apiErr.Redirect = redirect
	c.AbortWithStatusJSON(status, apiErr)
}
