package middleware

import (
	"net/http"
	"time"

	"github.com/yourorg/market-data-collector/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HeaderCurrentTimestamp carries the simulated clock for a request.
// When absent the server clock is used.
const HeaderCurrentTimestamp = "X-Current-Timestamp"

const executionContextKey = "executionContext"

// Logger creates a middleware for logging HTTP requests
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Process request
		c.Next()

		// Log after the request is processed
		latency := time.Since(start)
		status := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method

		if query != "" {
			path = path + "?" + query
		}

		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("client_ip", clientIP),
			zap.Duration("latency", latency),
		}

		// Log with appropriate level based on status code
		if status >= 500 {
			logger.Error("Server error", fields...)
		} else if status >= 400 {
			logger.Warn("Client error", fields...)
		} else {
			logger.Info("Request completed", fields...)
		}
	}
}

// ExecutionContext creates middleware that resolves the request clock.
// Clients running simulations pass their current timestamp in the
// X-Current-Timestamp header (RFC 3339); data after that point is
// withheld downstream.
func ExecutionContext(location *time.Location, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		current := time.Now()

		if header := c.GetHeader(HeaderCurrentTimestamp); header != "" {
			parsed, err := time.Parse(time.RFC3339, header)
			if err != nil {
				logger.Debug("Invalid current timestamp header",
					zap.String("value", header), zap.Error(err))
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid X-Current-Timestamp header, expected RFC 3339"})
				c.Abort()
				return
			}
			current = parsed
		}

		c.Set(executionContextKey, model.ExecutionContext{
			CurrentTimestamp: current,
			Location:         location,
		})
		c.Next()
	}
}

// GetExecutionContext returns the execution context resolved for the request.
func GetExecutionContext(c *gin.Context) model.ExecutionContext {
	if value, ok := c.Get(executionContextKey); ok {
		if execCtx, ok := value.(model.ExecutionContext); ok {
			return execCtx
		}
	}
	return model.ExecutionContext{CurrentTimestamp: time.Now(), Location: time.UTC}
}
