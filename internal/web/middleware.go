package web

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openshapes/fleet/pkg/api"
)

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware tags every request with an id, honoring one supplied by
// the caller.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// RecoveryHandler converts panics into 500 responses instead of dropping the
// connection.
func RecoveryHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("Panic recovered: %v\n%s", r, debug.Stack())
				c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{
					Error: "internal server error",
				})
			}
		}()
		c.Next()
	}
}

// LoggingMiddleware logs one line per completed request.
func LoggingMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"ip":         c.ClientIP(),
			"status":     c.Writer.Status(),
			"request_id": c.GetString("request_id"),
		}).Info("Request completed")
	}
}
