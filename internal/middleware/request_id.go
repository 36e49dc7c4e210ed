package middleware

import (
	"github.com/commune-hq/backend/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDMiddleware adds a unique request ID to each request.
// If X-Request-ID header is present it is reused, otherwise a new
// UUID is generated.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		withRequestID := logger.WithRequestID(requestID)
		method := c.Request.Method
		path := c.Request.URL.Path

		logger.Log.Debug("request started",
			withRequestID,
			logger.WithIP(c.ClientIP()),
			zap.String("method", method),
			zap.String("path", path),
		)

		c.Next()

		logger.Log.Debug("request completed",
			withRequestID,
			logger.WithStatus(c.Writer.Status()),
			zap.String("method", method),
			zap.String("path", path),
		)
	}
}
