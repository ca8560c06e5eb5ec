package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nasa/harmony-workflow-core/internal/logger"
)

// AttachRequestID stamps a requestID on the gin context, echoed back in
// error envelopes and logs.
func AttachRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("requestID", uuid.New().String())
		c.Next()
	}
}

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"durationMS", time.Since(start).Milliseconds(),
			"requestID", c.GetString("requestID"),
		}
		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}
