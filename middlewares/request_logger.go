package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Andrlu75/healtCoach-sub000/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger tags each request with an id and logs it once it completes.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set("requestID", reqID)
		c.Header(requestIDHeader, reqID)

		c.Next()

		status := c.Writer.Status()
		keyvals := []interface{}{
			"request_id", reqID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
			"remote_addr", c.ClientIP(),
		}
		if uid, ok := c.Get("userID"); ok {
			keyvals = append(keyvals, "user", uid)
		}
		if len(c.Errors) > 0 {
			keyvals = append(keyvals, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			logger.Error("request failed", keyvals...)
		case status >= 400:
			logger.Warn("request rejected", keyvals...)
		default:
			logger.Info("request completed", keyvals...)
		}
	}
}
