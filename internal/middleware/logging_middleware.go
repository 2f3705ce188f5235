// internal/middleware/logging_middleware.go
package middleware

import (
	"acquisition-service/internal/utils"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggingMiddleware logs every request except those to skipPaths
func LoggingMiddleware(logger *utils.ServiceLogger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		if _, ok := skip[c.FullPath()]; ok {
			return
		}
		duration := time.Since(startTime)

		logger.LogAPIRequest(
			c.Request.Method,
			c.Request.URL.Path,
			c.Request.UserAgent(),
			c.ClientIP(),
			c.Writer.Status(),
			duration,
		)
	}
}
