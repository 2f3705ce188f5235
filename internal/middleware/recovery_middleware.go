// internal/middleware/recovery_middleware.go
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"acquisition-service/internal/utils"
)

// RecoveryMiddleware turns a handler panic into a 500 envelope and logs it
// with the request ID
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		requestLogger := utils.LoggerWithRequestID(logger, c.GetString(utils.RequestIDKey))
		requestLogger.Error("Handler panicked",
			zap.Any("panic", recovered),
			zap.String("route", c.FullPath()),
			zap.String("method", c.Request.Method),
			zap.Stack("stacktrace"),
		)

		utils.ErrorResponse(c, http.StatusInternalServerError, "Internal server error", nil)
		c.Abort()
	})
}
