package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/threadline-erp/backend/internal/apperr"
	"github.com/threadline-erp/backend/pkg/response"
)

const genericMessage = "Internal server error"

// Errors translates the last error attached via c.Error into the JSON failure
// envelope. It is the only place that maps errors to status codes. Internal
// details are only returned when exposeInternal is set.
func Errors(logger *zap.Logger, exposeInternal bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		status, message := http.StatusInternalServerError, genericMessage
		if e, ok := apperr.As(err); ok {
			status = e.Status()
			if e.Safe() || exposeInternal {
				message = e.Message
			}
		} else if exposeInternal {
			message = err.Error()
		}

		fields := []zap.Field{
			zap.String("request_id", c.GetString(response.RequestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Info("request rejected", fields...)
		}
		response.Error(c, status, message)
	}
}
