package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	apperrors "github.com/uniedit/paygate/internal/shared/errors"
	"go.uber.org/zap"
)

// Recovery returns a middleware that recovers from panics.
// If log is nil, panics are recovered silently.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("client_ip", c.ClientIP()),
					zap.String("request_id", GetRequestID(c)),
					zap.StackSkip("stack", 2),
				)

				abortWithError(c, apperrors.Internal("internal server error", fmt.Errorf("panic: %v", err)))
			}
		}()
		c.Next()
	}
}
