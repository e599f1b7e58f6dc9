package middleware

import (
	"github.com/gin-gonic/gin"
	apperrors "github.com/uniedit/paygate/internal/shared/errors"
)

// abortWithError stops the chain and writes err in the
// {"error":{"code","message"}} shape. The wrapped cause is never exposed.
func abortWithError(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.StatusCode, err.ToResponse())
}
