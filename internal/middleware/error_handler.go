package middleware

import (
	"github.com/gin-gonic/gin"

	"construction_chat/pkg/errors"
	"construction_chat/pkg/logger"
)

// ErrorHandler renders the last error a handler attached with c.Error.
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		apiErr := errors.NewAPIError(err)
		if apiErr.Status >= 500 {
			log.Error("Request failed", "path", c.FullPath(), "error", err)
			apiErr.Message = errors.ErrInternalServer.Error()
		}

		c.JSON(apiErr.Status, apiErr)
	}
}
