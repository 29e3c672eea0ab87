package middleware

import (
	"github.com/gin-gonic/gin"

	apperrors "support_chat/pkg/errors"
)

// ErrorHandler превращает последнюю ошибку из c.Errors в JSON-ответ
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last()
		c.JSON(apperrors.HTTPStatusFromError(err.Err), gin.H{
			"error": err.Error(),
			"code":  apperrors.Code(err.Err),
		})
	}
}
