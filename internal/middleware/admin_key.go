package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"support_chat/pkg/logger"
)

const AdminKeyHeader = "X-Admin-Key"

// AdminKey сверяет X-Admin-Key с bcrypt-хэшем из конфигурации.
// Пустой хэш закрывает админские маршруты.
func AdminKey(hash string, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hash == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin API is disabled"})
			c.Abort()
			return
		}

		key := c.GetHeader(AdminKeyHeader)
		if key == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Admin key required"})
			c.Abort()
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
			log.Warn("Invalid admin key", "client_ip", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid admin key"})
			c.Abort()
			return
		}

		c.Next()
	}
}
