package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"support_chat/internal/service"
	"support_chat/pkg/logger"
)

// Ключи контекста gin, заполняемые RequireAgent
const (
	ContextAgentID    = "agent_id"
	ContextBusinessID = "business_id"
)

type AuthMiddleware struct {
	tokens service.AgentTokenService
	log    logger.Logger
}

func NewAuthMiddleware(tokens service.AgentTokenService, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		log:    log,
	}
}

// RequireAgent проверяет bearer-токен агента и кладет agent_id и business_id в контекст.
// Без секрета токенов (development) агент берется из X-Agent-ID и X-Business-ID.
func (m *AuthMiddleware) RequireAgent() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.tokens.Enabled() {
			agentID, businessID := c.GetHeader("X-Agent-ID"), c.GetHeader("X-Business-ID")
			if agentID == "" || businessID == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "X-Agent-ID and X-Business-ID headers required"})
				c.Abort()
				return
			}
			c.Set(ContextAgentID, agentID)
			c.Set(ContextBusinessID, businessID)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := m.tokens.Verify(parts[1])
		if err != nil {
			m.log.Debug("Agent token rejected", "error", err, "path", c.FullPath())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(ContextAgentID, claims.AgentID)
		c.Set(ContextBusinessID, claims.BusinessID)
		c.Next()
	}
}
