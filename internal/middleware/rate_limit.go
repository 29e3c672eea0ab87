package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"support_chat/internal/domain"
	"support_chat/internal/service"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type RateLimitMiddleware struct {
	rateLimitService service.RateLimitService
	log              logger.Logger
}

func NewRateLimitMiddleware(rateLimitService service.RateLimitService, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		log:              log,
	}
}

// Limit ограничивает запросы по IP клиента в рамках правила
func (m *RateLimitMiddleware) Limit(rule domain.RateLimitRule) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		c.Header("X-RateLimit-Limit", strconv.Itoa(rule.Limit))

		if err := m.rateLimitService.Allow(c.Request.Context(), rule, key); err != nil {
			if apperrors.Is(err, apperrors.ErrRateLimited) {
				m.log.Info("Rate limit exceeded", "scope", rule.Scope, "client_ip", key, "path", c.FullPath())
				c.Header("X-RateLimit-Remaining", "0")
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
				c.Abort()
				return
			}
			m.log.Error("Rate limit check failed", "error", err)
		}

		c.Next()
	}
}
