package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"support_chat/internal/config"
	"support_chat/internal/domain"
	"support_chat/internal/middleware"
	"support_chat/pkg/logger"
)

func SetupRouter(
	handlers *Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.WebSocket.AllowedOrigins))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler())

	ipRule := domain.RateLimitRule{Scope: domain.RateLimitScopeIP, Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window}
	whatsAppRule := domain.RateLimitRule{Scope: domain.RateLimitScopeWhatsApp, Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window}
	adminRule := domain.RateLimitRule{Scope: domain.RateLimitScopeGlobal, Limit: cfg.RateLimit.Limit, Window: cfg.RateLimit.Window}

	router.GET("/health", handlers.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Realtime-канал гостей и агентов
	router.GET("/ws", rateLimitMiddleware.Limit(ipRule), handlers.WebSocket.Handle)

	// Вебхуки шлюза WhatsApp
	whatsapp := router.Group("/whatsapp")
	whatsapp.Use(rateLimitMiddleware.Limit(whatsAppRule))
	{
		whatsapp.POST("/incoming", handlers.WhatsApp.Incoming)
		whatsapp.POST("/appointment", handlers.WhatsApp.Appointment)
	}

	v1 := router.Group("/api/v1")
	{
		// Агентские endpoints
		protected := v1.Group("")
		protected.Use(rateLimitMiddleware.Limit(ipRule), authMiddleware.RequireAgent())
		{
			rooms := protected.Group("/rooms")
			{
				rooms.GET("", handlers.Room.List)
				rooms.GET("/:id", handlers.Room.GetByID)
				rooms.GET("/:id/messages", handlers.Room.Messages)
				rooms.POST("/:id/override", handlers.Room.Override)
				rooms.POST("/:id/release", handlers.Room.Release)
				rooms.POST("/:id/close", handlers.Room.Close)
			}

			protected.GET("/presence", handlers.Presence.List)
			protected.GET("/notifications", handlers.Notification.List)
			protected.GET("/stats", handlers.Stats.GetBusinessStats)
			protected.POST("/appointments/:id/remind", handlers.WhatsApp.Remind)
		}

		admin := v1.Group("/admin")
		admin.Use(rateLimitMiddleware.Limit(adminRule), middleware.AdminKey(cfg.Admin.APIKeyHash, log))
		{
			admin.POST("/agents", handlers.Admin.CreateAgent)
		}
	}

	return router
}
