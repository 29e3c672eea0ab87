package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"support_chat/internal/config"
	"support_chat/internal/gateway"
	"support_chat/internal/service"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type Handlers struct {
	Health       *HealthHandler
	WebSocket    *WebSocketHandler
	WhatsApp     *WhatsAppHandler
	Room         *RoomHandler
	Presence     *PresenceHandler
	Notification *NotificationHandler
	Stats        *StatsHandler
	Admin        *AdminHandler
}

func NewHandlers(services *service.Services, dispatcher *gateway.Dispatcher, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(),
		WebSocket:    NewWebSocketHandler(dispatcher, cfg.WebSocket, log),
		WhatsApp:     NewWhatsAppHandler(services.WhatsApp, log),
		Room:         NewRoomHandler(services.Room, services.Message, log),
		Presence:     NewPresenceHandler(services.Presence, log),
		Notification: NewNotificationHandler(services.Room, log),
		Stats:        NewStatsHandler(services.Stats, log),
		Admin:        NewAdminHandler(services.Room, services.AgentToken, log),
	}
}

// respondError отвечает статусом по классу ошибки; внутренние детали не уходят клиенту
func respondError(c *gin.Context, log logger.Logger, err error) {
	status := apperrors.HTTPStatusFromError(err)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", "error", err, "path", c.FullPath())
		c.JSON(status, gin.H{"error": "Internal server error", "code": apperrors.Code(err)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": apperrors.Code(err)})
}
