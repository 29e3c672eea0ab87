package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"support_chat/internal/middleware"
	"support_chat/internal/service"
	"support_chat/pkg/logger"
)

type NotificationHandler struct {
	roomService service.RoomService
	log         logger.Logger
}

func NewNotificationHandler(roomService service.RoomService, log logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		roomService: roomService,
		log:         log,
	}
}

func (h *NotificationHandler) List(c *gin.Context) {
	limit, _ := pagination(c)

	notifications, err := h.roomService.ListNotifications(c.Request.Context(), c.GetString(middleware.ContextBusinessID), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, notifications)
}
