package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"support_chat/internal/middleware"
	"support_chat/internal/service"
	"support_chat/pkg/logger"
)

type PresenceHandler struct {
	presenceService service.PresenceService
	log             logger.Logger
}

func NewPresenceHandler(presenceService service.PresenceService, log logger.Logger) *PresenceHandler {
	return &PresenceHandler{
		presenceService: presenceService,
		log:             log,
	}
}

func (h *PresenceHandler) List(c *gin.Context) {
	agents, err := h.presenceService.List(c.Request.Context(), c.GetString(middleware.ContextBusinessID))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, agents)
}
