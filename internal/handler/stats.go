package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"support_chat/internal/middleware"
	"support_chat/internal/service"
	"support_chat/pkg/logger"
)

type StatsHandler struct {
	statsService service.StatsService
	log          logger.Logger
}

func NewStatsHandler(statsService service.StatsService, log logger.Logger) *StatsHandler {
	return &StatsHandler{
		statsService: statsService,
		log:          log,
	}
}

func (h *StatsHandler) GetBusinessStats(c *gin.Context) {
	stats, err := h.statsService.GetBusinessStats(c.Request.Context(), c.GetString(middleware.ContextBusinessID))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
