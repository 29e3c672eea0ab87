package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"support_chat/internal/middleware"
	"support_chat/internal/service"
	"support_chat/pkg/logger"
)

type WhatsAppHandler struct {
	whatsAppService service.WhatsAppService
	log             logger.Logger
}

func NewWhatsAppHandler(whatsAppService service.WhatsAppService, log logger.Logger) *WhatsAppHandler {
	return &WhatsAppHandler{
		whatsAppService: whatsAppService,
		log:             log,
	}
}

// Incoming принимает вебхук входящего сообщения (application/x-www-form-urlencoded)
func (h *WhatsAppHandler) Incoming(c *gin.Context) {
	var req service.InboundMessage
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.whatsAppService.HandleInbound(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *WhatsAppHandler) Appointment(c *gin.Context) {
	var req service.InboundMessage
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	appointment, err := h.whatsAppService.ScheduleAppointment(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, appointment)
}

// Remind отправляет гостю напоминание о визите бизнеса агента
func (h *WhatsAppHandler) Remind(c *gin.Context) {
	appointmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid appointment ID"})
		return
	}

	result, err := h.whatsAppService.SendAppointmentReminder(c.Request.Context(), appointmentID, c.GetString(middleware.ContextBusinessID))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
