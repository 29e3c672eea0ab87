package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"support_chat/internal/domain"
	"support_chat/internal/service"
	"support_chat/pkg/logger"
)

type AdminHandler struct {
	roomService  service.RoomService
	tokenService service.AgentTokenService
	log          logger.Logger
}

func NewAdminHandler(roomService service.RoomService, tokenService service.AgentTokenService, log logger.Logger) *AdminHandler {
	return &AdminHandler{
		roomService:  roomService,
		tokenService: tokenService,
		log:          log,
	}
}

type CreateAgentRequest struct {
	AgentID    string `json:"agentId" binding:"required"`
	Name       string `json:"name"`
	BusinessID string `json:"businessId" binding:"required"`
}

type CreateAgentResponse struct {
	Agent     *domain.User `json:"agent"`
	Token     string       `json:"token,omitempty"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
}

// CreateAgent регистрирует агента (идемпотентно) и выдает ему токен
func (h *AdminHandler) CreateAgent(c *gin.Context) {
	var req CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.roomService.EnsureAgent(c.Request.Context(), service.AgentInput{
		AgentID:    req.AgentID,
		Name:       req.Name,
		BusinessID: req.BusinessID,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	resp := CreateAgentResponse{Agent: agent}
	if h.tokenService.Enabled() {
		token, err := h.tokenService.Issue(agent)
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		resp.Token = token.Token
		resp.ExpiresAt = &token.ExpiresAt
	}

	h.log.Info("Agent provisioned", "agent_id", req.AgentID, "business_id", req.BusinessID)
	c.JSON(http.StatusCreated, resp)
}
