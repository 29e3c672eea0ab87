package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"support_chat/internal/middleware"
	"support_chat/internal/service"
	"support_chat/pkg/logger"
)

type RoomHandler struct {
	roomService    service.RoomService
	messageService service.MessageService
	log            logger.Logger
}

func NewRoomHandler(roomService service.RoomService, messageService service.MessageService, log logger.Logger) *RoomHandler {
	return &RoomHandler{
		roomService:    roomService,
		messageService: messageService,
		log:            log,
	}
}

func (h *RoomHandler) List(c *gin.Context) {
	businessID := c.GetString(middleware.ContextBusinessID)
	limit, offset := pagination(c)

	rooms, err := h.roomService.ListRooms(c.Request.Context(), businessID, c.Query("status"), limit, offset)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, rooms)
}

func (h *RoomHandler) GetByID(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	room, err := h.roomService.GetRoom(c.Request.Context(), roomID, c.GetString(middleware.ContextBusinessID))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

func (h *RoomHandler) Messages(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)

	messages, err := h.messageService.History(c.Request.Context(), roomID, c.GetString(middleware.ContextBusinessID), limit, offset)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, messages)
}

func (h *RoomHandler) Override(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	room, err := h.roomService.Override(c.Request.Context(), roomID,
		c.GetString(middleware.ContextAgentID), c.GetString(middleware.ContextBusinessID))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

func (h *RoomHandler) Release(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	room, err := h.roomService.ReleaseOverride(c.Request.Context(), roomID,
		c.GetString(middleware.ContextAgentID), c.GetString(middleware.ContextBusinessID))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

func (h *RoomHandler) Close(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	room, err := h.roomService.CloseRoom(c.Request.Context(), roomID,
		c.GetString(middleware.ContextBusinessID), c.GetString(middleware.ContextAgentID))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

func roomIDParam(c *gin.Context) (uuid.UUID, bool) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room ID"})
		return uuid.Nil, false
	}
	return roomID, true
}

// pagination читает limit/offset; границы проверяет сервис
func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.Query("limit"))
	offset, _ = strconv.Atoi(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
