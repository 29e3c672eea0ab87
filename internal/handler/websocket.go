package handler

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"support_chat/internal/config"
	"support_chat/internal/gateway"
	"support_chat/pkg/logger"
)

type WebSocketHandler struct {
	dispatcher *gateway.Dispatcher
	upgrader   websocket.Upgrader
	cfg        config.WebSocketConfig
	log        logger.Logger
}

func NewWebSocketHandler(dispatcher *gateway.Dispatcher, cfg config.WebSocketConfig, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
		cfg: cfg,
		log: log,
	}
}

// checkOrigin: пустой список разрешает любой origin (development)
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// Handle поднимает websocket-сессию и держит ее до разрыва
func (h *WebSocketHandler) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", "error", err, "client_ip", c.ClientIP())
		return
	}

	session := gateway.NewSession(conn, h.cfg, h.log)
	h.log.Debug("Websocket session opened", "conn_id", session.ID(), "client_ip", c.ClientIP())
	h.dispatcher.Serve(session)
	h.log.Debug("Websocket session closed", "conn_id", session.ID())
}
