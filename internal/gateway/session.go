package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"support_chat/internal/config"
	"support_chat/internal/metrics"
	"support_chat/pkg/logger"
)

const writeWait = 10 * time.Second

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("session send queue is full")
)

// Session - одно websocket-подключение гостя или агента.
// Входящие события обрабатываются строго по очереди.
type Session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	cfg  config.WebSocketConfig
	log  logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu          sync.RWMutex
	agentID     string
	guestID     string
	guestRoomID uuid.UUID
	businessID  string
}

func NewSession(conn *websocket.Conn, cfg config.WebSocketConfig, log logger.Logger) *Session {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, cfg.SendBuffer),
		cfg:    cfg,
		log:    log.With("conn_id", id),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Session) ID() string { return s.id }

// Send кладет событие в очередь записи. Медленный клиент отключается.
func (s *Session) Send(event string, payload any) error {
	data, err := encodeFrame(Frame{Event: event, Data: payload})
	if err != nil {
		return err
	}
	return s.enqueue(data)
}

func (s *Session) reply(frame Frame) {
	frame.Event = "ack"
	data, err := encodeFrame(frame)
	if err != nil {
		s.log.Error("Failed to encode ack", "error", err)
		return
	}
	_ = s.enqueue(data)
}

func (s *Session) enqueue(data []byte) error {
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- data:
		return nil
	default:
		metrics.WSDroppedFrames.Inc()
		s.log.Warn("Dropping slow websocket consumer")
		s.Close()
		return ErrSlowConsumer
	}
}

// Close идемпотентно останавливает сессию
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Identity возвращает привязанные к сессии agentId, guestId и businessId
func (s *Session) Identity() (agentID, guestID, businessID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentID, s.guestID, s.businessID
}

func (s *Session) bindAgent(agentID, businessID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentID = agentID
	s.businessID = businessID
}

func (s *Session) bindGuest(guestID string, roomID uuid.UUID, businessID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guestID = guestID
	s.guestRoomID = roomID
	s.businessID = businessID
}

// guestRoom - комната, выданная гостю в guestJoin
func (s *Session) guestRoom() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guestRoomID
}

// Serve запускает запись в отдельной горутине и читает до разрыва соединения
func (s *Session) Serve(handle func(ctx context.Context, env Envelope)) {
	go s.writePump()
	s.readPump(handle)
}

func (s *Session) readPump(handle func(ctx context.Context, env Envelope)) {
	defer s.Close()

	if s.cfg.MaxMessageSize > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("Websocket closed unexpectedly", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			s.reply(Frame{Error: "malformed frame", Code: "invalid_input"})
			continue
		}
		handle(s.ctx, env)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug("Websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encodeFrame(frame Frame) ([]byte, error) {
	return json.Marshal(frame)
}
