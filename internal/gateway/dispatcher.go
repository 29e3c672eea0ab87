package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"support_chat/internal/domain"
	"support_chat/internal/metrics"
	"support_chat/internal/service"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type handlerFunc func(ctx context.Context, s *Session, data json.RawMessage) (any, error)

// Dispatcher разбирает входящие события сессии и вызывает сервисы
type Dispatcher struct {
	rooms    service.RoomService
	presence service.PresenceService
	messages service.MessageService
	tokens   service.AgentTokenService
	hub      *Hub
	handlers map[string]handlerFunc
	log      logger.Logger

	mu      sync.Mutex
	closing bool
	serving sync.WaitGroup
}

func NewDispatcher(services *service.Services, hub *Hub, log logger.Logger) *Dispatcher {
	d := &Dispatcher{
		rooms:    services.Room,
		presence: services.Presence,
		messages: services.Message,
		tokens:   services.AgentToken,
		hub:      hub,
		log:      log,
	}
	d.handlers = map[string]handlerFunc{
		domain.EventGuestJoin:       d.guestJoin,
		domain.EventAgentLogin:      d.agentLogin,
		domain.EventAuthMessage:     d.authMessage,
		domain.EventHeartbeat:       d.heartbeat,
		domain.EventJoinRoom:        d.joinRoom,
		domain.EventLeaveRoom:       d.leaveRoom,
		domain.EventSendMessage:     d.sendMessage,
		domain.EventTyping:          d.typing,
		domain.EventToggleAI:        d.toggleAI,
		domain.EventOverrideRoom:    d.overrideRoom,
		domain.EventReleaseOverride: d.releaseOverride,
		domain.EventCloseRoom:       d.closeRoom,
		domain.EventRoomHistory:     d.roomHistory,
	}
	return d
}

// Handle обрабатывает одно событие и отвечает ack-кадром
func (d *Dispatcher) Handle(ctx context.Context, s *Session, env Envelope) {
	handler, ok := d.handlers[env.Event]
	if !ok {
		metrics.WSEventsTotal.WithLabelValues("unknown", "error").Inc()
		s.reply(Frame{Ack: env.Ack, Error: "unknown event " + env.Event, Code: "invalid_input"})
		return
	}

	data, err := handler(ctx, s, env.Data)
	if err != nil {
		metrics.WSEventsTotal.WithLabelValues(env.Event, "error").Inc()
		agentID, guestID, businessID := s.Identity()
		d.log.Warn("Websocket event failed", "error", err, "event", env.Event, "conn_id", s.ID(),
			"agent_id", agentID, "guest_id", guestID, "business_id", businessID)
		frame := Frame{Ack: env.Ack, Error: err.Error(), Code: apperrors.Code(err)}
		// клиент получает черновик сообщения, которое не удалось сохранить
		if apperrors.Is(err, apperrors.ErrPersistence) {
			frame.Data = data
		}
		s.reply(frame)
		return
	}

	metrics.WSEventsTotal.WithLabelValues(env.Event, "ok").Inc()
	s.reply(Frame{Ack: env.Ack, Data: data})
}

// Serve регистрирует сессию в хабе и обслуживает ее до разрыва соединения
func (d *Dispatcher) Serve(s *Session) {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		s.Close()
		return
	}
	d.serving.Add(1)
	d.mu.Unlock()
	defer d.serving.Done()

	d.hub.Add(s)
	s.Serve(func(ctx context.Context, env Envelope) {
		d.Handle(ctx, s, env)
	})
	d.Disconnect(context.Background(), s)
}

// Shutdown закрывает все сессии и ждет, пока каждая снимет присутствие агента.
// Новые подключения после вызова сразу закрываются.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()

	d.hub.Close()

	done := make(chan struct{})
	go func() {
		d.serving.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("websocket sessions still running: %w", ctx.Err())
	}
}

// Disconnect снимает сессию с каналов и обновляет присутствие агента
func (d *Dispatcher) Disconnect(ctx context.Context, s *Session) {
	d.hub.Remove(s)

	agentID, _, _ := s.Identity()
	if agentID == "" {
		return
	}
	if err := d.presence.Disconnect(ctx, agentID, s); err != nil {
		d.log.Error("Failed to mark agent offline", "error", err, "agent_id", agentID)
	}
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 || string(data) == "null" {
		return v, fmt.Errorf("%w: payload is required", apperrors.ErrInvalidInput)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	return v, nil
}

// scope не дает сессии, привязанной к одному бизнесу, обращаться к другому
func scope(s *Session, businessID string) (string, error) {
	_, _, bound := s.Identity()
	switch {
	case bound == "":
		return businessID, nil
	case businessID == "":
		return bound, nil
	case businessID != bound:
		return "", fmt.Errorf("session is bound to another business: %w", apperrors.ErrTenantMismatch)
	default:
		return bound, nil
	}
}

func requireAgent(s *Session) (agentID, businessID string, err error) {
	agentID, _, businessID = s.Identity()
	if agentID == "" {
		return "", "", fmt.Errorf("%w: agent login required", apperrors.ErrUnauthorized)
	}
	return agentID, businessID, nil
}

// claimAgent сверяет agentId из события с агентом, привязанным к сессии
func claimAgent(s *Session, agentID string) (string, error) {
	bound, guestID, _ := s.Identity()
	switch {
	case guestID != "":
		return "", fmt.Errorf("%w: guest session cannot act as an agent", apperrors.ErrForbidden)
	case bound == "":
		return "", fmt.Errorf("%w: agent login required", apperrors.ErrUnauthorized)
	case agentID != "" && agentID != bound:
		return "", fmt.Errorf("%w: session is bound to agent %s", apperrors.ErrUnauthorized, bound)
	}
	return bound, nil
}

// claimGuest сверяет guestId из события с гостем сессии. Гость видит только свою комнату.
func claimGuest(s *Session, guestID string, roomID uuid.UUID) (uuid.UUID, error) {
	agentID, bound, _ := s.Identity()
	switch {
	case agentID != "":
		return uuid.Nil, fmt.Errorf("%w: agent session cannot act as a guest", apperrors.ErrForbidden)
	case bound == "":
		return uuid.Nil, fmt.Errorf("%w: guestJoin required", apperrors.ErrUnauthorized)
	case guestID != "" && guestID != bound:
		return uuid.Nil, fmt.Errorf("%w: session is bound to guest %s", apperrors.ErrForbidden, bound)
	case roomID != s.guestRoom():
		return uuid.Nil, fmt.Errorf("%w: room %s belongs to another guest", apperrors.ErrForbidden, roomID)
	}
	return uuid.Parse(bound)
}

// member пропускает агентов и гостя этой комнаты
func member(s *Session, roomID uuid.UUID) error {
	if agentID, _, _ := s.Identity(); agentID != "" {
		return nil
	}
	_, err := claimGuest(s, "", roomID)
	return err
}

func (d *Dispatcher) guestJoin(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	p, err := decode[guestJoinPayload](data)
	if err != nil {
		return nil, err
	}
	if agentID, _, _ := s.Identity(); agentID != "" {
		return nil, fmt.Errorf("%w: agent session cannot join as guest", apperrors.ErrForbidden)
	}
	businessID, err := scope(s, p.BusinessID)
	if err != nil {
		return nil, err
	}

	session, err := d.rooms.CreateGuestSession(ctx, service.GuestSessionInput{
		Name:       p.Name,
		Email:      p.Email,
		BusinessID: businessID,
	})
	if err != nil {
		return nil, err
	}

	s.bindGuest(session.User.ID.String(), session.Room.ID, businessID)
	d.hub.Join(s, roomChannel(session.Room.ID))
	return guestJoinReply{RoomID: session.Room.ID, GuestID: session.User.ID}, nil
}

func (d *Dispatcher) agentLogin(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	p, err := decode[agentLoginPayload](data)
	if err != nil {
		return nil, err
	}
	if err := d.checkRebind(s, p.AgentID); err != nil {
		return nil, err
	}
	businessID, err := scope(s, p.BusinessID)
	if err != nil {
		return nil, err
	}
	if err := d.tokens.Authorize(p.Token, p.AgentID, businessID); err != nil {
		return nil, err
	}

	agent, err := d.rooms.EnsureAgent(ctx, service.AgentInput{AgentID: p.AgentID, Name: p.Name, BusinessID: businessID})
	if err != nil {
		return nil, err
	}
	global, err := d.rooms.GetOrCreateGlobalAgentRoom(ctx, businessID)
	if err != nil {
		return nil, err
	}

	s.bindAgent(p.AgentID, businessID)
	d.hub.Join(s, agentsChannel(businessID))
	d.hub.Join(s, roomChannel(global.ID))
	d.hub.ToAgents(businessID, domain.EventAgentJoined, service.AgentJoinedEvent{AgentID: p.AgentID, Name: agent.Name})

	return agentLoginReply{AgentID: p.AgentID, Name: agent.Name, GlobalRoomID: global.ID}, nil
}

func (d *Dispatcher) authMessage(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	p, err := decode[authMessagePayload](data)
	if err != nil {
		return nil, err
	}
	if p.Type != "auth" || p.AgentID == "" {
		return nil, fmt.Errorf("%w: expected {type: auth, agentId}", apperrors.ErrInvalidInput)
	}
	if err := d.checkRebind(s, p.AgentID); err != nil {
		return nil, err
	}
	_, _, bound := s.Identity()
	if err := d.tokens.Authorize(p.Token, p.AgentID, bound); err != nil {
		return nil, err
	}

	presence, err := d.presence.Auth(ctx, p.AgentID, s)
	if err != nil {
		return nil, err
	}
	if presence == nil {
		return successReply{Success: false}, nil
	}
	if bound != "" && presence.BusinessID != bound {
		return nil, fmt.Errorf("agent %s: %w", p.AgentID, apperrors.ErrTenantMismatch)
	}

	s.bindAgent(p.AgentID, presence.BusinessID)
	d.hub.Join(s, agentsChannel(presence.BusinessID))
	return presence, nil
}

// checkRebind запрещает смену личности внутри одной сессии
func (d *Dispatcher) checkRebind(s *Session, agentID string) error {
	bound, guestID, _ := s.Identity()
	if guestID != "" {
		return fmt.Errorf("%w: guest session cannot log in as agent", apperrors.ErrForbidden)
	}
	if bound != "" && bound != agentID {
		return fmt.Errorf("%w: session is bound to agent %s", apperrors.ErrUnauthorized, bound)
	}
	return nil
}

func (d *Dispatcher) heartbeat(ctx context.Context, s *Session, _ json.RawMessage) (any, error) {
	agentID, _, err := requireAgent(s)
	if err != nil {
		return nil, err
	}
	return d.presence.Heartbeat(ctx, agentID)
}

func (d *Dispatcher) joinRoom(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	p, err := decode[joinRoomPayload](data)
	if err != nil {
		return nil, err
	}
	businessID, err := scope(s, p.BusinessID)
	if err != nil {
		return nil, err
	}

	in := service.JoinRoomInput{RoomID: p.RoomID, BusinessID: businessID}
	// при обоих идентификаторах приоритет у агента
	if agentID, _, _ := s.Identity(); agentID != "" || p.AgentID != "" {
		if in.AgentID, err = claimAgent(s, p.AgentID); err != nil {
			return nil, err
		}
	} else {
		var ref string
		if p.GuestID != nil {
			ref = p.GuestID.String()
		}
		guestID, err := claimGuest(s, ref, p.RoomID)
		if err != nil {
			return nil, err
		}
		in.GuestID = &guestID
	}

	res, err := d.rooms.JoinRoom(ctx, in)
	if err != nil {
		return nil, err
	}
	d.hub.Join(s, roomChannel(res.Room.ID))

	backlog, err := d.messages.Recent(ctx, res.Room.ID, businessID, 0)
	if err != nil {
		d.log.Warn("Failed to load room backlog", "error", err, "room_id", res.Room.ID)
		backlog = []*domain.Message{}
	}
	return joinRoomReply{Success: true, ActiveAgents: res.ActiveAgents, Messages: backlog}, nil
}

func (d *Dispatcher) leaveRoom(_ context.Context, s *Session, data json.RawMessage) (any, error) {
	p, err := decode[roomPayload](data)
	if err != nil {
		return nil, err
	}
	d.hub.Leave(s, roomChannel(p.RoomID))
	return successReply{Success: true}, nil
}

func (d *Dispatcher) sendMessage(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	p, err := decode[sendMessagePayload](data)
	if err != nil {
		return nil, err
	}
	businessID, err := scope(s, p.BusinessID)
	if err != nil {
		return nil, err
	}

	switch p.SenderType {
	case domain.SenderTypeAgent:
		if p.SenderID, err = claimAgent(s, p.SenderID); err != nil {
			return nil, err
		}
	case domain.SenderTypeGuest:
		guestID, err := claimGuest(s, p.SenderID, p.RoomID)
		if err != nil {
			return nil, err
		}
		p.SenderID = guestID.String()
	case domain.SenderTypeAI, domain.SenderTypeSystem:
		return nil, fmt.Errorf("%w: %s messages are not accepted from clients", apperrors.ErrForbidden, p.SenderType)
	}

	msg, err := d.messages.Send(ctx, service.SendMessageInput{
		RoomID:       p.RoomID,
		SenderType:   p.SenderType,
		SenderID:     p.SenderID,
		Content:      p.Content,
		TaggedAgents: p.TaggedAgents,
		BusinessID:   businessID,
	})
	if err != nil {
		return msg, err
	}
	return msg, nil
}

func (d *Dispatcher) typing(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	p, err := decode[typingPayload](data)
	if err != nil {
		return nil, err
	}
	businessID, err := scope(s, p.BusinessID)
	if err != nil {
		return nil, err
	}
	if err := member(s, p.RoomID); err != nil {
		return nil, err
	}
	senderType := domain.SenderTypeGuest
	if agentID, _, _ := s.Identity(); agentID != "" {
		senderType = domain.SenderTypeAgent
	}
	err = d.messages.Typing(ctx, service.TypingInput{
		RoomID:     p.RoomID,
		SenderType: senderType,
		Name:       p.Name,
		BusinessID: businessID,
	}, s.ID())
	if err != nil {
		return nil, err
	}
	return successReply{Success: true}, nil
}

func (d *Dispatcher) toggleAI(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	if _, _, err := requireAgent(s); err != nil {
		return nil, err
	}
	p, err := decode[toggleAIPayload](data)
	if err != nil {
		return nil, err
	}
	businessID, err := scope(s, p.BusinessID)
	if err != nil {
		return nil, err
	}
	err = d.messages.ToggleAI(ctx, service.ToggleAIInput{
		RoomID:      p.RoomID,
		IsAIEnabled: p.IsAIEnabled,
		BusinessID:  businessID,
	}, s.ID())
	if err != nil {
		return nil, err
	}
	return successReply{Success: true}, nil
}

func (d *Dispatcher) roomAction(s *Session, data json.RawMessage) (roomID uuid.UUID, agentID, businessID string, err error) {
	agentID, businessID, err = requireAgent(s)
	if err != nil {
		return uuid.Nil, "", "", err
	}
	p, err := decode[roomPayload](data)
	if err != nil {
		return uuid.Nil, "", "", err
	}
	if _, err := scope(s, p.BusinessID); err != nil {
		return uuid.Nil, "", "", err
	}
	return p.RoomID, agentID, businessID, nil
}

func (d *Dispatcher) overrideRoom(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	roomID, agentID, businessID, err := d.roomAction(s, data)
	if err != nil {
		return nil, err
	}
	room, err := d.rooms.Override(ctx, roomID, agentID, businessID)
	if err != nil {
		return nil, err
	}
	d.hub.Join(s, roomChannel(room.ID))
	return room, nil
}

func (d *Dispatcher) releaseOverride(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	roomID, agentID, businessID, err := d.roomAction(s, data)
	if err != nil {
		return nil, err
	}
	return d.rooms.ReleaseOverride(ctx, roomID, agentID, businessID)
}

func (d *Dispatcher) closeRoom(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	roomID, agentID, businessID, err := d.roomAction(s, data)
	if err != nil {
		return nil, err
	}
	return d.rooms.CloseRoom(ctx, roomID, businessID, agentID)
}

func (d *Dispatcher) roomHistory(ctx context.Context, s *Session, data json.RawMessage) (any, error) {
	p, err := decode[roomHistoryPayload](data)
	if err != nil {
		return nil, err
	}
	businessID, err := scope(s, p.BusinessID)
	if err != nil {
		return nil, err
	}
	if err := member(s, p.RoomID); err != nil {
		return nil, err
	}
	return d.messages.History(ctx, p.RoomID, businessID, p.Limit, p.Offset)
}
