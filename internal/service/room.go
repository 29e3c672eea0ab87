package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"support_chat/internal/domain"
	"support_chat/internal/metrics"
	"support_chat/internal/repository"
	"support_chat/internal/tenant"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type GuestSessionInput struct {
	Name       string
	Email      string `validate:"required,email"`
	BusinessID string `validate:"required"`
	// RoomName задается для комнат внешних каналов (например, whatsapp_<номер>)
	RoomName string
}

type GuestSession struct {
	User        *domain.User
	Room        *domain.Room
	RoomCreated bool
}

type AgentInput struct {
	AgentID    string `validate:"required"`
	Name       string
	BusinessID string `validate:"required"`
}

type JoinRoomInput struct {
	RoomID     uuid.UUID `validate:"required"`
	AgentID    string
	GuestID    *uuid.UUID
	BusinessID string `validate:"required"`
}

type JoinResult struct {
	Room         *domain.Room
	ActiveAgents []string
}

type RoomService interface {
	EnsureBusiness(ctx context.Context, businessID, defaultName string) (*domain.Business, error)
	CreateGuestSession(ctx context.Context, in GuestSessionInput) (*GuestSession, error)
	GetOrCreateGlobalAgentRoom(ctx context.Context, businessID string) (*domain.Room, error)
	EnsureAgent(ctx context.Context, in AgentInput) (*domain.User, error)
	JoinRoom(ctx context.Context, in JoinRoomInput) (*JoinResult, error)
	Override(ctx context.Context, roomID uuid.UUID, agentID, businessID string) (*domain.Room, error)
	ReleaseOverride(ctx context.Context, roomID uuid.UUID, agentID, businessID string) (*domain.Room, error)
	CloseRoom(ctx context.Context, roomID uuid.UUID, businessID, actorID string) (*domain.Room, error)
	GetRoom(ctx context.Context, roomID uuid.UUID, businessID string) (*domain.Room, error)
	ListRooms(ctx context.Context, businessID, status string, limit, offset int) ([]*domain.Room, error)
	ListNotifications(ctx context.Context, businessID string, limit int) ([]*domain.Notification, error)
}

type roomService struct {
	businessRepo     repository.BusinessRepository
	userRepo         repository.UserRepository
	roomRepo         repository.RoomRepository
	notificationRepo repository.NotificationRepository
	audit            AuditService
	broadcaster      Broadcaster
	log              logger.Logger
}

func NewRoomService(repos *repository.Repositories, audit AuditService, broadcaster Broadcaster, log logger.Logger) RoomService {
	return &roomService{
		businessRepo:     repos.Business,
		userRepo:         repos.User,
		roomRepo:         repos.Room,
		notificationRepo: repos.Notification,
		audit:            audit,
		broadcaster:      broadcaster,
		log:              log,
	}
}

func (s *roomService) EnsureBusiness(ctx context.Context, businessID, defaultName string) (*domain.Business, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessId is required", apperrors.ErrInvalidInput)
	}
	if defaultName == "" {
		defaultName = domain.DefaultBusinessName
	}

	now := time.Now()
	return s.businessRepo.CreateIfAbsent(ctx, &domain.Business{
		ID:        businessID,
		Name:      defaultName,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (s *roomService) CreateGuestSession(ctx context.Context, in GuestSessionInput) (*GuestSession, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if _, err := s.EnsureBusiness(ctx, in.BusinessID, ""); err != nil {
		return nil, err
	}

	guest, err := s.findOrCreateGuest(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := tenant.AssertBelongsToBusiness(guest, in.BusinessID); err != nil {
		return nil, err
	}

	room, created, err := s.findOrCreateGuestRoom(ctx, guest, in.RoomName)
	if err != nil {
		return nil, err
	}
	if err := tenant.AssertBelongsToBusiness(room, in.BusinessID); err != nil {
		return nil, err
	}

	if created {
		kind := "guest"
		if in.RoomName != "" {
			kind = "whatsapp"
		}
		metrics.RoomsCreated.WithLabelValues(kind).Inc()
		s.audit.LogEvent(ctx, in.BusinessID, guest.ID.String(), domain.ActorRoleGuest, &room.ID, domain.EventTypeRoomCreated, map[string]any{"email": in.Email})
		s.broadcaster.ToAgents(in.BusinessID, domain.EventRoomCreated, RoomCreatedEvent{Room: room, Guest: guest})
		s.log.Info("Guest room created", "room_id", room.ID, "guest_id", guest.ID, "business_id", in.BusinessID)
	}

	return &GuestSession{User: guest, Room: room, RoomCreated: created}, nil
}

func (s *roomService) findOrCreateGuest(ctx context.Context, in GuestSessionInput) (*domain.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, in.BusinessID, in.Email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	name := in.Name
	if name == "" {
		name = "Guest"
	}
	now := time.Now()
	user = &domain.User{
		ID:         uuid.New(),
		BusinessID: in.BusinessID,
		Name:       name,
		Email:      lo.ToPtr(in.Email),
		Role:       domain.UserRoleGuest,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.userRepo.Create(ctx, user)
	if errors.Is(err, apperrors.ErrAlreadyExists) {
		// параллельный guestJoin с тем же email успел раньше
		return s.userRepo.GetByEmail(ctx, in.BusinessID, in.Email)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *roomService) findOrCreateGuestRoom(ctx context.Context, guest *domain.User, roomName string) (*domain.Room, bool, error) {
	room, err := s.roomRepo.GetActiveByGuest(ctx, guest.ID)
	if err == nil {
		return room, false, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, false, err
	}

	now := time.Now()
	room = &domain.Room{
		ID:           uuid.New(),
		BusinessID:   guest.BusinessID,
		GuestID:      &guest.ID,
		ActiveAgents: []string{},
		Status:       domain.RoomStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if roomName != "" {
		room.Name = lo.ToPtr(roomName)
	}

	notification := &domain.Notification{
		ID:          uuid.New(),
		BusinessID:  guest.BusinessID,
		RoomID:      &room.ID,
		Title:       "A guest room was created",
		Description: "A customer created a room, see if you can join the conversation.",
		Priority:    domain.NotificationPriorityHigh,
		CreatedAt:   now,
	}

	err = s.roomRepo.CreateGuestRoom(ctx, room, notification)
	if errors.Is(err, apperrors.ErrAlreadyExists) {
		room, err = s.roomRepo.GetActiveByGuest(ctx, guest.ID)
		return room, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return room, true, nil
}

func (s *roomService) GetOrCreateGlobalAgentRoom(ctx context.Context, businessID string) (*domain.Room, error) {
	if _, err := s.EnsureBusiness(ctx, businessID, ""); err != nil {
		return nil, err
	}

	room, err := s.roomRepo.GetByName(ctx, businessID, domain.GlobalAgentRoomName)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	room = &domain.Room{
		ID:           uuid.New(),
		BusinessID:   businessID,
		Name:         lo.ToPtr(domain.GlobalAgentRoomName),
		ActiveAgents: []string{},
		Status:       domain.RoomStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.roomRepo.Create(ctx, room)
	if errors.Is(err, apperrors.ErrAlreadyExists) {
		return s.roomRepo.GetByName(ctx, businessID, domain.GlobalAgentRoomName)
	}
	if err != nil {
		return nil, err
	}

	metrics.RoomsCreated.WithLabelValues("global").Inc()
	s.log.Info("Global agent room created", "room_id", room.ID, "business_id", businessID)
	return room, nil
}

func (s *roomService) EnsureAgent(ctx context.Context, in AgentInput) (*domain.User, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	agent, err := s.userRepo.GetByAgentID(ctx, in.AgentID)
	if err == nil {
		if err := tenant.AssertBelongsToBusiness(agent, in.BusinessID); err != nil {
			s.log.Warn("Agent belongs to another business", "agent_id", in.AgentID, "business_id", in.BusinessID)
			return nil, err
		}
		return agent, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	if _, err := s.EnsureBusiness(ctx, in.BusinessID, ""); err != nil {
		return nil, err
	}

	name := in.Name
	if name == "" {
		name = in.AgentID
	}
	now := time.Now()
	agent = &domain.User{
		ID:         uuid.New(),
		BusinessID: in.BusinessID,
		Name:       name,
		AgentID:    lo.ToPtr(in.AgentID),
		Role:       domain.UserRoleAgent,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.userRepo.Create(ctx, agent)
	if errors.Is(err, apperrors.ErrAlreadyExists) {
		agent, err = s.userRepo.GetByAgentID(ctx, in.AgentID)
		if err != nil {
			return nil, err
		}
		return agent, tenant.AssertBelongsToBusiness(agent, in.BusinessID)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("Agent account created", "agent_id", in.AgentID, "business_id", in.BusinessID)
	return agent, nil
}

// JoinRoom подключает агента (мутирует activeAgents) или гостя (только уведомление).
// Если заданы оба идентификатора, приоритет у агента.
func (s *roomService) JoinRoom(ctx context.Context, in JoinRoomInput) (*JoinResult, error) {
	if in.AgentID == "" && in.GuestID == nil {
		return nil, fmt.Errorf("%w: agentId or guestId is required", apperrors.ErrInvalidInput)
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	room, err := s.loadGuarded(ctx, in.RoomID, in.BusinessID)
	if err != nil {
		return nil, err
	}
	if room.IsClosed() {
		return nil, fmt.Errorf("room %s: %w", room.ID, apperrors.ErrRoomClosed)
	}

	if in.AgentID != "" {
		return s.joinAgent(ctx, room, in.AgentID, in.BusinessID)
	}
	return s.joinGuest(ctx, room, *in.GuestID, in.BusinessID)
}

func (s *roomService) joinAgent(ctx context.Context, room *domain.Room, agentID, businessID string) (*JoinResult, error) {
	agent, err := s.userRepo.GetByAgentID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if err := tenant.AssertBelongsToBusiness(agent, businessID); err != nil {
		s.log.Warn("Cross-tenant join rejected", "room_id", room.ID, "agent_id", agentID, "business_id", businessID)
		return nil, err
	}

	agents, err := s.roomRepo.AddActiveAgent(ctx, room.ID, agentID)
	if err != nil {
		return nil, err
	}
	room.ActiveAgents = agents

	s.audit.LogEvent(ctx, businessID, agentID, domain.ActorRoleAgent, &room.ID, domain.EventTypeAgentJoined, nil)
	s.broadcaster.ToRoom(room.ID, domain.EventNotification, NotificationEvent{
		RoomID:  room.ID,
		Message: agent.Name + " joined the conversation",
		AgentID: agentID,
	}, "")

	return &JoinResult{Room: room, ActiveAgents: agents}, nil
}

func (s *roomService) joinGuest(ctx context.Context, room *domain.Room, guestID uuid.UUID, businessID string) (*JoinResult, error) {
	guest, err := s.userRepo.GetByID(ctx, guestID)
	if err != nil {
		return nil, err
	}
	if err := tenant.AssertBelongsToBusiness(guest, businessID); err != nil {
		s.log.Warn("Cross-tenant join rejected", "room_id", room.ID, "guest_id", guestID, "business_id", businessID)
		return nil, err
	}

	s.broadcaster.ToRoom(room.ID, domain.EventNotification, NotificationEvent{
		RoomID:  room.ID,
		Message: guest.Name + " is in the conversation",
		GuestID: &guest.ID,
	}, "")

	return &JoinResult{Room: room, ActiveAgents: room.ActiveAgents}, nil
}

// Override захватывает комнату агентом. Смена держателя требует releaseOverride;
// повторный вызов текущим держателем ничего не меняет.
func (s *roomService) Override(ctx context.Context, roomID uuid.UUID, agentID, businessID string) (*domain.Room, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agentId is required", apperrors.ErrInvalidInput)
	}
	if _, err := s.loadGuarded(ctx, roomID, businessID); err != nil {
		return nil, err
	}
	if _, err := s.loadAgentGuarded(ctx, agentID, businessID); err != nil {
		return nil, err
	}

	room, err := s.roomRepo.AcquireOverride(ctx, roomID, agentID)
	if err != nil {
		if errors.Is(err, apperrors.ErrOverrideHeld) {
			metrics.OverrideConflicts.Inc()
			s.log.Info("Override rejected, room is held", "room_id", roomID, "agent_id", agentID)
		}
		return nil, err
	}

	s.audit.LogEvent(ctx, businessID, agentID, domain.ActorRoleAgent, &room.ID, domain.EventTypeOverrideAcquired, nil)
	s.broadcaster.ToRoom(room.ID, domain.EventOverride, OverrideEvent{RoomID: room.ID, AgentID: room.CurrentOverride}, "")
	return room, nil
}

func (s *roomService) ReleaseOverride(ctx context.Context, roomID uuid.UUID, agentID, businessID string) (*domain.Room, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agentId is required", apperrors.ErrInvalidInput)
	}
	if _, err := s.loadGuarded(ctx, roomID, businessID); err != nil {
		return nil, err
	}
	if _, err := s.loadAgentGuarded(ctx, agentID, businessID); err != nil {
		return nil, err
	}

	room, err := s.roomRepo.ReleaseOverride(ctx, roomID, agentID)
	if err != nil {
		return nil, err
	}

	s.audit.LogEvent(ctx, businessID, agentID, domain.ActorRoleAgent, &room.ID, domain.EventTypeOverrideReleased, nil)
	s.broadcaster.ToRoom(room.ID, domain.EventOverride, OverrideEvent{RoomID: room.ID, AgentID: nil}, "")
	return room, nil
}

func (s *roomService) CloseRoom(ctx context.Context, roomID uuid.UUID, businessID, actorID string) (*domain.Room, error) {
	if _, err := s.loadGuarded(ctx, roomID, businessID); err != nil {
		return nil, err
	}

	room, changed, err := s.roomRepo.Close(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return room, nil
	}

	s.audit.LogEvent(ctx, businessID, actorID, domain.ActorRoleAgent, &room.ID, domain.EventTypeRoomClosed, nil)
	s.broadcaster.ToRoom(room.ID, domain.EventRoomClosed, RoomClosedEvent{RoomID: room.ID}, "")
	s.broadcaster.ToAgents(businessID, domain.EventRoomClosed, RoomClosedEvent{RoomID: room.ID})
	return room, nil
}

func (s *roomService) GetRoom(ctx context.Context, roomID uuid.UUID, businessID string) (*domain.Room, error) {
	return s.loadGuarded(ctx, roomID, businessID)
}

func (s *roomService) ListRooms(ctx context.Context, businessID, status string, limit, offset int) ([]*domain.Room, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessId is required", apperrors.ErrInvalidInput)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.roomRepo.List(ctx, businessID, status, limit, offset)
}

func (s *roomService) ListNotifications(ctx context.Context, businessID string, limit int) ([]*domain.Notification, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessId is required", apperrors.ErrInvalidInput)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.notificationRepo.ListByBusiness(ctx, businessID, limit)
}

func (s *roomService) loadGuarded(ctx context.Context, roomID uuid.UUID, businessID string) (*domain.Room, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessId is required", apperrors.ErrInvalidInput)
	}
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := tenant.AssertBelongsToBusiness(room, businessID); err != nil {
		s.log.Warn("Cross-tenant room access rejected", "room_id", roomID, "business_id", businessID)
		return nil, err
	}
	return room, nil
}

func (s *roomService) loadAgentGuarded(ctx context.Context, agentID, businessID string) (*domain.User, error) {
	agent, err := s.userRepo.GetByAgentID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if err := tenant.AssertBelongsToBusiness(agent, businessID); err != nil {
		s.log.Warn("Cross-tenant agent reference rejected", "agent_id", agentID, "business_id", businessID)
		return nil, err
	}
	return agent, nil
}
