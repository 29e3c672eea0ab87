package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"

	"support_chat/internal/config"
	"support_chat/internal/domain"
	"support_chat/internal/metrics"
	"support_chat/internal/repository"
	"support_chat/internal/tenant"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type SendMessageInput struct {
	RoomID     uuid.UUID `validate:"required"`
	SenderType string    `validate:"required,oneof=guest agent ai system"`
	// SenderID - UUID пользователя или идентификатор агента
	SenderID     string
	Content      string `validate:"required"`
	TaggedAgents []string
	BusinessID   string `validate:"required"`
}

type TypingInput struct {
	RoomID     uuid.UUID `validate:"required"`
	SenderType string    `validate:"required,oneof=guest agent ai system"`
	Name       string
	BusinessID string `validate:"required"`
}

type ToggleAIInput struct {
	RoomID      uuid.UUID `validate:"required"`
	IsAIEnabled bool
	BusinessID  string `validate:"required"`
}

type MessageService interface {
	// Send рассылает сообщение комнате и затем сохраняет его.
	// При окончательной ошибке сохранения возвращает черновик и ошибку с ErrPersistence.
	Send(ctx context.Context, in SendMessageInput) (*domain.Message, error)
	History(ctx context.Context, roomID uuid.UUID, businessID string, limit, offset int) ([]*domain.Message, error)
	Recent(ctx context.Context, roomID uuid.UUID, businessID string, limit int) ([]*domain.Message, error)
	Typing(ctx context.Context, in TypingInput, exceptConnID string) error
	ToggleAI(ctx context.Context, in ToggleAIInput, exceptConnID string) error
}

type messageService struct {
	userRepo    repository.UserRepository
	roomRepo    repository.RoomRepository
	messageRepo repository.MessageRepository
	cache       repository.MessageCacheRepository
	audit       AuditService
	broadcaster Broadcaster
	cfg         config.MessagesConfig
	timer       backoff.Timer
	log         logger.Logger
}

func NewMessageService(repos *repository.Repositories, audit AuditService, broadcaster Broadcaster, cfg config.MessagesConfig, log logger.Logger) MessageService {
	if cfg.PersistAttempts < 1 {
		cfg.PersistAttempts = 1
	}
	if cfg.HistoryLimit < 1 {
		cfg.HistoryLimit = 50
	}
	return &messageService{
		userRepo:    repos.User,
		roomRepo:    repos.Room,
		messageRepo: repos.Message,
		cache:       repos.MessageCache,
		audit:       audit,
		broadcaster: broadcaster,
		cfg:         cfg,
		log:         log,
	}
}

func (s *messageService) Send(ctx context.Context, in SendMessageInput) (*domain.Message, error) {
	in.Content = strings.TrimSpace(in.Content)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.SenderID == "" && in.SenderType != domain.SenderTypeAI && in.SenderType != domain.SenderTypeSystem {
		return nil, fmt.Errorf("%w: senderId is required for %s messages", apperrors.ErrInvalidInput, in.SenderType)
	}

	room, err := s.loadRoom(ctx, in.RoomID, in.BusinessID)
	if err != nil {
		return nil, err
	}
	if room.IsClosed() {
		return nil, fmt.Errorf("room %s: %w", room.ID, apperrors.ErrRoomClosed)
	}

	var senderID *uuid.UUID
	if in.SenderType != domain.SenderTypeAI && in.SenderID != "" {
		sender, err := resolveUser(ctx, s.userRepo, in.SenderID)
		if err != nil {
			return nil, fmt.Errorf("sender %s: %w", in.SenderID, err)
		}
		if err := tenant.AssertBelongsToBusiness(sender, in.BusinessID); err != nil {
			s.log.Warn("Cross-tenant sender rejected", "room_id", room.ID, "sender_id", in.SenderID, "business_id", in.BusinessID)
			return nil, err
		}
		senderID = &sender.ID
	}

	tagged, err := s.resolveTagged(ctx, in.TaggedAgents, in.BusinessID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	message := &domain.Message{
		ID:           ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		RoomID:       room.ID,
		BusinessID:   room.BusinessID,
		SenderType:   in.SenderType,
		SenderID:     senderID,
		Content:      in.Content,
		TaggedAgents: tagged,
		Timestamp:    now,
	}

	// Сначала рассылка, потом запись: участники могут увидеть сообщение до сохранения
	s.broadcaster.ToRoom(room.ID, domain.EventMessage, message, "")
	metrics.MessagesSent.WithLabelValues(message.SenderType).Inc()

	// Запись не должна обрываться вместе с сессией отправителя
	if err := s.persist(context.WithoutCancel(ctx), message); err != nil {
		return message, err
	}

	if s.cache != nil {
		if err := s.cache.Append(ctx, message); err != nil {
			s.log.Warn("Failed to append message to cache", "error", err, "room_id", room.ID, "message_id", message.ID)
		}
	}

	for _, agentID := range tagged {
		if n := s.broadcaster.ToAgent(agentID, domain.EventTagged, TaggedEvent{RoomID: room.ID, Message: message}); n == 0 {
			s.log.Debug("Tagged agent has no live sessions", "agent_id", agentID, "message_id", message.ID)
		}
	}

	return message, nil
}

// persist пишет сообщение с экспоненциальной задержкой между попытками.
// После последней неудачи комната получает messageFailed.
func (s *messageService) persist(ctx context.Context, message *domain.Message) error {
	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(s.cfg.PersistBackoff),
		backoff.WithRandomizationFactor(0),
		backoff.WithMultiplier(2),
		backoff.WithMaxElapsedTime(0),
	)
	retries := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.cfg.PersistAttempts-1)), ctx)

	attempt := 0
	lastErr := backoff.RetryNotifyWithTimer(func() error {
		attempt++
		return s.messageRepo.Create(ctx, message)
	}, retries, func(err error, next time.Duration) {
		metrics.MessagePersistRetries.Inc()
		s.log.Warn("Message persistence failed, retrying", "error", err, "message_id", message.ID,
			"attempt", attempt, "next_in", next)
	}, s.timer)
	if lastErr == nil {
		return nil
	}

	metrics.MessagePersistFailures.Inc()
	s.log.Error("Message broadcast but not persisted", "error", lastErr, "message_id", message.ID, "room_id", message.RoomID, "business_id", message.BusinessID)

	s.broadcaster.ToRoom(message.RoomID, domain.EventMessageFailed, MessageFailedEvent{
		ID:     message.ID,
		RoomID: message.RoomID,
		Reason: "message was not saved",
	}, "")
	s.audit.LogEvent(ctx, message.BusinessID, "", domain.ActorRoleSystem, &message.RoomID, domain.EventTypePersistenceFailed, map[string]any{
		"message_id": message.ID,
		"attempts":   attempt,
		"error":      lastErr.Error(),
	})

	return fmt.Errorf("message %s: %w: %w", message.ID, apperrors.ErrPersistence, lastErr)
}

func (s *messageService) resolveTagged(ctx context.Context, agentIDs []string, businessID string) ([]string, error) {
	tagged := lo.Uniq(lo.Compact(agentIDs))
	agents := make([]*domain.User, 0, len(tagged))
	for _, agentID := range tagged {
		agent, err := s.userRepo.GetByAgentID(ctx, agentID)
		if err != nil {
			return nil, fmt.Errorf("tagged agent %s: %w", agentID, err)
		}
		agents = append(agents, agent)
	}
	if err := tenant.AssertAll(agents, businessID); err != nil {
		s.log.Warn("Cross-tenant tagged agent rejected", "agents", tagged, "business_id", businessID)
		return nil, err
	}
	return tagged, nil
}

func (s *messageService) History(ctx context.Context, roomID uuid.UUID, businessID string, limit, offset int) ([]*domain.Message, error) {
	if _, err := s.loadRoom(ctx, roomID, businessID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.cfg.HistoryLimit*10 {
		limit = s.cfg.HistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.messageRepo.ListByRoom(ctx, roomID, limit, offset)
}

// Recent читает хвост истории из кэша, при промахе - из хранилища с прогревом кэша
func (s *messageService) Recent(ctx context.Context, roomID uuid.UUID, businessID string, limit int) ([]*domain.Message, error) {
	if _, err := s.loadRoom(ctx, roomID, businessID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.cfg.HistoryLimit {
		limit = s.cfg.HistoryLimit
	}

	if s.cache != nil {
		messages, hit, err := s.cache.Recent(ctx, roomID, limit)
		if err != nil {
			s.log.Warn("Message cache read failed", "error", err, "room_id", roomID)
		} else if hit {
			return messages, nil
		}
	}

	messages, err := s.messageRepo.ListRecent(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Fill(ctx, roomID, messages); err != nil {
			s.log.Warn("Failed to warm message cache", "error", err, "room_id", roomID)
		}
	}
	return messages, nil
}

func (s *messageService) Typing(ctx context.Context, in TypingInput, exceptConnID string) error {
	if err := validateInput(in); err != nil {
		return err
	}
	if _, err := s.loadRoom(ctx, in.RoomID, in.BusinessID); err != nil {
		return err
	}

	s.broadcaster.ToRoom(in.RoomID, domain.EventTyping, TypingEvent{
		RoomID:     in.RoomID,
		SenderType: in.SenderType,
		Name:       in.Name,
	}, exceptConnID)
	return nil
}

func (s *messageService) ToggleAI(ctx context.Context, in ToggleAIInput, exceptConnID string) error {
	if err := validateInput(in); err != nil {
		return err
	}
	if _, err := s.loadRoom(ctx, in.RoomID, in.BusinessID); err != nil {
		return err
	}

	s.broadcaster.ToRoom(in.RoomID, domain.EventToggleAI, ToggleAIEvent{
		RoomID:      in.RoomID,
		IsAIEnabled: in.IsAIEnabled,
	}, exceptConnID)
	return nil
}

func (s *messageService) loadRoom(ctx context.Context, roomID uuid.UUID, businessID string) (*domain.Room, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessId is required", apperrors.ErrInvalidInput)
	}
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.log.Warn("Message for unknown room", "room_id", roomID, "business_id", businessID)
		}
		return nil, err
	}
	if err := tenant.AssertBelongsToBusiness(room, businessID); err != nil {
		s.log.Warn("Cross-tenant room access rejected", "room_id", roomID, "business_id", businessID)
		return nil, err
	}
	return room, nil
}
