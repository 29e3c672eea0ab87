package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"support_chat/internal/domain"
	"support_chat/internal/repository"
	"support_chat/pkg/logger"
)

type AuditService interface {
	LogEvent(ctx context.Context, businessID, actorID, actorRole string, roomID *uuid.UUID, eventType string, payload map[string]any)
}

type auditService struct {
	auditRepo repository.AuditRepository
	log       logger.Logger
}

func NewAuditService(auditRepo repository.AuditRepository, log logger.Logger) AuditService {
	return &auditService{
		auditRepo: auditRepo,
		log:       log,
	}
}

// LogEvent пишет запись аудита. Ошибка записи не влияет на основную операцию.
func (s *auditService) LogEvent(ctx context.Context, businessID, actorID, actorRole string, roomID *uuid.UUID, eventType string, payload map[string]any) {
	if payload == nil {
		payload = make(map[string]any)
	}

	auditLog := &domain.AuditLog{
		EventTime:  time.Now(),
		BusinessID: businessID,
		ActorID:    actorID,
		ActorRole:  actorRole,
		RoomID:     roomID,
		EventType:  eventType,
		Payload:    payload,
	}

	if err := s.auditRepo.CreateLog(ctx, auditLog); err != nil {
		s.log.Warn("Failed to write audit log", "error", err, "event_type", eventType, "business_id", businessID)
	}
}
