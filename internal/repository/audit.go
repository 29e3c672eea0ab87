package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"support_chat/internal/domain"
	"support_chat/pkg/logger"
)

type AuditRepository interface {
	CreateLog(ctx context.Context, log *domain.AuditLog) error
}

type auditRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewAuditRepository(db *pgxpool.Pool, log logger.Logger) AuditRepository {
	return &auditRepository{db: db, log: log}
}

func (r *auditRepository) CreateLog(ctx context.Context, auditLog *domain.AuditLog) error {
	query := `
		INSERT INTO audit_log (event_time, business_id, actor_id, actor_role, room_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	payload := auditLog.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	err := r.db.QueryRow(ctx, query,
		auditLog.EventTime, auditLog.BusinessID, auditLog.ActorID, auditLog.ActorRole,
		auditLog.RoomID, auditLog.EventType, payload,
	).Scan(&auditLog.ID)

	if err != nil {
		r.log.Error("Failed to create audit log", "error", err, "event_type", auditLog.EventType)
		return err
	}

	return nil
}
