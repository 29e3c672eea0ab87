package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"support_chat/internal/domain"
	"support_chat/pkg/logger"
)

type NotificationRepository interface {
	Create(ctx context.Context, notification *domain.Notification) error
	ListByBusiness(ctx context.Context, businessID string, limit int) ([]*domain.Notification, error)
}

type notificationRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewNotificationRepository(db *pgxpool.Pool, log logger.Logger) NotificationRepository {
	return &notificationRepository{db: db, log: log}
}

func (r *notificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (id, business_id, room_id, title, description, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(ctx, query, n.ID, n.BusinessID, n.RoomID, n.Title, n.Description, n.Priority, n.CreatedAt)
	if err != nil {
		r.log.Error("Failed to create notification", "error", err, "business_id", n.BusinessID)
		return err
	}
	return nil
}

func (r *notificationRepository) ListByBusiness(ctx context.Context, businessID string, limit int) ([]*domain.Notification, error) {
	query := `
		SELECT id, business_id, room_id, title, description, priority, created_at
		FROM notifications
		WHERE business_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, businessID, limit)
	if err != nil {
		r.log.Error("Failed to list notifications", "error", err, "business_id", businessID)
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Notification, 0)
	for rows.Next() {
		n := &domain.Notification{}
		if err := rows.Scan(&n.ID, &n.BusinessID, &n.RoomID, &n.Title, &n.Description, &n.Priority, &n.CreatedAt); err != nil {
			r.log.Error("Failed to scan notification", "error", err)
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
