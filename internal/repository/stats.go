package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"support_chat/internal/domain"
	"support_chat/pkg/logger"
)

type StatsRepository interface {
	GetBusinessStats(ctx context.Context, businessID string) (*domain.BusinessStats, error)
}

type statsRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewStatsRepository(db *pgxpool.Pool, log logger.Logger) StatsRepository {
	return &statsRepository{db: db, log: log}
}

func (r *statsRepository) GetBusinessStats(ctx context.Context, businessID string) (*domain.BusinessStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM rooms WHERE business_id = $1 AND status = 'active'),
			(SELECT COUNT(*) FROM rooms WHERE business_id = $1 AND status = 'closed'),
			(SELECT COUNT(*) FROM rooms WHERE business_id = $1 AND status = 'active' AND current_override IS NOT NULL),
			(SELECT COUNT(*) FROM messages WHERE business_id = $1),
			(SELECT COUNT(*) FROM agent_presence WHERE business_id = $1 AND is_online)
	`

	stats := &domain.BusinessStats{BusinessID: businessID}
	err := r.db.QueryRow(ctx, query, businessID).Scan(
		&stats.ActiveRooms, &stats.ClosedRooms, &stats.OverriddenRooms, &stats.Messages, &stats.AgentsOnline,
	)
	if err != nil {
		r.log.Error("Failed to get business stats", "error", err, "business_id", businessID)
		return nil, err
	}

	return stats, nil
}
