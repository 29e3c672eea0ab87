package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"support_chat/internal/domain"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type PresenceRepository interface {
	// SetStatus - upsert строки присутствия. changed=true, если isOnline изменился
	// (для новой строки - если она создана online).
	SetStatus(ctx context.Context, presence *domain.AgentPresence) (changed bool, err error)
	// MarkStale переводит в offline всех online-агентов с lastSeen < cutoff и возвращает их
	MarkStale(ctx context.Context, cutoff time.Time) ([]*domain.AgentPresence, error)
	Get(ctx context.Context, agentID string) (*domain.AgentPresence, error)
	ListByBusiness(ctx context.Context, businessID string) ([]*domain.AgentPresence, error)
}

type presenceRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewPresenceRepository(db *pgxpool.Pool, log logger.Logger) PresenceRepository {
	return &presenceRepository{db: db, log: log}
}

func (r *presenceRepository) SetStatus(ctx context.Context, p *domain.AgentPresence) (bool, error) {
	// prev читается из снимка до upsert
	query := `
		WITH prev AS (
			SELECT is_online FROM agent_presence WHERE agent_id = $1
		)
		INSERT INTO agent_presence (agent_id, business_id, is_online, last_seen)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_id) DO UPDATE
		SET business_id = EXCLUDED.business_id,
		    is_online   = EXCLUDED.is_online,
		    last_seen   = EXCLUDED.last_seen
		RETURNING (SELECT is_online FROM prev)
	`

	var prev *bool
	if err := r.db.QueryRow(ctx, query, p.AgentID, p.BusinessID, p.IsOnline, p.LastSeen).Scan(&prev); err != nil {
		r.log.Error("Failed to set presence", "error", err, "agent_id", p.AgentID)
		return false, fmt.Errorf("set presence: %w", err)
	}

	if prev == nil {
		return p.IsOnline, nil
	}
	return *prev != p.IsOnline, nil
}

func (r *presenceRepository) MarkStale(ctx context.Context, cutoff time.Time) ([]*domain.AgentPresence, error) {
	query := `
		UPDATE agent_presence
		SET is_online = FALSE
		WHERE is_online = TRUE AND last_seen < $1
		RETURNING agent_id, business_id, is_online, last_seen
	`

	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		r.log.Error("Failed to mark stale agents", "error", err)
		return nil, err
	}
	return collectPresence(rows)
}

func (r *presenceRepository) Get(ctx context.Context, agentID string) (*domain.AgentPresence, error) {
	query := `SELECT agent_id, business_id, is_online, last_seen FROM agent_presence WHERE agent_id = $1`

	p := &domain.AgentPresence{}
	err := r.db.QueryRow(ctx, query, agentID).Scan(&p.AgentID, &p.BusinessID, &p.IsOnline, &p.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("presence %s: %w", agentID, apperrors.ErrNotFound)
		}
		r.log.Error("Failed to get presence", "error", err, "agent_id", agentID)
		return nil, err
	}
	return p, nil
}

func (r *presenceRepository) ListByBusiness(ctx context.Context, businessID string) ([]*domain.AgentPresence, error) {
	query := `
		SELECT agent_id, business_id, is_online, last_seen
		FROM agent_presence
		WHERE business_id = $1
		ORDER BY agent_id
	`

	rows, err := r.db.Query(ctx, query, businessID)
	if err != nil {
		r.log.Error("Failed to list presence", "error", err, "business_id", businessID)
		return nil, err
	}
	return collectPresence(rows)
}

func collectPresence(rows pgx.Rows) ([]*domain.AgentPresence, error) {
	defer rows.Close()

	out := make([]*domain.AgentPresence, 0)
	for rows.Next() {
		p := &domain.AgentPresence{}
		if err := rows.Scan(&p.AgentID, &p.BusinessID, &p.IsOnline, &p.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
