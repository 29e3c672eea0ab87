package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"support_chat/internal/domain"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type BusinessRepository interface {
	// CreateIfAbsent возвращает существующий бизнес или создает новый
	CreateIfAbsent(ctx context.Context, business *domain.Business) (*domain.Business, error)
	GetByID(ctx context.Context, id string) (*domain.Business, error)
}

type businessRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewBusinessRepository(db *pgxpool.Pool, log logger.Logger) BusinessRepository {
	return &businessRepository{db: db, log: log}
}

func (r *businessRepository) CreateIfAbsent(ctx context.Context, business *domain.Business) (*domain.Business, error) {
	query := `
		INSERT INTO businesses (id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := r.db.Exec(ctx, query, business.ID, business.Name, business.CreatedAt, business.UpdatedAt); err != nil {
		r.log.Error("Failed to ensure business", "error", err, "business_id", business.ID)
		return nil, fmt.Errorf("ensure business: %w", err)
	}

	return r.GetByID(ctx, business.ID)
}

func (r *businessRepository) GetByID(ctx context.Context, id string) (*domain.Business, error) {
	query := `SELECT id, name, created_at, updated_at FROM businesses WHERE id = $1`

	b := &domain.Business{}
	err := r.db.QueryRow(ctx, query, id).Scan(&b.ID, &b.Name, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("business %s: %w", id, apperrors.ErrNotFound)
		}
		r.log.Error("Failed to get business", "error", err, "business_id", id)
		return nil, err
	}

	return b, nil
}
