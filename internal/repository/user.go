package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"support_chat/internal/domain"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type UserRepository interface {
	// Create возвращает ErrAlreadyExists при конфликте email внутри бизнеса или agentId
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByAgentID(ctx context.Context, agentID string) (*domain.User, error)
	GetByEmail(ctx context.Context, businessID, email string) (*domain.User, error)
}

type userRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewUserRepository(db *pgxpool.Pool, log logger.Logger) UserRepository {
	return &userRepository{db: db, log: log}
}

const userColumns = `id, business_id, name, email, agent_id, role, created_at, updated_at`

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, business_id, name, email, agent_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		user.ID, user.BusinessID, user.Name, user.Email, user.AgentID,
		user.Role, user.CreatedAt, user.UpdatedAt,
	).Scan(&user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		if pgErr, ok := isUniqueViolation(err); ok {
			r.log.Warn("User already exists (unique violation)", "business_id", user.BusinessID, "constraint", pgErr.ConstraintName)
			return fmt.Errorf("user: %w", apperrors.ErrAlreadyExists)
		}
		r.log.Error("Failed to create user", "error", err, "business_id", user.BusinessID)
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *userRepository) GetByAgentID(ctx context.Context, agentID string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE agent_id = $1`
	return r.getOne(ctx, query, agentID)
}

func (r *userRepository) GetByEmail(ctx context.Context, businessID, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE business_id = $1 AND email = $2`
	return r.getOne(ctx, query, businessID, email)
}

func (r *userRepository) getOne(ctx context.Context, query string, args ...any) (*domain.User, error) {
	user := &domain.User{}
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&user.ID, &user.BusinessID, &user.Name, &user.Email, &user.AgentID,
		&user.Role, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", apperrors.ErrNotFound)
		}
		r.log.Error("Failed to get user", "error", err)
		return nil, err
	}
	return user, nil
}
