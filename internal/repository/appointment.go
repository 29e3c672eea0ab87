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

type AppointmentRepository interface {
	Create(ctx context.Context, appointment *domain.Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Appointment, error)
	ListByGuest(ctx context.Context, guestID uuid.UUID) ([]*domain.Appointment, error)
}

type appointmentRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewAppointmentRepository(db *pgxpool.Pool, log logger.Logger) AppointmentRepository {
	return &appointmentRepository{db: db, log: log}
}

func (r *appointmentRepository) Create(ctx context.Context, a *domain.Appointment) error {
	query := `
		INSERT INTO appointments (id, business_id, guest_id, scheduled_at, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if _, err := r.db.Exec(ctx, query, a.ID, a.BusinessID, a.GuestID, a.ScheduledAt, a.Notes, a.CreatedAt); err != nil {
		r.log.Error("Failed to create appointment", "error", err, "guest_id", a.GuestID)
		return err
	}
	return nil
}

func (r *appointmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Appointment, error) {
	query := `
		SELECT id, business_id, guest_id, scheduled_at, notes, created_at
		FROM appointments
		WHERE id = $1
	`

	a := &domain.Appointment{}
	err := r.db.QueryRow(ctx, query, id).Scan(&a.ID, &a.BusinessID, &a.GuestID, &a.ScheduledAt, &a.Notes, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("appointment %s: %w", id, apperrors.ErrNotFound)
		}
		r.log.Error("Failed to get appointment", "error", err, "appointment_id", id)
		return nil, err
	}
	return a, nil
}

func (r *appointmentRepository) ListByGuest(ctx context.Context, guestID uuid.UUID) ([]*domain.Appointment, error) {
	query := `
		SELECT id, business_id, guest_id, scheduled_at, notes, created_at
		FROM appointments
		WHERE guest_id = $1
		ORDER BY scheduled_at
	`

	rows, err := r.db.Query(ctx, query, guestID)
	if err != nil {
		r.log.Error("Failed to list appointments", "error", err, "guest_id", guestID)
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.Appointment, 0)
	for rows.Next() {
		a := &domain.Appointment{}
		if err := rows.Scan(&a.ID, &a.BusinessID, &a.GuestID, &a.ScheduledAt, &a.Notes, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
