package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"support_chat/internal/domain"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type RoomRepository interface {
	// Create создает именованную комнату. ErrAlreadyExists, если имя в бизнесе занято.
	Create(ctx context.Context, room *domain.Room) error
	// CreateGuestRoom создает комнату гостя и уведомление в одной транзакции.
	// ErrAlreadyExists, если у гостя уже есть активная комната.
	CreateGuestRoom(ctx context.Context, room *domain.Room, notification *domain.Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error)
	GetActiveByGuest(ctx context.Context, guestID uuid.UUID) (*domain.Room, error)
	GetByName(ctx context.Context, businessID, name string) (*domain.Room, error)
	List(ctx context.Context, businessID, status string, limit, offset int) ([]*domain.Room, error)
	// AddActiveAgent добавляет агента с семантикой множества и возвращает актуальный список
	AddActiveAgent(ctx context.Context, roomID uuid.UUID, agentID string) ([]string, error)
	// AcquireOverride - compare-and-swap: успех, только если override свободен или уже у этого агента
	AcquireOverride(ctx context.Context, roomID uuid.UUID, agentID string) (*domain.Room, error)
	// ReleaseOverride снимает override, только если его держит agentID
	ReleaseOverride(ctx context.Context, roomID uuid.UUID, agentID string) (*domain.Room, error)
	// Close переводит комнату в closed. changed=false, если комната уже была закрыта.
	Close(ctx context.Context, roomID uuid.UUID) (room *domain.Room, changed bool, err error)
}

type roomRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewRoomRepository(db *pgxpool.Pool, log logger.Logger) RoomRepository {
	return &roomRepository{db: db, log: log}
}

const roomSelect = `
	SELECT r.id, r.business_id, r.name, r.guest_id, r.current_override, r.status,
	       r.created_at, r.updated_at,
	       ARRAY(SELECT ra.agent_id FROM room_agents ra WHERE ra.room_id = r.id ORDER BY ra.joined_at, ra.agent_id)
	FROM rooms r
`

func scanRoom(row pgx.Row) (*domain.Room, error) {
	room := &domain.Room{}
	err := row.Scan(
		&room.ID, &room.BusinessID, &room.Name, &room.GuestID, &room.CurrentOverride, &room.Status,
		&room.CreatedAt, &room.UpdatedAt, &room.ActiveAgents,
	)
	if err != nil {
		return nil, err
	}
	if room.ActiveAgents == nil {
		room.ActiveAgents = []string{}
	}
	return room, nil
}

func (r *roomRepository) Create(ctx context.Context, room *domain.Room) error {
	query := `
		INSERT INTO rooms (id, business_id, name, guest_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(ctx, query, room.ID, room.BusinessID, room.Name, room.GuestID, room.Status, room.CreatedAt, room.UpdatedAt)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return fmt.Errorf("room: %w", apperrors.ErrAlreadyExists)
		}
		r.log.Error("Failed to create room", "error", err, "business_id", room.BusinessID)
		return err
	}

	return nil
}

func (r *roomRepository) CreateGuestRoom(ctx context.Context, room *domain.Room, notification *domain.Notification) error {
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO rooms (id, business_id, name, guest_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, room.ID, room.BusinessID, room.Name, room.GuestID, room.Status, room.CreatedAt, room.UpdatedAt)
		if err != nil {
			return err
		}

		if notification == nil {
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO notifications (id, business_id, room_id, title, description, priority, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, notification.ID, notification.BusinessID, notification.RoomID, notification.Title,
			notification.Description, notification.Priority, notification.CreatedAt)
		return err
	})

	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return fmt.Errorf("guest room: %w", apperrors.ErrAlreadyExists)
		}
		r.log.Error("Failed to create guest room", "error", err, "business_id", room.BusinessID)
		return err
	}

	return nil
}

func (r *roomRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	return r.getOne(ctx, r.db, roomSelect+` WHERE r.id = $1`, id)
}

func (r *roomRepository) GetActiveByGuest(ctx context.Context, guestID uuid.UUID) (*domain.Room, error) {
	return r.getOne(ctx, r.db, roomSelect+` WHERE r.guest_id = $1 AND r.status = 'active'`, guestID)
}

func (r *roomRepository) GetByName(ctx context.Context, businessID, name string) (*domain.Room, error) {
	return r.getOne(ctx, r.db, roomSelect+` WHERE r.business_id = $1 AND r.name = $2 AND r.guest_id IS NULL`, businessID, name)
}

func (r *roomRepository) getOne(ctx context.Context, q querier, query string, args ...any) (*domain.Room, error) {
	room, err := scanRoom(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("room: %w", apperrors.ErrNotFound)
		}
		r.log.Error("Failed to get room", "error", err)
		return nil, err
	}
	return room, nil
}

func (r *roomRepository) List(ctx context.Context, businessID, status string, limit, offset int) ([]*domain.Room, error) {
	query := roomSelect + `
		WHERE r.business_id = $1 AND ($2 = '' OR r.status = $2)
		ORDER BY r.updated_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Query(ctx, query, businessID, status, limit, offset)
	if err != nil {
		r.log.Error("Failed to list rooms", "error", err, "business_id", businessID)
		return nil, err
	}
	defer rows.Close()

	rooms := make([]*domain.Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			r.log.Error("Failed to scan room", "error", err)
			return nil, err
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

// lockActiveRoom блокирует строку комнаты до конца транзакции
func lockActiveRoom(ctx context.Context, tx pgx.Tx, roomID uuid.UUID) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM rooms WHERE id = $1 FOR UPDATE`, roomID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("room: %w", apperrors.ErrNotFound)
		}
		return err
	}
	if status == domain.RoomStatusClosed {
		return fmt.Errorf("room %s: %w", roomID, apperrors.ErrRoomClosed)
	}
	return nil
}

func (r *roomRepository) AddActiveAgent(ctx context.Context, roomID uuid.UUID, agentID string) ([]string, error) {
	var agents []string
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockActiveRoom(ctx, tx, roomID); err != nil {
			return err
		}

		now := time.Now()
		_, err := tx.Exec(ctx, `
			INSERT INTO room_agents (room_id, agent_id, joined_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (room_id, agent_id) DO NOTHING
		`, roomID, agentID, now)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE rooms SET updated_at = $2 WHERE id = $1`, roomID, now); err != nil {
			return err
		}

		return tx.QueryRow(ctx, `
			SELECT ARRAY(SELECT agent_id FROM room_agents WHERE room_id = $1 ORDER BY joined_at, agent_id)
		`, roomID).Scan(&agents)
	})

	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, apperrors.ErrRoomClosed) {
			r.log.Error("Failed to add active agent", "error", err, "room_id", roomID, "agent_id", agentID)
		}
		return nil, err
	}

	return agents, nil
}

func (r *roomRepository) AcquireOverride(ctx context.Context, roomID uuid.UUID, agentID string) (*domain.Room, error) {
	var room *domain.Room
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE rooms
			SET current_override = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'active'
			  AND (current_override IS NULL OR current_override = $2)
		`, roomID, agentID)
		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			current, err := r.getOne(ctx, tx, roomSelect+` WHERE r.id = $1`, roomID)
			if err != nil {
				return err
			}
			if current.IsClosed() {
				return fmt.Errorf("room %s: %w", roomID, apperrors.ErrRoomClosed)
			}
			return fmt.Errorf("room %s held by %s: %w", roomID, current.OverrideHolder(), apperrors.ErrOverrideHeld)
		}

		// override всегда входит в activeAgents
		_, err = tx.Exec(ctx, `
			INSERT INTO room_agents (room_id, agent_id, joined_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (room_id, agent_id) DO NOTHING
		`, roomID, agentID)
		if err != nil {
			return err
		}

		room, err = r.getOne(ctx, tx, roomSelect+` WHERE r.id = $1`, roomID)
		return err
	})

	if err != nil {
		return nil, err
	}
	return room, nil
}

func (r *roomRepository) ReleaseOverride(ctx context.Context, roomID uuid.UUID, agentID string) (*domain.Room, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE rooms
		SET current_override = NULL, updated_at = NOW()
		WHERE id = $1 AND current_override = $2
	`, roomID, agentID)
	if err != nil {
		r.log.Error("Failed to release override", "error", err, "room_id", roomID)
		return nil, err
	}

	room, err := r.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("room %s: %w", roomID, apperrors.ErrNotOverriding)
	}
	return room, nil
}

func (r *roomRepository) Close(ctx context.Context, roomID uuid.UUID) (*domain.Room, bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE rooms
		SET status = 'closed', current_override = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, roomID)
	if err != nil {
		r.log.Error("Failed to close room", "error", err, "room_id", roomID)
		return nil, false, err
	}

	room, err := r.GetByID(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	return room, tag.RowsAffected() > 0, nil
}
