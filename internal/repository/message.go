package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"support_chat/internal/domain"
	"support_chat/pkg/logger"
)

type MessageRepository interface {
	Create(ctx context.Context, message *domain.Message) error
	// ListByRoom возвращает сообщения в порядке (timestamp, id)
	ListByRoom(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*domain.Message, error)
	// ListRecent возвращает последние limit сообщений, тоже в порядке (timestamp, id)
	ListRecent(ctx context.Context, roomID uuid.UUID, limit int) ([]*domain.Message, error)
}

type messageRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{db: db, log: log}
}

func (r *messageRepository) Create(ctx context.Context, message *domain.Message) error {
	query := `
		INSERT INTO messages (id, room_id, business_id, sender_type, sender_id, content, tagged_agents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	tagged := message.TaggedAgents
	if tagged == nil {
		tagged = []string{}
	}

	_, err := r.db.Exec(ctx, query,
		message.ID, message.RoomID, message.BusinessID, message.SenderType,
		message.SenderID, message.Content, tagged, message.Timestamp,
	)
	if err != nil {
		r.log.Error("Failed to create message", "error", err, "room_id", message.RoomID, "message_id", message.ID)
		return fmt.Errorf("create message: %w", err)
	}

	return nil
}

func (r *messageRepository) ListByRoom(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*domain.Message, error) {
	query := `
		SELECT id, room_id, business_id, sender_type, sender_id, content, tagged_agents, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, roomID, limit, offset)
	if err != nil {
		r.log.Error("Failed to get messages", "error", err, "room_id", roomID)
		return nil, err
	}
	return r.scanMessages(rows)
}

func (r *messageRepository) ListRecent(ctx context.Context, roomID uuid.UUID, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, room_id, business_id, sender_type, sender_id, content, tagged_agents, created_at
		FROM (
			SELECT id, room_id, business_id, sender_type, sender_id, content, tagged_agents, created_at
			FROM messages
			WHERE room_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, roomID, limit)
	if err != nil {
		r.log.Error("Failed to get recent messages", "error", err, "room_id", roomID)
		return nil, err
	}
	return r.scanMessages(rows)
}

func (r *messageRepository) scanMessages(rows pgx.Rows) ([]*domain.Message, error) {
	defer rows.Close()

	messages := make([]*domain.Message, 0)
	for rows.Next() {
		message := &domain.Message{}
		err := rows.Scan(
			&message.ID, &message.RoomID, &message.BusinessID, &message.SenderType,
			&message.SenderID, &message.Content, &message.TaggedAgents, &message.Timestamp,
		)
		if err != nil {
			r.log.Error("Failed to scan message", "error", err)
			return nil, err
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}
