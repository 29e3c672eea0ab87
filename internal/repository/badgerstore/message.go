package badgerstore

import (
	"context"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"support_chat/internal/domain"
	"support_chat/internal/repository"
	"support_chat/pkg/logger"
)

type messageRepository struct {
	db  *badger.DB
	log logger.Logger
}

func NewMessageRepository(db *badger.DB, log logger.Logger) repository.MessageRepository {
	return &messageRepository{db: db, log: log}
}

func messagePrefix(roomID uuid.UUID) string { return "msg/" + roomID.String() + "/" }

func (r *messageRepository) Create(_ context.Context, message *domain.Message) error {
	err := update(r.db, func(txn *badger.Txn) error {
		return setJSON(txn, messagePrefix(message.RoomID)+message.ID, message)
	})
	if err != nil {
		r.log.Error("Failed to create message", "error", err, "room_id", message.RoomID, "message_id", message.ID)
	}
	return err
}

func (r *messageRepository) ListByRoom(_ context.Context, roomID uuid.UUID, limit, offset int) ([]*domain.Message, error) {
	messages, err := r.sorted(roomID)
	if err != nil {
		return nil, err
	}
	return page(messages, limit, offset), nil
}

func (r *messageRepository) ListRecent(_ context.Context, roomID uuid.UUID, limit int) ([]*domain.Message, error) {
	messages, err := r.sorted(roomID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func (r *messageRepository) sorted(roomID uuid.UUID) ([]*domain.Message, error) {
	var messages []*domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		messages, err = scanPrefix[domain.Message](txn, messagePrefix(roomID))
		return err
	})
	if err != nil {
		r.log.Error("Failed to get messages", "error", err, "room_id", roomID)
		return nil, err
	}

	// ключи упорядочены по ULID, но порядок чтения определяется (timestamp, id)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Before(messages[j])
	})
	return messages, nil
}
