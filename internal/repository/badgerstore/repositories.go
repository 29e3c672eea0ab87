package badgerstore

import (
	"github.com/dgraph-io/badger/v4"

	"support_chat/internal/repository"
	"support_chat/pkg/logger"
)

// NewRepositories собирает набор репозиториев поверх одной базы Badger
func NewRepositories(db *badger.DB, log logger.Logger) (*repository.Repositories, error) {
	audit, err := NewAuditRepository(db, log)
	if err != nil {
		return nil, err
	}

	return &repository.Repositories{
		Business:     NewBusinessRepository(db, log),
		User:         NewUserRepository(db, log),
		Room:         NewRoomRepository(db, log),
		Message:      NewMessageRepository(db, log),
		Presence:     NewPresenceRepository(db, log),
		Notification: NewNotificationRepository(db, log),
		Appointment:  NewAppointmentRepository(db, log),
		Audit:        audit,
		Stats:        NewStatsRepository(db, log),
	}, nil
}
