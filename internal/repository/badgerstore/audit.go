package badgerstore

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"support_chat/internal/domain"
	"support_chat/internal/repository"
	"support_chat/pkg/logger"
)

type auditRepository struct {
	db  *badger.DB
	seq *badger.Sequence
	log logger.Logger
}

func NewAuditRepository(db *badger.DB, log logger.Logger) (repository.AuditRepository, error) {
	seq, err := db.GetSequence([]byte("seq/audit"), 100)
	if err != nil {
		return nil, fmt.Errorf("audit sequence: %w", err)
	}
	return &auditRepository{db: db, seq: seq, log: log}, nil
}

func (r *auditRepository) CreateLog(_ context.Context, auditLog *domain.AuditLog) error {
	id, err := r.seq.Next()
	if err != nil {
		return err
	}
	// badger.Sequence начинается с 0
	auditLog.ID = int64(id) + 1

	err = update(r.db, func(txn *badger.Txn) error {
		return setJSON(txn, fmt.Sprintf("audit/%s/%020d", auditLog.BusinessID, auditLog.ID), auditLog)
	})
	if err != nil {
		r.log.Error("Failed to create audit log", "error", err, "event_type", auditLog.EventType)
	}
	return err
}

// ListAudit читает журнал аудита бизнеса в порядке записи
func ListAudit(db *badger.DB, businessID string) ([]*domain.AuditLog, error) {
	var out []*domain.AuditLog
	err := db.View(func(txn *badger.Txn) error {
		var err error
		out, err = scanPrefix[domain.AuditLog](txn, "audit/"+businessID+"/")
		return err
	})
	return out, err
}
