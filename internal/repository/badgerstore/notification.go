package badgerstore

import (
	"context"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"support_chat/internal/domain"
	"support_chat/internal/repository"
	"support_chat/pkg/logger"
)

type notificationRepository struct {
	db  *badger.DB
	log logger.Logger
}

func NewNotificationRepository(db *badger.DB, log logger.Logger) repository.NotificationRepository {
	return &notificationRepository{db: db, log: log}
}

func notificationKey(n *domain.Notification) string {
	return "notif/" + n.BusinessID + "/" + n.ID.String()
}

func (r *notificationRepository) Create(_ context.Context, n *domain.Notification) error {
	return update(r.db, func(txn *badger.Txn) error {
		return setJSON(txn, notificationKey(n), n)
	})
}

func (r *notificationRepository) ListByBusiness(_ context.Context, businessID string, limit int) ([]*domain.Notification, error) {
	var out []*domain.Notification
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = scanPrefix[domain.Notification](txn, "notif/"+businessID+"/")
		return err
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, 0), nil
}
