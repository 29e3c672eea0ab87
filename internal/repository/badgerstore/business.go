package badgerstore

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"support_chat/internal/domain"
	"support_chat/internal/repository"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type businessRepository struct {
	db  *badger.DB
	log logger.Logger
}

func NewBusinessRepository(db *badger.DB, log logger.Logger) repository.BusinessRepository {
	return &businessRepository{db: db, log: log}
}

func businessKey(id string) string { return "biz/" + id }

func (r *businessRepository) CreateIfAbsent(_ context.Context, business *domain.Business) (*domain.Business, error) {
	out := &domain.Business{}
	err := update(r.db, func(txn *badger.Txn) error {
		err := getJSON(txn, businessKey(business.ID), out)
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		*out = *business
		return setJSON(txn, businessKey(business.ID), business)
	})
	if err != nil {
		r.log.Error("Failed to ensure business", "error", err, "business_id", business.ID)
		return nil, err
	}
	return out, nil
}

func (r *businessRepository) GetByID(_ context.Context, id string) (*domain.Business, error) {
	out := &domain.Business{}
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, businessKey(id), out)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, notFound("business", id)
		}
		return nil, err
	}
	return out, nil
}
