package badgerstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"support_chat/internal/domain"
	"support_chat/internal/repository"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type userRepository struct {
	db  *badger.DB
	log logger.Logger
}

func NewUserRepository(db *badger.DB, log logger.Logger) repository.UserRepository {
	return &userRepository{db: db, log: log}
}

func userKey(id uuid.UUID) string        { return "user/" + id.String() }
func userAgentIdx(agentID string) string { return "idx/user/agent/" + agentID }
func userEmailIdx(businessID, email string) string {
	return "idx/user/email/" + businessID + "/" + email
}

func (r *userRepository) Create(_ context.Context, user *domain.User) error {
	err := update(r.db, func(txn *badger.Txn) error {
		if user.Email != nil {
			taken, err := exists(txn, userEmailIdx(user.BusinessID, *user.Email))
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("user email: %w", apperrors.ErrAlreadyExists)
			}
			if err := txn.Set([]byte(userEmailIdx(user.BusinessID, *user.Email)), []byte(user.ID.String())); err != nil {
				return err
			}
		}
		if user.AgentID != nil {
			taken, err := exists(txn, userAgentIdx(*user.AgentID))
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("user agent id: %w", apperrors.ErrAlreadyExists)
			}
			if err := txn.Set([]byte(userAgentIdx(*user.AgentID)), []byte(user.ID.String())); err != nil {
				return err
			}
		}
		return setJSON(txn, userKey(user.ID), user)
	})
	if err != nil && !errors.Is(err, apperrors.ErrAlreadyExists) {
		r.log.Error("Failed to create user", "error", err, "business_id", user.BusinessID)
	}
	return err
}

func (r *userRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	user := &domain.User{}
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(id), user)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, notFound("user", id)
		}
		return nil, err
	}
	return user, nil
}

func (r *userRepository) GetByAgentID(ctx context.Context, agentID string) (*domain.User, error) {
	return r.byIndex(userAgentIdx(agentID))
}

func (r *userRepository) GetByEmail(ctx context.Context, businessID, email string) (*domain.User, error) {
	return r.byIndex(userEmailIdx(businessID, email))
}

func (r *userRepository) byIndex(idx string) (*domain.User, error) {
	user := &domain.User{}
	err := r.db.View(func(txn *badger.Txn) error {
		id, err := getString(txn, idx)
		if err != nil {
			return err
		}
		return getJSON(txn, "user/"+id, user)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, notFound("user", idx)
		}
		return nil, err
	}
	return user, nil
}
