package badgerstore

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"support_chat/internal/domain"
	"support_chat/internal/repository"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type presenceRepository struct {
	db  *badger.DB
	log logger.Logger
}

func NewPresenceRepository(db *badger.DB, log logger.Logger) repository.PresenceRepository {
	return &presenceRepository{db: db, log: log}
}

func presenceKey(agentID string) string { return "presence/" + agentID }

func (r *presenceRepository) SetStatus(_ context.Context, p *domain.AgentPresence) (bool, error) {
	var changed bool
	err := update(r.db, func(txn *badger.Txn) error {
		prev := &domain.AgentPresence{}
		err := getJSON(txn, presenceKey(p.AgentID), prev)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			changed = p.IsOnline
		case err != nil:
			return err
		default:
			changed = prev.IsOnline != p.IsOnline
		}
		return setJSON(txn, presenceKey(p.AgentID), p)
	})
	if err != nil {
		r.log.Error("Failed to set presence", "error", err, "agent_id", p.AgentID)
		return false, err
	}
	return changed, nil
}

func (r *presenceRepository) MarkStale(_ context.Context, cutoff time.Time) ([]*domain.AgentPresence, error) {
	var demoted []*domain.AgentPresence
	err := update(r.db, func(txn *badger.Txn) error {
		demoted = nil
		all, err := scanPrefix[domain.AgentPresence](txn, "presence/")
		if err != nil {
			return err
		}
		for _, p := range all {
			if !p.IsOnline || !p.LastSeen.Before(cutoff) {
				continue
			}
			p.IsOnline = false
			if err := setJSON(txn, presenceKey(p.AgentID), p); err != nil {
				return err
			}
			demoted = append(demoted, p)
		}
		return nil
	})
	if err != nil {
		r.log.Error("Failed to mark stale agents", "error", err)
		return nil, err
	}
	return demoted, nil
}

func (r *presenceRepository) Get(_ context.Context, agentID string) (*domain.AgentPresence, error) {
	p := &domain.AgentPresence{}
	err := r.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, presenceKey(agentID), p)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, notFound("presence", agentID)
		}
		return nil, err
	}
	return p, nil
}

func (r *presenceRepository) ListByBusiness(_ context.Context, businessID string) ([]*domain.AgentPresence, error) {
	var out []*domain.AgentPresence
	err := r.db.View(func(txn *badger.Txn) error {
		all, err := scanPrefix[domain.AgentPresence](txn, "presence/")
		if err != nil {
			return err
		}
		out = lo.Filter(all, func(p *domain.AgentPresence, _ int) bool {
			return p.BusinessID == businessID
		})
		return nil
	})
	return out, err
}
