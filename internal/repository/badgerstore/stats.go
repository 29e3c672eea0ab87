package badgerstore

import (
	"context"

	"github.com/dgraph-io/badger/v4"

	"support_chat/internal/domain"
	"support_chat/internal/repository"
	"support_chat/pkg/logger"
)

type statsRepository struct {
	db  *badger.DB
	log logger.Logger
}

func NewStatsRepository(db *badger.DB, log logger.Logger) repository.StatsRepository {
	return &statsRepository{db: db, log: log}
}

func (r *statsRepository) GetBusinessStats(_ context.Context, businessID string) (*domain.BusinessStats, error) {
	stats := &domain.BusinessStats{BusinessID: businessID}

	err := r.db.View(func(txn *badger.Txn) error {
		rooms, err := scanPrefix[domain.Room](txn, "room/")
		if err != nil {
			return err
		}
		for _, room := range rooms {
			if room.BusinessID != businessID {
				continue
			}
			// сообщения считаем по ключам, без декодирования
			stats.Messages += countKeys(txn, messagePrefix(room.ID))

			switch {
			case room.IsClosed():
				stats.ClosedRooms++
			case room.OverrideHolder() != "":
				stats.ActiveRooms++
				stats.OverriddenRooms++
			default:
				stats.ActiveRooms++
			}
		}

		presence, err := scanPrefix[domain.AgentPresence](txn, "presence/")
		if err != nil {
			return err
		}
		for _, p := range presence {
			if p.BusinessID == businessID && p.IsOnline {
				stats.AgentsOnline++
			}
		}
		return nil
	})
	if err != nil {
		r.log.Error("Failed to get business stats", "error", err, "business_id", businessID)
		return nil, err
	}

	return stats, nil
}

func countKeys(txn *badger.Txn, prefix string) int {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.ValidForPrefix(opts.Prefix); it.Next() {
		n++
	}
	return n
}
