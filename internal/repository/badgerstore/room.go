package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"support_chat/internal/domain"
	"support_chat/internal/repository"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type roomRepository struct {
	db  *badger.DB
	log logger.Logger
}

func NewRoomRepository(db *badger.DB, log logger.Logger) repository.RoomRepository {
	return &roomRepository{db: db, log: log}
}

func roomKey(id uuid.UUID) string { return "room/" + id.String() }

func roomGuestIdx(guestID uuid.UUID) string { return "idx/room/guest/" + guestID.String() }

func roomNameIdx(businessID, name string) string { return "idx/room/name/" + businessID + "/" + name }

func (r *roomRepository) Create(_ context.Context, room *domain.Room) error {
	return update(r.db, func(txn *badger.Txn) error {
		if room.Name != nil {
			taken, err := exists(txn, roomNameIdx(room.BusinessID, *room.Name))
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("room name: %w", apperrors.ErrAlreadyExists)
			}
			if err := txn.Set([]byte(roomNameIdx(room.BusinessID, *room.Name)), []byte(room.ID.String())); err != nil {
				return err
			}
		}
		return setJSON(txn, roomKey(room.ID), normalizeRoom(room))
	})
}

func (r *roomRepository) CreateGuestRoom(_ context.Context, room *domain.Room, notification *domain.Notification) error {
	if room.GuestID == nil {
		return fmt.Errorf("guest room without guest: %w", apperrors.ErrInvalidInput)
	}
	return update(r.db, func(txn *badger.Txn) error {
		taken, err := exists(txn, roomGuestIdx(*room.GuestID))
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("guest room: %w", apperrors.ErrAlreadyExists)
		}
		if err := txn.Set([]byte(roomGuestIdx(*room.GuestID)), []byte(room.ID.String())); err != nil {
			return err
		}
		if err := setJSON(txn, roomKey(room.ID), normalizeRoom(room)); err != nil {
			return err
		}
		if notification != nil {
			return setJSON(txn, notificationKey(notification), notification)
		}
		return nil
	})
}

func (r *roomRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Room, error) {
	var room *domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		room, err = loadRoom(txn, id)
		return err
	})
	return room, err
}

func (r *roomRepository) GetActiveByGuest(_ context.Context, guestID uuid.UUID) (*domain.Room, error) {
	return r.byIndex(roomGuestIdx(guestID))
}

func (r *roomRepository) GetByName(_ context.Context, businessID, name string) (*domain.Room, error) {
	return r.byIndex(roomNameIdx(businessID, name))
}

func (r *roomRepository) byIndex(idx string) (*domain.Room, error) {
	var room *domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		id, err := getString(txn, idx)
		if err != nil {
			return notFound("room", idx)
		}
		room, err = loadRoom(txn, uuid.MustParse(id))
		return err
	})
	return room, err
}

func (r *roomRepository) List(_ context.Context, businessID, status string, limit, offset int) ([]*domain.Room, error) {
	var rooms []*domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		all, err := scanPrefix[domain.Room](txn, "room/")
		if err != nil {
			return err
		}
		rooms = lo.Filter(all, func(room *domain.Room, _ int) bool {
			return room.BusinessID == businessID && (status == "" || room.Status == status)
		})
		return nil
	})
	if err != nil {
		r.log.Error("Failed to list rooms", "error", err, "business_id", businessID)
		return nil, err
	}

	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
	})
	return page(rooms, limit, offset), nil
}

func (r *roomRepository) AddActiveAgent(_ context.Context, roomID uuid.UUID, agentID string) ([]string, error) {
	var agents []string
	err := r.mutate(roomID, func(room *domain.Room) error {
		if room.IsClosed() {
			return fmt.Errorf("room %s: %w", roomID, apperrors.ErrRoomClosed)
		}
		if !room.HasAgent(agentID) {
			room.ActiveAgents = append(room.ActiveAgents, agentID)
		}
		agents = append([]string(nil), room.ActiveAgents...)
		return nil
	})
	return agents, err
}

func (r *roomRepository) AcquireOverride(_ context.Context, roomID uuid.UUID, agentID string) (*domain.Room, error) {
	var out *domain.Room
	err := r.mutate(roomID, func(room *domain.Room) error {
		if room.IsClosed() {
			return fmt.Errorf("room %s: %w", roomID, apperrors.ErrRoomClosed)
		}
		if holder := room.OverrideHolder(); holder != "" && holder != agentID {
			return fmt.Errorf("room %s held by %s: %w", roomID, holder, apperrors.ErrOverrideHeld)
		}
		room.CurrentOverride = lo.ToPtr(agentID)
		if !room.HasAgent(agentID) {
			room.ActiveAgents = append(room.ActiveAgents, agentID)
		}
		out = room
		return nil
	})
	return out, err
}

func (r *roomRepository) ReleaseOverride(_ context.Context, roomID uuid.UUID, agentID string) (*domain.Room, error) {
	var out *domain.Room
	err := r.mutate(roomID, func(room *domain.Room) error {
		if room.OverrideHolder() != agentID {
			return fmt.Errorf("room %s: %w", roomID, apperrors.ErrNotOverriding)
		}
		room.CurrentOverride = nil
		out = room
		return nil
	})
	return out, err
}

func (r *roomRepository) Close(_ context.Context, roomID uuid.UUID) (*domain.Room, bool, error) {
	var (
		out     *domain.Room
		changed bool
	)
	err := update(r.db, func(txn *badger.Txn) error {
		room, err := loadRoom(txn, roomID)
		if err != nil {
			return err
		}
		out, changed = room, false
		if room.IsClosed() {
			return nil
		}

		room.Status = domain.RoomStatusClosed
		room.CurrentOverride = nil
		room.UpdatedAt = time.Now()
		if room.GuestID != nil {
			// гость может открыть новую комнату после закрытия
			if err := txn.Delete([]byte(roomGuestIdx(*room.GuestID))); err != nil {
				return err
			}
		}
		changed = true
		return setJSON(txn, roomKey(room.ID), room)
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

// mutate - read-modify-write комнаты в одной транзакции.
// Ошибка из fn откатывает изменения.
func (r *roomRepository) mutate(roomID uuid.UUID, fn func(room *domain.Room) error) error {
	err := update(r.db, func(txn *badger.Txn) error {
		room, err := loadRoom(txn, roomID)
		if err != nil {
			return err
		}
		if err := fn(room); err != nil {
			return err
		}
		room.UpdatedAt = time.Now()
		return setJSON(txn, roomKey(room.ID), room)
	})
	if err != nil && !isDomainError(err) {
		r.log.Error("Failed to update room", "error", err, "room_id", roomID)
	}
	return err
}

func loadRoom(txn *badger.Txn, id uuid.UUID) (*domain.Room, error) {
	room := &domain.Room{}
	if err := getJSON(txn, roomKey(id), room); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, notFound("room", id)
		}
		return nil, err
	}
	return normalizeRoom(room), nil
}

func normalizeRoom(room *domain.Room) *domain.Room {
	if room.ActiveAgents == nil {
		room.ActiveAgents = []string{}
	}
	return room
}

func isDomainError(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, apperrors.ErrRoomClosed) ||
		errors.Is(err, apperrors.ErrOverrideHeld) ||
		errors.Is(err, apperrors.ErrNotOverriding)
}
