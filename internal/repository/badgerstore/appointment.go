package badgerstore

import (
	"context"
	"errors"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"support_chat/internal/domain"
	"support_chat/internal/repository"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type appointmentRepository struct {
	db  *badger.DB
	log logger.Logger
}

func NewAppointmentRepository(db *badger.DB, log logger.Logger) repository.AppointmentRepository {
	return &appointmentRepository{db: db, log: log}
}

func appointmentPrefix(guestID uuid.UUID) string { return "appt/" + guestID.String() + "/" }
func appointmentIdx(id uuid.UUID) string         { return "idx/appt/" + id.String() }

func (r *appointmentRepository) Create(_ context.Context, a *domain.Appointment) error {
	return update(r.db, func(txn *badger.Txn) error {
		key := appointmentPrefix(a.GuestID) + a.ID.String()
		if err := setJSON(txn, key, a); err != nil {
			return err
		}
		return txn.Set([]byte(appointmentIdx(a.ID)), []byte(key))
	})
}

func (r *appointmentRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Appointment, error) {
	a := &domain.Appointment{}
	err := r.db.View(func(txn *badger.Txn) error {
		key, err := getString(txn, appointmentIdx(id))
		if err != nil {
			return err
		}
		return getJSON(txn, key, a)
	})
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, notFound("appointment", id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *appointmentRepository) ListByGuest(_ context.Context, guestID uuid.UUID) ([]*domain.Appointment, error) {
	var out []*domain.Appointment
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = scanPrefix[domain.Appointment](txn, appointmentPrefix(guestID))
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out, nil
}
