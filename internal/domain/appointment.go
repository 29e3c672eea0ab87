package domain

import (
	"time"

	"github.com/google/uuid"
)

// Appointment - визит, назначенный гостем через WhatsApp
type Appointment struct {
	ID          uuid.UUID `json:"id"`
	BusinessID  string    `json:"businessId"`
	GuestID     uuid.UUID `json:"guestId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Notes       string    `json:"notes"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (a *Appointment) TenantID() string {
	if a == nil {
		return ""
	}
	return a.BusinessID
}
