package domain

import (
	"time"

	"github.com/google/uuid"
)

type Notification struct {
	ID          uuid.UUID  `json:"id"`
	BusinessID  string     `json:"businessId"`
	RoomID      *uuid.UUID `json:"roomId,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	CreatedAt   time.Time  `json:"createdAt"`
}

const (
	NotificationPriorityLow    = "LOW"
	NotificationPriorityMedium = "MEDIUM"
	NotificationPriorityHigh   = "HIGH"
)

func (n *Notification) TenantID() string {
	if n == nil {
		return ""
	}
	return n.BusinessID
}
