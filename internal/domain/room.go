package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type Room struct {
	ID              uuid.UUID  `json:"id"`
	BusinessID      string     `json:"businessId"`
	Name            *string    `json:"name,omitempty"`
	GuestID         *uuid.UUID `json:"guestId,omitempty"`
	ActiveAgents    []string   `json:"activeAgents"`
	CurrentOverride *string    `json:"currentOverride"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

const (
	RoomStatusActive = "active"
	RoomStatusClosed = "closed"
)

// GlobalAgentRoomName - общая комната-лобби агентов одного тенанта
const GlobalAgentRoomName = "agents"

func (r *Room) TenantID() string {
	if r == nil {
		return ""
	}
	return r.BusinessID
}

func (r *Room) IsClosed() bool {
	return r.Status == RoomStatusClosed
}

func (r *Room) HasAgent(agentID string) bool {
	return slices.Contains(r.ActiveAgents, agentID)
}

// OverrideHolder возвращает агента, держащего override, или пустую строку
func (r *Room) OverrideHolder() string {
	if r == nil || r.CurrentOverride == nil {
		return ""
	}
	return *r.CurrentOverride
}
