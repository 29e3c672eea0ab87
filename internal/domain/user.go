package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID         uuid.UUID `json:"id"`
	BusinessID string    `json:"businessId"`
	Name       string    `json:"name"`
	Email      *string   `json:"email,omitempty"`
	AgentID    *string   `json:"agentId,omitempty"`
	Role       string    `json:"role"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

const (
	UserRoleGuest = "guest"
	UserRoleAgent = "agent"
	UserRoleAdmin = "admin"
)

func (u *User) TenantID() string {
	if u == nil {
		return ""
	}
	return u.BusinessID
}

func (u *User) IsAgent() bool {
	return u != nil && u.AgentID != nil && (u.Role == UserRoleAgent || u.Role == UserRoleAdmin)
}

// AgentIdentifier возвращает agentId или пустую строку
func (u *User) AgentIdentifier() string {
	if u == nil || u.AgentID == nil {
		return ""
	}
	return *u.AgentID
}
