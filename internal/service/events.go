package service

import (
	"time"

	"github.com/google/uuid"

	"support_chat/internal/domain"
)

// Полезные нагрузки исходящих событий

type RoomCreatedEvent struct {
	Room  *domain.Room `json:"room"`
	Guest *domain.User `json:"guest"`
}

type NotificationEvent struct {
	RoomID  uuid.UUID  `json:"roomId"`
	Message string     `json:"message"`
	AgentID string     `json:"agentId,omitempty"`
	GuestID *uuid.UUID `json:"guestId,omitempty"`
}

type AgentJoinedEvent struct {
	AgentID string `json:"agentId"`
	Name    string `json:"name"`
}

type AgentStatusEvent struct {
	AgentID  string    `json:"agentId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

type OverrideEvent struct {
	RoomID  uuid.UUID `json:"roomId"`
	AgentID *string   `json:"agentId"`
}

type RoomClosedEvent struct {
	RoomID uuid.UUID `json:"roomId"`
}

type MessageFailedEvent struct {
	ID     string    `json:"id"`
	RoomID uuid.UUID `json:"roomId"`
	Reason string    `json:"reason"`
}

type TaggedEvent struct {
	RoomID  uuid.UUID       `json:"roomId"`
	Message *domain.Message `json:"message"`
}

type TypingEvent struct {
	RoomID     uuid.UUID `json:"roomId"`
	SenderType string    `json:"senderType"`
	Name       string    `json:"name"`
}

type ToggleAIEvent struct {
	RoomID      uuid.UUID `json:"roomId"`
	IsAIEnabled bool      `json:"isAIEnabled"`
}
