package domain

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID         int64          `json:"id"`
	EventTime  time.Time      `json:"eventTime"`
	BusinessID string         `json:"businessId"`
	ActorID    string         `json:"actorId,omitempty"`
	ActorRole  string         `json:"actorRole"`
	RoomID     *uuid.UUID     `json:"roomId,omitempty"`
	EventType  string         `json:"eventType"`
	Payload    map[string]any `json:"payload"`
}

const (
	ActorRoleGuest  = "guest"
	ActorRoleAgent  = "agent"
	ActorRoleSystem = "system"
)

const (
	EventTypeRoomCreated       = "ROOM_CREATED"
	EventTypeRoomClosed        = "ROOM_CLOSED"
	EventTypeAgentJoined       = "AGENT_JOINED"
	EventTypeOverrideAcquired  = "OVERRIDE_ACQUIRED"
	EventTypeOverrideReleased  = "OVERRIDE_RELEASED"
	EventTypePersistenceFailed = "PERSISTENCE_FAILED"
	EventTypeDeliveryFailed    = "DELIVERY_FAILED"
)
