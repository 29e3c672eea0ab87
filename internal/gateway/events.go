package gateway

import (
	"encoding/json"

	"github.com/google/uuid"

	"support_chat/internal/domain"
)

// Envelope - входящий кадр клиента
type Envelope struct {
	Event string          `json:"event"`
	Ack   string          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame - исходящий кадр. Для ответов Event = "ack".
type Frame struct {
	Event string `json:"event"`
	Ack   string `json:"ack,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func roomChannel(roomID uuid.UUID) string    { return "room:" + roomID.String() }
func agentsChannel(businessID string) string { return "agents:" + businessID }

type guestJoinPayload struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	BusinessID string `json:"businessId"`
}

type guestJoinReply struct {
	RoomID  uuid.UUID `json:"roomId"`
	GuestID uuid.UUID `json:"guestId"`
}

type agentLoginPayload struct {
	Name       string `json:"name"`
	AgentID    string `json:"agentId"`
	BusinessID string `json:"businessId"`
	Token      string `json:"token,omitempty"`
}

type agentLoginReply struct {
	AgentID      string    `json:"agentId"`
	Name         string    `json:"name"`
	GlobalRoomID uuid.UUID `json:"globalRoomId"`
}

type joinRoomPayload struct {
	RoomID     uuid.UUID  `json:"roomId"`
	AgentID    string     `json:"agentId,omitempty"`
	GuestID    *uuid.UUID `json:"guestId,omitempty"`
	BusinessID string     `json:"businessId"`
}

type joinRoomReply struct {
	Success      bool              `json:"success"`
	ActiveAgents []string          `json:"activeAgents"`
	Messages     []*domain.Message `json:"messages"`
}

type roomPayload struct {
	RoomID     uuid.UUID `json:"roomId"`
	BusinessID string    `json:"businessId,omitempty"`
}

type sendMessagePayload struct {
	RoomID       uuid.UUID `json:"roomId"`
	SenderType   string    `json:"senderType"`
	SenderID     string    `json:"senderId,omitempty"`
	Content      string    `json:"content"`
	TaggedAgents []string  `json:"taggedAgents,omitempty"`
	BusinessID   string    `json:"businessId"`
}

type authMessagePayload struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId"`
	Token   string `json:"token,omitempty"`
}

type typingPayload struct {
	RoomID     uuid.UUID `json:"roomId"`
	Name       string    `json:"name"`
	BusinessID string    `json:"businessId"`
}

type toggleAIPayload struct {
	RoomID      uuid.UUID `json:"roomId"`
	IsAIEnabled bool      `json:"isAIEnabled"`
	BusinessID  string    `json:"businessId"`
}

type roomHistoryPayload struct {
	RoomID     uuid.UUID `json:"roomId"`
	BusinessID string    `json:"businessId"`
	Limit      int       `json:"limit,omitempty"`
	Offset     int       `json:"offset,omitempty"`
}

type successReply struct {
	Success bool `json:"success"`
}
