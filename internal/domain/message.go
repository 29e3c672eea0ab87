package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message неизменяемо после создания. ID - ULID, монотонный внутри процесса.
type Message struct {
	ID           string     `json:"id"`
	RoomID       uuid.UUID  `json:"roomId"`
	BusinessID   string     `json:"businessId"`
	SenderType   string     `json:"senderType"`
	SenderID     *uuid.UUID `json:"senderId,omitempty"`
	Content      string     `json:"content"`
	TaggedAgents []string   `json:"taggedAgents"`
	Timestamp    time.Time  `json:"timestamp"`
}

const (
	SenderTypeGuest  = "guest"
	SenderTypeAgent  = "agent"
	SenderTypeAI     = "ai"
	SenderTypeSystem = "system"
)

func (m *Message) TenantID() string {
	if m == nil {
		return ""
	}
	return m.BusinessID
}

// Before задает порядок чтения истории: (timestamp, id)
func (m *Message) Before(other *Message) bool {
	if m.Timestamp.Equal(other.Timestamp) {
		return m.ID < other.ID
	}
	return m.Timestamp.Before(other.Timestamp)
}
