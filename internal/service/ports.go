//go:generate go run go.uber.org/mock/mockgen -source=ports.go -destination=../mocks/mock_ports.go -package=mocks
package service

import (
	"context"

	"github.com/google/uuid"
)

// Broadcaster рассылает события подписчикам realtime-канала.
// Аудитория события всегда ограничена комнатой, тенантом или конкретным агентом.
type Broadcaster interface {
	// ToRoom - всем подписчикам комнаты, кроме сессии exceptConnID (если задана)
	ToRoom(roomID uuid.UUID, event string, payload any, exceptConnID string)
	// ToAgents - всем агентам тенанта
	ToAgents(businessID string, event string, payload any)
	// ToAgent - во все сессии агента; возвращает число доставок
	ToAgent(agentID string, event string, payload any) int
}

// Notifier доставляет сообщения во внешний канал (WhatsApp)
type Notifier interface {
	Send(ctx context.Context, to, body string) error
}

// ReplyRequest - запрос к AI-ассистенту
type ReplyRequest struct {
	BusinessID string
	Email      string
	Message    string
}

// Responder получает ответ AI-ассистента
type Responder interface {
	Reply(ctx context.Context, req ReplyRequest) (string, error)
}
