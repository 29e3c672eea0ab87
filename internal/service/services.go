package service

import (
	"support_chat/internal/config"
	"support_chat/internal/registry"
	"support_chat/internal/repository"
	"support_chat/pkg/logger"
)

type Services struct {
	Room       RoomService
	Presence   PresenceService
	Message    MessageService
	WhatsApp   WhatsAppService
	AgentToken AgentTokenService
	RateLimit  RateLimitService
	Audit      AuditService
	Stats      StatsService
}

// Deps - внешние участники, которые собираются в main
type Deps struct {
	Registry    *registry.Registry
	Broadcaster Broadcaster
	Notifier    Notifier
	Responder   Responder
}

func NewServices(repos *repository.Repositories, deps Deps, cfg *config.Config, log logger.Logger) *Services {
	audit := NewAuditService(repos.Audit, log)
	rooms := NewRoomService(repos, audit, deps.Broadcaster, log)
	messages := NewMessageService(repos, audit, deps.Broadcaster, cfg.Messages, log)

	return &Services{
		Room:       rooms,
		Presence:   NewPresenceService(repos, deps.Registry, deps.Broadcaster, cfg.Presence.StaleAfter, log),
		Message:    messages,
		WhatsApp:   NewWhatsAppService(rooms, messages, repos.User, repos.Appointment, audit, deps.Notifier, deps.Responder, cfg.WhatsApp, log),
		AgentToken: NewAgentTokenService(cfg.AgentAuth, log),
		RateLimit:  NewRateLimitService(repos.RateLimit, log),
		Audit:      audit,
		Stats:      NewStatsService(repos.Stats, log),
	}
}
