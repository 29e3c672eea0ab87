package service

import (
	"context"
	"errors"
	"time"

	"support_chat/internal/domain"
	"support_chat/internal/metrics"
	"support_chat/internal/registry"
	"support_chat/internal/repository"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type PresenceService interface {
	// Auth переводит агента в online и регистрирует сессию.
	// Неизвестный агент - предупреждение и (nil, nil).
	Auth(ctx context.Context, agentID string, conn registry.Conn) (*domain.AgentPresence, error)
	Heartbeat(ctx context.Context, agentID string) (*domain.AgentPresence, error)
	// Disconnect снимает сессию; offline только когда живых сессий не осталось
	Disconnect(ctx context.Context, agentID string, conn registry.Conn) error
	// Sweep переводит в offline агентов без heartbeat дольше staleAfter
	Sweep(ctx context.Context) (int, error)
	List(ctx context.Context, businessID string) ([]*domain.AgentPresence, error)
}

type presenceService struct {
	userRepo     repository.UserRepository
	presenceRepo repository.PresenceRepository
	registry     *registry.Registry
	broadcaster  Broadcaster
	staleAfter   time.Duration
	now          func() time.Time
	log          logger.Logger
}

func NewPresenceService(repos *repository.Repositories, reg *registry.Registry, broadcaster Broadcaster, staleAfter time.Duration, log logger.Logger) PresenceService {
	return &presenceService{
		userRepo:     repos.User,
		presenceRepo: repos.Presence,
		registry:     reg,
		broadcaster:  broadcaster,
		staleAfter:   staleAfter,
		now:          time.Now,
		log:          log,
	}
}

func (s *presenceService) Auth(ctx context.Context, agentID string, conn registry.Conn) (*domain.AgentPresence, error) {
	agent, err := s.lookupAgent(ctx, agentID, "auth")
	if agent == nil || err != nil {
		return nil, err
	}

	if conn != nil {
		s.registry.Register(agentID, conn)
		metrics.AgentsOnline.Set(float64(s.registry.Len()))
	}

	presence, changed, err := s.setStatus(ctx, agent, true)
	if err != nil {
		return nil, err
	}
	if changed {
		s.log.Info("Agent is online", "agent_id", agentID, "business_id", agent.BusinessID)
		s.publish(presence)
	}
	return presence, nil
}

func (s *presenceService) Heartbeat(ctx context.Context, agentID string) (*domain.AgentPresence, error) {
	agent, err := s.lookupAgent(ctx, agentID, "heartbeat")
	if agent == nil || err != nil {
		return nil, err
	}

	presence, _, err := s.setStatus(ctx, agent, true)
	if err != nil {
		return nil, err
	}
	s.publish(presence)
	return presence, nil
}

func (s *presenceService) Disconnect(ctx context.Context, agentID string, conn registry.Conn) error {
	if agentID == "" {
		return nil
	}
	if conn != nil {
		remaining := s.registry.Unregister(agentID, conn)
		metrics.AgentsOnline.Set(float64(s.registry.Len()))
		if remaining > 0 {
			s.log.Debug("Agent still has live sessions", "agent_id", agentID, "sessions", remaining)
			return nil
		}
	}

	agent, err := s.lookupAgent(ctx, agentID, "disconnect")
	if agent == nil || err != nil {
		return err
	}

	presence, changed, err := s.setStatus(ctx, agent, false)
	if err != nil {
		return err
	}
	if changed {
		s.log.Info("Agent is offline", "agent_id", agentID, "business_id", agent.BusinessID)
		s.publish(presence)
	}
	return nil
}

func (s *presenceService) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)

	demoted, err := s.presenceRepo.MarkStale(ctx, cutoff)
	if err != nil {
		s.log.Error("Presence sweep failed", "error", err, "cutoff", cutoff)
		return 0, err
	}

	for _, p := range demoted {
		s.log.Info("Stale agent marked offline", "agent_id", p.AgentID, "business_id", p.BusinessID, "last_seen", p.LastSeen)
		s.publish(p)
	}
	metrics.PresenceSweepDemoted.Add(float64(len(demoted)))
	return len(demoted), nil
}

func (s *presenceService) List(ctx context.Context, businessID string) ([]*domain.AgentPresence, error) {
	if businessID == "" {
		return nil, apperrors.ErrInvalidInput
	}
	return s.presenceRepo.ListByBusiness(ctx, businessID)
}

// lookupAgent: (nil, nil) для неизвестного агента, т.к. строки присутствия создаются лениво
func (s *presenceService) lookupAgent(ctx context.Context, agentID, op string) (*domain.User, error) {
	if agentID == "" {
		return nil, apperrors.ErrInvalidInput
	}
	agent, err := s.userRepo.GetByAgentID(ctx, agentID)
	if errors.Is(err, apperrors.ErrNotFound) {
		s.log.Warn("Presence update for unknown agent", "agent_id", agentID, "op", op)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

func (s *presenceService) setStatus(ctx context.Context, agent *domain.User, online bool) (*domain.AgentPresence, bool, error) {
	presence := &domain.AgentPresence{
		AgentID:    agent.AgentIdentifier(),
		BusinessID: agent.BusinessID,
		IsOnline:   online,
		LastSeen:   s.now(),
	}
	changed, err := s.presenceRepo.SetStatus(ctx, presence)
	if err != nil {
		return nil, false, err
	}
	return presence, changed, nil
}

func (s *presenceService) publish(p *domain.AgentPresence) {
	s.broadcaster.ToAgents(p.BusinessID, domain.EventAgentStatus, AgentStatusEvent{
		AgentID:  p.AgentID,
		IsOnline: p.IsOnline,
		LastSeen: p.LastSeen,
	})
}
