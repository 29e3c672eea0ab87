package service

import (
	"errors"
	"fmt"
	"time"

	"support_chat/internal/config"
	"support_chat/internal/domain"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/jwt"
	"support_chat/pkg/logger"
)

type AgentToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type AgentTokenService interface {
	// Enabled - false, если секрет не задан и токены не проверяются
	Enabled() bool
	Issue(agent *domain.User) (*AgentToken, error)
	Verify(token string) (*jwt.AgentClaims, error)
	// Authorize сверяет токен с заявленными agentId и businessId
	Authorize(token, agentID, businessID string) error
}

type agentTokenService struct {
	cfg config.AgentAuthConfig
	log logger.Logger
}

func NewAgentTokenService(cfg config.AgentAuthConfig, log logger.Logger) AgentTokenService {
	return &agentTokenService{cfg: cfg, log: log}
}

func (s *agentTokenService) Enabled() bool {
	return s.cfg.Secret != ""
}

func (s *agentTokenService) Issue(agent *domain.User) (*AgentToken, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("%w: agent tokens are disabled", apperrors.ErrForbidden)
	}
	if !agent.IsAgent() {
		return nil, fmt.Errorf("%w: user is not an agent", apperrors.ErrInvalidInput)
	}

	expiresAt := time.Now().Add(s.cfg.TTL)
	token, err := jwt.GenerateAgentToken(agent.AgentIdentifier(), agent.BusinessID, agent.Name, s.cfg.Secret, s.cfg.Issuer, s.cfg.TTL)
	if err != nil {
		s.log.Error("Failed to sign agent token", "error", err, "agent_id", agent.AgentIdentifier())
		return nil, err
	}
	return &AgentToken{Token: token, ExpiresAt: expiresAt}, nil
}

func (s *agentTokenService) Verify(token string) (*jwt.AgentClaims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", apperrors.ErrUnauthorized)
	}
	claims, err := jwt.ValidateAgentToken(token, s.cfg.Secret)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", apperrors.ErrInvalidToken)
		}
		return nil, apperrors.ErrInvalidToken
	}
	return claims, nil
}

func (s *agentTokenService) Authorize(token, agentID, businessID string) error {
	if !s.Enabled() {
		return nil
	}
	claims, err := s.Verify(token)
	if err != nil {
		return err
	}
	if claims.AgentID != agentID {
		s.log.Warn("Agent token issued for another agent", "agent_id", agentID, "token_agent_id", claims.AgentID)
		return fmt.Errorf("%w: token does not match agent", apperrors.ErrUnauthorized)
	}
	if businessID != "" && claims.BusinessID != businessID {
		return fmt.Errorf("agent %s: %w", agentID, apperrors.ErrTenantMismatch)
	}
	return nil
}
