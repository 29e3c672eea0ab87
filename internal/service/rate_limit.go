package service

import (
	"context"
	"fmt"

	"support_chat/internal/domain"
	"support_chat/internal/metrics"
	"support_chat/internal/repository"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type RateLimitService interface {
	// Allow учитывает запрос и возвращает ErrRateLimited при превышении правила
	Allow(ctx context.Context, rule domain.RateLimitRule, key string) error
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	log           logger.Logger
}

// NewRateLimitService: при nil-репозитории (Redis выключен) лимиты не применяются
func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		log:           log,
	}
}

func (s *rateLimitService) Allow(ctx context.Context, rule domain.RateLimitRule, key string) error {
	if s.rateLimitRepo == nil || rule.Limit <= 0 {
		return nil
	}

	fullKey := rule.Scope + ":" + key
	count, err := s.rateLimitRepo.Increment(ctx, fullKey, rule.Window)
	if err != nil {
		// недоступный Redis не должен блокировать трафик
		s.log.Warn("Rate limit check skipped", "error", err, "scope", rule.Scope)
		return nil
	}

	if count > int64(rule.Limit) {
		metrics.RateLimitHits.WithLabelValues(rule.Scope).Inc()
		return fmt.Errorf("%w: %s", apperrors.ErrRateLimited, rule.Scope)
	}
	return nil
}
