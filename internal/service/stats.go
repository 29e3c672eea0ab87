package service

import (
	"context"
	"fmt"
	"time"

	"support_chat/internal/domain"
	"support_chat/internal/repository"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/logger"
)

type StatsService interface {
	GetBusinessStats(ctx context.Context, businessID string) (*domain.BusinessStats, error)
}

type statsService struct {
	statsRepo repository.StatsRepository
	log       logger.Logger
}

func NewStatsService(statsRepo repository.StatsRepository, log logger.Logger) StatsService {
	return &statsService{
		statsRepo: statsRepo,
		log:       log,
	}
}

func (s *statsService) GetBusinessStats(ctx context.Context, businessID string) (*domain.BusinessStats, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessId is required", apperrors.ErrInvalidInput)
	}

	stats, err := s.statsRepo.GetBusinessStats(ctx, businessID)
	if err != nil {
		return nil, err
	}
	stats.GeneratedAt = time.Now().UTC()
	return stats, nil
}
