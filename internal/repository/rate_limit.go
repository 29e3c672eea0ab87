package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"support_chat/pkg/logger"
)

const rateLimitKeyPrefix = "ratelimit:"

// RateLimitRepository - счетчики фиксированного окна в Redis
type RateLimitRepository interface {
	// Increment учитывает запрос и возвращает число запросов в текущем окне
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

type rateLimitRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewRateLimitRepository(redis *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: redis, log: log}
}

func (r *rateLimitRepository) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := rateLimitKeyPrefix + key

	var incr *redis.IntCmd
	// INCR и EXPIRE NX атомарно: окно открывает первый запрос и не продлевают следующие
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, fullKey)
		pipe.ExpireNX(ctx, fullKey, window)
		return nil
	})
	if err != nil {
		r.log.Error("Failed to increment rate limit", "error", err, "key", key)
		return 0, err
	}

	return incr.Val(), nil
}
