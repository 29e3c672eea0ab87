package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"support_chat/internal/domain"
	"support_chat/pkg/logger"
)

const (
	// Префиксы ключей Redis
	RoomMessagesKeyPrefix = "chat:room:%s:messages"
	RoomWarmKeyPrefix     = "chat:room:%s:warm"
)

// MessageCacheRepository - кэш последних сообщений комнаты в Redis (sorted set).
// Источник истины - основное хранилище; кэш только ускоряет выдачу бэклога при joinRoom.
// Окно считается полным только после Fill: до этого Recent возвращает промах.
type MessageCacheRepository interface {
	// Append дописывает сохраненное сообщение в окно комнаты
	Append(ctx context.Context, message *domain.Message) error
	// Recent возвращает последние limit сообщений в хронологическом порядке; hit=false при промахе
	Recent(ctx context.Context, roomID uuid.UUID, limit int) (messages []*domain.Message, hit bool, err error)
	// Fill объединяет окно со снимком из хранилища и помечает его полным
	Fill(ctx context.Context, roomID uuid.UUID, messages []*domain.Message) error
}

type messageCacheRepository struct {
	rdb  *redis.Client
	size int
	ttl  time.Duration
	log  logger.Logger
}

func NewMessageCacheRepository(rdb *redis.Client, size int, ttl time.Duration, log logger.Logger) MessageCacheRepository {
	return &messageCacheRepository{
		rdb:  rdb,
		size: size,
		ttl:  ttl,
		log:  log,
	}
}

func (r *messageCacheRepository) key(roomID uuid.UUID) string {
	return fmt.Sprintf(RoomMessagesKeyPrefix, roomID.String())
}

func (r *messageCacheRepository) warmKey(roomID uuid.UUID) string {
	return fmt.Sprintf(RoomWarmKeyPrefix, roomID.String())
}

// Append пишет и в холодное окно: сообщение, сохраненное между снимком и Fill,
// не должно потеряться
func (r *messageCacheRepository) Append(ctx context.Context, message *domain.Message) error {
	member, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := r.key(message.RoomID)
	pipe := r.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score(message), Member: member})
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-r.size-1))
	pipe.Expire(ctx, key, r.ttl)
	pipe.Expire(ctx, r.warmKey(message.RoomID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("Failed to append message to cache", "error", err, "room_id", message.RoomID)
		return fmt.Errorf("append to cache: %w", err)
	}

	return nil
}

func (r *messageCacheRepository) Recent(ctx context.Context, roomID uuid.UUID, limit int) ([]*domain.Message, bool, error) {
	if limit <= 0 || limit > r.size {
		limit = r.size
	}

	pipe := r.rdb.Pipeline()
	warm := pipe.Exists(ctx, r.warmKey(roomID))
	// Окно целиком (от новых к старым): дубли убираются до отсечения по limit
	rng := pipe.ZRevRange(ctx, r.key(roomID), 0, int64(r.size-1))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		r.log.Error("Failed to get messages from Redis", "error", err, "room_id", roomID)
		return nil, false, fmt.Errorf("failed to get messages: %w", err)
	}
	if warm.Val() == 0 {
		return nil, false, nil
	}

	raw := rng.Val()
	messages := make([]*domain.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m domain.Message
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			r.log.Warn("Failed to unmarshal cached message", "error", err)
			continue
		}
		messages = append(messages, &m)
	}

	// Одно сообщение может попасть и из снимка, и из Append
	messages = lo.UniqBy(messages, func(m *domain.Message) string { return m.ID })
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, true, nil
}

func (r *messageCacheRepository) Fill(ctx context.Context, roomID uuid.UUID, messages []*domain.Message) error {
	start := 0
	if len(messages) > r.size {
		start = len(messages) - r.size
	}

	members := make([]redis.Z, 0, len(messages)-start)
	for _, m := range messages[start:] {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		members = append(members, redis.Z{Score: score(m), Member: data})
	}

	key := r.key(roomID)
	pipe := r.rdb.TxPipeline()
	// Без DEL: сообщения, дописанные после снимка, остаются в окне
	if len(members) > 0 {
		pipe.ZAdd(ctx, key, members...)
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-r.size-1))
		pipe.Expire(ctx, key, r.ttl)
	}
	pipe.Set(ctx, r.warmKey(roomID), 1, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("Failed to fill message cache", "error", err, "room_id", roomID)
		return fmt.Errorf("fill cache: %w", err)
	}

	return nil
}

func score(m *domain.Message) float64 {
	return float64(m.Timestamp.UnixMilli())
}
