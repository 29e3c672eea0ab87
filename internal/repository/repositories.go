package repository

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"support_chat/pkg/logger"
)

type Repositories struct {
	Business     BusinessRepository
	User         UserRepository
	Room         RoomRepository
	Message      MessageRepository
	Presence     PresenceRepository
	Notification NotificationRepository
	Appointment  AppointmentRepository
	Audit        AuditRepository
	Stats        StatsRepository

	// Redis-зависимые, nil при REDIS_ENABLED=false
	MessageCache MessageCacheRepository
	RateLimit    RateLimitRepository
}

func NewRepositories(db *pgxpool.Pool, log logger.Logger) *Repositories {
	return &Repositories{
		Business:     NewBusinessRepository(db, log),
		User:         NewUserRepository(db, log),
		Room:         NewRoomRepository(db, log),
		Message:      NewMessageRepository(db, log),
		Presence:     NewPresenceRepository(db, log),
		Notification: NewNotificationRepository(db, log),
		Appointment:  NewAppointmentRepository(db, log),
		Audit:        NewAuditRepository(db, log),
		Stats:        NewStatsRepository(db, log),
	}
}

// WithRedis подключает кэш сообщений и rate limit поверх Redis
func (r *Repositories) WithRedis(rdb *redis.Client, cacheSize int, cacheTTL time.Duration, log logger.Logger) *Repositories {
	if rdb == nil {
		return r
	}
	r.MessageCache = NewMessageCacheRepository(rdb, cacheSize, cacheTTL, log)
	r.RateLimit = NewRateLimitRepository(rdb, log)
	log.Info("Redis-backed repositories initialized")
	return r
}
