package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"support_chat/internal/config"
	"support_chat/internal/gateway"
	"support_chat/internal/handler"
	"support_chat/internal/middleware"
	"support_chat/internal/notifier"
	"support_chat/internal/registry"
	"support_chat/internal/repository"
	"support_chat/internal/repository/badgerstore"
	"support_chat/internal/service"
	"support_chat/internal/worker"
	"support_chat/pkg/logger"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.New(cfg.Log.Level)
	if cfg.IsDevelopment() {
		appLogger = logger.NewConsole(cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Подключение к хранилищу
	repos, closeStore, err := openStore(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to open storage", "error", err, "driver", cfg.Database.Driver)
	}
	defer closeStore()

	// Подключение к Redis (опционально)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			appLogger.Fatal("Failed to connect to Redis", "error", err)
		}
		appLogger.Info("Redis connection established")
		repos.WithRedis(rdb, cfg.Messages.CacheSize, cfg.Messages.CacheTTL, appLogger)
	}

	// Реестр сессий и realtime-хаб
	reg := registry.New()
	hub := gateway.NewHub(reg, appLogger)

	// Внешние каналы
	deps := service.Deps{Registry: reg, Broadcaster: hub}
	if client := notifier.NewWhatsAppClient(cfg.WhatsApp, appLogger); client.Configured() {
		deps.Notifier = client
	} else {
		appLogger.Warn("WhatsApp delivery is not configured, replies stay in the room")
	}
	if responder := notifier.NewAIResponder(cfg.AI, appLogger); responder.Configured() {
		deps.Responder = responder
	} else {
		appLogger.Warn("AI responder is not configured, AI replies are disabled")
	}

	// Инициализация сервисов
	services := service.NewServices(repos, deps, cfg, appLogger)
	dispatcher := gateway.NewDispatcher(services, hub, appLogger)

	// Фоновая проверка присутствия агентов
	sweeperCtx, cancelSweeper := context.WithCancel(ctx)
	defer cancelSweeper()
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper := worker.NewPresenceSweeper(services.Presence, cfg.Presence.SweepInterval, appLogger)
		if err := sweeper.Run(sweeperCtx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("Presence sweeper stopped", "error", err)
		}
	}()

	// Инициализация middleware и handlers
	authMiddleware := middleware.NewAuthMiddleware(services.AgentToken, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, appLogger)
	handlers := handler.NewHandlers(services, dispatcher, cfg, appLogger)

	// Настройка роутера
	router := handler.SetupRouter(handlers, authMiddleware, rateLimitMiddleware, cfg, appLogger)

	// Запуск HTTP сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("Starting server", "addr", srv.Addr, "driver", cfg.Database.Driver, "redis", cfg.Redis.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Ожидание сигнала для graceful shutdown
	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	cancelSweeper()
	<-sweeperDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	// Хранилище закрывается отложенно, после того как сессии отметят агентов offline
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Websocket sessions did not finish", "error", err)
	}

	appLogger.Info("Server exited")
}

// openStore открывает Postgres или Badger в зависимости от DATABASE_DRIVER
func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (*repository.Repositories, func(), error) {
	switch cfg.Database.Driver {
	case config.DatabaseDriverBadger:
		db, err := badger.Open(badger.DefaultOptions(cfg.Database.BadgerPath).WithLoggingLevel(badger.WARNING))
		if err != nil {
			return nil, nil, fmt.Errorf("open badger: %w", err)
		}
		repos, err := badgerstore.NewRepositories(db, log)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info("Badger store opened", "path", cfg.Database.BadgerPath)
		return repos, func() { _ = db.Close() }, nil

	default:
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("parse database DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.Database.MaxConnections)

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		log.Info("Database connection established")

		if cfg.Database.AutoMigrate {
			if err := repository.Migrate(ctx, pool, log); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return repository.NewRepositories(pool, log), pool.Close, nil
	}
}
