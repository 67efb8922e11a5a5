package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"construction_chat/internal/config"
	"construction_chat/internal/handler"
	"construction_chat/internal/hub"
	"construction_chat/internal/middleware"
	"construction_chat/internal/repository"
	"construction_chat/internal/service"
	"construction_chat/internal/storage"
	"construction_chat/pkg/jwt"
	"construction_chat/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.NewWithOptions(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Redis only backs the rate limiter.
	var rdb *redis.Client
	if cfg.Redis.RateLimitEnabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(context.Background()).Err(); err != nil {
			appLogger.Fatal("Failed to connect to Redis", "error", err)
		}
		appLogger.Info("Redis connection established")
	}

	var repos *repository.Repositories
	switch cfg.Database.Driver {
	case "memory":
		repos = repository.NewMemoryRepositories(rdb, appLogger)
	default:
		if cfg.Database.MigrateOnStart {
			if err := repository.Migrate(cfg.Database.DSN, appLogger); err != nil {
				appLogger.Fatal("Failed to apply migrations", "error", err)
			}
		}

		dbPool, err := repository.Connect(context.Background(), cfg.Database)
		if err != nil {
			appLogger.Fatal("Failed to connect to database", "error", err)
		}
		defer dbPool.Close()
		appLogger.Info("Database connection established")

		repos = repository.NewRepositories(dbPool, rdb, appLogger)
	}

	files, err := storage.NewLocal(cfg.Chat.AttachmentsDir, cfg.Chat.AttachmentsURL, cfg.Chat.MaxUploadBytes, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to prepare attachment storage", "error", err)
	}

	deliveryHub := hub.New(appLogger)

	services := service.NewServices(repos, deliveryHub, files, cfg, appLogger)

	tokens := jwt.NewManager(cfg.JWT.AccessSecret, cfg.JWT.Issuer)
	opts := handler.RouterOptions{
		Auth:     middleware.NewAuthMiddleware(tokens, appLogger),
		FilesDir: files.Dir(),
	}
	if cfg.Redis.RateLimitEnabled {
		opts.RateLimit = middleware.NewRateLimitMiddleware(services.RateLimit, cfg.Redis.RequestsPerMinute, 60, appLogger)
	}

	handlers := handler.NewHandlers(services, deliveryHub, cfg, appLogger)
	router := handler.NewRouter(handlers, cfg, opts, appLogger)

	// Push connections reset their own deadlines after the upgrade.
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  4 * cfg.Server.ReadTimeout,
	}

	go func() {
		appLogger.Info("Starting server", "addr", srv.Addr, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	deliveryHub.Close()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited")
}
