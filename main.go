package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/SAP-F-2025/access-control-service/internal/config"
	"github.com/SAP-F-2025/access-control-service/internal/events"
	"github.com/SAP-F-2025/access-control-service/internal/guestaccess"
	"github.com/SAP-F-2025/access-control-service/internal/handlers"
	"github.com/SAP-F-2025/access-control-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/access-control-service/internal/services"
	"github.com/SAP-F-2025/access-control-service/internal/utils"
	"github.com/SAP-F-2025/access-control-service/internal/validator"
	"github.com/SAP-F-2025/access-control-service/pkg"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	slogLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	logger := utils.NewSlogLogger(slogLogger)

	// Initialize database
	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Redis backs the profile cache and change notifications
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = pkg.NewRedisClient(cfg)
		if err != nil {
			logger.Warn("Redis unavailable, running without cache and profile subscriptions", "error", err)
			redisClient = nil
		}
	}

	// Initialize repositories
	repoManager := postgres.NewRepositoryManager(postgres.RepositoryConfig{
		DB:          db,
		RedisClient: redisClient,
		AutoMigrate: cfg.AutoMigrate,
	})
	if err := repoManager.Initialize(); err != nil {
		log.Fatalf("Failed to initialize repositories: %v", err)
	}
	repo := repoManager.GetRepository()

	// Audit fan-out
	publisher, err := newAuditPublisher(cfg, slogLogger)
	if err != nil {
		log.Fatalf("Failed to initialize audit publisher: %v", err)
	}

	// Initialize validator
	validator := validator.New()

	// Initialize services
	serviceManager := services.NewDefaultServiceManager(repo, publisher, slogLogger, validator, cfg.GuestAccessDurationHours)
	if err := serviceManager.Initialize(context.Background()); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	// Initialize handlers
	calculator := guestaccess.NewCalculator(cfg.GuestAccessDurationHours, time.Now)
	authMiddleware := handlers.NewCasdoorAuthMiddleware(cfg.Casdoor, repo.Profile(), calculator, logger)
	handlerManager := handlers.NewHandlerManager(serviceManager, authMiddleware, logger)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handlers.SetupMiddleware(router, logger)
	handlerManager.SetupRoutes(router)

	// Create HTTP server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// closes the audit publisher
	if err := serviceManager.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown services", "error", err)
	}

	// closes the database and redis
	if err := repoManager.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown repositories", "error", err)
	}

	logger.Info("Server exited")
}

// newAuditPublisher uses Kafka when brokers are configured. Otherwise events
// go through an in-process channel whose only consumer is the log sink.
func newAuditPublisher(cfg *config.Config, logger *slog.Logger) (events.EventPublisher, error) {
	if len(cfg.KafkaBrokers) > 0 {
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AuditTopic, logger)
	}
	logger.Warn("KAFKA_BROKERS not set, audit events are only written to the log")
	publisher, channel := events.NewInMemoryPublisher(cfg.AuditTopic, logger)
	if _, err := events.StartLogSink(context.Background(), channel, cfg.AuditTopic, logger); err != nil {
		_ = publisher.Close()
		return nil, err
	}
	return publisher, nil
}
