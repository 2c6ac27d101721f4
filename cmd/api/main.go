package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	coreport "github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/core"
	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/port/persistence"
	"github.com/amirhossein-jamali/persistence-coordinator/internal/domain/usecase/uow"
	"github.com/amirhossein-jamali/persistence-coordinator/internal/infrastructure/adapter/database"
	"github.com/amirhossein-jamali/persistence-coordinator/internal/infrastructure/adapter/identity"
	"github.com/amirhossein-jamali/persistence-coordinator/internal/infrastructure/adapter/logger"
	"github.com/amirhossein-jamali/persistence-coordinator/internal/infrastructure/adapter/publisher"
	timeProvider "github.com/amirhossein-jamali/persistence-coordinator/internal/infrastructure/adapter/time"
	"github.com/amirhossein-jamali/persistence-coordinator/internal/infrastructure/config"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == config.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create logger
	appLogger := logger.NewZapLogger(cfg.Environment == config.Production)
	defer func() { _ = appLogger.Flush() }()

	// Setup database configuration
	dbConfig := &database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Username:        cfg.Database.Username,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		QueryTimeout:    cfg.Database.QueryTimeout,
		LogLevel:        cfg.Logger.Level,
	}

	// Initialize time provider
	tp := timeProvider.NewRealTimeProvider()

	// Connect to the database
	conn, err := database.NewConnection(dbConfig, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to database", map[string]any{
			"error": err.Error(),
		})
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	// Event publisher: Redis when enabled, otherwise events are dropped
	eventPublisher := newEventPublisher(cfg, appLogger)

	// Resolve the acting user from the request context
	users := identity.NewContextUserProvider()

	// newUnitOfWork builds a request-scoped unit of work over a fresh tracker
	newUnitOfWork := func() *uow.Coordinator {
		tracker := database.NewTracker(conn.DB, appLogger)
		return uow.NewCoordinator(tracker, users, tp, appLogger)
	}

	// Verify the persistence plumbing before accepting traffic
	if err := probeUnitOfWork(context.Background(), newUnitOfWork(), eventPublisher); err != nil {
		appLogger.Error("Unit of work probe failed", map[string]any{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(identity.Middleware([]byte(cfg.Identity.JWTSecret), appLogger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", func(c *gin.Context) {
		sqlDB, err := conn.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLogger.Info("Starting server", map[string]any{
			"address":     server.Addr,
			"environment": cfg.Environment,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed", map[string]any{
				"error": err.Error(),
			})
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server", nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("Forced shutdown", map[string]any{
			"error": err.Error(),
		})
	}
}

// newEventPublisher selects the event delivery backend from configuration
func newEventPublisher(cfg *config.Config, appLogger coreport.Logger) persistence.EventPublisher {
	if !cfg.Events.Enabled {
		return publisher.NewNoopPublisher()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Events.RedisAddr,
		Password: cfg.Events.RedisPassword,
		DB:       cfg.Events.RedisDB,
	})
	return publisher.NewRedisPublisher(client, cfg.Events.Channel, appLogger)
}

// probeUnitOfWork opens and rolls back a transaction to confirm the database
// supports the coordinator's transaction semantics, then flushes the (empty)
// event harvest the way application flows do after a commit
func probeUnitOfWork(ctx context.Context, unit *uow.Coordinator, events persistence.EventPublisher) error {
	if err := unit.BeginTransaction(ctx); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := unit.RollbackTransaction(ctx); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return persistence.PublishAll(ctx, events, unit.GetDomainEvents())
}
