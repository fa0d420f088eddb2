package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"github.com/gocomet/club-rides/internal/api/handlers"
	"github.com/gocomet/club-rides/internal/api/routes"
	"github.com/gocomet/club-rides/internal/config"
	"github.com/gocomet/club-rides/internal/domain/membership"
	"github.com/gocomet/club-rides/internal/service/authz"
	"github.com/gocomet/club-rides/internal/service/lifecycle"
	"github.com/gocomet/club-rides/internal/service/participation"
	"github.com/gocomet/club-rides/internal/store"
	"github.com/gocomet/club-rides/pkg/cache"
	"github.com/gocomet/club-rides/pkg/database"
	"github.com/gocomet/club-rides/pkg/logger"
	"github.com/gocomet/club-rides/pkg/monitoring"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Club Rides Application",
		logger.String("env", cfg.Server.Env),
		logger.String("port", cfg.Server.Port),
		logger.String("store_backend", cfg.Store.Backend),
	)

	// Initialize New Relic
	nrApp, err := monitoring.New(monitoring.Config{
		LicenseKey: cfg.NewRelic.LicenseKey,
		AppName:    cfg.NewRelic.AppName,
		Enabled:    cfg.NewRelic.Enabled,
		LogLevel:   cfg.NewRelic.LogLevel,
	})
	if err != nil {
		appLogger.Warn("Failed to initialize New Relic", logger.Err(err))
		nrApp = &monitoring.NewRelicApp{}
	} else if nrApp.IsEnabled() {
		appLogger.Info("New Relic APM initialized successfully",
			logger.String("app_name", cfg.NewRelic.AppName))
	} else {
		appLogger.Info("New Relic APM disabled")
	}
	defer nrApp.Shutdown(10 * time.Second)

	// Initialize the partitioned store backend
	var dataStore store.Store
	switch cfg.Store.Backend {
	case config.StoreRedis:
		redisClient, err := cache.NewRedisClient(cache.Config{
			Host:        cfg.Redis.Host,
			Port:        cfg.Redis.Port,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			MaxRetries:  cfg.Redis.MaxRetries,
			PoolSize:    cfg.Redis.PoolSize,
			MinIdleConn: cfg.Redis.MinIdleConn,
			DialTimeout: cfg.Redis.DialTimeout,
			ReadTimeout: cfg.Redis.ReadTimeout,
		})
		if err != nil {
			appLogger.Fatal("Failed to connect to Redis", logger.Err(err))
		}
		defer cache.Close(redisClient)
		dataStore = store.NewRedisStore(redisClient, cfg.Store.CallTimeout)
		appLogger.Info("Connected to Redis successfully")

		if nrApp.IsEnabled() {
			go reportRedisPoolStats(redisClient, nrApp)
		}

	default:
		postgresDB, err := database.NewPostgresDB(database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConnections,
			MaxIdle:  cfg.Database.MaxIdleConns,
		})
		if err != nil {
			appLogger.Fatal("Failed to connect to PostgreSQL", logger.Err(err))
		}
		defer postgresDB.Close()
		if err := database.EnsureSchema(postgresDB); err != nil {
			appLogger.Fatal("Failed to ensure schema", logger.Err(err))
		}
		dataStore = store.NewPostgresStore(postgresDB, cfg.Store.CallTimeout)
		appLogger.Info("Connected to PostgreSQL successfully")
	}

	// Wire the core services
	directory := membership.NewStoreDirectory(dataStore)
	engine := authz.NewEngine(directory)
	lifecycleManager := lifecycle.NewManager(dataStore, engine, appLogger, nrApp)
	coordinator := participation.NewCoordinator(dataStore, appLogger, nrApp, cfg.Features.EnableWaitlist)

	h := handlers.NewHandlers(lifecycleManager, coordinator, appLogger)

	// Initialize Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	var nrApplication *newrelic.Application
	if nrApp.IsEnabled() {
		nrApplication = nrApp.Application
	}
	routes.SetupRoutes(router, h, nrApplication)

	appLogger.Info("Routes configured successfully")

	// Create HTTP server
	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start server in a goroutine
	go func() {
		appLogger.Info("Server starting", logger.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", logger.Err(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", logger.Err(err))
	}

	appLogger.Info("Server stopped gracefully")
}

// reportRedisPoolStats periodically forwards connection pool statistics to
// New Relic
func reportRedisPoolStats(client *redis.Client, nrApp *monitoring.NewRelicApp) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		nrApp.RecordRedisPoolStats(cache.GetClientStats(client))
	}
}
