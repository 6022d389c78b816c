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

	"github.com/danny/vacsync/internal/api"
	"github.com/danny/vacsync/internal/config"
	"github.com/danny/vacsync/internal/logger"
	"github.com/danny/vacsync/internal/repository"
	"github.com/danny/vacsync/internal/scheduler"
	"github.com/danny/vacsync/internal/service"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "vacsync-api",
		File:        cfg.Log.File,
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithField("error", err.Error()).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	taskRepo := repository.NewTaskRepository(db)
	runRepo := repository.NewRunRepository(db)
	logRepo := repository.NewLogRepository(db)
	vacancyRepo := repository.NewVacancyRepository(db)

	// Initialize services
	audit := service.NewAudit(logRepo, runRepo, appLogger)
	taskService := service.NewTaskService(taskRepo, cfg.API, appLogger)
	guard := scheduler.NewGuard(cfg.Sync.GuardTTL)

	var enricher service.Enricher
	if geocoder := service.NewGeocoder(&cfg.Geocoder, appLogger); geocoder != nil {
		enricher = geocoder
	}

	importer := service.NewImporter(service.ImporterDeps{
		Records:   vacancyRepo,
		RunLog:    audit,
		Stats:     taskRepo,
		Enricher:  enricher,
		Guard:     guard,
		APIConfig: cfg.API,
		Config: service.ImporterConfig{
			GracePeriodDays: cfg.Sync.GracePeriodDays,
			MaxPages:        cfg.API.MaxPages,
		},
		Logger: appLogger,
	})

	ctx := appLogger.WithContext(context.Background())

	// Apply the log retention policy before accepting traffic
	if pruned, err := audit.Cleanup(ctx, cfg.Retention.LogMaxAgeDays, cfg.Retention.LogMaxRows); err != nil {
		logger.CtxWarn(ctx, "Log retention cleanup failed: %v", err)
	} else if pruned > 0 {
		logger.CtxInfo(ctx, "Pruned %d old log entries", pruned)
	}

	// Start the task scheduler; repository notifications keep the cron
	// entries in step with task changes.
	sched := scheduler.New(taskRepo, importer, appLogger)
	taskRepo.SetNotifier(sched)
	if err := sched.Start(ctx); err != nil {
		appLogger.WithField("error", err.Error()).Fatal("Failed to start scheduler")
	}
	sched.InstallStatic(service.DefaultTask(cfg))
	if err := sched.InstallMaintenance("@every 24h", "log retention cleanup", func(ctx context.Context) {
		if pruned, err := audit.Cleanup(ctx, cfg.Retention.LogMaxAgeDays, cfg.Retention.LogMaxRows); err != nil {
			logger.CtxWarn(ctx, "Log retention cleanup failed: %v", err)
		} else if pruned > 0 {
			logger.CtxInfo(ctx, "Pruned %d old log entries", pruned)
		}
	}); err != nil {
		appLogger.WithField("error", err.Error()).Fatal("Failed to schedule retention cleanup")
	}
	defer sched.Stop()

	// Setup router
	router := api.SetupRouter(taskService, importer, guard, runRepo, audit, cfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithField("error", err.Error()).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithField("error", err.Error()).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
