package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/danny/vacsync/internal/config"
	"github.com/danny/vacsync/internal/domain"
	"github.com/danny/vacsync/internal/logger"
	"github.com/danny/vacsync/internal/repository"
	"github.com/danny/vacsync/internal/scheduler"
	"github.com/danny/vacsync/internal/service"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "vacsync-sync",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	taskID := flag.String("task", service.DefaultTaskID, "Task to run")
	daemon := flag.Bool("daemon", false, "Keep running and fire tasks on their schedules")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	// Reconfigure logger from config
	appLogger = logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "vacsync-sync",
		File:        cfg.Log.File,
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories and services
	taskRepo := repository.NewTaskRepository(db)
	runRepo := repository.NewRunRepository(db)
	logRepo := repository.NewLogRepository(db)
	vacancyRepo := repository.NewVacancyRepository(db)

	audit := service.NewAudit(logRepo, runRepo, appLogger)
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

	// Handle shutdown signals
	ctx, cancel := context.WithCancel(appLogger.WithContext(context.Background()))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	if *daemon {
		runDaemon(ctx, cfg, taskRepo, importer, audit, appLogger)
		return
	}

	runOnce(ctx, cfg, taskRepo, importer, *taskID, appLogger)
}

// runOnce executes a single import run for one task and exits.
func runOnce(ctx context.Context, cfg *config.Config, taskRepo *repository.TaskRepository, importer *service.Importer, taskID string, log *logger.Logger) {
	task, err := resolveTask(ctx, cfg, taskRepo, taskID)
	if err != nil {
		log.WithError(err).Fatal("Failed to resolve task")
	}

	log.WithFields(logger.Fields{
		logger.FieldTaskID: task.ID,
	}).Info("Starting import run")

	run, err := importer.RunTask(ctx, task, domain.TriggerManual)
	if err != nil {
		if errors.Is(err, service.ErrAlreadyRunning) {
			log.Warn("Another import run is already in progress")
			os.Exit(1)
		}
		log.WithError(err).Fatal("Import run failed to start")
	}

	log.WithFields(logger.Fields{
		logger.FieldRunID: run.ID,
		"status":          string(run.Status),
		"fetched":         run.Fetched,
		"created":         run.Created,
		"updated":         run.Updated,
		"deleted":         run.Deleted,
		"skipped":         run.Skipped,
		"errors":          run.Errors,
	}).Info("Import run finished")

	if run.Status == domain.RunStatusFailed {
		os.Exit(1)
	}
}

// runDaemon keeps the process alive and fires the stored schedulable
// tasks plus the configuration-derived default task on their schedules.
func runDaemon(ctx context.Context, cfg *config.Config, taskRepo *repository.TaskRepository, importer *service.Importer, audit *service.Audit, log *logger.Logger) {
	sched := scheduler.New(taskRepo, importer, log)
	taskRepo.SetNotifier(sched)

	if err := sched.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start scheduler")
	}
	sched.InstallStatic(service.DefaultTask(cfg))
	if err := sched.InstallMaintenance("@every 24h", "log retention cleanup", func(ctx context.Context) {
		if pruned, err := audit.Cleanup(ctx, cfg.Retention.LogMaxAgeDays, cfg.Retention.LogMaxRows); err != nil {
			logger.CtxWarn(ctx, "Log retention cleanup failed: %v", err)
		} else if pruned > 0 {
			logger.CtxInfo(ctx, "Pruned %d old log entries", pruned)
		}
	}); err != nil {
		log.WithError(err).Fatal("Failed to schedule retention cleanup")
	}

	log.Info("Sync daemon started")
	<-ctx.Done()

	sched.Stop()
	log.Info("Sync daemon stopped")
}

// resolveTask loads a stored task, or materializes the default task
// from configuration.
func resolveTask(ctx context.Context, cfg *config.Config, taskRepo *repository.TaskRepository, taskID string) (*domain.ImportTask, error) {
	if taskID == service.DefaultTaskID {
		return service.DefaultTask(cfg), nil
	}

	task, err := taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errors.New("task not found: " + taskID)
	}
	return task, nil
}
