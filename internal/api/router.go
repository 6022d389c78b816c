package api

import (
	"github.com/gin-gonic/gin"

	"github.com/danny/vacsync/internal/api/handler"
	"github.com/danny/vacsync/internal/api/middleware"
	"github.com/danny/vacsync/internal/config"
	"github.com/danny/vacsync/internal/repository"
	"github.com/danny/vacsync/internal/scheduler"
	"github.com/danny/vacsync/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	tasks *service.TaskService,
	runner scheduler.Runner,
	guard *scheduler.Guard,
	runs *repository.RunRepository,
	audit *service.Audit,
	cfg *config.Config,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	taskHandler := handler.NewTaskHandler(tasks, runner, guard, cfg)
	runHandler := handler.NewRunHandler(runs)
	logHandler := handler.NewLogHandler(audit)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Tasks
		v1.GET("/tasks", taskHandler.ListTasks)
		v1.POST("/tasks", taskHandler.CreateTask)
		v1.GET("/tasks/:id", taskHandler.GetTask)
		v1.PUT("/tasks/:id", taskHandler.UpdateTask)
		v1.DELETE("/tasks/:id", taskHandler.DeleteTask)
		v1.POST("/tasks/:id/run", taskHandler.RunTask)
		v1.POST("/tasks/:id/test", taskHandler.TestTask)

		// Runs
		v1.GET("/runs", runHandler.ListRuns)
		v1.GET("/runs/:id", runHandler.GetRun)
		v1.POST("/runs/:id/cancel", runHandler.CancelRun)

		// Logs
		v1.GET("/logs", logHandler.ListLogs)
		v1.GET("/logs/export", logHandler.ExportLogs)

		// Cache
		v1.POST("/cache/clear", taskHandler.ClearCache)
	}

	return r
}
