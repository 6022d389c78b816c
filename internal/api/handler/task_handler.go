package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/danny/vacsync/internal/config"
	"github.com/danny/vacsync/internal/domain"
	"github.com/danny/vacsync/internal/httpclient"
	"github.com/danny/vacsync/internal/logger"
	"github.com/danny/vacsync/internal/scheduler"
	"github.com/danny/vacsync/internal/service"
)

// TaskHandler handles import-task management endpoints.
type TaskHandler struct {
	tasks  *service.TaskService
	runner scheduler.Runner
	guard  *scheduler.Guard
	cfg    *config.Config
}

// NewTaskHandler creates a new task handler.
// Parameters:
//   - tasks: task configuration service.
//   - runner: import runner for manual triggers.
//   - guard: run guard, checked before spawning a run.
//   - cfg: application configuration (backs the default task).
// Returns:
//   - *TaskHandler: initialized handler.
func NewTaskHandler(tasks *service.TaskService, runner scheduler.Runner, guard *scheduler.Guard, cfg *config.Config) *TaskHandler {
	return &TaskHandler{
		tasks:  tasks,
		runner: runner,
		guard:  guard,
		cfg:    cfg,
	}
}

// ListTasks handles GET /api/v1/tasks.
func (h *TaskHandler) ListTasks(c *gin.Context) {
	tasks, err := h.tasks.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list tasks: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"total": len(tasks),
	})
}

// GetTask handles GET /api/v1/tasks/:id. The reserved id "default"
// returns the configuration-derived task.
func (h *TaskHandler) GetTask(c *gin.Context) {
	task, ok := h.resolveTask(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, task)
}

// CreateTask handles POST /api/v1/tasks.
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var task domain.ImportTask
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
		})
		return
	}
	if task.ID == service.DefaultTaskID {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Task id \"default\" is reserved",
		})
		return
	}

	if err := h.tasks.Create(c.Request.Context(), &task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to create task: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, task)
}

// UpdateTask handles PUT /api/v1/tasks/:id.
func (h *TaskHandler) UpdateTask(c *gin.Context) {
	id := c.Param("id")
	if id == service.DefaultTaskID {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "The default task is configuration-derived and cannot be updated",
		})
		return
	}

	existing, err := h.tasks.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load task: " + err.Error(),
		})
		return
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	var task domain.ImportTask
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
		})
		return
	}
	task.ID = id

	if err := h.tasks.Update(c.Request.Context(), &task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to update task: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, task)
}

// DeleteTask handles DELETE /api/v1/tasks/:id.
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	id := c.Param("id")
	if id == service.DefaultTaskID {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "The default task is configuration-derived and cannot be deleted",
		})
		return
	}

	if err := h.tasks.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete task: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// RunTask handles POST /api/v1/tasks/:id/run. The run executes in the
// background; progress is visible through the runs and logs endpoints.
func (h *TaskHandler) RunTask(c *gin.Context) {
	task, ok := h.resolveTask(c)
	if !ok {
		return
	}
	if !task.Runnable() {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Task is not active",
		})
		return
	}
	if h.guard.Held() {
		c.JSON(http.StatusConflict, gin.H{
			"error": "An import run is already in progress",
		})
		return
	}

	ctx := logger.GetDefault().WithContext(context.Background())
	go func() {
		if _, err := h.runner.RunTask(ctx, task, domain.TriggerManual); err != nil {
			logger.CtxError(ctx, "Manual run for task %s failed to start: %v", task.ID, err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status":  "started",
		"task_id": task.ID,
	})
}

// TestTask handles POST /api/v1/tasks/:id/test: a single bounded probe
// fetch with field discovery. Nothing is written. A request body, when
// present, overrides the stored configuration so unsaved settings can
// be tested.
func (h *TaskHandler) TestTask(c *gin.Context) {
	task, ok := h.resolveTask(c)
	if !ok {
		return
	}

	if c.Request.ContentLength > 0 {
		var override domain.ImportTask
		if err := c.ShouldBindJSON(&override); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body: " + err.Error(),
			})
			return
		}
		override.ID = task.ID
		task = &override
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))
	result := h.tasks.ExecuteAPIRequest(c.Request.Context(), task, limit, true)
	if !result.Success {
		c.JSON(http.StatusBadGateway, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ClearCache handles POST /api/v1/cache/clear.
func (h *TaskHandler) ClearCache(c *gin.Context) {
	httpclient.FlushSharedCache()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// resolveTask loads the task named by the :id parameter, resolving the
// reserved id "default" to the configuration-derived task. Writes the
// error response itself when the task cannot be resolved.
func (h *TaskHandler) resolveTask(c *gin.Context) (*domain.ImportTask, bool) {
	id := c.Param("id")
	if id == service.DefaultTaskID {
		return service.DefaultTask(h.cfg), true
	}

	task, err := h.tasks.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load task: " + err.Error(),
		})
		return nil, false
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return nil, false
	}
	return task, true
}
