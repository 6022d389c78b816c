package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/danny/vacsync/internal/domain"
	"github.com/danny/vacsync/internal/repository"
)

// RunHandler handles import-run endpoints.
type RunHandler struct {
	runs *repository.RunRepository
}

// NewRunHandler creates a new run handler.
func NewRunHandler(runs *repository.RunRepository) *RunHandler {
	return &RunHandler{runs: runs}
}

// ListRuns handles GET /api/v1/runs. Accepts task_id, limit and offset
// query parameters.
func (h *RunHandler) ListRuns(c *gin.Context) {
	taskID := c.Query("task_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	runs, err := h.runs.List(c.Request.Context(), taskID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list runs: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": len(runs),
	})
}

// GetRun handles GET /api/v1/runs/:id.
func (h *RunHandler) GetRun(c *gin.Context) {
	run, err := h.runs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load run: " + err.Error(),
		})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// CancelRun handles POST /api/v1/runs/:id/cancel. Cancellation is
// cooperative: the flag is persisted and the importer stops at its
// next poll, finalizing the run as cancelled.
func (h *RunHandler) CancelRun(c *gin.Context) {
	id := c.Param("id")

	run, err := h.runs.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load run: " + err.Error(),
		})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	if run.Status != domain.RunStatusRunning {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Run is not in progress",
		})
		return
	}

	if err := h.runs.RequestCancel(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to request cancellation: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancellation requested"})
}
