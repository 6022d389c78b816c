package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/danny/vacsync/internal/service"
)

// LogHandler handles audit-log endpoints.
type LogHandler struct {
	audit *service.Audit
}

// NewLogHandler creates a new log handler.
func NewLogHandler(audit *service.Audit) *LogHandler {
	return &LogHandler{audit: audit}
}

// ListLogs handles GET /api/v1/logs. Accepts import_id (a run id or
// "system"), limit and offset query parameters; entries are returned
// newest first.
func (h *LogHandler) ListLogs(c *gin.Context) {
	importID := c.Query("import_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, err := h.audit.List(c.Request.Context(), importID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list log entries: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
	})
}

// ExportLogs handles GET /api/v1/logs/export: streams the audit trail
// as a CSV download, optionally filtered by import_id.
func (h *LogHandler) ExportLogs(c *gin.Context) {
	importID := c.Query("import_id")

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="import-logs.csv"`)

	if err := h.audit.Export(c.Request.Context(), importID, c.Writer); err != nil {
		// Headers are already out; log and cut the stream short.
		c.Status(http.StatusInternalServerError)
		return
	}
}
