package service

import (
	"context"
	"io"
	"time"

	"github.com/danny/vacsync/internal/domain"
	"github.com/danny/vacsync/internal/logger"
	"github.com/danny/vacsync/internal/repository"
)

// Audit is the persisted, run-correlated audit trail. Every entry is
// mirrored into the structured logger so operational logs and the
// dashboard-facing table stay consistent.
type Audit struct {
	logs   *repository.LogRepository
	runs   *repository.RunRepository
	logger *logger.Logger
}

// NewAudit creates a new Audit service.
// Parameters:
//   - logs: persisted log entry repository.
//   - runs: import run repository.
//   - log: structured logger for mirroring.
// Returns:
//   - *Audit: initialized service.
func NewAudit(logs *repository.LogRepository, runs *repository.RunRepository, log *logger.Logger) *Audit {
	return &Audit{logs: logs, runs: runs, logger: log}
}

// StartRun creates an ImportRun in running state.
func (a *Audit) StartRun(ctx context.Context, taskID string, trigger domain.RunTrigger) (*domain.ImportRun, error) {
	run, err := a.runs.Start(ctx, taskID, trigger)
	if err != nil {
		return nil, err
	}
	a.Log(ctx, run.ID, domain.LevelInfo, "Import run started", domain.JSONObject{
		"task_id": taskID,
		"trigger": string(trigger),
	})
	return run, nil
}

// EndRun finalizes a run exactly once and records the outcome.
func (a *Audit) EndRun(ctx context.Context, runID string, status domain.RunStatus, counts domain.RunCounts, errMsg string) error {
	if err := a.runs.Finish(ctx, runID, status, counts, errMsg); err != nil {
		return err
	}
	level := domain.LevelInfo
	if status == domain.RunStatusFailed {
		level = domain.LevelError
	} else if status == domain.RunStatusCompletedWithErrors {
		level = domain.LevelWarning
	}
	a.Log(ctx, runID, level, "Import run finished", domain.JSONObject{
		"status":  string(status),
		"fetched": counts.Fetched,
		"created": counts.Created,
		"updated": counts.Updated,
		"deleted": counts.Deleted,
		"skipped": counts.Skipped,
		"errors":  counts.Errors,
	})
	return nil
}

// CancelRequested reports the persisted cancellation flag for a run.
func (a *Audit) CancelRequested(ctx context.Context, runID string) bool {
	cancelled, err := a.runs.IsCancelRequested(ctx, runID)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to read cancellation flag")
		return false
	}
	return cancelled
}

// Log appends one audit row and mirrors it into the structured logger.
// A failure to persist never interrupts the caller.
func (a *Audit) Log(ctx context.Context, importID string, level domain.LogLevel, msg string, fields domain.JSONObject) {
	entry := &domain.LogEntry{
		ImportID: importID,
		Level:    level,
		Message:  msg,
		Context:  fields,
	}
	if err := a.logs.Append(ctx, entry); err != nil {
		a.logger.WithError(err).Warn("Failed to persist audit log entry")
	}

	structured := a.logger.WithField("import_id", importID)
	if len(fields) > 0 {
		structured = structured.WithFields(logger.Fields(fields))
	}
	switch level {
	case domain.LevelTrace, domain.LevelDebug:
		structured.Debug(msg)
	case domain.LevelWarning:
		structured.Warn(msg)
	case domain.LevelError:
		structured.Error(msg)
	default:
		structured.Info(msg)
	}
}

// List returns stored log entries newest first, optionally filtered to
// one run.
func (a *Audit) List(ctx context.Context, importID string, limit, offset int) ([]domain.LogEntry, error) {
	return a.logs.List(ctx, importID, limit, offset)
}

// Cleanup applies the log retention policy.
func (a *Audit) Cleanup(ctx context.Context, maxAgeDays, maxRows int) (int64, error) {
	return a.logs.Prune(ctx, time.Duration(maxAgeDays)*24*time.Hour, maxRows)
}

// Export writes a CSV dump of the audit log, optionally filtered to one run.
func (a *Audit) Export(ctx context.Context, importID string, w io.Writer) error {
	return a.logs.ExportCSV(ctx, importID, w)
}
