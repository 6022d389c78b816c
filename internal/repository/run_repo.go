package repository

import (
	"context"
	"errors"
	"time"

	"github.com/danny/vacsync/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RunRepository handles import run audit records.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Start creates a new run in "running" state and returns it.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - taskID: task the run belongs to.
//   - trigger: what started the run.
// Returns:
//   - *domain.ImportRun: the created run.
//   - error: non-nil if the insert fails.
func (r *RunRepository) Start(ctx context.Context, taskID string, trigger domain.RunTrigger) (*domain.ImportRun, error) {
	run := &domain.ImportRun{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Trigger:   trigger,
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// Finish finalizes a run exactly once. Completed runs are never revised.
func (r *RunRepository) Finish(ctx context.Context, runID string, status domain.RunStatus, counts domain.RunCounts, errMsg string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&domain.ImportRun{}).
		Where("id = ? AND status = ?", runID, domain.RunStatusRunning).
		Updates(map[string]interface{}{
			"status":        status,
			"completed_at":  &now,
			"fetched":       counts.Fetched,
			"created":       counts.Created,
			"updated":       counts.Updated,
			"deleted":       counts.Deleted,
			"skipped":       counts.Skipped,
			"errors":        counts.Errors,
			"error_message": errMsg,
		}).Error
}

// RequestCancel sets the cooperative cancellation flag on a running run.
func (r *RunRepository) RequestCancel(ctx context.Context, runID string) error {
	return r.db.WithContext(ctx).Model(&domain.ImportRun{}).
		Where("id = ? AND status = ?", runID, domain.RunStatusRunning).
		Update("cancel_requested", true).Error
}

// IsCancelRequested reads the cancellation flag for a run.
func (r *RunRepository) IsCancelRequested(ctx context.Context, runID string) (bool, error) {
	var run domain.ImportRun
	if err := r.db.WithContext(ctx).Select("cancel_requested").
		First(&run, "id = ?", runID).Error; err != nil {
		return false, err
	}
	return run.CancelRequested, nil
}

// GetByID retrieves a run by its ID.
// Returns nil without error when the run does not exist.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.ImportRun, error) {
	var run domain.ImportRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// List retrieves runs newest-first, optionally filtered by task.
func (r *RunRepository) List(ctx context.Context, taskID string, limit, offset int) ([]domain.ImportRun, error) {
	var runs []domain.ImportRun
	query := r.db.WithContext(ctx)
	if taskID != "" {
		query = query.Where("task_id = ?", taskID)
	}
	if err := query.Order("started_at DESC").Limit(limit).Offset(offset).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
