package repository

import (
	"context"
	"errors"

	"github.com/danny/vacsync/internal/domain"
	"gorm.io/gorm"
)

// TaskNotifier receives change notifications when tasks are saved or
// deleted, so the scheduler can re-derive its entries.
type TaskNotifier interface {
	TaskSaved(task *domain.ImportTask)
	TaskDeleted(taskID string)
}

// TaskRepository handles import task configuration storage.
type TaskRepository struct {
	db       *gorm.DB
	notifier TaskNotifier
}

// NewTaskRepository creates a new TaskRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *TaskRepository: repository instance bound to db.
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// SetNotifier installs the change notifier. Set once at startup, after
// the scheduler is constructed.
func (r *TaskRepository) SetNotifier(n TaskNotifier) {
	r.notifier = n
}

// Create inserts a new task and notifies the scheduler.
func (r *TaskRepository) Create(ctx context.Context, task *domain.ImportTask) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return err
	}
	if r.notifier != nil {
		r.notifier.TaskSaved(task)
	}
	return nil
}

// Update saves an existing task and notifies the scheduler so the
// schedule is re-derived.
func (r *TaskRepository) Update(ctx context.Context, task *domain.ImportTask) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return err
	}
	if r.notifier != nil {
		r.notifier.TaskSaved(task)
	}
	return nil
}

// UpdateRunStats persists only the run-statistics fields. Runs mutate
// nothing else on the task.
func (r *TaskRepository) UpdateRunStats(ctx context.Context, taskID string, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&domain.ImportTask{}).
		Where("id = ?", taskID).
		Updates(updates).Error
}

// GetByID retrieves a task by its ID.
// Returns nil without error when the task does not exist.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*domain.ImportTask, error) {
	var task domain.ImportTask
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// List retrieves all tasks ordered by creation time.
func (r *TaskRepository) List(ctx context.Context) ([]domain.ImportTask, error) {
	var tasks []domain.ImportTask
	if err := r.db.WithContext(ctx).Order("created_at").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListSchedulable retrieves active tasks with schedule_enabled set.
func (r *TaskRepository) ListSchedulable(ctx context.Context) ([]domain.ImportTask, error) {
	var tasks []domain.ImportTask
	if err := r.db.WithContext(ctx).
		Where("status = ? AND schedule_enabled = ?", domain.TaskStatusActive, true).
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// Delete removes a task and notifies the scheduler to cancel any
// pending schedule.
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&domain.ImportTask{}, "id = ?", id).Error; err != nil {
		return err
	}
	if r.notifier != nil {
		r.notifier.TaskDeleted(id)
	}
	return nil
}
