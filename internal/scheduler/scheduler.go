package scheduler

import (
	"context"
	"sync"

	"github.com/danny/vacsync/internal/domain"
	"github.com/danny/vacsync/internal/logger"
	"github.com/danny/vacsync/internal/repository"
	"github.com/robfig/cron/v3"
)

// Runner executes an import run for a task. Implemented by the importer.
type Runner interface {
	RunTask(ctx context.Context, task *domain.ImportTask, trigger domain.RunTrigger) (*domain.ImportRun, error)
}

// Scheduler installs one cron entry per schedulable task. Task state
// transitions: unscheduled -> scheduled -> (running) -> scheduled, or
// back to unscheduled when the task is disabled or deleted.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	tasks  *repository.TaskRepository
	log    *logger.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a Scheduler.
// Parameters:
//   - tasks: task repository, used to reload task config at fire time.
//   - runner: import runner invoked on each firing.
//   - log: logger instance.
// Returns:
//   - *Scheduler: initialized scheduler (not yet started).
func New(tasks *repository.TaskRepository, runner Runner, log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		runner:  runner,
		tasks:   tasks,
		log:     log,
		entries: make(map[string]cron.EntryID),
	}
}

// Start installs entries for all currently schedulable tasks and starts
// the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	tasks, err := s.tasks.ListSchedulable(ctx)
	if err != nil {
		return err
	}
	for i := range tasks {
		s.install(&tasks[i])
	}
	s.cron.Start()
	s.log.WithField("tasks", len(tasks)).Info("Scheduler started")
	return nil
}

// Stop halts the cron loop. Entries keep their state for a later Start.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// TaskSaved implements repository.TaskNotifier. The existing entry is
// always cleared first so a reschedule never duplicates firings.
func (s *Scheduler) TaskSaved(task *domain.ImportTask) {
	s.remove(task.ID)
	if !task.Schedulable() {
		s.log.WithField(logger.FieldTaskID, task.ID).Debug("Task not schedulable, schedule cleared")
		return
	}
	s.install(task)
}

// InstallStatic schedules a task that is not stored in the repository,
// such as the configuration-derived default task. The task value is
// used as-is on every firing instead of being reloaded.
func (s *Scheduler) InstallStatic(task *domain.ImportTask) {
	s.remove(task.ID)
	if !task.Schedulable() {
		return
	}

	t := *task
	schedule := newFrequencySchedule(t.Frequency, t.TimeOfDay)
	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() {
		ctx := logger.SetTaskID(context.Background(), t.ID)
		if _, err := s.runner.RunTask(ctx, &t, domain.TriggerCron); err != nil {
			logger.CtxError(ctx, "Scheduled run failed: %v", err)
		}
	}))

	s.mu.Lock()
	s.entries[t.ID] = entryID
	s.mu.Unlock()

	s.log.WithFields(logger.Fields{
		logger.FieldTaskID: t.ID,
		"frequency":        string(t.Frequency),
		"time_of_day":      t.TimeOfDay,
	}).Info("Task scheduled")
}

// InstallMaintenance schedules a recurring housekeeping job by cron
// expression, independent of any task entry.
// Parameters:
//   - spec: cron expression, e.g. "0 3 * * *" or "@every 24h".
//   - name: job name used in logs.
//   - job: the work; receives a fresh background context per firing.
// Returns:
//   - error: non-nil if the cron expression does not parse.
func (s *Scheduler) InstallMaintenance(spec, name string, job func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		job(context.Background())
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logger.Fields{
		"job":  name,
		"spec": spec,
	}).Info("Maintenance job scheduled")
	return nil
}

// TaskDeleted implements repository.TaskNotifier.
func (s *Scheduler) TaskDeleted(taskID string) {
	s.remove(taskID)
	s.log.WithField(logger.FieldTaskID, taskID).Info("Schedule cancelled for deleted task")
}

func (s *Scheduler) install(task *domain.ImportTask) {
	taskID := task.ID
	schedule := newFrequencySchedule(task.Frequency, task.TimeOfDay)

	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.fire(taskID)
	}))

	s.mu.Lock()
	s.entries[taskID] = entryID
	s.mu.Unlock()

	s.log.WithFields(logger.Fields{
		logger.FieldTaskID: taskID,
		"frequency":        string(task.Frequency),
		"time_of_day":      task.TimeOfDay,
	}).Info("Task scheduled")
}

func (s *Scheduler) remove(taskID string) {
	s.mu.Lock()
	entryID, ok := s.entries[taskID]
	if ok {
		delete(s.entries, taskID)
	}
	s.mu.Unlock()
	if ok {
		s.cron.Remove(entryID)
	}
}

// fire reloads the task and hands it to the runner. The task is
// reloaded so config changes between firings always take effect.
func (s *Scheduler) fire(taskID string) {
	ctx := logger.SetTaskID(context.Background(), taskID)

	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		logger.CtxError(ctx, "Scheduled fire: failed to load task: %v", err)
		return
	}
	if task == nil || !task.Schedulable() {
		logger.CtxWarn(ctx, "Scheduled fire: task no longer schedulable, removing entry")
		s.remove(taskID)
		return
	}

	if _, err := s.runner.RunTask(ctx, task, domain.TriggerScheduler); err != nil {
		logger.CtxError(ctx, "Scheduled run failed: %v", err)
	}
}
