package domain

import "time"

// RunStatus represents the status of an import run.
type RunStatus string

const (
	RunStatusRunning             RunStatus = "running"
	RunStatusCompleted           RunStatus = "completed"
	RunStatusCompletedWithErrors RunStatus = "completed_with_errors"
	RunStatusFailed              RunStatus = "failed"
	RunStatusCancelled           RunStatus = "cancelled"
)

// RunTrigger identifies what started an import run.
type RunTrigger string

const (
	TriggerManual    RunTrigger = "manual"
	TriggerCron      RunTrigger = "cron"
	TriggerScheduler RunTrigger = "scheduler"
	TriggerInitial   RunTrigger = "initial"
)

// RunCounts holds the per-run reconciliation counters.
type RunCounts struct {
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// ImportRun is a persisted audit record for one import run.
// Created at run start, finalized exactly once at run end.
type ImportRun struct {
	ID           string     `gorm:"type:text;primaryKey" json:"id"`
	TaskID       string     `gorm:"type:text;index" json:"task_id"`
	Trigger      RunTrigger `gorm:"type:text" json:"trigger"`
	Status       RunStatus  `gorm:"type:text;default:running;index" json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Fetched      int        `gorm:"default:0" json:"fetched"`
	Created      int        `gorm:"default:0" json:"created"`
	Updated      int        `gorm:"default:0" json:"updated"`
	Deleted      int        `gorm:"default:0" json:"deleted"`
	Skipped      int        `gorm:"default:0" json:"skipped"`
	Errors       int        `gorm:"default:0" json:"errors"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`

	// Cooperative cancellation flag, polled between item-processing steps.
	CancelRequested bool `gorm:"default:false" json:"cancel_requested"`
}

// TableName returns the database table name for ImportRun.
func (ImportRun) TableName() string {
	return "import_runs"
}
