package domain

import "time"

// TaskStatus represents the lifecycle status of an import task.
// Values include TaskStatusDraft, TaskStatusActive and TaskStatusInactive.
type TaskStatus string

const (
	TaskStatusDraft    TaskStatus = "draft"
	TaskStatusActive   TaskStatus = "active"
	TaskStatusInactive TaskStatus = "inactive"
)

// ScheduleFrequency is the recurrence cadence of a scheduled task.
type ScheduleFrequency string

const (
	FrequencyHourly     ScheduleFrequency = "hourly"
	FrequencyTwiceDaily ScheduleFrequency = "twice_daily"
	FrequencyDaily      ScheduleFrequency = "daily"
	FrequencyWeekly     ScheduleFrequency = "weekly"
)

// Interval returns the concrete recurrence interval for the frequency.
func (f ScheduleFrequency) Interval() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyTwiceDaily:
		return 12 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// UpdatePolicy controls what happens when a fetched item matches an
// existing record: always write, or skip when the comparison fields
// are unchanged.
type UpdatePolicy string

const (
	UpdateAlways  UpdatePolicy = "always"
	UpdateChanged UpdatePolicy = "changed"
)

// ImportTask is a persisted configuration describing one recurring import job.
type ImportTask struct {
	ID     string     `gorm:"type:text;primaryKey" json:"id"`
	Name   string     `gorm:"type:text;not null" json:"name"`
	Status TaskStatus `gorm:"type:text;default:draft;index" json:"status"`

	// Target API
	BaseURL    string  `gorm:"type:text" json:"base_url"`
	Endpoint   string  `gorm:"type:text" json:"endpoint"`
	Method     string  `gorm:"type:text;default:GET" json:"method"`
	AuthHeader string  `gorm:"type:text" json:"auth_header"`
	AuthKey    string  `gorm:"type:text" json:"-"`
	Headers    JSONMap `gorm:"type:text" json:"headers"`
	Params     JSONMap `gorm:"type:text" json:"params"`

	// Response shape
	DataPath  string `gorm:"type:text" json:"data_path"`
	TotalPath string `gorm:"type:text" json:"total_path"`

	// Pagination
	PageParam     string `gorm:"type:text" json:"page_param"`
	PageSizeParam string `gorm:"type:text" json:"page_size_param"`
	PageSize      int    `gorm:"default:100" json:"page_size"`

	// Field mapping
	FieldMapping  JSONMap `gorm:"type:text" json:"field_mapping"`
	UniqueIDField string  `gorm:"type:text" json:"unique_id_field"`
	TargetType    string  `gorm:"type:text;default:vacancy" json:"target_type"`
	PublishState  string  `gorm:"type:text;default:published" json:"publish_state"`

	// Declarative per-field transform pipelines (target field -> pipeline).
	TransformEnabled bool    `gorm:"default:false" json:"transform_enabled"`
	Transforms       JSONMap `gorm:"type:text" json:"transforms"`

	// Reconciliation
	UpdatePolicy UpdatePolicy `gorm:"type:text;default:changed" json:"update_policy"`

	// Schedule
	ScheduleEnabled bool              `gorm:"default:false" json:"schedule_enabled"`
	Frequency       ScheduleFrequency `gorm:"type:text;default:daily" json:"frequency"`
	TimeOfDay       string            `gorm:"type:text;default:02:00" json:"time_of_day"`

	// Run statistics, mutated only by runs
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus string     `gorm:"type:text" json:"last_run_status,omitempty"`
	LastFetched   int        `gorm:"default:0" json:"last_fetched"`
	LastCreated   int        `gorm:"default:0" json:"last_created"`
	LastUpdated   int        `gorm:"default:0" json:"last_updated"`
	LastErrors    int        `gorm:"default:0" json:"last_errors"`
	RunCount      int        `gorm:"default:0" json:"run_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for ImportTask.
func (ImportTask) TableName() string {
	return "import_tasks"
}

// Runnable reports whether the task may be executed at all.
func (t *ImportTask) Runnable() bool {
	return t.Status == TaskStatusActive
}

// Schedulable reports whether the task should have a schedule installed.
func (t *ImportTask) Schedulable() bool {
	return t.Status == TaskStatusActive && t.ScheduleEnabled
}
