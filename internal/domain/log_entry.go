package domain

import "time"

// LogLevel is the severity of a persisted log entry.
type LogLevel string

const (
	LevelTrace   LogLevel = "trace"
	LevelDebug   LogLevel = "debug"
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// SystemImportID is used for entries not correlated with a specific run.
const SystemImportID = "system"

// LogEntry is an append-only persisted audit log row.
// Never mutated; pruned by the retention policy, oldest-first.
type LogEntry struct {
	ID        uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	ImportID  string     `gorm:"type:text;index;default:system" json:"import_id"`
	Level     LogLevel   `gorm:"type:text;index" json:"level"`
	Message   string     `gorm:"type:text" json:"message"`
	Context   JSONObject `gorm:"type:text" json:"context,omitempty"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
}

// TableName returns the database table name for LogEntry.
func (LogEntry) TableName() string {
	return "import_logs"
}
