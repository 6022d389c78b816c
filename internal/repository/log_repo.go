package repository

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/danny/vacsync/internal/domain"
	"gorm.io/gorm"
)

// LogRepository handles the persisted append-only audit log.
type LogRepository struct {
	db *gorm.DB
}

// NewLogRepository creates a new LogRepository.
func NewLogRepository(db *gorm.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Append inserts one log entry. Entries are never mutated afterwards.
func (r *LogRepository) Append(ctx context.Context, entry *domain.LogEntry) error {
	if entry.ImportID == "" {
		entry.ImportID = domain.SystemImportID
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// List retrieves entries newest-first, optionally filtered by import id
// and minimum level.
func (r *LogRepository) List(ctx context.Context, importID string, limit, offset int) ([]domain.LogEntry, error) {
	var entries []domain.LogEntry
	query := r.db.WithContext(ctx)
	if importID != "" {
		query = query.Where("import_id = ?", importID)
	}
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Prune applies the retention policy: delete entries older than maxAge
// and cap the total row count at maxRows, oldest-first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - maxAge: entries older than now-maxAge are deleted.
//   - maxRows: total row cap; 0 disables the cap.
// Returns:
//   - int64: number of rows deleted.
//   - error: non-nil if a delete fails.
func (r *LogRepository) Prune(ctx context.Context, maxAge time.Duration, maxRows int) (int64, error) {
	var deleted int64

	cutoff := time.Now().Add(-maxAge)
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&domain.LogEntry{})
	if res.Error != nil {
		return deleted, res.Error
	}
	deleted += res.RowsAffected

	if maxRows > 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&domain.LogEntry{}).Count(&count).Error; err != nil {
			return deleted, err
		}
		if count > int64(maxRows) {
			excess := count - int64(maxRows)
			var ids []uint
			if err := r.db.WithContext(ctx).Model(&domain.LogEntry{}).
				Order("created_at ASC").
				Limit(int(excess)).
				Pluck("id", &ids).Error; err != nil {
				return deleted, err
			}
			res = r.db.WithContext(ctx).Delete(&domain.LogEntry{}, "id IN ?", ids)
			if res.Error != nil {
				return deleted, res.Error
			}
			deleted += res.RowsAffected
		}
	}

	return deleted, nil
}

// ExportCSV writes a flat delimited dump of entries to w, oldest-first,
// optionally filtered to one run.
func (r *LogRepository) ExportCSV(ctx context.Context, importID string, w io.Writer) error {
	var entries []domain.LogEntry
	query := r.db.WithContext(ctx)
	if importID != "" {
		query = query.Where("import_id = ?", importID)
	}
	if err := query.Order("created_at ASC").Find(&entries).Error; err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "import_id", "level", "message", "context", "created_at"}); err != nil {
		return err
	}
	for _, e := range entries {
		ctxJSON := ""
		if len(e.Context) > 0 {
			b, _ := json.Marshal(e.Context)
			ctxJSON = string(b)
		}
		if err := cw.Write([]string{
			strconv.FormatUint(uint64(e.ID), 10),
			e.ImportID,
			string(e.Level),
			e.Message,
			ctxJSON,
			e.CreatedAt.Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
