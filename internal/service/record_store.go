package service

import (
	"context"

	"github.com/danny/vacsync/internal/domain"
)

// RecordStore is the abstract store the reconciler upserts into. The
// import engine never assumes a storage technology beyond this
// contract; repository.VacancyRepository is the local implementation.
type RecordStore interface {
	// FindByUniqueID returns the record for an upstream reference, or
	// nil when absent.
	FindByUniqueID(ctx context.Context, ref string) (*domain.Vacancy, error)
	Create(ctx context.Context, v *domain.Vacancy) (uint, error)
	Update(ctx context.Context, v *domain.Vacancy) error
	// Delete is a hard delete; expiration policy decides when it fires.
	Delete(ctx context.Context, id uint) error
	SetClassification(ctx context.Context, id uint, class domain.Classification) error
	// ListRefsNotIn returns stored records whose reference is not in
	// the fetched set, the deletion-pass candidates.
	ListRefsNotIn(ctx context.Context, refs []string) ([]domain.Vacancy, error)
}

// Enricher is the optional enrichment collaborator resolving an address
// block to coordinates. Failures are non-fatal and leave coordinates
// absent.
type Enricher interface {
	Enrich(ctx context.Context, address domain.JSONObject) (lat, lng float64, err error)
}

// RunLog is the audit trail contract the importer writes through:
// run lifecycle records plus per-run-correlated log entries.
// Implemented by Audit.
type RunLog interface {
	StartRun(ctx context.Context, taskID string, trigger domain.RunTrigger) (*domain.ImportRun, error)
	EndRun(ctx context.Context, runID string, status domain.RunStatus, counts domain.RunCounts, errMsg string) error
	// CancelRequested reports the persisted cooperative-cancellation flag.
	CancelRequested(ctx context.Context, runID string) bool
	Log(ctx context.Context, importID string, level domain.LogLevel, msg string, fields domain.JSONObject)
}

// StatsStore persists the run-statistics fields on a task after a run.
type StatsStore interface {
	UpdateRunStats(ctx context.Context, taskID string, updates map[string]interface{}) error
}
