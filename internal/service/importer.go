package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danny/vacsync/internal/config"
	"github.com/danny/vacsync/internal/domain"
	"github.com/danny/vacsync/internal/httpclient"
	"github.com/danny/vacsync/internal/logger"
	"github.com/danny/vacsync/internal/mapping"
	"github.com/danny/vacsync/internal/scheduler"
	"gorm.io/gorm"
)

// ErrAlreadyRunning is returned when a trigger is skipped because the
// run guard is held. The trigger is skipped, never queued.
var ErrAlreadyRunning = errors.New("an import run is already in progress")

// structuredTargets are mapped as serialized blocks rather than scalars.
var structuredTargets = map[string]string{
	"address":   "address",
	"addresses": "address",
	"wage":      "wage",
}

// promotedFields are stored as dedicated columns and drive the
// update-worthiness test.
var promotedFields = map[string]bool{
	"vacancy_ref":         true,
	"title":               true,
	"closing_date":        true,
	"number_of_positions": true,
	"short_description":   true,
}

// dateLayouts are tried in order when parsing date-valued fields.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ImporterConfig holds run-level tuning for the importer.
type ImporterConfig struct {
	GracePeriodDays int // expiration grace period (default 7)
	MaxPages        int // pagination safety cap (default httpclient.DefaultMaxPages)
	ProgressEvery   int // items between progress reports and cancel polls (default 10)
}

func (c *ImporterConfig) applyDefaults() {
	if c.GracePeriodDays <= 0 {
		c.GracePeriodDays = 7
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = 10
	}
}

// ImporterDeps wires the importer's collaborators.
type ImporterDeps struct {
	Records   RecordStore
	RunLog    RunLog
	Stats     StatsStore
	Enricher  Enricher // optional; nil disables enrichment
	Guard     *scheduler.Guard
	APIConfig config.APIConfig
	Config    ImporterConfig
	Logger    *logger.Logger

	// ClientFactory overrides transport construction; nil uses BuildClient.
	ClientFactory func(task *domain.ImportTask) *httpclient.Client
	// Progress, when set, is invoked every ProgressEvery items. It must
	// not block or it stalls the run.
	Progress func(processed, total int)
}

// Importer reconciles fetched listings into the record store: upsert
// keyed by the upstream unique id, update-vs-skip per task policy, and
// expiration-based deletion of records missing from the fetched set.
type Importer struct {
	records   RecordStore
	runLog    RunLog
	stats     StatsStore
	enricher  Enricher
	guard     *scheduler.Guard
	apiCfg    config.APIConfig
	cfg       ImporterConfig
	log       *logger.Logger
	clientFor func(task *domain.ImportTask) *httpclient.Client
	progress  func(processed, total int)
}

// NewImporter creates an Importer.
// Parameters:
//   - deps: collaborator wiring; Records, RunLog, Guard and Logger are required.
// Returns:
//   - *Importer: initialized importer.
func NewImporter(deps ImporterDeps) *Importer {
	deps.Config.applyDefaults()
	imp := &Importer{
		records:   deps.Records,
		runLog:    deps.RunLog,
		stats:     deps.Stats,
		enricher:  deps.Enricher,
		guard:     deps.Guard,
		apiCfg:    deps.APIConfig,
		cfg:       deps.Config,
		log:       deps.Logger,
		clientFor: deps.ClientFactory,
		progress:  deps.Progress,
	}
	if imp.log == nil {
		imp.log = logger.GetDefault()
	}
	if imp.clientFor == nil {
		apiCfg := deps.APIConfig
		log := imp.log
		imp.clientFor = func(task *domain.ImportTask) *httpclient.Client {
			return BuildClient(task, apiCfg, log)
		}
	}
	return imp
}

// RunTask executes one import run for a task. Implements scheduler.Runner.
//
// The run guard is checked first: if another run holds it the trigger
// is skipped with ErrAlreadyRunning. The guard is released in a defer
// regardless of outcome. Transport, rate, client and payload failures
// mark the run failed but never propagate as panics; per-item errors
// are counted and never abort the run.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - task: task configuration; must be active.
//   - trigger: what started the run.
// Returns:
//   - *domain.ImportRun: the finalized run record.
//   - error: guard conflict, inactive task, or audit-trail failure.
func (imp *Importer) RunTask(ctx context.Context, task *domain.ImportTask, trigger domain.RunTrigger) (*domain.ImportRun, error) {
	if !task.Runnable() {
		return nil, fmt.Errorf("task %q is not active", task.ID)
	}

	if !imp.guard.TryAcquire() {
		imp.runLog.Log(ctx, domain.SystemImportID, domain.LevelWarning,
			"Import trigger skipped: a run is already in progress", domain.JSONObject{
				"task_id": task.ID,
				"trigger": string(trigger),
			})
		return nil, ErrAlreadyRunning
	}
	defer imp.guard.Release()

	run, err := imp.runLog.StartRun(ctx, task.ID, trigger)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	ctx = logger.SetRunID(logger.SetTaskID(ctx, task.ID), run.ID)

	counts := domain.RunCounts{}
	status, errMsg := imp.execute(ctx, task, run.ID, &counts)

	if err := imp.runLog.EndRun(ctx, run.ID, status, counts, errMsg); err != nil {
		logger.CtxError(ctx, "Failed to finalize run: %v", err)
	}
	imp.updateTaskStats(ctx, task.ID, status, counts)

	run.Status = status
	run.Fetched = counts.Fetched
	run.Created = counts.Created
	run.Updated = counts.Updated
	run.Deleted = counts.Deleted
	run.Skipped = counts.Skipped
	run.Errors = counts.Errors
	run.ErrorMessage = errMsg
	return run, nil
}

// execute performs the fetch-normalize-reconcile-delete cycle.
func (imp *Importer) execute(ctx context.Context, task *domain.ImportTask, runID string, counts *domain.RunCounts) (domain.RunStatus, string) {
	client := imp.clientFor(task)

	params := make(map[string]string, len(task.Params)+1)
	for k, v := range task.Params {
		params[k] = v
	}
	if task.PageSizeParam != "" {
		params[task.PageSizeParam] = strconv.Itoa(task.PageSize)
	}

	pages := client.FetchAllPages(ctx, httpclient.PageRequest{
		Endpoint:  task.Endpoint,
		Params:    params,
		Headers:   map[string]string(task.Headers),
		PageParam: task.PageParam,
		DataPath:  task.DataPath,
		TotalPath: task.TotalPath,
		PageSize:  task.PageSize,
		MaxPages:  imp.cfg.MaxPages,
	})
	counts.Fetched = len(pages.Items)

	if pages.Err != nil {
		imp.runLog.Log(ctx, runID, domain.LevelError, "Fetch failed", domain.JSONObject{
			"error":         pages.Err.Error(),
			"pages_fetched": pages.PagesFetched,
			"items_so_far":  len(pages.Items),
		})
		if len(pages.Items) == 0 {
			return domain.RunStatusFailed, pages.Err.Error()
		}
		// Partial progress is still reconciled below; only the
		// deletion pass is unsafe on an incomplete fetched set.
	}

	transforms := imp.compileTransforms(ctx, task, runID)

	seenRefs := make([]string, 0, len(pages.Items))
	cancelled := false

	for i, item := range pages.Items {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if i > 0 && i%imp.cfg.ProgressEvery == 0 {
			if imp.progress != nil {
				imp.progress(i, len(pages.Items))
			}
			if imp.runLog.CancelRequested(ctx, runID) {
				imp.runLog.Log(ctx, runID, domain.LevelWarning, "Run cancelled", domain.JSONObject{
					"processed": i,
					"fetched":   len(pages.Items),
				})
				cancelled = true
				break
			}
		}

		if err := imp.processItem(ctx, task, runID, item, transforms, &seenRefs, counts); err != nil {
			counts.Errors++
			imp.runLog.Log(ctx, runID, domain.LevelError, "Item processing failed", domain.JSONObject{
				"error": err.Error(),
				"index": i,
			})
		}
	}

	if cancelled {
		return domain.RunStatusCancelled, ""
	}

	// Deletion requires a complete fetched set: an aborted fetch must
	// never expire records that simply were not reached.
	if pages.Err == nil {
		imp.deletionPass(ctx, runID, seenRefs, counts)
	}

	if pages.Err != nil {
		return domain.RunStatusFailed, pages.Err.Error()
	}
	if counts.Errors > 0 {
		return domain.RunStatusCompletedWithErrors, ""
	}
	return domain.RunStatusCompleted, ""
}

// compileTransforms parses the task's transform pipelines once per run.
// Invalid pipelines are logged and skipped; validation at save time
// makes this a belt-and-braces path.
func (imp *Importer) compileTransforms(ctx context.Context, task *domain.ImportTask, runID string) map[string]*mapping.Pipeline {
	if !task.TransformEnabled || len(task.Transforms) == 0 {
		return nil
	}
	pipelines := make(map[string]*mapping.Pipeline, len(task.Transforms))
	for field, expr := range task.Transforms {
		p, err := mapping.ParsePipeline(expr)
		if err != nil {
			imp.runLog.Log(ctx, runID, domain.LevelWarning, "Invalid transform skipped", domain.JSONObject{
				"field": field,
				"error": err.Error(),
			})
			continue
		}
		pipelines[field] = p
	}
	return pipelines
}

// processItem reconciles one fetched item: resolve the unique id, map
// and sanitize fields, then create/update/skip per the task policy.
func (imp *Importer) processItem(ctx context.Context, task *domain.ImportTask, runID string, item interface{}, transforms map[string]*mapping.Pipeline, seenRefs *[]string, counts *domain.RunCounts) error {
	raw, ok := item.(map[string]interface{})
	if !ok {
		return fmt.Errorf("item is not a JSON object")
	}

	uid := strings.TrimSpace(mapping.ResolveString(raw, task.UniqueIDField))
	if uid == "" {
		counts.Skipped++
		imp.runLog.Log(ctx, runID, domain.LevelWarning, "Item skipped: missing unique id", domain.JSONObject{
			"unique_id_field": task.UniqueIDField,
		})
		return nil
	}
	*seenRefs = append(*seenRefs, uid)

	rec := normalize(task, raw, transforms, uid)

	existing, err := imp.records.FindByUniqueID(ctx, uid)
	if err != nil {
		return fmt.Errorf("lookup %q: %w", uid, err)
	}

	if existing == nil {
		v := buildVacancy(rec, task.PublishState, nil)
		imp.enrich(ctx, runID, v)
		id, err := imp.records.Create(ctx, v)
		if err != nil {
			return fmt.Errorf("create %q: %w", uid, err)
		}
		if err := imp.records.SetClassification(ctx, id, classificationFrom(rec)); err != nil {
			return fmt.Errorf("classify %q: %w", uid, err)
		}
		counts.Created++
		return nil
	}

	if task.UpdatePolicy == domain.UpdateChanged && !updateRequired(existing, rec) {
		counts.Skipped++
		return nil
	}

	v := buildVacancy(rec, task.PublishState, existing)
	imp.enrich(ctx, runID, v)
	if err := imp.records.Update(ctx, v); err != nil {
		return fmt.Errorf("update %q: %w", uid, err)
	}
	if err := imp.records.SetClassification(ctx, existing.ID, classificationFrom(rec)); err != nil {
		return fmt.Errorf("classify %q: %w", uid, err)
	}
	counts.Updated++
	return nil
}

// enrich resolves coordinates for the vacancy's address block.
// Failures are logged and leave coordinates absent.
func (imp *Importer) enrich(ctx context.Context, runID string, v *domain.Vacancy) {
	if imp.enricher == nil || len(v.Address) == 0 {
		return
	}
	if v.Latitude != 0 || v.Longitude != 0 {
		return
	}
	lat, lng, err := imp.enricher.Enrich(ctx, v.Address)
	if err != nil {
		imp.runLog.Log(ctx, runID, domain.LevelDebug, "Enrichment failed, coordinates left absent", domain.JSONObject{
			"vacancy_ref": v.VacancyRef,
			"error":       err.Error(),
		})
		return
	}
	v.Latitude = lat
	v.Longitude = lng
}

// deletionPass expires stored records missing from the fetched set:
// deleted only when the closing date (or, absent one, the last-modified
// time) plus the grace period has passed. Hard deletes.
func (imp *Importer) deletionPass(ctx context.Context, runID string, seenRefs []string, counts *domain.RunCounts) {
	candidates, err := imp.records.ListRefsNotIn(ctx, seenRefs)
	if err != nil {
		counts.Errors++
		imp.runLog.Log(ctx, runID, domain.LevelError, "Deletion pass failed", domain.JSONObject{
			"error": err.Error(),
		})
		return
	}

	grace := time.Duration(imp.cfg.GracePeriodDays) * 24 * time.Hour
	now := time.Now()

	for _, v := range candidates {
		basis := v.UpdatedAt
		if v.ClosingDate != nil {
			basis = *v.ClosingDate
		}
		if now.Sub(basis) <= grace {
			continue
		}
		if err := imp.records.Delete(ctx, v.ID); err != nil {
			counts.Errors++
			imp.runLog.Log(ctx, runID, domain.LevelError, "Failed to delete expired record", domain.JSONObject{
				"vacancy_ref": v.VacancyRef,
				"error":       err.Error(),
			})
			continue
		}
		counts.Deleted++
		imp.runLog.Log(ctx, runID, domain.LevelInfo, "Expired record deleted", domain.JSONObject{
			"vacancy_ref":  v.VacancyRef,
			"closing_date": v.ClosingDate,
		})
	}
}

// updateTaskStats persists the run-statistics fields on the task. The
// implicit default task has no stored row; the update is a no-op then.
func (imp *Importer) updateTaskStats(ctx context.Context, taskID string, status domain.RunStatus, counts domain.RunCounts) {
	if imp.stats == nil {
		return
	}
	err := imp.stats.UpdateRunStats(ctx, taskID, map[string]interface{}{
		"last_run_at":     time.Now(),
		"last_run_status": string(status),
		"last_fetched":    counts.Fetched,
		"last_created":    counts.Created,
		"last_updated":    counts.Updated,
		"last_errors":     counts.Errors,
		"run_count":       gorm.Expr("run_count + 1"),
	})
	if err != nil {
		logger.CtxWarn(ctx, "Failed to update task run statistics: %v", err)
	}
}

// normalize maps one raw item into a NormalizedRecord: resolve each
// source path, apply the field's transform pipeline, then sanitize for
// the target type. Structured targets keep their decoded JSON shape.
func normalize(task *domain.ImportTask, raw map[string]interface{}, transforms map[string]*mapping.Pipeline, uid string) *domain.NormalizedRecord {
	rec := &domain.NormalizedRecord{
		UniqueID: uid,
		Fields:   make(map[string]string, len(task.FieldMapping)),
		Blocks:   make(map[string]interface{}),
	}

	for target, sourcePath := range task.FieldMapping {
		value := mapping.Resolve(raw, sourcePath)
		if value == nil {
			// A pipeline with a default step can still supply a value
			// for an absent source field.
			if p, ok := transforms[target]; ok {
				if s := p.Apply(""); s != "" {
					rec.Fields[target] = s
				}
			}
			continue
		}

		if block, ok := structuredTargets[target]; ok {
			switch v := value.(type) {
			case map[string]interface{}:
				rec.Blocks[block] = v
				continue
			case []interface{}:
				if len(v) > 0 {
					if first, ok := v[0].(map[string]interface{}); ok {
						rec.Blocks[block] = first
						continue
					}
				}
				rec.Blocks[block] = v
				continue
			}
		}

		s := mapping.Sanitize(target, value)
		if p, ok := transforms[target]; ok {
			s = p.Apply(s)
		}
		rec.Fields[target] = s
	}

	return rec
}

// buildVacancy converts a normalized record into the stored shape,
// layered over the existing record when updating.
func buildVacancy(rec *domain.NormalizedRecord, publishState string, existing *domain.Vacancy) *domain.Vacancy {
	v := &domain.Vacancy{}
	if existing != nil {
		*v = *existing
	}
	v.VacancyRef = rec.UniqueID
	v.Title = rec.Fields["title"]
	v.ShortDescription = rec.Fields["short_description"]
	v.ClosingDate = parseDate(rec.Fields["closing_date"])
	v.NumberOfPositions = parsePositions(rec.Fields["number_of_positions"])
	if publishState != "" {
		v.PublishState = publishState
	}

	extra := make(domain.JSONMap)
	for k, val := range rec.Fields {
		if promotedFields[k] {
			continue
		}
		extra[k] = val
	}
	v.Fields = extra

	if addr, ok := rec.Blocks["address"].(map[string]interface{}); ok {
		v.Address = domain.JSONObject(addr)
	}
	if wage, ok := rec.Blocks["wage"].(map[string]interface{}); ok {
		v.Wage = domain.JSONObject(wage)
	}
	return v
}

// classificationFrom extracts the coarse taxonomy values.
func classificationFrom(rec *domain.NormalizedRecord) domain.Classification {
	return domain.Classification{
		Level:    rec.Fields["level"],
		Route:    rec.Fields["route"],
		Employer: rec.Fields["employer"],
	}
}

// updateRequired is the update-worthiness test: any difference in
// title, closing date, position count or short description requires a
// write.
func updateRequired(existing *domain.Vacancy, rec *domain.NormalizedRecord) bool {
	if existing.Title != rec.Fields["title"] {
		return true
	}
	if existing.ShortDescription != rec.Fields["short_description"] {
		return true
	}
	if existing.NumberOfPositions != parsePositions(rec.Fields["number_of_positions"]) {
		return true
	}
	incoming := parseDate(rec.Fields["closing_date"])
	switch {
	case existing.ClosingDate == nil && incoming == nil:
	case existing.ClosingDate == nil || incoming == nil:
		return true
	case !existing.ClosingDate.Equal(*incoming):
		return true
	}
	return false
}

// parseDate parses a date-valued field; nil when absent or unparseable.
func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

// parsePositions parses the position count; defaults to 1.
func parsePositions(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
