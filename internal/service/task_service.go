package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/danny/vacsync/internal/config"
	"github.com/danny/vacsync/internal/domain"
	"github.com/danny/vacsync/internal/httpclient"
	"github.com/danny/vacsync/internal/logger"
	"github.com/danny/vacsync/internal/mapping"
	"github.com/danny/vacsync/internal/repository"
	"github.com/google/uuid"
)

// DefaultTaskID is the id of the implicit config-derived task.
const DefaultTaskID = "default"

const (
	defaultPageParam     = "pageNumber"
	defaultPageSizeParam = "pageSize"
	defaultPageSize      = 100
)

// DefaultFieldMapping is the task mapping applied when the caller
// supplies none, shaped for a vacancy listings API.
func DefaultFieldMapping() domain.JSONMap {
	return domain.JSONMap{
		"vacancy_ref":         "vacancyReference",
		"title":               "title",
		"short_description":   "description",
		"closing_date":        "closingDate",
		"posted_date":         "postedDate",
		"number_of_positions": "numberOfPositions",
		"employer":            "employerName",
		"application_url":     "vacancyUrl",
		"level":               "apprenticeshipLevel",
		"route":               "course.route",
		"wage":                "wage",
		"address":             "address",
	}
}

// TaskService owns import task configuration: defaults, validation and
// configuration-time test fetches.
type TaskService struct {
	repo   *repository.TaskRepository
	apiCfg config.APIConfig
	log    *logger.Logger
}

// NewTaskService creates a new TaskService.
func NewTaskService(repo *repository.TaskRepository, apiCfg config.APIConfig, log *logger.Logger) *TaskService {
	return &TaskService{repo: repo, apiCfg: apiCfg, log: log}
}

// Create applies defaults under the caller-supplied overrides, validates
// and persists a new task. The save notification reaches the scheduler
// through the repository.
func (s *TaskService) Create(ctx context.Context, task *domain.ImportTask) error {
	applyDefaults(task)
	if err := Validate(task); err != nil {
		return err
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	return s.repo.Create(ctx, task)
}

// Update validates and saves an existing task, triggering a reschedule.
func (s *TaskService) Update(ctx context.Context, task *domain.ImportTask) error {
	applyDefaults(task)
	if err := Validate(task); err != nil {
		return err
	}
	return s.repo.Update(ctx, task)
}

// Get retrieves a task; nil when absent.
func (s *TaskService) Get(ctx context.Context, id string) (*domain.ImportTask, error) {
	return s.repo.GetByID(ctx, id)
}

// List retrieves all tasks.
func (s *TaskService) List(ctx context.Context) ([]domain.ImportTask, error) {
	return s.repo.List(ctx)
}

// Delete removes a task; the delete notification cancels any schedule.
func (s *TaskService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// applyDefaults fills the default mapping table, pagination parameter
// names and page size where the caller left them unset.
func applyDefaults(task *domain.ImportTask) {
	if task.Method == "" {
		task.Method = "GET"
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusDraft
	}
	if task.PageParam == "" {
		task.PageParam = defaultPageParam
	}
	if task.PageSizeParam == "" {
		task.PageSizeParam = defaultPageSizeParam
	}
	if task.PageSize == 0 {
		task.PageSize = defaultPageSize
	}
	if len(task.FieldMapping) == 0 {
		task.FieldMapping = DefaultFieldMapping()
	}
	if task.UniqueIDField == "" {
		task.UniqueIDField = "vacancyReference"
	}
	if task.TargetType == "" {
		task.TargetType = "vacancy"
	}
	if task.PublishState == "" {
		task.PublishState = "published"
	}
	if task.UpdatePolicy == "" {
		// Admin-created tasks default to always-write on match; the
		// config-derived default task overrides this per deployment.
		task.UpdatePolicy = domain.UpdateAlways
	}
	if task.Frequency == "" {
		task.Frequency = domain.FrequencyDaily
	}
	if task.TimeOfDay == "" {
		task.TimeOfDay = "02:00"
	}
}

// Validate enforces the task configuration invariants.
func Validate(task *domain.ImportTask) error {
	if task.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if task.PageSize <= 0 {
		return fmt.Errorf("page_size must be greater than zero")
	}
	if task.UniqueIDField == "" {
		return fmt.Errorf("unique_id_field is required")
	}
	switch task.Status {
	case domain.TaskStatusDraft, domain.TaskStatusActive, domain.TaskStatusInactive:
	default:
		return fmt.Errorf("invalid task status %q", task.Status)
	}
	switch task.UpdatePolicy {
	case domain.UpdateAlways, domain.UpdateChanged:
	default:
		return fmt.Errorf("invalid update_policy %q", task.UpdatePolicy)
	}
	switch task.Frequency {
	case domain.FrequencyHourly, domain.FrequencyTwiceDaily, domain.FrequencyDaily, domain.FrequencyWeekly:
	default:
		return fmt.Errorf("invalid frequency %q", task.Frequency)
	}
	if task.TransformEnabled {
		for field, expr := range task.Transforms {
			if err := mapping.ValidatePipeline(expr); err != nil {
				return fmt.Errorf("transform for %q: %w", field, err)
			}
		}
	}
	return nil
}

// DefaultTask builds the implicit task from site-level configuration.
// This is the unified replacement for a settings-driven sync pipeline:
// one reconciler contract, one configuration type.
func DefaultTask(cfg *config.Config) *domain.ImportTask {
	params := domain.JSONMap{}
	if cfg.API.UKPRN != "" {
		params["ukprn"] = cfg.API.UKPRN
	}
	task := &domain.ImportTask{
		ID:              DefaultTaskID,
		Name:            "Default sync",
		Status:          domain.TaskStatusActive,
		BaseURL:         cfg.API.BaseURL,
		Endpoint:        cfg.API.Endpoint,
		AuthHeader:      cfg.API.AuthHeader,
		AuthKey:         cfg.API.AuthKey,
		Params:          params,
		DataPath:        "vacancies",
		TotalPath:       "total",
		PageSize:        cfg.Sync.PageSize,
		UpdatePolicy:    domain.UpdatePolicy(cfg.Sync.UpdatePolicy),
		ScheduleEnabled: true,
		Frequency:       domain.ScheduleFrequency(cfg.Sync.Frequency),
		TimeOfDay:       cfg.Sync.TimeOfDay,
	}
	applyDefaults(task)
	// The settings-driven pipeline historically skipped unchanged records
	if task.UpdatePolicy == "" {
		task.UpdatePolicy = domain.UpdateChanged
	}
	return task
}

// TestFetchResult is the outcome of a configuration-time test fetch.
type TestFetchResult struct {
	Success      bool          `json:"success"`
	Items        []interface{} `json:"items"`
	Total        int           `json:"total"`
	PagesFetched int           `json:"pages_fetched"`
	Fields       []string      `json:"fields,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// ExecuteAPIRequest performs a single bounded fetch for connection
// testing and field discovery. It commits no writes. In test mode the
// discovered leaf paths of a sample item are included for mapping
// configuration.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - task: task configuration to test.
//   - limit: page size cap for the probe.
//   - testMode: include flattened field paths of a sample item.
// Returns:
//   - *TestFetchResult: probe outcome; never nil.
func (s *TaskService) ExecuteAPIRequest(ctx context.Context, task *domain.ImportTask, limit int, testMode bool) *TestFetchResult {
	applyDefaults(task)
	if limit <= 0 || limit > task.PageSize {
		limit = task.PageSize
	}

	client := BuildClient(task, s.apiCfg, s.log)

	params := map[string]string{}
	for k, v := range task.Params {
		params[k] = v
	}
	params[task.PageSizeParam] = strconv.Itoa(limit)
	params[task.PageParam] = "1"

	res, err := client.Get(ctx, task.Endpoint, params, map[string]string(task.Headers))
	if err != nil {
		return &TestFetchResult{Error: err.Error()}
	}

	items, err := httpclient.ExtractItems(res, task.DataPath)
	if err != nil {
		return &TestFetchResult{Error: err.Error()}
	}
	if len(items) > limit {
		items = items[:limit]
	}

	out := &TestFetchResult{
		Success:      true,
		Items:        items,
		Total:        httpclient.ExtractTotal(res, task.TotalPath),
		PagesFetched: 1,
	}
	if testMode && len(items) > 0 {
		if sample, ok := items[0].(map[string]interface{}); ok {
			out.Fields = mapping.FlattenKeys(sample)
		}
	}
	return out
}

// BuildClient constructs a paced HTTP client for a task, layering task
// overrides on the site-level API defaults.
func BuildClient(task *domain.ImportTask, apiCfg config.APIConfig, log *logger.Logger) *httpclient.Client {
	baseURL := task.BaseURL
	if baseURL == "" {
		baseURL = apiCfg.BaseURL
	}
	authHeader, authKey := task.AuthHeader, task.AuthKey
	if authKey == "" {
		authHeader, authKey = apiCfg.AuthHeader, apiCfg.AuthKey
	}
	return httpclient.New(httpclient.Options{
		BaseURL:         baseURL,
		Timeout:         apiCfg.Timeout,
		MinRequestGap:   apiCfg.MinRequestGap,
		CacheTTL:        apiCfg.CacheTTL,
		RetryMax:        apiCfg.RetryMax,
		RetryBaseDelay:  apiCfg.RetryBaseDelay,
		RetryMultiplier: apiCfg.RetryMultiplier,
		AuthHeader:      authHeader,
		AuthKey:         authKey,
		Headers:         map[string]string(task.Headers),
		Logger:          log,
	})
}
