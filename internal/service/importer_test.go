package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/danny/vacsync/internal/config"
	"github.com/danny/vacsync/internal/domain"
	"github.com/danny/vacsync/internal/httpclient"
	"github.com/danny/vacsync/internal/logger"
	"github.com/danny/vacsync/internal/scheduler"
	gocache "github.com/patrickmn/go-cache"
)

// fakeRecords is an in-memory RecordStore.
type fakeRecords struct {
	mu              sync.Mutex
	nextID          uint
	byRef           map[string]*domain.Vacancy
	classifications map[uint]domain.Classification
	creates         int
	updates         int
	deletes         int
	failCreateRef   string // ref whose Create fails, for error-path tests
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		byRef:           make(map[string]*domain.Vacancy),
		classifications: make(map[uint]domain.Classification),
	}
}

func (f *fakeRecords) FindByUniqueID(_ context.Context, ref string) (*domain.Vacancy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.byRef[ref]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (f *fakeRecords) Create(_ context.Context, v *domain.Vacancy) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v.VacancyRef == f.failCreateRef && f.failCreateRef != "" {
		return 0, errors.New("simulated storage failure")
	}
	f.nextID++
	cp := *v
	cp.ID = f.nextID
	cp.UpdatedAt = time.Now()
	f.byRef[v.VacancyRef] = &cp
	f.creates++
	return cp.ID, nil
}

func (f *fakeRecords) Update(_ context.Context, v *domain.Vacancy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *v
	cp.UpdatedAt = time.Now()
	f.byRef[v.VacancyRef] = &cp
	f.updates++
	return nil
}

func (f *fakeRecords) Delete(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ref, v := range f.byRef {
		if v.ID == id {
			delete(f.byRef, ref)
			f.deletes++
			return nil
		}
	}
	return errors.New("not found")
}

func (f *fakeRecords) SetClassification(_ context.Context, id uint, class domain.Classification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classifications[id] = class
	return nil
}

func (f *fakeRecords) ListRefsNotIn(_ context.Context, refs []string) ([]domain.Vacancy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		seen[r] = true
	}
	var out []domain.Vacancy
	for ref, v := range f.byRef {
		if !seen[ref] {
			out = append(out, *v)
		}
	}
	return out, nil
}

// fakeRunLog is an in-memory RunLog.
type fakeRunLog struct {
	mu            sync.Mutex
	runSeq        int
	finalStatus   domain.RunStatus
	finalCounts   domain.RunCounts
	finalErrMsg   string
	messages      []string
	cancelAfter   int // CancelRequested returns true after this many polls; 0 disables
	cancelPolls   int
	startRunError error
}

func (f *fakeRunLog) StartRun(_ context.Context, taskID string, trigger domain.RunTrigger) (*domain.ImportRun, error) {
	if f.startRunError != nil {
		return nil, f.startRunError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runSeq++
	return &domain.ImportRun{
		ID:      fmt.Sprintf("run-%d", f.runSeq),
		TaskID:  taskID,
		Trigger: trigger,
		Status:  domain.RunStatusRunning,
	}, nil
}

func (f *fakeRunLog) EndRun(_ context.Context, _ string, status domain.RunStatus, counts domain.RunCounts, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalStatus = status
	f.finalCounts = counts
	f.finalErrMsg = errMsg
	return nil
}

func (f *fakeRunLog) CancelRequested(_ context.Context, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelAfter == 0 {
		return false
	}
	f.cancelPolls++
	return f.cancelPolls >= f.cancelAfter
}

func (f *fakeRunLog) Log(_ context.Context, _ string, _ domain.LogLevel, msg string, _ domain.JSONObject) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
}

// listingServer serves paginated vacancies; items may be modified per
// test through the items slice.
func listingServer(items []map[string]interface{}, pageSize int, calls *int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		page, _ := strconv.Atoi(r.URL.Query().Get("pageNumber"))
		if page < 1 {
			page = 1
		}
		start := (page - 1) * pageSize
		pageItems := []map[string]interface{}{}
		for i := start; i < start+pageSize && i < len(items); i++ {
			pageItems = append(pageItems, items[i])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"vacancies": pageItems,
			"total":     len(items),
		})
	}))
}

func quietLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "json", Output: io.Discard})
}

func testTask(baseURL string) *domain.ImportTask {
	return &domain.ImportTask{
		ID:            "t1",
		Status:        domain.TaskStatusActive,
		BaseURL:       baseURL,
		Endpoint:      "/vacancy",
		PageParam:     "pageNumber",
		PageSizeParam: "pageSize",
		PageSize:      2,
		DataPath:      "vacancies",
		TotalPath:     "total",
		UniqueIDField: "vacancyReference",
		UpdatePolicy:  domain.UpdateAlways,
		FieldMapping: domain.JSONMap{
			"vacancy_ref":         "vacancyReference",
			"title":               "title",
			"closing_date":        "closingDate",
			"number_of_positions": "numberOfPositions",
			"employer":            "employerName",
			"level":               "apprenticeshipLevel",
			"wage":                "wage",
			"address":             "address",
		},
	}
}

func testImporter(records *fakeRecords, runLog *fakeRunLog, graceDays int) *Importer {
	log := quietLogger()
	return NewImporter(ImporterDeps{
		Records: records,
		RunLog:  runLog,
		Guard:   scheduler.NewGuard(time.Hour),
		APIConfig: config.APIConfig{
			MinRequestGap:  time.Millisecond,
			RetryMax:       1,
			RetryBaseDelay: time.Millisecond,
		},
		Config: ImporterConfig{GracePeriodDays: graceDays, ProgressEvery: 2},
		Logger: log,
		// Fresh cache per client so consecutive runs in one test
		// observe upstream changes instead of replayed pages.
		ClientFactory: func(task *domain.ImportTask) *httpclient.Client {
			return httpclient.New(httpclient.Options{
				BaseURL:        task.BaseURL,
				MinRequestGap:  time.Millisecond,
				RetryMax:       1,
				RetryBaseDelay: time.Millisecond,
				AuthHeader:     task.AuthHeader,
				AuthKey:        task.AuthKey,
				Logger:         log,
				Cache:          gocache.New(time.Minute, time.Minute),
			})
		},
	})
}

func sampleItems(n int) []map[string]interface{} {
	items := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, map[string]interface{}{
			"vacancyReference":    fmt.Sprintf("VAC%04d", i),
			"title":               fmt.Sprintf("Apprentice %d", i),
			"closingDate":         "2026-12-01T00:00:00Z",
			"numberOfPositions":   float64(2),
			"employerName":        "Acme Ltd",
			"apprenticeshipLevel": "Advanced",
			"wage":                map[string]interface{}{"wageType": "Custom"},
			"address":             map[string]interface{}{"postcode": "LS1 4AP"},
		})
	}
	return items
}

func TestImporter_CreatesNewRecords(t *testing.T) {
	var calls int
	srv := listingServer(sampleItems(4), 2, &calls)
	defer srv.Close()

	records := newFakeRecords()
	runLog := &fakeRunLog{}
	imp := testImporter(records, runLog, 7)

	run, err := imp.RunTask(context.Background(), testTask(srv.URL), domain.TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != domain.RunStatusCompleted {
		t.Errorf("status = %q, want completed", run.Status)
	}
	if run.Fetched != 4 || run.Created != 4 || run.Updated != 0 || run.Errors != 0 {
		t.Errorf("counts = fetched %d created %d updated %d errors %d, want 4/4/0/0",
			run.Fetched, run.Created, run.Updated, run.Errors)
	}
	if calls != 2 {
		t.Errorf("server saw %d requests, want 2 pages", calls)
	}

	stored, _ := records.FindByUniqueID(context.Background(), "VAC0001")
	if stored == nil {
		t.Fatal("expected VAC0001 to be stored")
	}
	if stored.Title != "Apprentice 1" {
		t.Errorf("title = %q", stored.Title)
	}
	if stored.NumberOfPositions != 2 {
		t.Errorf("positions = %d, want 2", stored.NumberOfPositions)
	}
	if stored.ClosingDate == nil {
		t.Error("closing date should be parsed")
	}
	if got := stored.Address["postcode"]; got != "LS1 4AP" {
		t.Errorf("address postcode = %v", got)
	}
	if got := stored.Wage["wageType"]; got != "Custom" {
		t.Errorf("wage type = %v", got)
	}
	if class := records.classifications[stored.ID]; class.Level != "Advanced" || class.Employer != "Acme Ltd" {
		t.Errorf("classification = %+v", class)
	}
	if runLog.finalStatus != domain.RunStatusCompleted {
		t.Errorf("finalized status = %q", runLog.finalStatus)
	}
}

func TestImporter_SecondRunUpdatesNotCreates(t *testing.T) {
	var calls int
	srv := listingServer(sampleItems(4), 2, &calls)
	defer srv.Close()

	records := newFakeRecords()
	imp := testImporter(records, &fakeRunLog{}, 7)
	task := testTask(srv.URL)

	if _, err := imp.RunTask(context.Background(), task, domain.TriggerManual); err != nil {
		t.Fatalf("first run: %v", err)
	}
	run, err := imp.RunTask(context.Background(), task, domain.TriggerManual)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if run.Created != 0 {
		t.Errorf("second run created %d, want 0", run.Created)
	}
	if run.Updated != 4 {
		t.Errorf("second run with always policy updated %d, want 4", run.Updated)
	}
	if run.Deleted != 0 {
		t.Errorf("second run deleted %d, want 0", run.Deleted)
	}
}

func TestImporter_ChangedPolicySkipsUnchanged(t *testing.T) {
	var calls int
	items := sampleItems(4)
	srv := listingServer(items, 2, &calls)
	defer srv.Close()

	records := newFakeRecords()
	imp := testImporter(records, &fakeRunLog{}, 7)
	task := testTask(srv.URL)
	task.UpdatePolicy = domain.UpdateChanged

	if _, err := imp.RunTask(context.Background(), task, domain.TriggerManual); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// One item changes between runs
	items[2]["title"] = "Apprentice 2 (revised)"

	run, err := imp.RunTask(context.Background(), task, domain.TriggerManual)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if run.Updated != 1 {
		t.Errorf("updated = %d, want only the changed item", run.Updated)
	}
	if run.Skipped != 3 {
		t.Errorf("skipped = %d, want 3 unchanged", run.Skipped)
	}
}

func TestImporter_DeletionRespectsGracePeriod(t *testing.T) {
	var calls int
	items := sampleItems(3)
	srv := listingServer(items, 10, &calls)
	defer srv.Close()

	records := newFakeRecords()
	imp := testImporter(records, &fakeRunLog{}, 7)

	// A stale record not present upstream, closed 10 days ago
	stale := time.Now().AddDate(0, 0, -10)
	records.byRef["VAC9999"] = &domain.Vacancy{
		ID:          99,
		VacancyRef:  "VAC9999",
		ClosingDate: &stale,
	}
	// A recent one, closed yesterday: inside the grace period
	recent := time.Now().AddDate(0, 0, -1)
	records.byRef["VAC8888"] = &domain.Vacancy{
		ID:          88,
		VacancyRef:  "VAC8888",
		ClosingDate: &recent,
	}
	records.nextID = 100

	run, err := imp.RunTask(context.Background(), testTask(srv.URL), domain.TriggerScheduler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Deleted != 1 {
		t.Errorf("deleted = %d, want 1 (only past grace)", run.Deleted)
	}
	if v, _ := records.FindByUniqueID(context.Background(), "VAC9999"); v != nil {
		t.Error("expired record should be deleted")
	}
	if v, _ := records.FindByUniqueID(context.Background(), "VAC8888"); v == nil {
		t.Error("record inside the grace period must survive")
	}
}

func TestImporter_NoDeletionOnPartialFetch(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		page, _ := strconv.Atoi(r.URL.Query().Get("pageNumber"))
		if page >= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"vacancies": sampleItems(2),
			"total":     10,
		})
	}))
	defer srv.Close()

	records := newFakeRecords()
	stale := time.Now().AddDate(0, 0, -30)
	records.byRef["VAC9999"] = &domain.Vacancy{ID: 99, VacancyRef: "VAC9999", ClosingDate: &stale}
	records.nextID = 100

	runLog := &fakeRunLog{}
	imp := testImporter(records, runLog, 7)

	run, err := imp.RunTask(context.Background(), testTask(srv.URL), domain.TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != domain.RunStatusFailed {
		t.Errorf("status = %q, want failed", run.Status)
	}
	if run.Created != 2 {
		t.Errorf("created = %d, partial progress should be kept", run.Created)
	}
	if run.Deleted != 0 || records.deletes != 0 {
		t.Error("an incomplete fetch must never trigger deletions")
	}
}

func TestImporter_SkipsItemsWithoutUniqueID(t *testing.T) {
	items := sampleItems(3)
	delete(items[1], "vacancyReference")

	var calls int
	srv := listingServer(items, 10, &calls)
	defer srv.Close()

	records := newFakeRecords()
	imp := testImporter(records, &fakeRunLog{}, 7)

	run, err := imp.RunTask(context.Background(), testTask(srv.URL), domain.TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Created != 2 {
		t.Errorf("created = %d, want 2", run.Created)
	}
	if run.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", run.Skipped)
	}
	if run.Status != domain.RunStatusCompleted {
		t.Errorf("status = %q, a skipped item is not an error", run.Status)
	}
}

func TestImporter_ItemErrorDoesNotAbortRun(t *testing.T) {
	var calls int
	srv := listingServer(sampleItems(4), 10, &calls)
	defer srv.Close()

	records := newFakeRecords()
	records.failCreateRef = "VAC0001"
	imp := testImporter(records, &fakeRunLog{}, 7)

	run, err := imp.RunTask(context.Background(), testTask(srv.URL), domain.TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Created != 3 {
		t.Errorf("created = %d, want the 3 good items", run.Created)
	}
	if run.Errors != 1 {
		t.Errorf("errors = %d, want 1", run.Errors)
	}
	if run.Status != domain.RunStatusCompletedWithErrors {
		t.Errorf("status = %q, want completed_with_errors", run.Status)
	}
}

func TestImporter_GuardRejectsConcurrentRun(t *testing.T) {
	var calls int
	srv := listingServer(sampleItems(2), 10, &calls)
	defer srv.Close()

	records := newFakeRecords()
	runLog := &fakeRunLog{}
	imp := testImporter(records, runLog, 7)

	// Simulate a run in progress by holding the guard
	guard := scheduler.NewGuard(time.Hour)
	imp.guard = guard
	guard.TryAcquire()

	_, err := imp.RunTask(context.Background(), testTask(srv.URL), domain.TriggerManual)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("err = %v, want ErrAlreadyRunning", err)
	}
	if records.creates != 0 {
		t.Error("a skipped trigger must not touch the store")
	}

	// Release and confirm the next trigger proceeds
	guard.Release()
	run, err := imp.RunTask(context.Background(), testTask(srv.URL), domain.TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error after release: %v", err)
	}
	if run.Status != domain.RunStatusCompleted {
		t.Errorf("status = %q, want completed", run.Status)
	}
}

func TestImporter_CancellationFinalizesRun(t *testing.T) {
	var calls int
	srv := listingServer(sampleItems(10), 10, &calls)
	defer srv.Close()

	records := newFakeRecords()
	runLog := &fakeRunLog{cancelAfter: 1} // first poll requests cancellation
	imp := testImporter(records, runLog, 7)

	run, err := imp.RunTask(context.Background(), testTask(srv.URL), domain.TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.Status != domain.RunStatusCancelled {
		t.Errorf("status = %q, want cancelled", run.Status)
	}
	if run.Created >= 10 {
		t.Errorf("created = %d, cancellation should stop mid-run", run.Created)
	}
	if records.deletes != 0 {
		t.Error("a cancelled run must not run the deletion pass")
	}
	if runLog.finalStatus != domain.RunStatusCancelled {
		t.Errorf("finalized status = %q, want cancelled", runLog.finalStatus)
	}
}

func TestImporter_InactiveTaskRejected(t *testing.T) {
	records := newFakeRecords()
	imp := testImporter(records, &fakeRunLog{}, 7)

	task := testTask("http://127.0.0.1:0")
	task.Status = domain.TaskStatusDraft

	if _, err := imp.RunTask(context.Background(), task, domain.TriggerManual); err == nil {
		t.Fatal("expected error for a draft task")
	}
}

func TestImporter_TransformsApplied(t *testing.T) {
	items := []map[string]interface{}{{
		"vacancyReference": "VAC0001",
		"title":            "  software engineer apprentice  ",
	}}
	var calls int
	srv := listingServer(items, 10, &calls)
	defer srv.Close()

	records := newFakeRecords()
	imp := testImporter(records, &fakeRunLog{}, 7)

	task := testTask(srv.URL)
	task.TransformEnabled = true
	task.Transforms = domain.JSONMap{"title": "trim|title"}

	if _, err := imp.RunTask(context.Background(), task, domain.TriggerManual); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, _ := records.FindByUniqueID(context.Background(), "VAC0001")
	if stored == nil {
		t.Fatal("record not stored")
	}
	if stored.Title != "Software Engineer Apprentice" {
		t.Errorf("title = %q, transform pipeline not applied", stored.Title)
	}
}

func TestImporter_DefaultTransformFillsAbsentField(t *testing.T) {
	items := []map[string]interface{}{{
		"vacancyReference": "VAC0001",
		"title":            "Apprentice",
		// no employerName key at all
	}}
	var calls int
	srv := listingServer(items, 10, &calls)
	defer srv.Close()

	records := newFakeRecords()
	imp := testImporter(records, &fakeRunLog{}, 7)

	task := testTask(srv.URL)
	task.TransformEnabled = true
	task.Transforms = domain.JSONMap{"employer": "trim|default:Unknown Employer"}

	if _, err := imp.RunTask(context.Background(), task, domain.TriggerManual); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, _ := records.FindByUniqueID(context.Background(), "VAC0001")
	if stored == nil {
		t.Fatal("record not stored")
	}
	if got := stored.Fields["employer"]; got != "Unknown Employer" {
		t.Errorf("employer = %q, default step should fill the absent field", got)
	}
}
