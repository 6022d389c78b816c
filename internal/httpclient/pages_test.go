package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// pagedServer serves a fixed number of items across pages under the
// given data and total keys.
func pagedServer(t *testing.T, total, pageSize int, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		page, _ := strconv.Atoi(r.URL.Query().Get("pageNumber"))
		if page < 1 {
			page = 1
		}

		start := (page - 1) * pageSize
		var items []map[string]interface{}
		for i := start; i < start+pageSize && i < total; i++ {
			items = append(items, map[string]interface{}{
				"vacancyReference": fmt.Sprintf("VAC%04d", i),
			})
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"vacancies": items,
			"total":     total,
		})
	}))
}

func TestFetchAllPages_TotalDriven(t *testing.T) {
	var calls int32
	srv := pagedServer(t, 250, 100, &calls)
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	res := c.FetchAllPages(context.Background(), PageRequest{
		Endpoint:  "/vacancy",
		PageParam: "pageNumber",
		DataPath:  "vacancies",
		TotalPath: "total",
		PageSize:  100,
	})

	if !res.Success() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Items) != 250 {
		t.Errorf("items = %d, want 250", len(res.Items))
	}
	if res.Total != 250 {
		t.Errorf("total = %d, want 250", res.Total)
	}
	if res.PagesFetched != 3 {
		t.Errorf("pages fetched = %d, want 3", res.PagesFetched)
	}
	// ceil(250/100) = 3 pages, not a fourth probe
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("server saw %d requests, want exactly 3", got)
	}
}

func TestFetchAllPages_StopsOnConsecutiveEmptyPages(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))

		// No total reported; two pages of data then empties forever
		var items []map[string]interface{}
		if page <= 2 {
			items = append(items, map[string]interface{}{"id": page})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"results": items})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	res := c.FetchAllPages(context.Background(), PageRequest{
		Endpoint: "/list",
		DataPath: "results",
	})

	if !res.Success() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Items) != 2 {
		t.Errorf("items = %d, want 2", len(res.Items))
	}
	// Pages 1, 2 with data; 3 and 4 empty trip the stop condition
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Errorf("server saw %d requests, want 4", got)
	}
}

func TestFetchAllPages_ItemKeyDisappearsAfterData(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))

		// The item key vanishes once the data is exhausted
		if page <= 2 {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"results": []map[string]interface{}{{"id": page}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	res := c.FetchAllPages(context.Background(), PageRequest{
		Endpoint: "/list",
		DataPath: "results",
	})

	if !res.Success() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Items) != 2 {
		t.Errorf("items = %d, want 2", len(res.Items))
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Errorf("server saw %d requests, want 4", got)
	}
}

func TestFetchAllPages_PartialFailureKeepsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page >= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{{"id": 1}, {"id": 2}},
			"total":   10,
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, func(o *Options) {
		o.RetryMax = 1
		o.RetryBaseDelay = time.Millisecond
	})
	res := c.FetchAllPages(context.Background(), PageRequest{
		Endpoint: "/list",
		DataPath: "results",
		PageSize: 2,
	})

	if res.Success() {
		t.Fatal("expected a pagination error")
	}
	if len(res.Items) != 2 {
		t.Errorf("items = %d, want the 2 fetched before the failure", len(res.Items))
	}
	if res.PagesFetched != 1 {
		t.Errorf("pages fetched = %d, want 1", res.PagesFetched)
	}
}

func TestFetchAllPages_SafetyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Never-ending data, no total
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{{"id": 1}},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	res := c.FetchAllPages(context.Background(), PageRequest{
		Endpoint: "/list",
		DataPath: "results",
		MaxPages: 3,
	})

	if !res.Success() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.PagesFetched != 3 {
		t.Errorf("pages fetched = %d, want the cap of 3", res.PagesFetched)
	}
	if len(res.Items) != 3 {
		t.Errorf("items = %d, want 3", len(res.Items))
	}
}

func TestFetchAllPages_OnPageCallback(t *testing.T) {
	var calls int32
	srv := pagedServer(t, 4, 2, &calls)
	defer srv.Close()

	var pages []int
	var counts []int

	c := newTestClient(srv.URL, nil)
	res := c.FetchAllPages(context.Background(), PageRequest{
		Endpoint:  "/vacancy",
		PageParam: "pageNumber",
		DataPath:  "vacancies",
		TotalPath: "total",
		PageSize:  2,
		OnPage: func(page int, items []interface{}) {
			pages = append(pages, page)
			counts = append(counts, len(items))
		},
	})

	if !res.Success() {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(pages) != 2 || pages[0] != 1 || pages[1] != 2 {
		t.Errorf("callback pages = %v, want [1 2]", pages)
	}
	if len(counts) != 2 || counts[0] != 2 || counts[1] != 2 {
		t.Errorf("callback counts = %v, want [2 2]", counts)
	}
}

func decodeResult(t *testing.T, raw string) *Result {
	t.Helper()
	res := &Result{StatusCode: 200, Body: []byte(raw)}
	if err := json.Unmarshal([]byte(raw), &res.JSON); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return res
}

func TestExtractItems(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		dataPath string
		want     int
		wantErr  bool
	}{
		{"configured path", `{"vacancies":[{},{}]}`, "vacancies", 2, false},
		{"nested path", `{"payload":{"list":[{}]}}`, "payload.list", 1, false},
		{"fallback results", `{"results":[{},{},{}]}`, "", 3, false},
		{"fallback when configured path absent", `{"data":[{}]}`, "vacancies", 1, false},
		{"root array", `[{},{}]`, "", 2, false},
		{"null at configured path is empty", `{"vacancies":null}`, "vacancies", 0, false},
		{"null at nested path is empty", `{"payload":{"list":null}}`, "payload.list", 0, false},
		{"null at fallback key is empty", `{"results":null}`, "", 0, false},
		{"no array anywhere", `{"status":"ok"}`, "vacancies", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := ExtractItems(decodeResult(t, tt.body), tt.dataPath)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				var payloadErr *PayloadError
				if !errors.As(err, &payloadErr) {
					t.Fatalf("expected PayloadError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(items) != tt.want {
				t.Errorf("items = %d, want %d", len(items), tt.want)
			}
		})
	}
}

func TestExtractTotal(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		totalPath string
		want      int
	}{
		{"configured path", `{"count":42}`, "count", 42},
		{"nested path", `{"meta":{"total":7}}`, "meta.total", 7},
		{"fallback total", `{"total":12}`, "", 12},
		{"fallback totalCount", `{"totalCount":9}`, "", 9},
		{"string total", `{"total":"15"}`, "total", 15},
		{"absent", `{"items":[]}`, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractTotal(decodeResult(t, tt.body), tt.totalPath); got != tt.want {
				t.Errorf("ExtractTotal = %d, want %d", got, tt.want)
			}
		})
	}
}
