package httpclient

import (
	"context"
	"errors"
	"strconv"

	"github.com/danny/vacsync/internal/logger"
	"github.com/danny/vacsync/internal/mapping"
)

// DefaultMaxPages is the safety cap on sequential page requests.
const DefaultMaxPages = 500

// itemPathFallbacks are probed in priority order when the configured
// data path yields nothing.
var itemPathFallbacks = []string{"results", "data", "items", "records"}

// PageRequest describes one paginated listing fetch.
type PageRequest struct {
	Endpoint  string
	Params    map[string]string
	Headers   map[string]string
	PageParam string // query parameter carrying the page number; default "page"
	DataPath  string // dot-path to the item array within the response
	TotalPath string // dot-path to the server-reported total count
	PageSize  int    // page size, used to infer total pages
	MaxPages  int    // safety cap; default DefaultMaxPages
	OnPage    func(page int, items []interface{})
}

// PagesResult accumulates items across pages. When a page request fails
// mid-run, Items holds everything fetched so far and Err carries the
// failure; progress is never discarded.
type PagesResult struct {
	Items        []interface{}
	Total        int // server-reported total, 0 when unknown
	PagesFetched int
	Err          error
}

// Success reports whether the whole pagination completed without error.
func (r *PagesResult) Success() bool {
	return r.Err == nil
}

// FetchAllPages drives sequential page requests until exhaustion.
// It stops when the page index exceeds the inferred total page count,
// the safety cap is reached, or two consecutive pages return zero items.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: pagination descriptor.
// Returns:
//   - *PagesResult: accumulated items plus any partial-failure error.
func (c *Client) FetchAllPages(ctx context.Context, req PageRequest) *PagesResult {
	pageParam := req.PageParam
	if pageParam == "" {
		pageParam = "page"
	}
	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	result := &PagesResult{}
	totalPages := 0
	consecutiveEmpty := 0

	for page := 1; ; page++ {
		if totalPages > 0 && page > totalPages {
			break
		}
		if page > maxPages {
			c.log.WithField("max_pages", maxPages).Warn("Pagination safety cap reached")
			break
		}
		if err := ctx.Err(); err != nil {
			result.Err = err
			break
		}

		params := make(map[string]string, len(req.Params)+1)
		for k, v := range req.Params {
			params[k] = v
		}
		params[pageParam] = strconv.Itoa(page)

		res, err := c.Get(ctx, req.Endpoint, params, req.Headers)
		if err != nil {
			result.Err = err
			break
		}
		result.PagesFetched++

		items, err := ExtractItems(res, req.DataPath)
		if err != nil {
			var perr *PayloadError
			if errors.As(err, &perr) && len(result.Items) > 0 {
				// The item key can disappear entirely once the data
				// is exhausted; count it as an empty page.
				c.log.WithField("page", page).Debug("No item array on page, treating as empty")
				items = nil
			} else {
				result.Err = err
				break
			}
		}

		if totalPages == 0 {
			if total := ExtractTotal(res, req.TotalPath); total > 0 {
				result.Total = total
				if req.PageSize > 0 {
					totalPages = (total + req.PageSize - 1) / req.PageSize
				}
			}
		}

		if len(items) == 0 {
			consecutiveEmpty++
			if consecutiveEmpty >= 2 {
				break
			}
			continue
		}
		consecutiveEmpty = 0

		result.Items = append(result.Items, items...)
		if req.OnPage != nil {
			req.OnPage(page, items)
		}

		c.log.WithFields(logger.Fields{
			"page":  page,
			"items": len(items),
			"total": result.Total,
		}).Debug("Fetched page")
	}

	return result
}

// ExtractItems locates the item array in a decoded page, probing the
// configured data path, the known fallback keys, and finally a
// root-level array.
func ExtractItems(res *Result, dataPath string) ([]interface{}, error) {
	if obj := res.Object(); obj != nil {
		if dataPath != "" {
			val := mapping.Resolve(obj, dataPath)
			if arr, ok := val.([]interface{}); ok {
				return arr, nil
			}
			// Upstreams encode an empty page as an explicit null at
			// the data path. That is zero items, not a bad payload.
			if val == nil && mapping.Exists(obj, dataPath) {
				return nil, nil
			}
		}
		for _, alt := range itemPathFallbacks {
			if alt == dataPath {
				continue
			}
			val, present := obj[alt]
			if !present {
				continue
			}
			if arr, ok := val.([]interface{}); ok {
				return arr, nil
			}
			if val == nil {
				return nil, nil
			}
		}
		return nil, &PayloadError{
			Reason:  "no item array found in response",
			Keys:    topLevelKeys(obj),
			Snippet: truncate(res.Body, 500),
		}
	}
	if arr := res.Array(); arr != nil {
		return arr, nil
	}
	return nil, &PayloadError{
		Reason:  "response is not a JSON object or array",
		Snippet: truncate(res.Body, 500),
	}
}

// ExtractTotal reads the server-reported total item count, if present.
func ExtractTotal(res *Result, totalPath string) int {
	obj := res.Object()
	if obj == nil {
		return 0
	}
	if totalPath != "" {
		if n, ok := toInt(mapping.Resolve(obj, totalPath)); ok {
			return n
		}
	}
	for _, alt := range []string{"total", "totalCount", "total_count", "totalResults"} {
		if alt == totalPath {
			continue
		}
		if n, ok := toInt(obj[alt]); ok {
			return n
		}
	}
	return 0
}

// toInt coerces the numeric shapes JSON decoding produces.
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}
