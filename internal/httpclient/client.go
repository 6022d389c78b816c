package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/danny/vacsync/internal/logger"
	"github.com/go-resty/resty/v2"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Options configures a Client instance.
type Options struct {
	BaseURL         string
	Timeout         time.Duration // per-request timeout (default 60s)
	MinRequestGap   time.Duration // minimum gap between outbound requests (default 200ms)
	CacheTTL        time.Duration // GET response cache TTL (default 300s)
	RetryMax        int           // additional attempts after the first (default 3)
	RetryBaseDelay  time.Duration // backoff base delay (default 1s)
	RetryMultiplier float64       // backoff multiplier (default 2)
	RetryMaxWait    time.Duration // ceiling on a single retry wait, including Retry-After (default 5m)
	AuthHeader      string        // auth header name, e.g. Ocp-Apim-Subscription-Key
	AuthKey         string        // auth header value; masked in logs
	Headers         map[string]string
	Logger          *logger.Logger
	Cache           *gocache.Cache // response cache; nil uses the process-wide shared cache
}

// sharedCache backs clients that do not bring their own store, so
// cached responses survive client rebuilds between runs and probes.
var sharedCache = gocache.New(300*time.Second, 600*time.Second)

// FlushSharedCache drops every entry from the process-wide response cache.
func FlushSharedCache() {
	sharedCache.Flush()
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.MinRequestGap <= 0 {
		o.MinRequestGap = 200 * time.Millisecond
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 300 * time.Second
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = time.Second
	}
	if o.RetryMultiplier <= 0 {
		o.RetryMultiplier = 2
	}
	if o.RetryMaxWait <= 0 {
		o.RetryMaxWait = 5 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = logger.GetDefault()
	}
	if o.Cache == nil {
		o.Cache = sharedCache
	}
}

// Result is the outcome of a single successful HTTP call.
type Result struct {
	StatusCode int
	Body       []byte
	JSON       interface{} // decoded JSON document, nil when the body is not JSON
	FromCache  bool
}

// Object returns the decoded body as a JSON object, or nil.
func (r *Result) Object() map[string]interface{} {
	obj, _ := r.JSON.(map[string]interface{})
	return obj
}

// Array returns the decoded body as a root-level JSON array, or nil.
func (r *Result) Array() []interface{} {
	arr, _ := r.JSON.([]interface{})
	return arr
}

// Client issues HTTP requests with rate-limit pacing, retry with
// exponential backoff and response caching. One instance paces one
// upstream service.
type Client struct {
	http     *resty.Client
	limiter  *rate.Limiter
	cache    *gocache.Cache
	cacheTTL time.Duration
	secrets  []string
	log      *logger.Logger
}

// New creates a Client for one upstream service.
// Parameters:
//   - opts: client options; zero values take documented defaults.
// Returns:
//   - *Client: configured client instance.
func New(opts Options) *Client {
	opts.applyDefaults()

	limiter := rate.NewLimiter(rate.Every(opts.MinRequestGap), 1)

	rc := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(opts.RetryMax).
		// resty clamps every computed wait into [RetryWaitTime,
		// RetryMaxWaitTime]; widen the bounds so the backoff schedule
		// and any honored Retry-After apply as computed.
		SetRetryWaitTime(0).
		SetRetryMaxWaitTime(opts.RetryMaxWait)

	var secrets []string
	if opts.AuthHeader != "" && opts.AuthKey != "" {
		rc.SetHeader(opts.AuthHeader, opts.AuthKey)
		secrets = append(secrets, opts.AuthKey)
	}
	for k, v := range opts.Headers {
		rc.SetHeader(k, v)
	}

	// Pace every outbound request, including retries
	rc.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	// Retry on transport errors, 429 and 5xx only
	rc.AddRetryCondition(func(resp *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		code := resp.StatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	})

	// Backoff: base * multiplier^(attempt-1); Retry-After wins on 429
	base := opts.RetryBaseDelay
	multiplier := opts.RetryMultiplier
	rc.SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
		if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
			if ra := resp.Header().Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(strings.TrimSpace(ra)); err == nil && secs >= 0 {
					return time.Duration(secs) * time.Second, nil
				}
			}
		}
		attempt := 1
		if resp != nil && resp.Request != nil {
			attempt = resp.Request.Attempt
		}
		delay := float64(base) * math.Pow(multiplier, float64(attempt-1))
		return time.Duration(delay), nil
	})

	return &Client{
		http:     rc,
		limiter:  limiter,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		secrets:  secrets,
		log:      opts.Logger,
	}
}

// Get issues a GET request, serving from the response cache when possible.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - endpoint: path relative to the client base URL.
//   - params: query parameters.
//   - headers: extra per-request headers.
// Returns:
//   - *Result: response with decoded body and cache flag.
//   - error: transport, rate or payload failure after retries.
func (c *Client) Get(ctx context.Context, endpoint string, params, headers map[string]string) (*Result, error) {
	key := cacheKey(http.MethodGet, c.http.BaseURL, endpoint, params)
	if cached, found := c.cache.Get(key); found {
		res := cached.(*Result)
		hit := *res
		hit.FromCache = true
		c.log.WithFields(logger.Fields{
			"endpoint": endpoint,
			"params":   c.maskedParams(params),
		}).Debug("Serving response from cache")
		return &hit, nil
	}

	res, err := c.do(ctx, http.MethodGet, endpoint, params, headers, nil)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, res, c.cacheTTL)
	return res, nil
}

// Post issues a POST request with a JSON body. Responses are not cached.
func (c *Client) Post(ctx context.Context, endpoint string, params, headers map[string]string, body interface{}) (*Result, error) {
	return c.do(ctx, http.MethodPost, endpoint, params, headers, body)
}

// ClearCache drops all cached responses.
func (c *Client) ClearCache() {
	c.cache.Flush()
}

func (c *Client) do(ctx context.Context, method, endpoint string, params, headers map[string]string, body interface{}) (*Result, error) {
	req := c.http.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}
	if body != nil {
		req.SetBody(body)
	}

	started := time.Now()
	resp, err := req.Execute(method, endpoint)
	elapsed := time.Since(started)

	log := c.log.WithFields(logger.Fields{
		"method":      method,
		"endpoint":    endpoint,
		"params":      c.maskedParams(params),
		"duration_ms": elapsed.Milliseconds(),
	})

	if err != nil {
		log.WithError(err).Warn("Request failed after retries")
		return nil, fmt.Errorf("request %s %s: %w", method, endpoint, err)
	}

	status := resp.StatusCode()
	raw := resp.Body()

	if status < 200 || status >= 300 {
		msg := extractErrorMessage(status, raw)
		log.WithField("status", status).Warn("Request returned error status")
		return nil, &APIError{StatusCode: status, Message: msg}
	}

	res := &Result{StatusCode: status, Body: raw}
	if len(raw) > 0 {
		var decoded interface{}
		if jsonErr := json.Unmarshal(raw, &decoded); jsonErr == nil {
			res.JSON = decoded
		}
	}

	log.WithField("status", status).Debug("Request completed")
	return res, nil
}

// maskedParams returns a copy of params with sensitive values masked,
// safe to log.
func (c *Client) maskedParams(params map[string]string) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = MaskIfSecret(k, v, c.secrets)
	}
	return out
}

// cacheKey derives a stable cache key from method, base URL, endpoint
// and sorted query parameters. The base URL keeps entries from
// different upstreams apart in the shared cache.
func cacheKey(method, baseURL, endpoint string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(baseURL)
	b.WriteString(endpoint)
	for _, k := range keys {
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
