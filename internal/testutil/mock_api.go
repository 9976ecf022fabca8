// Package testutil provides a configurable mock upstream API for tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock upstream server.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	requestCount      int
	conditionalCount  int
	pathCounts        map[string]int
	lastRequestHeader http.Header
	queries           []string
}

// NewMockAPI creates and starts a mock server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:   make(map[string]http.HandlerFunc),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pathCounts[r.URL.Path]++
		mock.lastRequestHeader = r.Header.Clone()
		mock.queries = append(mock.queries, r.URL.Path+"?"+r.URL.RawQuery)
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.conditionalCount++
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.conditionalCount = 0
	m.pathCounts = make(map[string]int)
	m.lastRequestHeader = nil
	m.queries = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, responder(resp))
}

// SetSequence answers successive requests to path with responses in order;
// the last response repeats.
func (m *MockAPI) SetSequence(path string, responses ...MockResponse) {
	var mu sync.Mutex
	next := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[next]
		if next < len(responses)-1 {
			next++
		}
		mu.Unlock()
		responder(resp)(w, r)
	})
}

// RequestCount returns the number of requests made to the server.
func (m *MockAPI) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// PathCount returns the number of requests made to path.
func (m *MockAPI) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// ConditionalCount returns the number of conditional requests.
func (m *MockAPI) ConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionalCount
}

// LastRequestHeader returns the headers of the latest request.
func (m *MockAPI) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

// Queries returns "path?query" for every request in arrival order.
func (m *MockAPI) Queries() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.queries...)
}

func responder(resp MockResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// OffsetOptions tunes OffsetHandler.
type OffsetOptions struct {
	// MaxPageSize caps range_end like the upstream API does. Default 1000.
	MaxPageSize int

	// ReportedTotal overrides the total in the first response. Later
	// responses report the real total.
	ReportedTotal int

	// IDParam enables filtering by a bracketed id list, e.g. "id[in]".
	IDParam string
}

// OffsetHandler serves items with range_start/range_end paging and a
// meta.result block:
//
//	{"meta": {"result": {"count": 100, "total": 250, "range_start": 0, "range_end": 100}}, "data": [...]}
func OffsetHandler(items []map[string]any, opts OffsetOptions) http.HandlerFunc {
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 1000
	}
	var mu sync.Mutex
	first := true

	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		selected := items
		if opts.IDParam != "" && q.Get(opts.IDParam) != "" {
			selected = filterByIDs(items, ParseIDList(q.Get(opts.IDParam)))
		}

		start, _ := strconv.Atoi(q.Get("range_start"))
		limit, err := strconv.Atoi(q.Get("range_end"))
		if err != nil || limit <= 0 {
			limit = 100
		}
		if limit > opts.MaxPageSize {
			limit = opts.MaxPageSize
		}

		page := []map[string]any{}
		if start < len(selected) {
			end := start + limit
			if end > len(selected) {
				end = len(selected)
			}
			page = selected[start:end]
		}

		total := len(selected)
		mu.Lock()
		if first && opts.ReportedTotal > 0 {
			total = opts.ReportedTotal
		}
		first = false
		mu.Unlock()

		writeJSON(w, http.StatusOK, map[string]any{
			"meta": map[string]any{
				"result": map[string]any{
					"count":       len(page),
					"total":       total,
					"range_start": start,
					"range_end":   limit,
				},
			},
			"data": page,
		})
	}
}

// CursorHandler serves items in pages of pageSize, following a numeric
// cursor in param. The next cursor is reported under "cursor" until the last
// page.
func CursorHandler(items []map[string]any, param string, pageSize int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, _ := strconv.Atoi(r.URL.Query().Get(param))
		page := []map[string]any{}
		if start < len(items) {
			end := start + pageSize
			if end > len(items) {
				end = len(items)
			}
			page = items[start:end]
		}
		body := map[string]any{"documents": page}
		if next := start + pageSize; next < len(items) {
			body["cursor"] = strconv.Itoa(next)
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// ParseIDList parses "[1,2,3]" or "1,2,3".
func ParseIDList(v string) []string {
	v = strings.Trim(v, "[]")
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func filterByIDs(items []map[string]any, ids []string) []map[string]any {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := []map[string]any{}
	for _, item := range items {
		if want[idOf(item["id"])] {
			out = append(out, item)
		}
	}
	return out
}

func idOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

// Items builds n records {"id": i, "label": "item <i>"} for i in 1..n.
func Items(n int) []map[string]any {
	items := make([]map[string]any, n)
	for i := range items {
		items[i] = map[string]any{"id": i + 1, "label": "item " + strconv.Itoa(i+1)}
	}
	return items
}

// SortedPaths returns the paths that received requests, sorted.
func (m *MockAPI) SortedPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.pathCounts))
	for p := range m.pathCounts {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// NewJSONResponse creates a 200 OK JSON response with an ETag and expiry.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"ETag":         `"test-etag-123"`,
			"Expires":      time.Now().Add(5 * time.Minute).UTC().Format(http.TimeFormat),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "rate limit exceeded"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
	if retryAfter != "" {
		resp.Headers["Retry-After"] = retryAfter
	}
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "not found"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewConditionalHandler responds with 304 when If-None-Match equals etag.
func NewConditionalHandler(etag string, data string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if r.Header.Get("If-None-Match") == etag {
			w.Header().Set("Cache-Control", "max-age=60")
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(data))
	}
}
