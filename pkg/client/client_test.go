package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dataresearchcenter/datasets/internal/testutil"
	"github.com/dataresearchcenter/datasets/pkg/cache"
	"github.com/dataresearchcenter/datasets/pkg/failure"
	"github.com/dataresearchcenter/datasets/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis creates a test Redis client.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	cfg := Config{
		BaseURL:   baseURL,
		UserAgent: "datasets-test/1.0",
		Retry:     fastRetry(3),
	}
	c, err := New(cfg, append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:   "valid config",
			config: DefaultConfig("https://www.abgeordnetenwatch.de/api/v2", "datasets/1.0"),
		},
		{
			name:        "empty user agent",
			config:      Config{BaseURL: "https://example.org", Retry: DefaultRetryConfig()},
			expectError: true,
		},
		{
			name:        "relative base url",
			config:      Config{BaseURL: "/api", UserAgent: "x", Retry: DefaultRetryConfig()},
			expectError: true,
		},
		{
			name:        "zero attempts",
			config:      Config{UserAgent: "x", Retry: RetryConfig{MaxAttempts: 0, BackoffMultiplier: 2}},
			expectError: true,
		},
		{
			name:        "negative rate limit",
			config:      Config{UserAgent: "x", RateLimit: -1, Retry: DefaultRetryConfig()},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)
			if tt.expectError {
				if !errors.Is(err, failure.ErrConfiguration) {
					t.Errorf("New() error = %v, want configuration error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			client.Close()
		})
	}
}

func TestFetch_Success(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/api/politicians", testutil.NewJSONResponse(`{"data": [{"id": 1}]}`))

	c, err := New(Config{
		BaseURL:   mock.URL() + "/api",
		UserAgent: "datasets-test/1.0",
		Headers:   map[string]string{"X-Source": "test"},
		Auth:      Auth{Token: "secret", Header: "X-Api-Key"},
		Retry:     fastRetry(3),
	}, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	resp, err := c.Fetch(context.Background(), Request{
		URL:   "/politicians?range_start=0",
		Query: url.Values{"range_end": {"100"}},
	})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if !strings.Contains(resp.URL, "range_end=100") || !strings.Contains(resp.URL, "range_start=0") {
		t.Errorf("URL = %q, want merged query", resp.URL)
	}

	var body struct {
		Data []struct {
			ID int `json:"id"`
		} `json:"data"`
	}
	if err := resp.DecodeJSON(&body); err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].ID != 1 {
		t.Errorf("decoded %+v", body)
	}

	header := mock.LastRequestHeader()
	if header.Get("User-Agent") != "datasets-test/1.0" {
		t.Errorf("User-Agent = %q", header.Get("User-Agent"))
	}
	if header.Get("X-Api-Key") != "secret" {
		t.Errorf("X-Api-Key = %q", header.Get("X-Api-Key"))
	}
	if header.Get("X-Source") != "test" {
		t.Errorf("X-Source = %q", header.Get("X-Source"))
	}
}

func TestFetch_AuthQueryParam(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/r", testutil.NewJSONResponse(`{}`))

	c, err := New(Config{
		BaseURL:   mock.URL(),
		UserAgent: "datasets-test/1.0",
		Auth:      Auth{Token: "k", QueryParam: "apikey"},
		Retry:     fastRetry(1),
	}, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	if _, err := c.Fetch(context.Background(), Request{URL: "/r"}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if q := mock.Queries(); len(q) != 1 || !strings.Contains(q[0], "apikey=k") {
		t.Errorf("queries = %v, want apikey param", q)
	}
}

func TestFetch_ServerErrorExhaustsAttempts(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/fail", testutil.NewServerErrorResponse())

	c := newTestClient(t, mock.URL())
	_, err := c.Fetch(context.Background(), Request{URL: "/fail"})

	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("Fetch() error = %v, want ErrServiceUnavailable", err)
	}
	if got := mock.PathCount("/fail"); got != 3 {
		t.Errorf("transport calls = %d, want exactly MaxAttempts (3)", got)
	}
	if FailureClass(err) != failure.ClassServiceUnavailable {
		t.Errorf("FailureClass = %q", FailureClass(err))
	}
}

func TestFetch_ClientErrorNotRetried(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/missing", testutil.NewNotFoundResponse())

	c := newTestClient(t, mock.URL())
	_, err := c.Fetch(context.Background(), Request{URL: "/missing"})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusNotFound {
		t.Fatalf("Fetch() error = %v, want 404 HTTPError", err)
	}
	if httpErr.ErrorClass != ErrorClassClient {
		t.Errorf("ErrorClass = %q", httpErr.ErrorClass)
	}
	if got := mock.PathCount("/missing"); got != 1 {
		t.Errorf("transport calls = %d, want 1", got)
	}
}

func TestFetch_RateLimitThenSuccess(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSequence("/busy",
		testutil.NewRateLimitResponse(""),
		testutil.NewServerErrorResponse(),
		testutil.NewJSONResponse(`{"ok": true}`),
	)

	c := newTestClient(t, mock.URL())
	resp, err := c.Fetch(context.Background(), Request{URL: "/busy"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(resp.Body) != `{"ok": true}` {
		t.Errorf("Body = %s", resp.Body)
	}
	if got := mock.PathCount("/busy"); got != 3 {
		t.Errorf("transport calls = %d, want 3", got)
	}
}

func TestFetch_NetworkError(t *testing.T) {
	mock := testutil.NewMockAPI()
	target := mock.URL()
	mock.Close()

	c := newTestClient(t, target)
	_, err := c.Fetch(context.Background(), Request{URL: "/gone"})
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("Fetch() error = %v, want ErrServiceUnavailable", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.ErrorClass != ErrorClassNetwork {
		t.Errorf("last error = %v, want network class", err)
	}
}

func TestFetch_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/slow", testutil.MockResponse{StatusCode: 200, Body: `{}`, Delay: time.Second})

	c := newTestClient(t, mock.URL())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Fetch(ctx, Request{URL: "/slow"})
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Fetch() error = %v, want ErrContextCancelled", err)
	}
}

func TestFetch_PacingPastDeadlineNotRetried(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/items", testutil.MockResponse{StatusCode: 200, Body: `{}`})

	c, err := New(Config{
		BaseURL:   mock.URL(),
		UserAgent: "datasets-test/1.0",
		RateLimit: 1,
		Burst:     1,
		Retry:     fastRetry(5),
	}, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	if _, err := c.Fetch(context.Background(), Request{URL: "/items"}); err != nil {
		t.Fatalf("first Fetch() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.Fetch(ctx, Request{URL: "/items"})
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Fetch() error = %v, want ErrContextCancelled", err)
	}
	if errors.Is(err, ErrServiceUnavailable) {
		t.Error("pacing past the deadline must not end as service unavailable")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Fetch() took %v, want an immediate failure", elapsed)
	}
	if got := mock.RequestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestFetch_RelativeURLWithoutBase(t *testing.T) {
	c := newTestClient(t, "")
	_, err := c.Fetch(context.Background(), Request{URL: "/x"})
	if !errors.Is(err, failure.ErrConfiguration) {
		t.Errorf("Fetch() error = %v, want configuration error", err)
	}
}

func TestGet(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/page", testutil.MockResponse{StatusCode: 200, Body: "<html></html>"})

	c := newTestClient(t, "")
	body, err := c.Get(context.Background(), mock.URL()+"/page")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(body) != "<html></html>" {
		t.Errorf("body = %q", body)
	}
}

func TestFetch_ResponseCache(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/cached", testutil.NewJSONResponse(`{"v": 1}`))

	c := newTestClient(t, mock.URL(), WithResponseCache(cache.NewResponseCache(redisClient, time.Minute, time.Hour)))
	ctx := context.Background()

	first, err := c.Fetch(ctx, Request{URL: "/cached"})
	if err != nil {
		t.Fatalf("first Fetch() error = %v", err)
	}
	if first.FromCache {
		t.Error("first response should come from upstream")
	}

	second, err := c.Fetch(ctx, Request{URL: "/cached"})
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if !second.FromCache {
		t.Error("second response should come from cache")
	}
	if string(second.Body) != `{"v": 1}` {
		t.Errorf("cached Body = %s", second.Body)
	}
	if got := mock.PathCount("/cached"); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestFetch_Revalidation(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("/etag", testutil.NewConditionalHandler(`"v1"`, `{"v": 1}`))

	c := newTestClient(t, mock.URL(), WithResponseCache(cache.NewResponseCache(redisClient, time.Minute, time.Hour)))
	ctx := context.Background()

	if _, err := c.Fetch(ctx, Request{URL: "/etag"}); err != nil {
		t.Fatalf("first Fetch() error = %v", err)
	}
	// no-cache makes the entry stale at once, so the next call revalidates
	resp, err := c.Fetch(ctx, Request{URL: "/etag"})
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if !resp.FromCache || string(resp.Body) != `{"v": 1}` {
		t.Errorf("revalidated response = %+v", resp)
	}
	if got := mock.ConditionalCount(); got != 1 {
		t.Errorf("conditional requests = %d, want 1", got)
	}

	// the 304 refreshed the entry (max-age=60): no further upstream call
	if _, err := c.Fetch(ctx, Request{URL: "/etag"}); err != nil {
		t.Fatalf("third Fetch() error = %v", err)
	}
	if got := mock.PathCount("/etag"); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

func TestFetch_RetryAfterRecordsCooldown(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSequence("/limited",
		testutil.NewRateLimitResponse("1"),
		testutil.NewJSONResponse(`{}`),
	)

	tracker := ratelimit.NewTracker(redisClient, zerolog.Nop())
	cfg := Config{
		BaseURL:   mock.URL(),
		UserAgent: "datasets-test/1.0",
		Retry:     RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Second, BackoffMultiplier: 2},
	}
	c, err := New(cfg, WithTracker(tracker), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	start := time.Now()
	if _, err := c.Fetch(context.Background(), Request{URL: "/limited"}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("elapsed %v, want Retry-After honored", elapsed)
	}
}
