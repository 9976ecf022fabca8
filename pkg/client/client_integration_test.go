//go:build integration

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dataresearchcenter/datasets/pkg/cache"
	"github.com/dataresearchcenter/datasets/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_FullRequestFlow(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	var requestsMade, conditionalRequests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestsMade.Add(1)
		if r.Header.Get("If-None-Match") == `"etag-1"` {
			conditionalRequests.Add(1)
			w.Header().Set("Cache-Control", "max-age=600")
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"etag-1"`)
		w.Header().Set("Cache-Control", "max-age=1")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data": [1, 2, 3]}`))
	}))
	defer server.Close()

	responses := cache.NewResponseCache(redisClient, time.Minute, time.Hour)
	c, err := New(Config{
		BaseURL:   server.URL,
		UserAgent: "datasets-integration/1.0",
		Retry:     RetryConfig{MaxAttempts: 2, InitialBackoff: 10 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2},
	}, WithResponseCache(responses), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()

	t.Log("Request 1: upstream")
	if _, err := c.Fetch(ctx, Request{URL: "/list"}); err != nil {
		t.Fatalf("Request 1 failed: %v", err)
	}

	t.Log("Request 2: fresh cache")
	resp, err := c.Fetch(ctx, Request{URL: "/list"})
	if err != nil {
		t.Fatalf("Request 2 failed: %v", err)
	}
	if !resp.FromCache {
		t.Error("Request 2 should be served from cache")
	}

	time.Sleep(1100 * time.Millisecond)

	t.Log("Request 3: revalidation")
	resp, err = c.Fetch(ctx, Request{URL: "/list"})
	if err != nil {
		t.Fatalf("Request 3 failed: %v", err)
	}
	if string(resp.Body) != `{"data": [1, 2, 3]}` {
		t.Errorf("Body = %s", resp.Body)
	}

	if got := requestsMade.Load(); got != 2 {
		t.Errorf("requestsMade = %d, want 2", got)
	}
	if got := conditionalRequests.Load(); got != 1 {
		t.Errorf("conditionalRequests = %d, want 1", got)
	}

	entry, err := responses.Get(ctx, cache.RequestKey{URL: server.URL + "/list"})
	if err != nil {
		t.Fatalf("Cache lookup failed: %v", err)
	}
	if entry.IsExpired() {
		t.Error("entry should be fresh after 304 refresh")
	}
}

func TestIntegration_SharedCooldown(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg := Config{
		BaseURL:   server.URL,
		UserAgent: "datasets-integration/1.0",
		Retry:     RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2},
	}

	first, err := New(cfg, WithTracker(ratelimit.NewTracker(redisClient, zerolog.Nop())), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer first.Close()

	second, err := New(cfg, WithTracker(ratelimit.NewTracker(redisClient, zerolog.Nop())), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer second.Close()

	ctx := context.Background()
	if _, err := first.Fetch(ctx, Request{URL: "/x"}); err == nil {
		t.Fatal("first client should exhaust its single attempt")
	}

	start := time.Now()
	if _, err := second.Fetch(ctx, Request{URL: "/x"}); err != nil {
		t.Fatalf("second client Fetch() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("second client waited %v, want the shared cooldown", elapsed)
	}
}
