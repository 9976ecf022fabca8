package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis on DB 15 and skips the test when
// none is running. tests/integration covers the containerized setup.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
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

func TestNewResponseCache_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewResponseCache should panic with nil redis client")
		}
	}()
	NewResponseCache(nil, 0, 0)
}

func TestNewResponseCache_Defaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	rc := NewResponseCache(client, 0, -1)
	if rc.DefaultTTL() != DefaultTTL {
		t.Errorf("DefaultTTL() = %v, want %v", rc.DefaultTTL(), DefaultTTL)
	}
	if rc.retention != 0 {
		t.Errorf("retention = %v, want 0", rc.retention)
	}
}

func TestResponseCache_SetAndGet(t *testing.T) {
	rc := NewResponseCache(setupTestRedis(t), time.Minute, time.Hour)
	ctx := context.Background()
	key := RequestKey{URL: "https://example.org/api/v2/politicians"}

	entry := &ResponseEntry{
		Data:       []byte(`{"data": []}`),
		ETag:       `"abc123"`,
		Expires:    time.Now().Add(5 * time.Minute),
		StatusCode: 200,
	}
	if err := rc.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := rc.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Data) != string(entry.Data) {
		t.Errorf("Data = %s, want %s", got.Data, entry.Data)
	}
	if got.ETag != entry.ETag {
		t.Errorf("ETag = %q, want %q", got.ETag, entry.ETag)
	}
}

func TestResponseCache_Miss(t *testing.T) {
	rc := NewResponseCache(setupTestRedis(t), time.Minute, time.Hour)

	_, err := rc.Get(context.Background(), RequestKey{URL: "https://example.org/none"})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestResponseCache_KeepsStaleRevalidatable(t *testing.T) {
	client := setupTestRedis(t)
	rc := NewResponseCache(client, time.Minute, time.Hour)
	ctx := context.Background()
	key := RequestKey{URL: "https://example.org/stale"}

	entry := &ResponseEntry{
		Data:    []byte(`{}`),
		ETag:    `"v1"`,
		Expires: time.Now().Add(time.Second),
	}
	if err := rc.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Redis TTL covers freshness plus retention
	ttl, err := client.TTL(ctx, key.String()).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl < 30*time.Minute {
		t.Errorf("redis TTL = %v, want retention applied", ttl)
	}

	time.Sleep(1100 * time.Millisecond)
	got, err := rc.Get(ctx, key)
	if err != nil {
		t.Fatalf("stale Get() error = %v", err)
	}
	if !got.IsExpired() {
		t.Error("entry should be stale")
	}
}

func TestResponseCache_Refresh(t *testing.T) {
	rc := NewResponseCache(setupTestRedis(t), time.Minute, time.Hour)
	ctx := context.Background()
	key := RequestKey{URL: "https://example.org/refresh"}

	stale := &ResponseEntry{Data: []byte(`{}`), ETag: `"v1"`, Expires: time.Now().Add(-time.Minute)}
	if err := rc.Refresh(ctx, key, stale, time.Time{}); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	got, err := rc.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.IsExpired() {
		t.Error("refreshed entry should be fresh")
	}
	if !stale.IsExpired() {
		t.Error("Refresh must not modify its argument")
	}
}

func TestResponseCache_Delete(t *testing.T) {
	rc := NewResponseCache(setupTestRedis(t), time.Minute, time.Hour)
	ctx := context.Background()
	key := RequestKey{URL: "https://example.org/delete"}

	if err := rc.Set(ctx, key, &ResponseEntry{Data: []byte(`{}`), Expires: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := rc.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := rc.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after Delete error = %v, want ErrCacheMiss", err)
	}
}

func TestResponseCache_SetNil(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	if err := NewResponseCache(client, 0, 0).Set(context.Background(), RequestKey{}, nil); err == nil {
		t.Error("Set(nil) should fail")
	}
}
