package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

// MemoryStore keeps marks in process memory. Used for tests and single
// runs.
type MemoryStore struct {
	mu    sync.RWMutex
	marks map[string]time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{marks: make(map[string]time.Time)}
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.marks[key]
	return ok, nil
}

func (s *MemoryStore) Touch(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[key] = at
	return nil
}

// Len returns the number of marks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.marks)
}

func (s *MemoryStore) Close() error { return nil }

// DefaultRedisPrefix namespaces emission marks in Redis.
const DefaultRedisPrefix = "pipeline:"

// RedisStore keeps marks as Redis keys holding the unix timestamp.
type RedisStore struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. A zero ttl keeps marks forever.
func NewRedisStore(redisClient *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{redis: redisClient, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Touch(ctx context.Context, key string, at time.Time) error {
	if err := s.redis.Set(ctx, s.prefix+key, strconv.FormatInt(at.Unix(), 10), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (s *RedisStore) Close() error { return nil }

const sqliteSchema = `CREATE TABLE IF NOT EXISTS emissions (
	key        TEXT PRIMARY KEY,
	touched_at INTEGER NOT NULL
)`

// SQLiteStore keeps marks in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the database at path. Use ":memory:" for
// a throwaway store.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// a single connection serializes writers and keeps :memory: databases alive
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create emissions table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM emissions WHERE key = ?", key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite exists: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) Touch(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emissions (key, touched_at) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET touched_at = excluded.touched_at`,
		key, at.Unix())
	if err != nil {
		return fmt.Errorf("sqlite touch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
