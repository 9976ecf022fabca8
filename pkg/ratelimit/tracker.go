package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for shared cooldowns.
var (
	cooldownsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_ratelimit_cooldowns_total",
		Help: "Cooldowns recorded from Retry-After responses by host",
	}, []string{"host"})

	cooldownWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_ratelimit_cooldown_wait_seconds",
		Help:    "Time spent waiting for a shared cooldown to expire",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
	})

	trackerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_ratelimit_tracker_errors_total",
		Help: "Redis errors in the cooldown tracker by operation",
	}, []string{"operation"})
)

// recordScript keeps the cooldown that ends last.
// KEYS[1] cooldown key; ARGV state json, until in ms, ttl in ms.
var recordScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
	local ok, state = pcall(cjson.decode, current)
	if ok and tonumber(state.until_ms) and tonumber(state.until_ms) >= tonumber(ARGV[2]) then
		return 0
	end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

// Tracker shares per-host cooldowns between processes. Redis failures never
// block a request: the tracker fails open.
type Tracker struct {
	redis   *redis.Client
	logger  zerolog.Logger
	maxWait time.Duration
	now     func() time.Time
}

// NewTracker creates a cooldown tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:   redisClient,
		logger:  logger,
		maxWait: DefaultMaxWait,
		now:     time.Now,
	}
}

// SetMaxWait bounds a single Wait call.
func (t *Tracker) SetMaxWait(d time.Duration) {
	if d > 0 {
		t.maxWait = d
	}
}

// GetState returns the cooldown of host, or nil when none is recorded.
func (t *Tracker) GetState(ctx context.Context, host string) (*CooldownState, error) {
	data, err := t.redis.Get(ctx, RedisKey(host)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cooldown: %w", err)
	}
	var state CooldownState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse cooldown: %w", err)
	}
	return &state, nil
}

// Record stores a cooldown of d for host. The key expires with the cooldown.
// A cooldown ending before the stored one is dropped, so the longest
// requested cooldown wins.
func (t *Tracker) Record(ctx context.Context, host string, status int, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	now := t.now()
	until := now.Add(d)
	state := CooldownState{Host: host, Until: until, UntilMs: until.UnixMilli(), LastStatus: status, UpdatedAt: now}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal cooldown: %w", err)
	}

	ttl := max(d.Milliseconds(), 1)
	stored, err := recordScript.Run(ctx, t.redis, []string{RedisKey(host)}, data, state.UntilMs, ttl).Int()
	if err != nil {
		trackerErrors.WithLabelValues("record").Inc()
		return fmt.Errorf("store cooldown in redis: %w", err)
	}
	if stored == 0 {
		t.logger.Debug().
			Str("host", host).
			Dur("cooldown", d).
			Msg("Longer cooldown already recorded")
		return nil
	}

	cooldownsRecorded.WithLabelValues(host).Inc()
	t.logger.Warn().
		Str("host", host).
		Int("status", status).
		Dur("cooldown", d).
		Msg("Upstream requested cooldown")
	return nil
}

// Wait blocks until the cooldown of host has passed, at most maxWait. It
// returns early with the context error on cancellation.
func (t *Tracker) Wait(ctx context.Context, host string) error {
	state, err := t.GetState(ctx, host)
	if err != nil {
		trackerErrors.WithLabelValues("get").Inc()
		t.logger.Warn().Err(err).Str("host", host).Msg("Cooldown lookup failed, continuing")
		return nil
	}
	wait := state.Remaining(t.now())
	if wait <= 0 {
		return nil
	}
	if wait > t.maxWait {
		wait = t.maxWait
	}

	t.logger.Info().
		Str("host", host).
		Dur("wait", wait).
		Msg("Waiting for shared cooldown")
	cooldownWaitSeconds.Observe(wait.Seconds())

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
