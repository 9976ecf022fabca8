package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dataresearchcenter/datasets/internal/sources"
	"github.com/dataresearchcenter/datasets/pkg/cache"
	"github.com/dataresearchcenter/datasets/pkg/client"
	"github.com/dataresearchcenter/datasets/pkg/config"
	"github.com/dataresearchcenter/datasets/pkg/failure"
	"github.com/dataresearchcenter/datasets/pkg/logging"
	"github.com/dataresearchcenter/datasets/pkg/materialize"
	"github.com/dataresearchcenter/datasets/pkg/normalize"
	"github.com/dataresearchcenter/datasets/pkg/pagination"
	"github.com/dataresearchcenter/datasets/pkg/pipeline"
	"github.com/dataresearchcenter/datasets/pkg/ratelimit"
	"github.com/dataresearchcenter/datasets/pkg/sink"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const pingTimeout = 5 * time.Second

// runtime owns the components of one configured run.
type runtime struct {
	pipeline *pipeline.Pipeline
	issues   *failure.LogReporter
	closers  []func() error
	logger   zerolog.Logger
}

func build(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{logger: logging.ForDataset(logging.NewLogger("cli"), cfg.Dataset)}
	p, err := rt.wire(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.pipeline = p
	return rt, nil
}

// Close releases the components in reverse order of creation.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func (rt *runtime) wire(ctx context.Context, cfg *config.Config) (*pipeline.Pipeline, error) {
	src, err := sources.Get(cfg.Source)
	if err != nil {
		return nil, err
	}

	rdb, err := rt.connectRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var opts []client.Option
	if cfg.HTTP.CacheTTL > 0 {
		opts = append(opts, client.WithResponseCache(cache.NewResponseCache(rdb, cfg.HTTP.CacheTTL, cache.DefaultRetention)))
	}
	if cfg.HTTP.SharedCooldown {
		opts = append(opts, client.WithTracker(ratelimit.NewTracker(rdb, logging.NewLogger("ratelimit"))))
	}
	c, err := client.New(cfg.ClientConfig(src.BaseURL), opts...)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, c.Close)

	paging, err := cfg.PaginationConfig(src.Pagination)
	if err != nil {
		return nil, err
	}
	collector, err := pagination.NewCollector(c, paging)
	if err != nil {
		return nil, err
	}

	norm, err := cfg.Normalizer(fetchBody(c))
	if err != nil {
		return nil, err
	}
	rt.issues = failure.NewLogReporter(logging.ForDataset(logging.NewLogger("quality"), cfg.Dataset))
	warnings := failure.Counting(rt.issues)
	mat, err := materialize.New(cfg.MaterializerConfig(src.Materialize), norm, warnings)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, rdb)
	if err != nil {
		return nil, err
	}
	emissions := cache.NewEmissionCache(store, logging.NewLogger("cache"))
	rt.closers = append(rt.closers, emissions.Close)

	out, err := openSink(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() error {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		return out.Close(closeCtx)
	})

	return pipeline.New(src.Definition(cfg.Dataset, collector), collector, mat, out,
		pipeline.WithEmissionCache(emissions),
		pipeline.WithReporter(warnings),
		pipeline.WithBatchSize(cfg.Pipeline.BatchSize),
		pipeline.WithURLGate(cfg.Pipeline.URLGate),
		pipeline.WithLimit(cfg.Pipeline.Limit),
	)
}

// needsRedis reports whether any configured component talks to Redis.
func needsRedis(cfg *config.Config) bool {
	return cfg.Cache.Backend == config.CacheRedis || cfg.HTTP.CacheTTL > 0 || cfg.HTTP.SharedCooldown
}

// connectRedis connects when a component needs it. An unreachable server is
// logged only: every Redis-backed component fails open.
func (rt *runtime) connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if !needsRedis(cfg) {
		return nil, nil
	}
	rdb, err := newRedis(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, rdb.Close)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rt.logger.Warn().Err(err).Str("addr", rdb.Options().Addr).Msg("Redis unreachable, caches fail open")
	} else {
		rt.logger.Info().Str("addr", rdb.Options().Addr).Msg("Connected to Redis")
	}
	return rdb, nil
}

// newRedis accepts a redis:// URL or a plain host:port.
func newRedis(raw string) (*redis.Client, error) {
	if !strings.Contains(raw, "://") {
		return redis.NewClient(&redis.Options{Addr: raw}), nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, &failure.ConfigError{Component: "config", Field: "redis.url", Err: err}
	}
	return redis.NewClient(opts), nil
}

// openStore opens the emission store of the configured backend. The "none"
// backend returns a nil store, which disables the emission cache.
func openStore(ctx context.Context, cfg *config.Config, rdb *redis.Client) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case config.CacheMemory:
		return cache.NewMemoryStore(), nil
	case config.CacheRedis:
		return cache.NewRedisStore(rdb, cfg.Cache.Prefix, cfg.Cache.TTL), nil
	case config.CacheSQLite:
		store, err := cache.OpenSQLiteStore(ctx, cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("open emission cache: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

func openSink(ctx context.Context, cfg *config.Config) (sink.Sink, error) {
	switch cfg.Sink.Type {
	case config.SinkMemory:
		return sink.NewMemorySink(), nil
	case config.SinkGraph:
		return sink.NewGraphSink(ctx, cfg.Sink.Graph, cfg.Dataset)
	case config.SinkKafka:
		return sink.NewKafkaSink(cfg.Sink.Kafka, cfg.Dataset)
	default:
		return sink.NewLogSink(), nil
	}
}

// fetchBody serves vocabulary pages through the fetcher so they share its
// rate limit and retries.
func fetchBody(c *client.Client) normalize.FetchFunc {
	return func(ctx context.Context, url string) ([]byte, error) {
		resp, err := c.Fetch(ctx, client.Request{URL: url})
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}
}
