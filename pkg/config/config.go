// Package config loads pipeline run configuration from YAML.
//
// A run reads <name>.yaml over the built-in defaults and, if present, merges
// <name>.local.yaml over it. REDIS_URL, USER_AGENT, LOG_LEVEL, METRICS_ADDR
// and NEO4J_PASSWORD override both files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/dataresearchcenter/datasets/pkg/client"
	"github.com/dataresearchcenter/datasets/pkg/failure"
	"github.com/dataresearchcenter/datasets/pkg/logging"
	"github.com/dataresearchcenter/datasets/pkg/materialize"
	"github.com/dataresearchcenter/datasets/pkg/normalize"
	"github.com/dataresearchcenter/datasets/pkg/pagination"
	"github.com/dataresearchcenter/datasets/pkg/sink"
	"gopkg.in/yaml.v3"
)

// Validation errors.
var (
	ErrMissingDataset     = errors.New("dataset is required")
	ErrMissingSource      = errors.New("source is required")
	ErrInvalidBatchSize   = errors.New("pipeline.batch_size must be at least 1")
	ErrInvalidLimit       = errors.New("pipeline.limit must not be negative")
	ErrInvalidCacheBack   = errors.New("cache.backend must be one of: none, memory, redis, sqlite")
	ErrMissingCachePath   = errors.New("cache.path is required for the sqlite backend")
	ErrMissingRedisURL    = errors.New("redis.url is required")
	ErrInvalidSinkType    = errors.New("sink.type must be one of: memory, log, graph, kafka")
	ErrMissingGraphURI    = errors.New("sink.graph.uri is required")
	ErrMissingKafkaTopic  = errors.New("sink.kafka.brokers and sink.kafka.topic are required")
	ErrInvalidLogLevel    = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrInvalidVocabulary  = errors.New("vocabularies need a name and terms or a url_template with a selector")
	ErrDuplicateVocabName = errors.New("vocabulary names must be unique")
	ErrInvalidDateLayout  = errors.New("dates entries need a layout")
)

// Cache backends.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheSQLite = "sqlite"
)

// Sink types.
const (
	SinkMemory = "memory"
	SinkLog    = "log"
	SinkGraph  = "graph"
	SinkKafka  = "kafka"
)

// DefaultBatchSize is the number of primary records resolved together.
const DefaultBatchSize = 500

// Config is the complete run configuration.
type Config struct {
	// Dataset prefixes ids, cache keys and metrics.
	Dataset string `yaml:"dataset"`

	// Source names a built-in source definition.
	Source string `yaml:"source"`

	// BaseURL overrides the source's upstream root.
	BaseURL string `yaml:"base_url"`

	Auth       AuthConfig         `yaml:"auth"`
	HTTP       HTTPConfig         `yaml:"http"`
	Retry      client.RetryConfig `yaml:"retry"`
	Pagination pagination.Config  `yaml:"pagination"`
	Pipeline   PipelineConfig     `yaml:"pipeline"`
	Redis      RedisConfig        `yaml:"redis"`
	Cache      CacheConfig        `yaml:"cache"`
	Sink       SinkConfig         `yaml:"sink"`

	// Dates replaces the accepted date layouts.
	Dates []normalize.Layout `yaml:"dates"`

	// Countries adds country name aliases (name → ISO code).
	Countries map[string]string `yaml:"countries"`

	Vocabularies []VocabularyConfig `yaml:"vocabularies"`
	Materialize  MaterializeConfig  `yaml:"materialize"`

	// Mappings replace the built-in field rules per record kind.
	Mappings materialize.Mappings `yaml:"mappings"`

	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// AuthConfig configures upstream authentication. TokenEnv names an
// environment variable read when Token is empty.
type AuthConfig struct {
	Token      string `yaml:"token"`
	TokenEnv   string `yaml:"token_env"`
	Header     string `yaml:"header"`
	QueryParam string `yaml:"query_param"`
}

// HTTPConfig holds transport settings.
type HTTPConfig struct {
	UserAgent string            `yaml:"user_agent"`
	Timeout   time.Duration     `yaml:"timeout"`
	Headers   map[string]string `yaml:"headers"`
	RateLimit float64           `yaml:"rate_limit"`
	Burst     int               `yaml:"burst"`

	// CacheTTL enables the Redis response cache for responses without
	// freshness headers.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// SharedCooldown shares 429 cooldowns between processes through Redis.
	SharedCooldown bool `yaml:"shared_cooldown"`
}

// PipelineConfig holds run settings.
type PipelineConfig struct {
	BatchSize int `yaml:"batch_size"`

	// URLGate skips records whose source URL was emitted by an earlier run.
	URLGate bool `yaml:"url_gate"`

	// Limit stops after this many primary records; 0 reads everything.
	Limit int `yaml:"limit"`
}

// RedisConfig locates the Redis server shared by the cache, the response
// cache and the cooldown tracker.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// CacheConfig selects the emission cache backend.
type CacheConfig struct {
	Backend string `yaml:"backend"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// Prefix namespaces Redis keys.
	Prefix string `yaml:"prefix"`

	// TTL expires Redis marks; 0 keeps them forever.
	TTL time.Duration `yaml:"ttl"`
}

// SinkConfig selects and configures the entity sink.
type SinkConfig struct {
	Type  string           `yaml:"type"`
	Graph sink.GraphConfig `yaml:"graph"`
	Kafka sink.KafkaConfig `yaml:"kafka"`
}

// VocabularyConfig describes one term vocabulary. Static terms are consulted
// first; unknown keys are fetched from URLTemplate when set.
type VocabularyConfig struct {
	Name        string            `yaml:"name"`
	Terms       map[string]string `yaml:"terms"`
	URLTemplate string            `yaml:"url_template"`
	Selector    string            `yaml:"selector"`
	CacheSize   int               `yaml:"cache_size"`
}

// MaterializeConfig controls record kind detection.
type MaterializeConfig struct {
	Discriminator string           `yaml:"discriminator"`
	DefaultKind   materialize.Kind `yaml:"default_kind"`
	FallbackKind  materialize.Kind `yaml:"fallback_kind"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `yaml:"addr"`
}

// Default returns the configuration used for every unset field.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			UserAgent: "datasets-pipeline/1.0",
			Timeout:   30 * time.Second,
			RateLimit: 5,
			Burst:     1,
		},
		Retry:    client.DefaultRetryConfig(),
		Pipeline: PipelineConfig{BatchSize: DefaultBatchSize},
		Cache:    CacheConfig{Backend: CacheNone},
		Sink:     SinkConfig{Type: SinkLog},
		Logging:  LoggingConfig{Level: string(logging.LevelInfo)},
	}
}

// LocalPath returns the override file for path: "run.yaml" → "run.local.yaml".
func LocalPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// Load reads path, merges its local override, applies environment
// fallbacks and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := readInto(path, &cfg); err != nil {
		return nil, err
	}

	local := LocalPath(path)
	var override Config
	switch err := readInto(local, &override); {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := mergo.Merge(&cfg, override, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge %s: %w", local, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Parse decodes YAML over the defaults without touching the filesystem or
// the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func readInto(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse YAML %s: %w", path, err)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) applyEnv() {
	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.HTTP.UserAgent = getEnv("USER_AGENT", c.HTTP.UserAgent)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)
	c.Sink.Graph.Password = getEnv("NEO4J_PASSWORD", c.Sink.Graph.Password)
	if c.Auth.Token == "" && c.Auth.TokenEnv != "" {
		c.Auth.Token = os.Getenv(c.Auth.TokenEnv)
	}
}

func invalid(field string, err error) error {
	return &failure.ConfigError{Component: "config", Field: field, Err: err}
}

// Validate checks the configuration. Every error matches
// failure.ErrConfiguration.
func (c *Config) Validate() error {
	if c.Dataset == "" {
		return invalid("dataset", ErrMissingDataset)
	}
	if c.Source == "" {
		return invalid("source", ErrMissingSource)
	}
	if err := c.ClientConfig("").Validate(); err != nil {
		return err
	}
	if c.Pipeline.BatchSize < 1 {
		return invalid("pipeline.batch_size", ErrInvalidBatchSize)
	}
	if c.Pipeline.Limit < 0 {
		return invalid("pipeline.limit", ErrInvalidLimit)
	}

	switch c.Cache.Backend {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.Redis.URL == "" {
			return invalid("redis.url", ErrMissingRedisURL)
		}
	case CacheSQLite:
		if c.Cache.Path == "" {
			return invalid("cache.path", ErrMissingCachePath)
		}
	default:
		return invalid("cache.backend", ErrInvalidCacheBack)
	}
	if (c.HTTP.CacheTTL > 0 || c.HTTP.SharedCooldown) && c.Redis.URL == "" {
		return invalid("redis.url", ErrMissingRedisURL)
	}

	switch c.Sink.Type {
	case SinkMemory, SinkLog:
	case SinkGraph:
		if c.Sink.Graph.URI == "" {
			return invalid("sink.graph.uri", ErrMissingGraphURI)
		}
	case SinkKafka:
		if len(c.Sink.Kafka.Brokers) == 0 || c.Sink.Kafka.Topic == "" {
			return invalid("sink.kafka", ErrMissingKafkaTopic)
		}
	default:
		return invalid("sink.type", ErrInvalidSinkType)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", ErrInvalidLogLevel)
	}

	for i, l := range c.Dates {
		if l.Layout == "" {
			return invalid(fmt.Sprintf("dates[%d]", i), ErrInvalidDateLayout)
		}
	}

	names := make(map[string]bool, len(c.Vocabularies))
	for i, v := range c.Vocabularies {
		if v.Name == "" || (len(v.Terms) == 0 && (v.URLTemplate == "" || v.Selector == "")) {
			return invalid(fmt.Sprintf("vocabularies[%d]", i), ErrInvalidVocabulary)
		}
		if names[v.Name] {
			return invalid(fmt.Sprintf("vocabularies[%d].name", i), ErrDuplicateVocabName)
		}
		names[v.Name] = true
	}
	return nil
}

// ClientConfig derives the fetcher configuration. baseURL is used when the
// file does not override it.
func (c *Config) ClientConfig(baseURL string) client.Config {
	if c.BaseURL != "" {
		baseURL = c.BaseURL
	}
	return client.Config{
		BaseURL:   baseURL,
		UserAgent: c.HTTP.UserAgent,
		Timeout:   c.HTTP.Timeout,
		Headers:   c.HTTP.Headers,
		Auth: client.Auth{
			Token:      c.Auth.Token,
			Header:     c.Auth.Header,
			QueryParam: c.Auth.QueryParam,
		},
		Retry:     c.Retry,
		RateLimit: c.HTTP.RateLimit,
		Burst:     c.HTTP.Burst,
	}
}

// PaginationConfig overlays the configured paging settings on the source's
// defaults.
func (c *Config) PaginationConfig(source pagination.Config) (pagination.Config, error) {
	out := source
	if err := mergo.Merge(&out, c.Pagination, mergo.WithOverride); err != nil {
		return pagination.Config{}, fmt.Errorf("merge pagination: %w", err)
	}
	return out, nil
}

// MaterializerConfig derives the materializer configuration. Source
// defaults apply where the file leaves kind detection unset.
func (c *Config) MaterializerConfig(source MaterializeConfig) materialize.Config {
	m := source
	if c.Materialize.Discriminator != "" {
		m.Discriminator = c.Materialize.Discriminator
	}
	if c.Materialize.DefaultKind != "" {
		m.DefaultKind = c.Materialize.DefaultKind
	}
	if c.Materialize.FallbackKind != "" {
		m.FallbackKind = c.Materialize.FallbackKind
	}
	return materialize.Config{
		Dataset:       c.Dataset,
		Discriminator: m.Discriminator,
		DefaultKind:   m.DefaultKind,
		FallbackKind:  m.FallbackKind,
		Mappings:      c.Mappings,
	}
}

// LoggerConfig converts the logging section.
func (c *Config) LoggerConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Logging.Level); err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.Logging.Pretty
	return cfg
}

// Normalizer builds the value normalizer. fetch serves vocabularies with a
// URL template.
func (c *Config) Normalizer(fetch normalize.FetchFunc) (*normalize.Normalizer, error) {
	vocabularies := make([]*normalize.Vocabulary, 0, len(c.Vocabularies))
	for _, vc := range c.Vocabularies {
		var loader normalize.Loader
		if vc.URLTemplate != "" {
			loader = normalize.HTMLLoader{URLTemplate: vc.URLTemplate, Selector: vc.Selector, Fetch: fetch}
		}
		v, err := normalize.NewVocabulary(vc.Name, vc.Terms, loader, vc.CacheSize)
		if err != nil {
			return nil, invalid("vocabularies."+vc.Name, err)
		}
		vocabularies = append(vocabularies, v)
	}
	return normalize.New(
		normalize.NewDateParser(c.Dates),
		normalize.NewCountries(c.Countries),
		vocabularies...,
	), nil
}
