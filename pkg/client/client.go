// Package client performs single logical HTTP requests against unreliable,
// rate-limited upstream APIs: classified failures, bounded exponential
// retry, request pacing, shared cooldowns and an optional response cache.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dataresearchcenter/datasets/pkg/cache"
	"github.com/dataresearchcenter/datasets/pkg/failure"
	"github.com/dataresearchcenter/datasets/pkg/logging"
	"github.com/dataresearchcenter/datasets/pkg/ratelimit"
	"github.com/dataresearchcenter/datasets/pkg/record"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for fetch operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_fetch_requests_total",
		Help: "Total upstream requests by host and status",
	}, []string{"host", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_fetch_request_duration_seconds",
		Help:    "Upstream request duration in seconds by host",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"host"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_fetch_errors_total",
		Help: "Total failed request attempts by class",
	}, []string{"class"})
)

// Auth configures upstream authentication.
type Auth struct {
	// Token is the credential. Empty disables authentication.
	Token string `yaml:"token"`

	// Header carries the token, default "Authorization".
	Header string `yaml:"header"`

	// QueryParam sends the token as query parameter instead of a header.
	QueryParam string `yaml:"query_param"`
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is prepended to relative request URLs.
	BaseURL string `yaml:"base_url"`

	// UserAgent is sent with every request (required).
	UserAgent string `yaml:"user_agent"`

	// Timeout bounds a single transport call.
	Timeout time.Duration `yaml:"timeout"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers"`

	Auth  Auth        `yaml:"auth"`
	Retry RetryConfig `yaml:"retry"`

	// RateLimit is the per-host request rate in requests per second; 0
	// disables pacing.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
		RateLimit: 5,
		Burst:     1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.UserAgent == "" {
		return failure.Configf("http", "user_agent", "is required")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return failure.Configf("http", "base_url", "must be an absolute URL, got %q", c.BaseURL)
		}
	}
	if c.Timeout < 0 {
		return failure.Configf("http", "timeout", "must not be negative")
	}
	if c.RateLimit < 0 {
		return failure.Configf("http", "rate_limit", "must not be negative")
	}
	return c.Retry.Validate()
}

// Request describes one logical request.
type Request struct {
	// Method defaults to GET.
	Method string

	// URL is absolute or relative to Config.BaseURL. It may carry a query.
	URL string

	// Query is merged over the URL's own query.
	Query url.Values

	Headers map[string]string
	Body    []byte
}

// Response is a successful upstream answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// URL is the requested URL including query.
	URL string

	// FromCache is set when the body came from the response cache.
	FromCache bool
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode %s: %w", r.URL, err)
	}
	return nil
}

// Document decodes the body into records and lists.
func (r *Response) Document() (any, error) {
	doc, err := record.DecodeBytes(r.Body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.URL, err)
	}
	return doc, nil
}

// Client is the backoff fetcher.
type Client struct {
	http    *resty.Client
	config  Config
	pacer   *ratelimit.Pacer
	tracker *ratelimit.Tracker
	cache   *cache.ResponseCache
	logger  zerolog.Logger

	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithResponseCache serves GET requests from rc.
func WithResponseCache(rc *cache.ResponseCache) Option {
	return func(c *Client) { c.cache = rc }
}

// WithTracker shares upstream cooldowns through t.
func WithTracker(t *ratelimit.Tracker) Option {
	return func(c *Client) { c.tracker = t }
}

// WithHTTPClient sets the underlying transport (for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config: cfg,
		pacer:  ratelimit.NewPacer(cfg.RateLimit, cfg.Burst),
		logger: logging.NewLogger("fetcher"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient != nil {
		c.http = resty.NewWithClient(c.httpClient)
	} else {
		c.http = resty.New()
	}
	c.http.
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json").
		SetHeaders(cfg.Headers)

	if cfg.Auth.Token != "" {
		switch {
		case cfg.Auth.QueryParam != "":
			c.http.SetQueryParam(cfg.Auth.QueryParam, cfg.Auth.Token)
		case cfg.Auth.Header != "":
			c.http.SetHeader(cfg.Auth.Header, cfg.Auth.Token)
		default:
			c.http.SetHeader("Authorization", cfg.Auth.Token)
		}
	}

	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.config
}

// Fetch performs req with retry. Client errors (4xx other than 429) fail
// immediately with *HTTPError; retryable failures end in
// *ServiceUnavailableError after Retry.MaxAttempts transport calls.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, query, err := c.resolve(req)
	if err != nil {
		return nil, err
	}
	host := hostOf(target)
	display := target
	if len(query) > 0 {
		display += "?" + query.Encode()
	}

	key := cache.RequestKey{URL: target, Query: query}
	cacheable := c.cache != nil && method == http.MethodGet
	var cached *cache.ResponseEntry
	if cacheable {
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil && !entry.IsExpired():
			cache.ResponseHits.WithLabelValues("fresh").Inc()
			c.logger.Debug().Str("url", display).Msg("Serving fresh cached response")
			return entryToResponse(entry, display), nil
		case err == nil:
			cached = entry
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("url", display).Msg("Response cache get failed")
		}
	}

	var resp *Response
	err = retryWithBackoff(ctx, c.config.Retry, display, c.logger, func(attempt int) error {
		if c.tracker != nil {
			if err := c.tracker.Wait(ctx, host); err != nil {
				return err
			}
		}
		if err := c.pacer.Wait(ctx, host); err != nil {
			return err
		}

		r := c.http.R().
			SetContext(ctx).
			SetQueryParamsFromValues(query).
			SetHeaders(req.Headers)
		if cached != nil {
			r.SetHeaders(cache.ConditionalHeaders(cached))
		}
		if req.Body != nil {
			r.SetBody(req.Body)
		}

		start := time.Now()
		raw, err := r.Execute(method, target)
		requestDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())

		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(host, "network_error").Inc()
			c.logger.Warn().Err(err).Str("url", display).Int("attempt", attempt).Msg("Request failed")
			return &HTTPError{URL: display, ErrorClass: ErrorClassNetwork, Message: "transport error", Err: err}
		}

		status := raw.StatusCode()
		requestsTotal.WithLabelValues(host, strconv.Itoa(status)).Inc()

		if status == http.StatusNotModified && cached != nil {
			cache.ResponseHits.WithLabelValues("revalidated").Inc()
			expires := time.Now().Add(c.cache.DefaultTTL())
			if fresh := cache.NewResponseEntry(status, raw.Header(), nil, c.cache.DefaultTTL()); fresh.TTL() > 0 {
				expires = fresh.Expires
			}
			if err := c.cache.Refresh(ctx, key, cached, expires); err != nil {
				c.logger.Warn().Err(err).Str("url", display).Msg("Failed to refresh cached response")
			}
			c.logger.Debug().Str("url", display).Msg("304 Not Modified, using cache")
			resp = entryToResponse(cached, display)
			return nil
		}

		if class := classifyStatus(status); class != "" {
			errorsTotal.WithLabelValues(string(class)).Inc()
			httpErr := &HTTPError{
				URL:        display,
				StatusCode: status,
				ErrorClass: class,
				Message:    raw.Status(),
			}
			if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
				if d, ok := ratelimit.ParseRetryAfter(raw.Header(), time.Now()); ok {
					httpErr.RetryAfter = d
					if c.tracker != nil {
						if err := c.tracker.Record(ctx, host, status, d); err != nil {
							c.logger.Warn().Err(err).Str("host", host).Msg("Failed to record cooldown")
						}
					}
				}
			}
			c.logger.Warn().
				Str("url", display).
				Int("status", status).
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Msg("Upstream request error")
			return httpErr
		}

		resp = &Response{
			StatusCode: status,
			Header:     raw.Header(),
			Body:       raw.Body(),
			URL:        display,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cacheable && !resp.FromCache && resp.StatusCode == http.StatusOK && !cache.NoStore(resp.Header) {
		entry := cache.NewResponseEntry(resp.StatusCode, resp.Header, resp.Body, c.cache.DefaultTTL())
		if err := c.cache.Set(ctx, key, entry); err != nil {
			c.logger.Warn().Err(err).Str("url", display).Msg("Failed to cache response")
		}
	}
	return resp, nil
}

// Get fetches url and returns the body.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.Fetch(ctx, Request{URL: rawURL})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return nil
}

// resolve returns the absolute URL without query and the merged query.
func (c *Client) resolve(req Request) (string, url.Values, error) {
	raw := req.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		if c.config.BaseURL == "" {
			return "", nil, failure.Configf("http", "base_url", "required for relative URL %q", raw)
		}
		raw = strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimLeft(raw, "/")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("parse url %q: %w", raw, err)
	}
	query := u.Query()
	for k, vs := range req.Query {
		query[k] = append([]string(nil), vs...)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), query, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func entryToResponse(entry *cache.ResponseEntry, display string) *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Header:     entry.Headers.Clone(),
		Body:       entry.Data,
		URL:        display,
		FromCache:  true,
	}
}
