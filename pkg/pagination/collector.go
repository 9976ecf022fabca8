package pagination

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dataresearchcenter/datasets/pkg/client"
	"github.com/dataresearchcenter/datasets/pkg/logging"
	"github.com/dataresearchcenter/datasets/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	pagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_pages_fetched_total",
		Help: "Pages fetched by endpoint",
	}, []string{"endpoint"})

	recordsCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_records_collected_total",
		Help: "Records yielded by endpoint",
	}, []string{"endpoint"})

	lookupChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_lookup_chunks_total",
		Help: "Id lookup chunks by endpoint and result",
	}, []string{"endpoint", "result"})

	lookupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_lookup_duration_seconds",
		Help:    "Duration of a full LookupByIDs call by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"endpoint"})
)

// Fetcher performs one logical request. *client.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req client.Request) (*client.Response, error)
}

// Collector walks paginated endpoints.
type Collector struct {
	fetcher Fetcher
	config  Config
	paths   *extractor
	logger  zerolog.Logger
}

// NewCollector creates a collector. Zero config fields take their defaults.
func NewCollector(fetcher Fetcher, config Config) (*Collector, error) {
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	paths, err := newExtractor(config.Paths)
	if err != nil {
		return nil, err
	}
	return &Collector{
		fetcher: fetcher,
		config:  config,
		paths:   paths,
		logger:  logging.NewLogger("collector"),
	}, nil
}

// Config returns the effective configuration.
func (c *Collector) Config() Config {
	return c.config
}

// Collect lazily yields every record of endpoint. Each call starts from the
// first page. A fetch failure is yielded once and ends the sequence; the
// caller stopping early stops fetching.
func (c *Collector) Collect(ctx context.Context, endpoint string, query url.Values) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		switch c.config.Mode {
		case ModeCursor:
			c.collectCursor(ctx, endpoint, query, yield)
		case ModeSingle:
			p, err := c.fetchPage(ctx, endpoint, cloneQuery(query))
			if err != nil {
				yield(nil, err)
				return
			}
			c.emit(endpoint, p.items, yield)
		default:
			c.collectOffset(ctx, endpoint, query, yield)
		}
	}
}

// CollectAll drains Collect into a slice.
func (c *Collector) CollectAll(ctx context.Context, endpoint string, query url.Values) ([]record.Record, error) {
	var out []record.Record
	for rec, err := range c.Collect(ctx, endpoint, query) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *Collector) collectOffset(ctx context.Context, endpoint string, query url.Values, yield func(record.Record, error) bool) {
	start := 0
	pageSize := c.config.PageSize
	total := -1

	for {
		q := cloneQuery(query)
		q.Set(c.config.StartParam, strconv.Itoa(start))
		q.Set(c.config.LimitParam, strconv.Itoa(pageSize))

		p, err := c.fetchPage(ctx, endpoint, q)
		if err != nil {
			yield(nil, err)
			return
		}
		if !c.emit(endpoint, p.items, yield) {
			return
		}
		if len(p.items) == 0 {
			return
		}

		step := pageSize
		if p.pageSize > 0 {
			step = p.pageSize
		}

		if !p.hasTotal {
			if len(p.items) < step {
				return
			}
		} else {
			if total >= 0 && p.total != total {
				c.logger.Info().
					Str("endpoint", endpoint).
					Int("previous_total", total).
					Int("total", p.total).
					Msg("Upstream total changed during collection")
			}
			total = p.total
			if total <= start+step {
				return
			}
		}

		start += step
		pageSize = step
	}
}

func (c *Collector) collectCursor(ctx context.Context, endpoint string, query url.Values, yield func(record.Record, error) bool) {
	cursor := ""
	for {
		q := cloneQuery(query)
		if cursor != "" {
			q.Set(c.config.CursorParam, c.cursorValue(cursor))
		}

		p, err := c.fetchPage(ctx, endpoint, q)
		if err != nil {
			yield(nil, err)
			return
		}
		if !c.emit(endpoint, p.items, yield) {
			return
		}
		if p.cursor == "" || p.cursor == cursor || len(p.items) == 0 {
			return
		}
		cursor = p.cursor
	}
}

func (c *Collector) cursorValue(cursor string) string {
	if c.config.CursorFormat == "" {
		return cursor
	}
	return strings.ReplaceAll(c.config.CursorFormat, "{cursor}", cursor)
}

func (c *Collector) emit(endpoint string, items []record.Record, yield func(record.Record, error) bool) bool {
	for _, item := range items {
		recordsCollected.WithLabelValues(endpoint).Inc()
		if !yield(item, nil) {
			return false
		}
	}
	return true
}

func (c *Collector) fetchPage(ctx context.Context, endpoint string, q url.Values) (page, error) {
	start := time.Now()
	resp, err := c.fetcher.Fetch(ctx, client.Request{URL: endpoint, Query: q})
	if err != nil {
		return page{}, fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	pagesFetched.WithLabelValues(endpoint).Inc()

	p, err := c.paths.parse(resp.Body)
	if err != nil {
		return page{}, fmt.Errorf("%s: %w", resp.URL, err)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("query", q.Encode()).
		Int("items", len(p.items)).
		Int("total", p.total).
		Dur("duration", time.Since(start)).
		Msg("Fetched page")
	return p, nil
}
