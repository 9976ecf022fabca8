// Package failure defines the error taxonomy shared by every pipeline stage
// and the reporting channel for recoverable data-quality issues.
package failure

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Class classifies a failure by how the pipeline reacts to it.
type Class string

const (
	// ClassTransient is retried by the fetcher up to its attempt cap.
	ClassTransient Class = "transient"

	// ClassServiceUnavailable aborts the current collection or resolution pass.
	ClassServiceUnavailable Class = "service_unavailable"

	// ClassDataQuality skips the smallest affected unit; the pass continues.
	ClassDataQuality Class = "data_quality"

	// ClassConfiguration is fatal at startup.
	ClassConfiguration Class = "configuration"
)

// ErrConfiguration matches every *ConfigError via errors.Is.
var ErrConfiguration = errors.New("configuration error")

var dataQualityIssues = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pipeline_data_quality_issues_total",
	Help: "Data-quality issues by stage and kind",
}, []string{"stage", "kind"})

// ConfigError reports an invalid mapping, an unknown discriminator without a
// fallback, or an invalid setting.
type ConfigError struct {
	Component string
	Field     string
	Reason    string
	Err       error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("%s: invalid %s", e.Component, e.Field)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is makes every ConfigError match ErrConfiguration.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// Configf builds a ConfigError with a formatted reason.
func Configf(component, field, format string, args ...any) *ConfigError {
	return &ConfigError{Component: component, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// Issue describes one recovered data-quality problem.
type Issue struct {
	// Stage is the pipeline stage that hit the problem (resolve, materialize, ...).
	Stage string
	// Kind is a short machine-readable tag (unresolved_reference, missing_name, ...).
	Kind string
	// Key identifies the affected unit (record id, reference id, field).
	Key string
	// Reason is a human-readable explanation.
	Reason string
}

// Reporter receives data-quality issues.
type Reporter interface {
	Report(ctx context.Context, issue Issue)
}

// LogReporter logs issues as warnings and counts them.
type LogReporter struct {
	logger zerolog.Logger
	mu     sync.Mutex
	counts map[string]int
}

// NewLogReporter creates a reporter writing to logger.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger, counts: make(map[string]int)}
}

// Report implements Reporter.
func (r *LogReporter) Report(_ context.Context, issue Issue) {
	dataQualityIssues.WithLabelValues(issue.Stage, issue.Kind).Inc()

	r.mu.Lock()
	r.counts[issue.Kind]++
	r.mu.Unlock()

	r.logger.Warn().
		Str("stage", issue.Stage).
		Str("kind", issue.Kind).
		Str("key", issue.Key).
		Msg(issue.Reason)
}

// Total returns the number of issues reported so far.
func (r *LogReporter) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.counts {
		total += n
	}
	return total
}

// Summary returns a copy of the per-kind issue counts.
func (r *LogReporter) Summary() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

// Collector keeps every reported issue in memory.
type Collector struct {
	mu     sync.Mutex
	issues []Issue
}

// Report implements Reporter.
func (c *Collector) Report(_ context.Context, issue Issue) {
	c.mu.Lock()
	c.issues = append(c.issues, issue)
	c.mu.Unlock()
}

// Issues returns a copy of the collected issues.
func (c *Collector) Issues() []Issue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Issue(nil), c.issues...)
}

// Discard drops every issue.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Report(context.Context, Issue) {}

// CountingReporter counts issues and forwards them to Next.
type CountingReporter struct {
	Next Reporter

	mu    sync.Mutex
	count int
}

// Counting wraps next. A nil next discards forwarded issues.
func Counting(next Reporter) *CountingReporter {
	if next == nil {
		next = Discard
	}
	return &CountingReporter{Next: next}
}

// Report implements Reporter.
func (r *CountingReporter) Report(ctx context.Context, issue Issue) {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
	r.Next.Report(ctx, issue)
}

// Count returns the number of issues seen.
func (r *CountingReporter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
