// Package logging sets up the global zerolog logger and hands out component
// loggers.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a configured level name.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// ErrUnknownLevel is returned by ParseLevel.
var ErrUnknownLevel = errors.New("unknown log level")

// ParseLevel normalizes a level name. "warning" is accepted for warn and the
// empty string selects info.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to console output.
	Pretty bool

	// Output defaults to os.Stderr so stdout stays free for command output.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// Setup configures the global zerolog logger and returns it. Loggers created
// by NewLogger afterwards inherit its output.
func Setup(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	zerolog.SetGlobalLevel(cfg.Level.zerolog())
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

// NewLogger creates a logger tagged with the emitting component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForDataset scopes a component logger to one dataset run.
func ForDataset(logger zerolog.Logger, dataset string) zerolog.Logger {
	if dataset == "" {
		return logger
	}
	return logger.With().Str("dataset", dataset).Logger()
}

// Levels:
//
// Debug: pages and lookup chunks, retry back-off decisions, records skipped
// by the URL gate, vocabulary loads, every emitted entity (log sink).
//
// Info: run start and summary, requests that succeeded after a retry,
// upstream totals changing during collection, Redis connection.
//
// Warn: data-quality issues, the emission cache failing open, exhausted
// retries before the error is returned, Redis unreachable.
//
// Error: runs aborted by an unavailable upstream, sink failures, the metrics
// server failing.
//
// Fields:
//   - component: emitting package (client, collector, resolver, materializer, pipeline, ...)
//   - endpoint: upstream endpoint path
//   - url: request or source URL
//   - status: HTTP status code
//   - attempt: 1-based transport attempt
//   - error_class: client, server, rate_limit, network or a failure class
//   - dataset: dataset name of the run
//   - kind: record kind being materialized
//   - entity_id: emitted entity or relationship id
//   - schema: entity schema
