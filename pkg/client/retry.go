package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/dataresearchcenter/datasets/pkg/failure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_fetch_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_fetch_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_fetch_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of transport calls, including the
	// first one.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps every delay, including Retry-After.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// Jitter spreads each delay by ±20%.
	Jitter bool `yaml:"jitter"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    5 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Validate checks the retry settings.
func (c RetryConfig) Validate() error {
	switch {
	case c.MaxAttempts < 1:
		return failure.Configf("retry", "max_attempts", "must be at least 1, got %d", c.MaxAttempts)
	case c.InitialBackoff < 0:
		return failure.Configf("retry", "initial_backoff", "must not be negative")
	case c.MaxBackoff < c.InitialBackoff:
		return failure.Configf("retry", "max_backoff", "must be >= initial_backoff")
	case c.BackoffMultiplier < 1:
		return failure.Configf("retry", "backoff_multiplier", "must be >= 1, got %g", c.BackoffMultiplier)
	}
	return nil
}

// delay returns the wait before attempt+1, honoring retryAfter.
func (c RetryConfig) delay(attempt int, retryAfter time.Duration) time.Duration {
	backoff := float64(c.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= c.BackoffMultiplier
		if backoff >= float64(c.MaxBackoff) {
			break
		}
	}
	d := time.Duration(backoff)
	if c.Jitter {
		d = time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
	}
	if retryAfter > d {
		d = retryAfter
	}
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// retryWithBackoff calls fn until it succeeds, fails with a non-retryable
// error, or MaxAttempts calls were made. Attempt state is local to the call
// and the sleep respects ctx.
func retryWithBackoff(ctx context.Context, config RetryConfig, target string, logger zerolog.Logger, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("url", target).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}
		// pacing and cooldown waits that cannot finish before the deadline;
		// transport timeouts arrive as *HTTPError and stay retryable
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		lastErr = err
		errorClass := classOf(err)

		if !shouldRetry(errorClass) {
			return lastErr
		}

		if attempt >= config.MaxAttempts {
			break
		}

		var retryAfter time.Duration
		if httpErr != nil {
			retryAfter = httpErr.RetryAfter
		}
		wait := config.delay(attempt, retryAfter)

		retriesTotal.WithLabelValues(string(errorClass)).Inc()
		retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(wait.Seconds())

		logger.Debug().
			Str("url", target).
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Str("url", target).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	errorClass := classOf(lastErr)
	retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	logger.Warn().
		Str("url", target).
		Str("error_class", string(errorClass)).
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	unavailable := &ServiceUnavailableError{URL: target, Attempts: config.MaxAttempts, Err: lastErr}
	var httpErr *HTTPError
	if errors.As(lastErr, &httpErr) {
		unavailable.StatusCode = httpErr.StatusCode
	}
	return unavailable
}
