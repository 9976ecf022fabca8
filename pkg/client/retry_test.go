package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dataresearchcenter/datasets/pkg/failure"
	"github.com/rs/zerolog"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", config.MaxAttempts)
	}
	if config.InitialBackoff != 5*time.Second {
		t.Errorf("InitialBackoff = %v, want 5s", config.InitialBackoff)
	}
	if config.MaxBackoff != 5*time.Minute {
		t.Errorf("MaxBackoff = %v, want 5m", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
	if config.Jitter {
		t.Error("Jitter should be off by default")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RetryConfig)
	}{
		{"zero attempts", func(c *RetryConfig) { c.MaxAttempts = 0 }},
		{"negative initial", func(c *RetryConfig) { c.InitialBackoff = -time.Second }},
		{"max below initial", func(c *RetryConfig) { c.MaxBackoff = time.Second }},
		{"multiplier below one", func(c *RetryConfig) { c.BackoffMultiplier = 0.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultRetryConfig()
			tt.mutate(&config)
			err := config.Validate()
			if !errors.Is(err, failure.ErrConfiguration) {
				t.Errorf("Validate() = %v, want configuration error", err)
			}
		})
	}
}

func TestRetryConfig_Delay(t *testing.T) {
	config := DefaultRetryConfig()

	tests := []struct {
		attempt    int
		retryAfter time.Duration
		want       time.Duration
	}{
		{1, 0, 5 * time.Second},
		{2, 0, 10 * time.Second},
		{3, 0, 20 * time.Second},
		{7, 0, 5 * time.Minute},
		{20, 0, 5 * time.Minute},
		{1, 30 * time.Second, 30 * time.Second},
		{3, 10 * time.Second, 20 * time.Second},
		{1, time.Hour, 5 * time.Minute},
	}

	for _, tt := range tests {
		if got := config.delay(tt.attempt, tt.retryAfter); got != tt.want {
			t.Errorf("delay(%d, %v) = %v, want %v", tt.attempt, tt.retryAfter, got, tt.want)
		}
	}
}

func TestRetryConfig_DelayJitter(t *testing.T) {
	config := DefaultRetryConfig()
	config.Jitter = true

	for i := 0; i < 100; i++ {
		got := config.delay(1, 0)
		if got < 4*time.Second || got > 6*time.Second {
			t.Fatalf("jittered delay %v outside ±20%% of 5s", got)
		}
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), fastRetry(3), "u", zerolog.Nop(), func(int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("retryWithBackoff() = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_SucceedsAfterRetry(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), fastRetry(3), "u", zerolog.Nop(), func(attempt int) error {
		calls++
		if attempt < 3 {
			return &HTTPError{StatusCode: 502, ErrorClass: ErrorClassServer}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryWithBackoff() = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	for _, attempts := range []int{1, 2, 5} {
		calls := 0
		err := retryWithBackoff(context.Background(), fastRetry(attempts), "https://example.org/x", zerolog.Nop(), func(int) error {
			calls++
			return &HTTPError{StatusCode: 500, ErrorClass: ErrorClassServer}
		})
		if calls != attempts {
			t.Errorf("attempts=%d: calls = %d", attempts, calls)
		}
		if !errors.Is(err, ErrServiceUnavailable) {
			t.Fatalf("attempts=%d: error = %v, want ErrServiceUnavailable", attempts, err)
		}
		var unavailable *ServiceUnavailableError
		if !errors.As(err, &unavailable) {
			t.Fatalf("error is not *ServiceUnavailableError: %T", err)
		}
		if unavailable.Attempts != attempts || unavailable.StatusCode != 500 || unavailable.URL != "https://example.org/x" {
			t.Errorf("unexpected error fields: %+v", unavailable)
		}
	}
}

func TestRetryWithBackoff_ClientErrorNotRetried(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), fastRetry(5), "u", zerolog.Nop(), func(int) error {
		calls++
		return &HTTPError{StatusCode: 404, ErrorClass: ErrorClassClient}
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 404 {
		t.Errorf("error = %v, want the 404 HTTPError", err)
	}
	if errors.Is(err, ErrServiceUnavailable) {
		t.Error("client error must not be ServiceUnavailable")
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	config := fastRetry(5)
	config.InitialBackoff = time.Second
	config.MaxBackoff = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := retryWithBackoff(ctx, config, "u", zerolog.Nop(), func(int) error {
		return &HTTPError{StatusCode: 503, ErrorClass: ErrorClassServer}
	})
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("error = %v, want ErrContextCancelled", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("backoff sleep did not honor cancellation")
	}
}

func TestRetryWithBackoff_HonorsRetryAfter(t *testing.T) {
	config := fastRetry(2)
	config.MaxBackoff = time.Second

	start := time.Now()
	_ = retryWithBackoff(context.Background(), config, "u", zerolog.Nop(), func(int) error {
		return &HTTPError{StatusCode: 429, ErrorClass: ErrorClassRateLimit, RetryAfter: 100 * time.Millisecond}
	})
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("elapsed %v, want at least the Retry-After delay", elapsed)
	}
}

func TestRetryWithBackoff_WaitPastDeadlineNotRetried(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), fastRetry(5), "u", zerolog.Nop(), func(int) error {
		calls++
		return fmt.Errorf("pace api.example.org: %w", context.DeadlineExceeded)
	})
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("error = %v, want ErrContextCancelled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	// a transport timeout is still retried
	calls = 0
	err = retryWithBackoff(context.Background(), fastRetry(3), "u", zerolog.Nop(), func(int) error {
		calls++
		return &HTTPError{ErrorClass: ErrorClassNetwork, Err: context.DeadlineExceeded}
	})
	if !errors.Is(err, ErrServiceUnavailable) || calls != 3 {
		t.Errorf("error = %v after %d calls, want ErrServiceUnavailable after 3", err, calls)
	}
}
