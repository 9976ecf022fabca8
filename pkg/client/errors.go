package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dataresearchcenter/datasets/pkg/failure"
)

// Common errors returned by the client.
var (
	// ErrServiceUnavailable matches every *ServiceUnavailableError.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport errors: timeouts, resets, refused
	// connections.
	ErrorClassNetwork ErrorClass = "network"
)

// HTTPError is a failed request attempt with its classification.
type HTTPError struct {
	URL        string
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s error (status %d): %s: %v",
			e.URL, e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s error (status %d): %s",
		e.URL, e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// ServiceUnavailableError is returned once every attempt of a request failed
// with a retryable error.
type ServiceUnavailableError struct {
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("service unavailable: %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *ServiceUnavailableError) Unwrap() error {
	return e.Err
}

// Is matches ErrServiceUnavailable.
func (e *ServiceUnavailableError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

// classifyStatus maps a response status to an error class. Success and
// 304 return "".
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// other 4xx fail immediately
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// classOf extracts the error class from err, defaulting to network for
// errors that carry none.
func classOf(err error) ErrorClass {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.ErrorClass
	}
	return ErrorClassNetwork
}

// FailureClass maps a fetch error onto the pipeline's failure taxonomy.
func FailureClass(err error) failure.Class {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrServiceUnavailable):
		return failure.ClassServiceUnavailable
	case failure.IsConfiguration(err):
		return failure.ClassConfiguration
	case classOf(err) == ErrorClassClient:
		return failure.ClassDataQuality
	default:
		return failure.ClassTransient
	}
}
