package api

import (
	"fmt"
	"time"
)

// APIError represents an error response from the Volt API.
type APIError struct {
	StatusCode int
	Code       string        // error code from the response body, if any
	Message    string
	RetryAfter time.Duration // from the Retry-After header, 0 if absent
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("volt api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("volt api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsRateLimited returns true for server-side rate limiting.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// RetriesExhaustedError wraps the last retriable error after the attempt
// budget is spent.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Last
}
