package source

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured indicates a missing Source credential or base URL.
	// Non-retryable; the operator has to finish configuration first.
	ErrNotConfigured = errors.New("source: client not configured")
	// ErrRateLimited indicates the upstream explicitly rejected the call for
	// rate reasons. The budget has already been reset; callers may retry
	// later.
	ErrRateLimited = errors.New("source: upstream rate limit hit")
	// ErrNotFound indicates the requested product does not exist upstream.
	ErrNotFound = errors.New("source: product not found")
)

// APIError carries a non-2xx upstream response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("source: api returned HTTP %d", e.StatusCode)
}
