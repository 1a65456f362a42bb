package spotify

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnavailable marks transport faults: DNS, connect, timeouts, cancelled contexts.
	ErrUnavailable = errors.New("spotify unavailable")
	// ErrMalformedResponse marks a 2xx response that is missing required fields.
	ErrMalformedResponse = errors.New("malformed spotify response")
)

// TokenError is a non-2xx answer from the accounts token endpoint.
type TokenError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *TokenError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("spotify token endpoint: status %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("spotify token endpoint: status %d", e.StatusCode)
}

// Transient reports whether retrying later may succeed without user action.
func (e *TokenError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// APIError is a non-2xx answer from the Web API.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
	RetryAfter string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("spotify api: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("spotify api: status %d", e.StatusCode)
}
