package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeConflict ErrorCode = "CONFLICT"

	// OAuth flow
	ErrCodeOAuthDenied         ErrorCode = "OAUTH_DENIED"
	ErrCodeMalformedCallback   ErrorCode = "MALFORMED_CALLBACK"
	ErrCodeInvalidState        ErrorCode = "INVALID_STATE"
	ErrCodeTokenExchangeFailed ErrorCode = "TOKEN_EXCHANGE_FAILED"

	// Integration lifecycle
	ErrCodeNotConnected            ErrorCode = "NOT_CONNECTED"
	ErrCodeReauthorizationRequired ErrorCode = "REAUTHORIZATION_REQUIRED"

	// Provider resource API
	ErrCodeProviderUnavailable  ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderUnauthorized ErrorCode = "PROVIDER_UNAUTHORIZED"
	ErrCodeProviderRateLimited  ErrorCode = "PROVIDER_RATE_LIMITED"
	ErrCodeProviderError        ErrorCode = "PROVIDER_ERROR"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

func TokenExpired() *AppError {
	return New(ErrCodeTokenExpired, "Token has expired")
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

// OAuthDenied carries the provider's reason, e.g. "access_denied".
func OAuthDenied(reason, description string) *AppError {
	details := map[string]string{"reason": reason}
	if description != "" {
		details["description"] = description
	}
	return New(ErrCodeOAuthDenied, fmt.Sprintf("Authorization denied by provider: %s", reason)).WithDetails(details)
}

func MalformedCallback(message string) *AppError {
	return New(ErrCodeMalformedCallback, message)
}

func InvalidState() *AppError {
	return New(ErrCodeInvalidState, "Invalid or expired OAuth state")
}

func TokenExchangeFailed(message string) *AppError {
	return New(ErrCodeTokenExchangeFailed, message)
}

func NotConnected(provider string) *AppError {
	return New(ErrCodeNotConnected, fmt.Sprintf("%s is not connected", provider)).
		WithDetails(map[string]string{"provider": provider})
}

func ReauthorizationRequired(provider string) *AppError {
	return New(ErrCodeReauthorizationRequired, fmt.Sprintf("%s authorization was revoked; reconnect to continue", provider)).
		WithDetails(map[string]string{"provider": provider})
}

func ProviderUnavailable(provider string, cause error) *AppError {
	return Wrap(ErrCodeProviderUnavailable, fmt.Sprintf("Could not reach %s", provider), cause)
}

func ProviderUnauthorized(provider string) *AppError {
	return New(ErrCodeProviderUnauthorized, fmt.Sprintf("%s rejected the access token", provider))
}

func ProviderRateLimited(provider string, retryAfter string) *AppError {
	err := New(ErrCodeProviderRateLimited, fmt.Sprintf("%s rate limit exceeded", provider))
	if retryAfter != "" {
		err.Details = map[string]string{"retryAfter": retryAfter}
	}
	return err
}

func ProviderError(provider string, status int, body string) *AppError {
	return New(ErrCodeProviderError, fmt.Sprintf("%s returned status %d", provider, status)).
		WithDetails(map[string]any{"status": status, "body": body})
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
