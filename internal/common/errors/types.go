// Package errors defines the structured error types used across the
// enrichment service. Provider failures are represented as a closed set
// of error classes so callers can decide whether a failure is retryable,
// terminal, or should abort a whole backfill run.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorType represents the class of an error
type ErrorType string

const (
	// ErrTypeInvalidInput represents a malformed enrichment subject; never retried
	ErrTypeInvalidInput ErrorType = "invalid_input"
	// ErrTypeProviderAuth represents a provider authentication failure; fatal for a run
	ErrTypeProviderAuth ErrorType = "provider_auth"
	// ErrTypeProviderRateLimit represents a provider 429; retryable with backoff
	ErrTypeProviderRateLimit ErrorType = "provider_rate_limit"
	// ErrTypeProviderTransient represents a network/timeout/5xx provider failure; retryable
	ErrTypeProviderTransient ErrorType = "provider_transient"
	// ErrTypeProviderNotFound represents a provider miss; terminal but cached as a negative result
	ErrTypeProviderNotFound ErrorType = "provider_not_found"
	// ErrTypeDelivery represents a webhook delivery failure; retryable up to the attempt cap
	ErrTypeDelivery ErrorType = "delivery"

	// ErrTypeConnection represents connection-related errors
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeConflict represents a conflicting concurrent operation
	ErrTypeConflict ErrorType = "conflict"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
	// ErrTypeTimeout represents timeout errors
	ErrTypeTimeout ErrorType = "timeout"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// InvalidInputError creates an error for a malformed enrichment subject
func InvalidInputError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeInvalidInput,
		Message: msg,
	}
}

// ProviderAuthError creates an error for a provider authentication failure
func ProviderAuthError(provider string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeProviderAuth,
		Message: fmt.Sprintf("provider %s rejected credentials", provider),
		Cause:   cause,
	}
}

// ProviderRateLimitError creates an error for a provider rate limit response
func ProviderRateLimitError(provider string) *AppError {
	return &AppError{
		Type:    ErrTypeProviderRateLimit,
		Message: fmt.Sprintf("provider %s rate limit exceeded", provider),
	}
}

// ProviderTransientError creates an error for a transient provider failure
func ProviderTransientError(provider string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeProviderTransient,
		Message: fmt.Sprintf("transient failure calling provider %s", provider),
		Cause:   cause,
	}
}

// ProviderNotFoundError creates an error for a provider miss on the subject
func ProviderNotFoundError(provider string) *AppError {
	return &AppError{
		Type:    ErrTypeProviderNotFound,
		Message: fmt.Sprintf("provider %s has no record for subject", provider),
	}
}

// DeliveryError creates an error for a failed webhook delivery attempt
func DeliveryError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeDelivery,
		Message: msg,
		Cause:   cause,
	}
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConnection,
		Message: msg,
		Cause:   cause,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// ConflictError creates an error for a conflicting concurrent operation
func ConflictError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConflict,
		Message: msg,
		Cause:   cause,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string) *AppError {
	return &AppError{
		Type:    ErrTypeTimeout,
		Message: fmt.Sprintf("timeout during %s", operation),
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}

	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}

// IsRetryable reports whether an error class is worth retrying with backoff.
// Only rate-limit, transient, timeout, connection and delivery failures
// qualify; auth and input errors must surface immediately to cap spend.
func IsRetryable(err error) bool {
	switch GetType(err) {
	case ErrTypeProviderRateLimit, ErrTypeProviderTransient, ErrTypeTimeout, ErrTypeConnection, ErrTypeDelivery:
		return true
	default:
		return false
	}
}

// Is re-exports errors.Is so callers don't need two errors imports
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As re-exports errors.As so callers don't need two errors imports
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
