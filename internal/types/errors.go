package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and services MUST use these instead of
// hardcoded strings so the HTTP mapping stays consistent.
const (
	// Validation (400)
	ErrCodeValidationInvalidGeometry  ErrorCode = "validation_invalid_geometry"
	ErrCodeValidationMissingField     ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidIndex     ErrorCode = "validation_invalid_index"
	ErrCodeValidationInvalidProfile   ErrorCode = "validation_invalid_sensor_profile"
	ErrCodeValidationInvalidDate      ErrorCode = "validation_invalid_date"
	ErrCodeValidationInvalidStatus    ErrorCode = "validation_invalid_status"
	ErrCodeValidationInvalidNumber    ErrorCode = "validation_invalid_number"
	ErrCodeValidationBatchSize        ErrorCode = "validation_batch_size_exceeded"
	ErrCodeValidationInvalidRequest   ErrorCode = "validation_invalid_request"
	ErrCodeValidationBlockedURL       ErrorCode = "validation_blocked_url"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"
	ErrCodeAuthTokenExpired ErrorCode = "auth_token_expired"

	// Permission (403)
	ErrCodePermissionRole       ErrorCode = "permission_role_insufficient"
	ErrCodePermissionTransition ErrorCode = "permission_transition_not_allowed"

	// Not Found (404)
	ErrCodeNotFoundMilestone ErrorCode = "not_found_milestone"
	ErrCodeNotFoundField     ErrorCode = "not_found_field"

	// Conflict (409)
	ErrCodeConflictConcurrent ErrorCode = "conflict_concurrent_modification"
	ErrCodeConflictTerminal   ErrorCode = "conflict_terminal_status"

	// Configuration (500, raised before any network attempt)
	ErrCodeConfigMissing ErrorCode = "config_missing_credentials"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeInternalQueue       ErrorCode = "internal_queue_error"
	ErrCodeUpstreamImagery     ErrorCode = "upstream_imagery_unavailable"
	ErrCodeUpstreamPayments    ErrorCode = "upstream_payments_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its HTTP status code. Unrecognized codes map
// to 500.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case s == string(ErrCodeUpstreamRateLimited):
		return http.StatusTooManyRequests
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. Domain errors that reach
// the API layer are expressed as (or converted to) AppError for consistent
// formatting and status mapping.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// AppErrorConverter is implemented by typed domain errors that can render
// themselves as an AppError. core.Error looks for it in the error chain.
type AppErrorConverter interface {
	AppError() *AppError
}

// InvalidGeometryError reports malformed or insufficient boundary input.
// It is local and non-recoverable: the caller must fix the input.
type InvalidGeometryError struct {
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	return "invalid geometry: " + e.Reason
}

// AppError converts the error to the API envelope form.
func (e *InvalidGeometryError) AppError() *AppError {
	return &AppError{Code: ErrCodeValidationInvalidGeometry, Message: e.Error(), Err: e}
}

// ConfigurationError reports a missing credential or base URL. It is raised
// before any network attempt is made.
type ConfigurationError struct {
	Service string
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured: missing %s", e.Service, e.Setting)
}

// AppError converts the error to the API envelope form.
func (e *ConfigurationError) AppError() *AppError {
	return &AppError{
		Code:    ErrCodeConfigMissing,
		Message: e.Error(),
		Err:     e,
		Details: map[string]any{"service": e.Service},
	}
}

// RemoteServiceError reports a non-2xx or malformed response from an external
// API. Status is 0 when no HTTP response was received (network failure or
// open circuit). Callers may retry; the clients never do so on their own
// unless a retry policy was configured explicitly.
type RemoteServiceError struct {
	Service string
	Status  int
	Message string
	Err     error
}

func (e *RemoteServiceError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Service, e.Message)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.Status, e.Message)
}

// Unwrap returns the transport-level cause, if any.
func (e *RemoteServiceError) Unwrap() error {
	return e.Err
}

// AppError converts the error to the API envelope form. Upstream 429s keep
// their rate-limited code so clients can back off.
func (e *RemoteServiceError) AppError() *AppError {
	code := ErrCodeUpstreamUnavailable
	if e.Status == http.StatusTooManyRequests {
		code = ErrCodeUpstreamRateLimited
	}
	return &AppError{
		Code:    code,
		Message: e.Error(),
		Err:     e,
		Details: map[string]any{"service": e.Service, "status": e.Status},
	}
}
