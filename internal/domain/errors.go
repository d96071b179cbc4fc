package domain

import (
	"errors"
	"fmt"
	"time"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Redirect  string    `json:"redirect,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeAuthentication = "AUTHENTICATION_ERROR"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodePersistence    = "PERSISTENCE_ERROR"
	ErrCodeFetch          = "FETCH_ERROR"
	ErrCodeInference      = "INFERENCE_UNAVAILABLE"
	ErrCodeState          = "INVALID_STATE"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrDuplicateUser        = errors.New("user already exists")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrForbidden            = errors.New("role not permitted")
	ErrPersistence          = errors.New("saving record failed")
	ErrFetch                = errors.New("fetching records failed")
	ErrInferenceUnavailable = errors.New("inference service unavailable")
	ErrSubmissionInFlight   = errors.New("a submission is already in flight")
	ErrNoValidatedFile      = errors.New("no validated file selected")
	ErrNoPendingOutcome     = errors.New("no outcome awaiting review")
	ErrReviewPending        = errors.New("an outcome is awaiting review")
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// IsValidationError reports whether err carries a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
