package alerts

import "errors"

var (
	// ErrNotFound indicates a missing rule or rule version.
	ErrNotFound = errors.New("alert rule: not found")
	// ErrValidation marks input that failed validation.
	ErrValidation = errors.New("alert rule: validation failed")
	// ErrLimitExceeded marks a request above a hard replay cap.
	ErrLimitExceeded = errors.New("alert rule: limit exceeded")
	// ErrRetrieval marks a failed telemetry fetch.
	ErrRetrieval = errors.New("alert rule: telemetry retrieval failed")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a validation error.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return "validation: " + e.Field + ": " + e.Reason
}

// Is lets errors.Is match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// LimitError reports a request above a replay cap.
type LimitError struct {
	Field string
	Max   int
}

func (e *LimitError) Error() string {
	return "limit exceeded: " + e.Field
}

// Is lets errors.Is match ErrLimitExceeded.
func (e *LimitError) Is(target error) bool {
	return target == ErrLimitExceeded
}
