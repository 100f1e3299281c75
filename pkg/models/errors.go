package models

import (
	"context"
	"errors"
	"fmt"
)

// Machine-readable error codes surfaced in API responses and event payloads.
const (
	CodeValidation            = "VALIDATION"
	CodeNotFound              = "NOT_FOUND"
	CodeInvalidState          = "INVALID_STATE"
	CodeInvalidTransition     = "INVALID_TRANSITION"
	CodeCyclicDependency      = "CYCLIC_DEPENDENCY"
	CodeCapacityExceeded      = "CAPACITY_EXCEEDED"
	CodeTimeout               = "TIMEOUT"
	CodeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
	CodeUpstreamFailure       = "UPSTREAM_FAILURE"
	CodeInternal              = "INTERNAL"
)

// Sentinel errors shared across services. Wrap them with fmt.Errorf("%w: ...")
// so callers can classify with errors.Is.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates the entity exists but its current state
	// forbids the operation (e.g. mutating a terminal task).
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidTransition indicates a lifecycle transition outside the
	// allowed transition table.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrCyclicDependency indicates adding the dependency would create a
	// cycle in the task graph.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrCapacityExceeded indicates a configured limit was hit (queue
	// depth, active agents).
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrDependencyUnavailable indicates a required backing service
	// (database, Redis, Kafka) is unreachable.
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrUpstreamFailure indicates a downstream collaborator (LLM,
	// webhook endpoint) returned a failure.
	ErrUpstreamFailure = errors.New("upstream failure")
)

// ErrorCode maps an error to its machine-readable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidationError(err):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrCyclicDependency):
		return CodeCyclicDependency
	case errors.Is(err, ErrCapacityExceeded):
		return CodeCapacityExceeded
	case errors.Is(err, ErrDependencyUnavailable):
		return CodeDependencyUnavailable
	case errors.Is(err, ErrUpstreamFailure):
		return CodeUpstreamFailure
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// ValidationError indicates a request failed validation before any state
// changed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NewValidationError creates a field-scoped validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
