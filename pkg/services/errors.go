// Package services provides the operations behind the HTTP API and
// standardized error types for them.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/flowgate/pkg/engine"
	"github.com/dukex/flowgate/pkg/events"
	"github.com/dukex/flowgate/pkg/graph"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/registry"
	"github.com/dukex/flowgate/pkg/trigger"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidStatus      = errors.New("invalid instance status")
	ErrWorkflowNil        = errors.New("workflow cannot be nil")
	ErrInvalidTriggerType = errors.New("invalid trigger type")
	ErrScheduleRequired   = errors.New("schedule is required for SCHEDULED workflows")
	ErrInvalidSchedule    = errors.New("invalid cron schedule")
	ErrInvalidCondition   = errors.New("invalid trigger condition")
	ErrActorRequired      = errors.New("actor is required")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrInvalidTriggerType) ||
		errors.Is(err, ErrScheduleRequired) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrInvalidCondition) ||
		errors.Is(err, ErrActorRequired) ||
		graph.IsValidationError(err) ||
		errors.Is(err, graph.ErrUnsupportedStepType) ||
		errors.Is(err, registry.ErrInvalidConfig) ||
		errors.Is(err, registry.ErrExecutorNotRegistered) ||
		errors.Is(err, trigger.ErrInactiveWorkflow) ||
		errors.Is(err, engine.ErrInactiveWorkflow) ||
		errors.Is(err, engine.ErrInvalidDecision) ||
		errors.Is(err, events.ErrUnknownEventType) ||
		errors.Is(err, events.ErrMissingRecord)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, engine.ErrInstanceTerminal) ||
		errors.Is(err, persistence.ErrApprovalAlreadyDecided) ||
		errors.Is(err, persistence.ErrDuplicateInstance) ||
		errors.Is(err, persistence.ErrVersionConflict)
}

// IsForbiddenError checks if an error should return HTTP 403.
func IsForbiddenError(err error) bool {
	return errors.Is(err, engine.ErrUnauthorized)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsNotFound(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
