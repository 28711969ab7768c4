package engine

import (
	"errors"
	"fmt"
)

var (
	ErrInstanceTerminal = errors.New("instance is already in a terminal state")
	ErrUnauthorized     = errors.New("actor is not an approver of this approval")
	ErrInvalidDecision  = errors.New("decision must be APPROVE or REJECT")
	ErrInactiveWorkflow = errors.New("workflow is not active")
	ErrStepTimeout      = errors.New("step timed out")
	ErrCancelled        = errors.New("instance cancelled")
)

// StepExecutionError is the terminal failure of a step after its retries.
type StepExecutionError struct {
	StepID   string
	Attempts int
	Err      error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s failed after %d attempt(s): %v", e.StepID, e.Attempts, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}
