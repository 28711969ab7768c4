package models

import (
	"encoding/json"
	"slices"
	"time"
)

// InstanceSchemaVersion is the envelope version written with every persisted instance.
const InstanceSchemaVersion = 1

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusPending         InstanceStatus = "PENDING"
	InstanceStatusRunning         InstanceStatus = "RUNNING"
	InstanceStatusWaitingApproval InstanceStatus = "WAITING_APPROVAL"
	InstanceStatusCompleted       InstanceStatus = "COMPLETED"
	InstanceStatusFailed          InstanceStatus = "FAILED"
	InstanceStatusCancelled       InstanceStatus = "CANCELLED"
)

// InstanceStatuses lists every instance status.
var InstanceStatuses = []InstanceStatus{
	InstanceStatusPending,
	InstanceStatusRunning,
	InstanceStatusWaitingApproval,
	InstanceStatusCompleted,
	InstanceStatusFailed,
	InstanceStatusCancelled,
}

// ActiveInstanceStatuses are the statuses a runner must resume after a restart.
var ActiveInstanceStatuses = []InstanceStatus{
	InstanceStatusPending,
	InstanceStatusRunning,
	InstanceStatusWaitingApproval,
}

// Valid reports whether s is a known status.
func (s InstanceStatus) Valid() bool {
	return slices.Contains(InstanceStatuses, s)
}

// Terminal reports whether no transition can leave s.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusCancelled
}

// StepStatus is the status of a single step execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "PENDING"
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusSkipped   StepStatus = "SKIPPED"
)

// Terminal reports whether the execution can no longer change.
func (s StepStatus) Terminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// SkipReason explains why a step was skipped.
type SkipReason string

const (
	SkipReasonUpstreamFailed   SkipReason = "UPSTREAM_FAILED"
	SkipReasonBranchClosed     SkipReason = "BRANCH_CLOSED"
	SkipReasonApprovalRejected SkipReason = "APPROVAL_REJECTED"
)

// StepExecution is the runtime record of one step within one instance.
type StepExecution struct {
	StepID       string          `json:"step_id"`
	StepName     string          `json:"step_name"`
	StepType     StepType        `json:"step_type"`
	Status       StepStatus      `json:"status"`
	Attempts     int             `json:"attempts"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	SkipReason   SkipReason      `json:"skip_reason,omitempty"`
	BranchClosed bool            `json:"branch_closed,omitempty"`
	Late         bool            `json:"late,omitempty"`
}

// WorkflowInstance is one execution of a workflow definition.
type WorkflowInstance struct {
	ID                string           `json:"id"`
	SchemaVersion     int              `json:"schema_version"`
	WorkflowID        string           `json:"workflow_id"`
	WorkflowName      string           `json:"workflow_name"`
	WorkflowVersion   int              `json:"workflow_version"`
	TriggerType       TriggerType      `json:"trigger_type"`
	TriggerRecordType string           `json:"trigger_record_type"`
	TriggerRecordID   string           `json:"trigger_record_id"`
	TriggerEventID    string           `json:"trigger_event_id,omitempty"`
	DedupeKey         string           `json:"dedupe_key,omitempty"`
	Status            InstanceStatus   `json:"status"`
	CurrentStepID     string           `json:"current_step_id,omitempty"`
	Steps             []*Step          `json:"steps"`
	Context           map[string]any   `json:"context,omitempty"`
	StepHistory       []*StepExecution `json:"step_history"`
	ErrorMessage      string           `json:"error_message,omitempty"`
	StartedAt         time.Time        `json:"started_at"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt         time.Time        `json:"updated_at"`
	Version           int              `json:"version"`
}

// Execution returns the step execution recorded for stepID.
func (i *WorkflowInstance) Execution(stepID string) (*StepExecution, bool) {
	for _, execution := range i.StepHistory {
		if execution.StepID == stepID {
			return execution, true
		}
	}

	return nil, false
}

// AppendExecution adds a new execution at the end of the history.
func (i *WorkflowInstance) AppendExecution(execution *StepExecution) {
	i.StepHistory = append(i.StepHistory, execution)
}

// MoveToEnd moves the execution for stepID to the end of the history, so
// that terminal executions appear in the order they finished.
func (i *WorkflowInstance) MoveToEnd(stepID string) {
	for idx, execution := range i.StepHistory {
		if execution.StepID != stepID {
			continue
		}

		i.StepHistory = append(slices.Delete(i.StepHistory, idx, idx+1), execution)

		return
	}
}

// Clone returns a deep copy of the instance, so transitions can be computed
// without touching the caller's copy.
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	c := *i
	c.Steps = CloneSteps(i.Steps)
	c.Context = cloneMap(i.Context)
	c.StepHistory = make([]*StepExecution, 0, len(i.StepHistory))

	for _, execution := range i.StepHistory {
		e := *execution
		e.Result = slices.Clone(execution.Result)
		c.StepHistory = append(c.StepHistory, &e)
	}

	if i.CompletedAt != nil {
		completedAt := *i.CompletedAt
		c.CompletedAt = &completedAt
	}

	return &c
}
