// Package models defines the core domain models for workflow orchestration.
package models

import (
	"slices"
	"time"
)

// TriggerType identifies the domain event (or manual action) that fires a workflow.
type TriggerType string

const (
	TriggerOnTicketCreate       TriggerType = "ON_TICKET_CREATE"
	TriggerOnTicketUpdate       TriggerType = "ON_TICKET_UPDATE"
	TriggerOnTicketStatusChange TriggerType = "ON_TICKET_STATUS_CHANGE"
	TriggerOnApprovalRequired   TriggerType = "ON_APPROVAL_REQUIRED"
	TriggerOnAlertCreated       TriggerType = "ON_ALERT_CREATED"
	TriggerOnCIChange           TriggerType = "ON_CI_CHANGE"
	TriggerScheduled            TriggerType = "SCHEDULED"
	TriggerManual               TriggerType = "MANUAL"
)

// TriggerTypes lists every supported trigger type.
var TriggerTypes = []TriggerType{
	TriggerOnTicketCreate,
	TriggerOnTicketUpdate,
	TriggerOnTicketStatusChange,
	TriggerOnApprovalRequired,
	TriggerOnAlertCreated,
	TriggerOnCIChange,
	TriggerScheduled,
	TriggerManual,
}

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	return slices.Contains(TriggerTypes, t)
}

// StepType discriminates the executor that runs a step.
type StepType string

const (
	StepTypeAction       StepType = "ACTION"
	StepTypeApproval     StepType = "APPROVAL"
	StepTypeNotification StepType = "NOTIFICATION"
	StepTypeCondition    StepType = "CONDITION"
	StepTypeDelay        StepType = "DELAY"
	StepTypeHTTPCall     StepType = "HTTP_CALL"
	StepTypeFieldUpdate  StepType = "FIELD_UPDATE"
	StepTypeAssignment   StepType = "ASSIGNMENT"
	StepTypeCreateRecord StepType = "CREATE_RECORD"
)

// StepTypes lists every supported step type. APPROVAL is handled by the
// runner itself; every other type needs a registered executor.
var StepTypes = []StepType{
	StepTypeAction,
	StepTypeApproval,
	StepTypeNotification,
	StepTypeCondition,
	StepTypeDelay,
	StepTypeHTTPCall,
	StepTypeFieldUpdate,
	StepTypeAssignment,
	StepTypeCreateRecord,
}

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	return slices.Contains(StepTypes, t)
}

// RetryPolicy configures how many times a failing step is retried and how
// long the runner waits between attempts. The zero value means no retries.
type RetryPolicy struct {
	MaxRetries      int      `json:"max_retries"                validate:"min=0,max=20"`
	InitialInterval Duration `json:"initial_interval,omitempty"`
	MaxInterval     Duration `json:"max_interval,omitempty"`
	Multiplier      float64  `json:"multiplier,omitempty"       validate:"omitempty,min=1"`
}

// Step is a unit of work in a workflow definition.
type Step struct {
	StepID       string         `json:"step_id"                  validate:"required"`
	Name         string         `json:"name"                     validate:"required"`
	StepType     StepType       `json:"step_type"                validate:"required"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	Optional     bool           `json:"optional,omitempty"`
	RunOnFailure bool           `json:"run_on_failure,omitempty"`
	Timeout      Duration       `json:"timeout,omitempty"`
	Retry        *RetryPolicy   `json:"retry,omitempty"`
}

// IsApproval reports whether the step is a human approval gate.
func (s *Step) IsApproval() bool {
	return s.StepType == StepTypeApproval
}

// WorkflowDefinition is a named, versioned template of steps and a trigger condition.
type WorkflowDefinition struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"                        validate:"required,min=3"`
	Description      string      `json:"description,omitempty"`
	TriggerType      TriggerType `json:"trigger_type"                validate:"required"`
	TriggerCondition string      `json:"trigger_condition,omitempty"`
	Schedule         string      `json:"schedule,omitempty"`
	DedupeWindow     Duration    `json:"dedupe_window,omitempty"`
	IsActive         bool        `json:"is_active"`
	Steps            []*Step     `json:"steps"                       validate:"dive"`
	Version          int         `json:"version"`
	CreatedBy        string      `json:"created_by"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	DeletedAt        *time.Time  `json:"deleted_at,omitempty"`
}

// FindStep looks a step up by id.
func FindStep(steps []*Step, stepID string) (*Step, bool) {
	for _, step := range steps {
		if step.StepID == stepID {
			return step, true
		}
	}

	return nil, false
}

// CloneSteps deep-copies a step list so that an instance snapshot is not
// affected by later edits of the definition.
func CloneSteps(steps []*Step) []*Step {
	cloned := make([]*Step, 0, len(steps))

	for _, step := range steps {
		c := *step
		c.Dependencies = slices.Clone(step.Dependencies)
		c.Config = cloneMap(step.Config)

		if step.Retry != nil {
			retry := *step.Retry
			c.Retry = &retry
		}

		cloned = append(cloned, &c)
	}

	return cloned
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))

	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)

			continue
		}

		out[k] = v
	}

	return out
}
