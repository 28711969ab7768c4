package web

import "github.com/dukex/flowgate/pkg/models"

// ActorHeader carries the id of the user performing a request.
const ActorHeader = "X-Actor-ID"

// WorkflowRequest is the request body for creating or replacing a workflow.
type WorkflowRequest struct {
	Name             string          `json:"name"                        validate:"required,min=3"`
	Description      string          `json:"description"`
	TriggerType      string          `json:"trigger_type"                validate:"required"`
	TriggerCondition string          `json:"trigger_condition,omitempty"`
	Schedule         string          `json:"schedule,omitempty"`
	DedupeWindow     models.Duration `json:"dedupe_window,omitempty"`
	IsActive         *bool           `json:"is_active,omitempty"`
	Steps            []*models.Step  `json:"steps"                       validate:"required"`
	CreatedBy        string          `json:"created_by,omitempty"`
}

// Definition converts the request into a workflow definition. Workflows are
// active unless is_active is false.
func (r WorkflowRequest) Definition() *models.WorkflowDefinition {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}

	return &models.WorkflowDefinition{
		Name:             r.Name,
		Description:      r.Description,
		TriggerType:      models.TriggerType(r.TriggerType),
		TriggerCondition: r.TriggerCondition,
		Schedule:         r.Schedule,
		DedupeWindow:     r.DedupeWindow,
		IsActive:         active,
		Steps:            r.Steps,
		CreatedBy:        r.CreatedBy,
	}
}

// TriggerRequest is the request body of a manual trigger.
type TriggerRequest struct {
	RecordType string         `json:"record_type"`
	RecordID   string         `json:"record_id"`
	Context    map[string]any `json:"context,omitempty"`
}

// CancelRequest is the request body of an instance cancellation.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// DecisionRequest is the request body of an approve or reject call.
type DecisionRequest struct {
	Comments string `json:"comments"`
}

// WatchResponse is returned by the instance watch endpoint.
type WatchResponse struct {
	Changed  bool                     `json:"changed"`
	Instance *models.WorkflowInstance `json:"instance"`
}

// EventResponse lists the instances started by an ingested event.
type EventResponse struct {
	EventID   string   `json:"event_id"`
	Instances []string `json:"instances"`
}

// StepTypeResponse describes a registered step executor.
type StepTypeResponse struct {
	StepType    models.StepType `json:"step_type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      map[string]any  `json:"schema"`
}
