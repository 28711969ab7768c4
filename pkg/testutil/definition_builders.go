// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/flowgate/pkg/models"
	"github.com/google/uuid"
)

// CreateTestStep creates a test ACTION step with default values that can be overridden.
func CreateTestStep(stepID string, overrides ...func(*models.Step)) *models.Step {
	step := &models.Step{
		StepID:   stepID,
		Name:     "Step " + stepID,
		StepType: models.StepTypeAction,
		Config:   map[string]any{},
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithDependencies sets the step dependencies.
func WithDependencies(stepIDs ...string) func(*models.Step) {
	return func(s *models.Step) {
		s.Dependencies = stepIDs
	}
}

// WithStepType sets the step type.
func WithStepType(stepType models.StepType) func(*models.Step) {
	return func(s *models.Step) {
		s.StepType = stepType
	}
}

// WithConfig sets the step configuration.
func WithConfig(config map[string]any) func(*models.Step) {
	return func(s *models.Step) {
		s.Config = config
	}
}

// WithApprover turns the step into an APPROVAL step.
func WithApprover(approverType models.ApproverType, approverRef string) func(*models.Step) {
	return func(s *models.Step) {
		s.StepType = models.StepTypeApproval
		s.Config = map[string]any{
			"approver_type": string(approverType),
			"approver_ref":  approverRef,
		}
	}
}

// WithOptional marks the step optional.
func WithOptional() func(*models.Step) {
	return func(s *models.Step) {
		s.Optional = true
	}
}

// CreateTestDefinition creates an active MANUAL definition with a single step.
func CreateTestDefinition(overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	definition := &models.WorkflowDefinition{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		TriggerType: models.TriggerManual,
		IsActive:    true,
		Version:     1,
		CreatedBy:   "test-user",
		Steps:       []*models.Step{CreateTestStep("step-1")},
	}

	for _, override := range overrides {
		override(definition)
	}

	return definition
}

// WithSteps replaces the definition steps.
func WithSteps(steps ...*models.Step) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.Steps = steps
	}
}

// WithTriggerType sets the trigger type.
func WithTriggerType(triggerType models.TriggerType) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.TriggerType = triggerType
	}
}

// WithInactive deactivates the definition.
func WithInactive() func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.IsActive = false
	}
}

// WithID sets the definition ID.
func WithID(id string) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.ID = id
	}
}

// CreateApprovalDefinition creates the classify -> (notify, approve) -> implement graph
// with the approval assigned to the given approver.
func CreateApprovalDefinition(approverType models.ApproverType, approverRef string) *models.WorkflowDefinition {
	return CreateTestDefinition(
		func(d *models.WorkflowDefinition) { d.Name = "Change approval" },
		WithSteps(
			CreateTestStep("classify"),
			CreateTestStep("notify", WithDependencies("classify")),
			CreateTestStep("approve", WithDependencies("classify"), WithApprover(approverType, approverRef)),
			CreateTestStep("implement", WithDependencies("notify", "approve")),
		),
	)
}
