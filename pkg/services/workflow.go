package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/flowgate/pkg/expression"
	"github.com/dukex/flowgate/pkg/graph"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/registry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
)

type Workflow struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	evaluator   *expression.Evaluator
	validator   *validator.Validate
	now         func() time.Time
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, registry *registry.Registry, evaluator *expression.Evaluator) *Workflow {
	if evaluator == nil {
		evaluator = expression.NewEvaluator()
	}

	return &Workflow{
		persistence: persistence,
		registry:    registry,
		evaluator:   evaluator,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		now:         time.Now,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	ActiveOnly  bool
	TriggerType string
}

// ListWorkflows retrieves the non-deleted workflows, newest first.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) ([]*models.WorkflowDefinition, error) {
	triggerType := models.TriggerType(strings.ToUpper(strings.TrimSpace(req.TriggerType)))

	if triggerType != "" && !triggerType.Valid() {
		return nil, NewValidationError(
			"ListWorkflows",
			"INVALID_TRIGGER_TYPE",
			fmt.Sprintf("invalid trigger type '%s'", req.TriggerType),
			ErrInvalidTriggerType,
		)
	}

	definitions, err := w.persistence.WorkflowRepository().List(ctx, persistence.WorkflowFilter{
		ActiveOnly:  req.ActiveOnly,
		TriggerType: triggerType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return definitions, nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return w.persistence.WorkflowRepository().GetByID(ctx, id)
}

// Validate checks a definition the way Create and Update do, without
// saving it.
func (w *Workflow) Validate(definition *models.WorkflowDefinition) error {
	if definition == nil {
		return ErrWorkflowNil
	}

	err := w.validator.Struct(definition)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewValidationError("Validate", "INVALID_WORKFLOW", validationErrors.Error(), ErrInvalidRequest)
		}

		return NewValidationError("Validate", "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	if !definition.TriggerType.Valid() {
		return NewValidationError(
			"Validate",
			"INVALID_TRIGGER_TYPE",
			fmt.Sprintf("invalid trigger type '%s'", definition.TriggerType),
			ErrInvalidTriggerType,
		)
	}

	if definition.TriggerType == models.TriggerScheduled {
		if definition.Schedule == "" {
			return NewValidationError("Validate", "SCHEDULE_REQUIRED", "", ErrScheduleRequired)
		}

		_, err := cron.ParseStandard(definition.Schedule)
		if err != nil {
			return NewValidationError(
				"Validate",
				"INVALID_SCHEDULE",
				fmt.Sprintf("invalid cron schedule '%s': %v", definition.Schedule, err),
				ErrInvalidSchedule,
			)
		}
	}

	if definition.TriggerCondition != "" {
		err := w.evaluator.Compile(definition.TriggerCondition)
		if err != nil {
			return NewValidationError("Validate", "INVALID_CONDITION", err.Error(), ErrInvalidCondition)
		}
	}

	err = graph.Validate(definition.Steps)
	if err != nil {
		return err
	}

	if w.registry != nil {
		err = w.registry.ValidateSteps(definition.Steps)
		if err != nil {
			return err
		}
	}

	return nil
}

// Create validates and stores a new workflow at version 1.
func (w *Workflow) Create(ctx context.Context, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	err := w.Validate(definition)
	if err != nil {
		return nil, err
	}

	now := w.now().UTC()
	definition.ID = uuid.New().String()
	definition.Version = 1
	definition.CreatedAt = now
	definition.UpdatedAt = now
	definition.DeletedAt = nil

	err = w.persistence.WorkflowRepository().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return definition, nil
}

// Update replaces a workflow and increments its version. Running instances
// keep the snapshot they were created with.
func (w *Workflow) Update(
	ctx context.Context,
	workflowID string,
	definition *models.WorkflowDefinition,
) (*models.WorkflowDefinition, error) {
	err := w.Validate(definition)
	if err != nil {
		return nil, err
	}

	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	definition.ID = workflowID
	definition.Version = existing.Version + 1
	definition.CreatedAt = existing.CreatedAt
	definition.CreatedBy = existing.CreatedBy
	definition.UpdatedAt = w.now().UTC()
	definition.DeletedAt = nil

	err = w.persistence.WorkflowRepository().Save(ctx, definition)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return definition, nil
}

// Delete soft-deletes a workflow by its ID.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	err := w.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return err
		}

		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}
