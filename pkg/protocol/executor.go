// Package protocol defines the contract between the instance runner and the
// pluggable step executors.
package protocol

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dukex/flowgate/pkg/models"
)

// StepInput is everything an executor needs to run one attempt of a step.
type StepInput struct {
	InstanceID        string
	WorkflowID        string
	StepID            string
	StepName          string
	StepType          models.StepType
	Attempt           int
	IdempotencyKey    string
	TriggerRecordType string
	TriggerRecordID   string
	Config            map[string]any
	// Context is the instance context set from the trigger payload.
	Context map[string]any
	// Results holds the results of the completed steps of the instance.
	Results map[string]json.RawMessage
}

// StepOutput is the successful outcome of an executor.
type StepOutput struct {
	Result any
	// CloseBranch marks the step COMPLETED but makes its dependents skip.
	// Only honored for CONDITION steps.
	CloseBranch bool
}

// StepExecutor runs one step type. Executors must observe ctx cancellation
// and must be idempotent for a given StepInput.IdempotencyKey.
type StepExecutor interface {
	Execute(ctx context.Context, input StepInput, logger *slog.Logger) (StepOutput, error)
}

// ExecutorFactory builds executors for one step type and describes its
// configuration.
type ExecutorFactory interface {
	// Create returns an executor for a step configuration that already
	// passed schema validation.
	Create(ctx context.Context, config map[string]any) (StepExecutor, error)

	// StepType is the step type served by the factory.
	StepType() models.StepType

	Name() string

	Description() string

	// Schema returns the JSON schema for the step configuration.
	Schema() map[string]any
}

// IdempotencyKey is the key executors use to deduplicate side effects of
// retried or re-dispatched attempts.
func IdempotencyKey(instanceID, stepID string) string {
	return instanceID + ":" + stepID
}

// Data flattens the input into the map exposed to templates and expressions.
func (in StepInput) Data() map[string]any {
	results := make(map[string]any, len(in.Results))

	for stepID, raw := range in.Results {
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			value = string(raw)
		}

		results[stepID] = value
	}

	return map[string]any{
		"steps":   results,
		"context": in.Context,
		"record": map[string]any{
			"type": in.TriggerRecordType,
			"id":   in.TriggerRecordID,
		},
		"instance": map[string]any{
			"id":          in.InstanceID,
			"workflow_id": in.WorkflowID,
			"step_id":     in.StepID,
			"attempt":     in.Attempt,
		},
	}
}
