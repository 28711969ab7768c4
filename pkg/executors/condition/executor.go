// Package condition provides the CONDITION executor. A condition that
// evaluates to false closes its branch: the step completes and every step
// that depends on it is skipped.
package condition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowgate/pkg/expression"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
)

// Factory creates CONDITION executors sharing one evaluator.
type Factory struct {
	evaluator *expression.Evaluator
}

func NewFactory(evaluator *expression.Evaluator) *Factory {
	if evaluator == nil {
		evaluator = expression.NewEvaluator()
	}

	return &Factory{evaluator: evaluator}
}

func (f *Factory) Create(_ context.Context, config map[string]any) (protocol.StepExecutor, error) {
	condition, _ := config["condition"].(string)
	if condition == "" {
		return nil, errors.New("missing required field 'condition'")
	}

	if err := f.evaluator.Compile(condition); err != nil {
		return nil, err
	}

	return &Executor{evaluator: f.evaluator, condition: condition}, nil
}

func (f *Factory) StepType() models.StepType { return models.StepTypeCondition }

func (f *Factory) Name() string { return "Condition" }

func (f *Factory) Description() string {
	return "Evaluates a boolean expression; when false the dependent steps are skipped"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"type":        "string",
				"description": "Boolean expression over steps, context, record and instance",
				"minLength":   1,
				"examples": []string{
					`context.priority == "P1"`,
					`steps.lookup.status_code == 200 && steps.lookup.json.vip`,
				},
			},
		},
		"required": []string{"condition"},
	}
}

// Executor evaluates one condition.
type Executor struct {
	evaluator *expression.Evaluator
	condition string
}

func (e *Executor) Execute(ctx context.Context, input protocol.StepInput, logger *slog.Logger) (protocol.StepOutput, error) {
	result, err := e.evaluator.Evaluate(e.condition, input.Data())
	if err != nil {
		return protocol.StepOutput{}, backoff.Permanent(fmt.Errorf("condition evaluation failed: %w", err))
	}

	logger.InfoContext(ctx, "Condition evaluated", "condition", e.condition, "result", result)

	return protocol.StepOutput{
		Result: map[string]any{
			"condition": e.condition,
			"result":    result,
		},
		CloseBranch: !result,
	}, nil
}
