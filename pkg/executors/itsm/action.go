package itsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/dukex/flowgate/pkg/template"
)

// ActionFactory creates ACTION executors, which invoke a named action
// exposed by the backend (close ticket, escalate, link CI...).
type ActionFactory struct {
	client *Client
}

func NewActionFactory(client *Client) *ActionFactory {
	return &ActionFactory{client: client}
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.StepExecutor, error) {
	action, _ := config["action"].(string)
	if action == "" {
		return nil, errors.New("missing required field 'action'")
	}

	params, _ := config["params"].(map[string]any)

	return &Action{client: f.client, action: action, params: params}, nil
}

func (f *ActionFactory) StepType() models.StepType { return models.StepTypeAction }

func (f *ActionFactory) Name() string { return "Action" }

func (f *ActionFactory) Description() string {
	return "Invokes a named backend action on the triggering record"
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"description": "Backend action name",
				"pattern":     "^[a-z][a-z0-9_.-]*$",
			},
			"params": map[string]any{
				"type":        "object",
				"description": "Action parameters. String values support templating",
			},
		},
		"required": []string{"action"},
	}
}

// Action runs one named backend action.
type Action struct {
	client *Client
	action string
	params map[string]any
}

func (s *Action) Execute(ctx context.Context, input protocol.StepInput, logger *slog.Logger) (protocol.StepOutput, error) {
	rendered, err := template.RenderValue(s.params, input.Data())
	if err != nil {
		return protocol.StepOutput{}, backoff.Permanent(fmt.Errorf("failed to render params: %w", err))
	}

	params, _ := rendered.(map[string]any)

	logger.InfoContext(ctx, "Running backend action", "action", s.action)

	response, err := s.client.RunAction(ctx, input.IdempotencyKey, s.action, map[string]any{
		"record": map[string]any{"type": input.TriggerRecordType, "id": input.TriggerRecordID},
		"params": params,
	})
	if err != nil {
		return protocol.StepOutput{}, err
	}

	return protocol.StepOutput{Result: map[string]any{
		"status":   "action_completed",
		"action":   s.action,
		"response": response["body"],
	}}, nil
}
