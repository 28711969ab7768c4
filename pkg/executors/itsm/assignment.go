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

// AssignmentFactory creates ASSIGNMENT executors.
type AssignmentFactory struct {
	client *Client
}

func NewAssignmentFactory(client *Client) *AssignmentFactory {
	return &AssignmentFactory{client: client}
}

func (f *AssignmentFactory) Create(_ context.Context, config map[string]any) (protocol.StepExecutor, error) {
	assignee, _ := config["assignee"].(string)
	if assignee == "" {
		return nil, errors.New("missing required field 'assignee'")
	}

	assigneeType, _ := config["assignee_type"].(string)
	if assigneeType == "" {
		assigneeType = "USER"
	}

	return &Assignment{
		client:       f.client,
		target:       targetFrom(config),
		assignee:     assignee,
		assigneeType: assigneeType,
	}, nil
}

func (f *AssignmentFactory) StepType() models.StepType { return models.StepTypeAssignment }

func (f *AssignmentFactory) Name() string { return "Assignment" }

func (f *AssignmentFactory) Description() string {
	return "Assigns the triggering record to a user or group"
}

func (f *AssignmentFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"assignee": map[string]any{
				"type":        "string",
				"description": "User or group id. Supports templating",
				"minLength":   1,
			},
			"assignee_type": map[string]any{
				"type":    "string",
				"enum":    []string{"USER", "GROUP"},
				"default": "USER",
			},
			"record_type": recordTypeSchema,
			"record_id":   recordIDSchema,
		},
		"required": []string{"assignee"},
	}
}

// Assignment sets the assignee of a record.
type Assignment struct {
	client       *Client
	target       target
	assignee     string
	assigneeType string
}

func (s *Assignment) Execute(ctx context.Context, input protocol.StepInput, logger *slog.Logger) (protocol.StepOutput, error) {
	data := input.Data()

	recordType, recordID, err := s.target.resolve(input, data)
	if err != nil {
		return protocol.StepOutput{}, backoff.Permanent(err)
	}

	assignee, err := template.RenderString(s.assignee, data)
	if err != nil {
		return protocol.StepOutput{}, backoff.Permanent(fmt.Errorf("failed to render assignee: %w", err))
	}

	if assignee == "" {
		return protocol.StepOutput{}, backoff.Permanent(errors.New("assignee rendered empty"))
	}

	logger.InfoContext(ctx, "Assigning record", "record_type", recordType, "record_id", recordID, "assignee", assignee)

	response, err := s.client.Assign(ctx, input.IdempotencyKey, recordType, recordID, map[string]any{
		"assignee":      assignee,
		"assignee_type": s.assigneeType,
	})
	if err != nil {
		return protocol.StepOutput{}, err
	}

	return protocol.StepOutput{Result: map[string]any{
		"status":        "assigned",
		"record_type":   recordType,
		"record_id":     recordID,
		"assignee":      assignee,
		"assignee_type": s.assigneeType,
		"response":      response,
	}}, nil
}
