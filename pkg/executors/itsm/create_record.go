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

// CreateRecordFactory creates CREATE_RECORD executors.
type CreateRecordFactory struct {
	client *Client
}

func NewCreateRecordFactory(client *Client) *CreateRecordFactory {
	return &CreateRecordFactory{client: client}
}

func (f *CreateRecordFactory) Create(_ context.Context, config map[string]any) (protocol.StepExecutor, error) {
	recordType, _ := config["record_type"].(string)
	if recordType == "" {
		return nil, errors.New("missing required field 'record_type'")
	}

	data, _ := config["data"].(map[string]any)
	linkParent, _ := config["link_parent"].(bool)

	return &CreateRecord{client: f.client, recordType: recordType, data: data, linkParent: linkParent}, nil
}

func (f *CreateRecordFactory) StepType() models.StepType { return models.StepTypeCreateRecord }

func (f *CreateRecordFactory) Name() string { return "Create record" }

func (f *CreateRecordFactory) Description() string {
	return "Creates a record (child ticket, task, change request) in the ITSM backend"
}

func (f *CreateRecordFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"record_type": map[string]any{
				"type":        "string",
				"description": "Type of the record to create",
				"minLength":   1,
			},
			"data": map[string]any{
				"type":        "object",
				"description": "Record content. String values support templating",
			},
			"link_parent": map[string]any{
				"type":        "boolean",
				"description": "Attach the triggering record as parent of the new record",
				"default":     false,
			},
		},
		"required": []string{"record_type", "data"},
	}
}

// CreateRecord creates a record.
type CreateRecord struct {
	client     *Client
	recordType string
	data       map[string]any
	linkParent bool
}

func (s *CreateRecord) Execute(ctx context.Context, input protocol.StepInput, logger *slog.Logger) (protocol.StepOutput, error) {
	rendered, err := template.RenderValue(s.data, input.Data())
	if err != nil {
		return protocol.StepOutput{}, backoff.Permanent(fmt.Errorf("failed to render data: %w", err))
	}

	data, _ := rendered.(map[string]any)
	if data == nil {
		data = map[string]any{}
	}

	if s.linkParent && input.TriggerRecordID != "" {
		data["parent"] = map[string]any{"type": input.TriggerRecordType, "id": input.TriggerRecordID}
	}

	logger.InfoContext(ctx, "Creating record", "record_type", s.recordType)

	response, err := s.client.CreateRecord(ctx, input.IdempotencyKey, s.recordType, data)
	if err != nil {
		return protocol.StepOutput{}, err
	}

	return protocol.StepOutput{Result: map[string]any{
		"status":      "record_created",
		"record_type": s.recordType,
		"record":      response["body"],
	}}, nil
}
