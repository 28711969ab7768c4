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

// FieldUpdateFactory creates FIELD_UPDATE executors.
type FieldUpdateFactory struct {
	client *Client
}

func NewFieldUpdateFactory(client *Client) *FieldUpdateFactory {
	return &FieldUpdateFactory{client: client}
}

func (f *FieldUpdateFactory) Create(_ context.Context, config map[string]any) (protocol.StepExecutor, error) {
	updates, ok := config["updates"].(map[string]any)
	if !ok || len(updates) == 0 {
		return nil, errors.New("missing required field 'updates'")
	}

	return &FieldUpdate{client: f.client, target: targetFrom(config), updates: updates}, nil
}

func (f *FieldUpdateFactory) StepType() models.StepType { return models.StepTypeFieldUpdate }

func (f *FieldUpdateFactory) Name() string { return "Field update" }

func (f *FieldUpdateFactory) Description() string {
	return "Merges field values into the triggering record (or another record) through the ITSM API"
}

func (f *FieldUpdateFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"updates": map[string]any{
				"type":          "object",
				"description":   "Fields to set. String values support templating, e.g. {{ .steps.lookup.body.owner }}",
				"minProperties": 1,
			},
			"record_type": recordTypeSchema,
			"record_id":   recordIDSchema,
		},
		"required": []string{"updates"},
	}
}

// FieldUpdate merges fields into a record.
type FieldUpdate struct {
	client  *Client
	target  target
	updates map[string]any
}

func (s *FieldUpdate) Execute(ctx context.Context, input protocol.StepInput, logger *slog.Logger) (protocol.StepOutput, error) {
	data := input.Data()

	recordType, recordID, err := s.target.resolve(input, data)
	if err != nil {
		return protocol.StepOutput{}, backoff.Permanent(err)
	}

	rendered, err := template.RenderValue(s.updates, data)
	if err != nil {
		return protocol.StepOutput{}, backoff.Permanent(fmt.Errorf("failed to render updates: %w", err))
	}

	updates, _ := rendered.(map[string]any)

	logger.InfoContext(ctx, "Updating record fields", "record_type", recordType, "record_id", recordID, "fields", len(updates))

	response, err := s.client.UpdateRecord(ctx, input.IdempotencyKey, recordType, recordID, updates)
	if err != nil {
		return protocol.StepOutput{}, err
	}

	return protocol.StepOutput{Result: map[string]any{
		"status":      "fields_updated",
		"record_type": recordType,
		"record_id":   recordID,
		"updates":     updates,
		"response":    response,
	}}, nil
}
