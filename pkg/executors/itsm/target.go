package itsm

import (
	"errors"
	"fmt"

	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/dukex/flowgate/pkg/template"
)

var (
	recordTypeSchema = map[string]any{
		"type":        "string",
		"description": "Record type to act on. Defaults to the record that triggered the workflow",
	}
	recordIDSchema = map[string]any{
		"type":        "string",
		"description": "Record id to act on. Supports templating. Defaults to the triggering record",
	}
)

// target is an optional override of the record a step acts on.
type target struct {
	recordType string
	recordID   string
}

func targetFrom(config map[string]any) target {
	recordType, _ := config["record_type"].(string)
	recordID, _ := config["record_id"].(string)

	return target{recordType: recordType, recordID: recordID}
}

func (t target) resolve(input protocol.StepInput, data map[string]any) (string, string, error) {
	recordType := input.TriggerRecordType
	recordID := input.TriggerRecordID

	if t.recordType != "" {
		rendered, err := template.RenderString(t.recordType, data)
		if err != nil {
			return "", "", fmt.Errorf("failed to render record_type: %w", err)
		}

		recordType = rendered
	}

	if t.recordID != "" {
		rendered, err := template.RenderString(t.recordID, data)
		if err != nil {
			return "", "", fmt.Errorf("failed to render record_id: %w", err)
		}

		recordID = rendered
	}

	if recordType == "" || recordID == "" {
		return "", "", errors.New("no target record: the trigger has no record and none is configured")
	}

	return recordType, recordID, nil
}
