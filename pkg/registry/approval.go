package registry

import (
	"fmt"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ApprovalSchema is the configuration schema of APPROVAL steps.
func ApprovalSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"approver_type": map[string]any{
				"type":        "string",
				"description": "How approver_ref is matched against the deciding actor",
				"enum":        []string{string(models.ApproverUser), string(models.ApproverRole), string(models.ApproverGroup)},
			},
			"approver_ref": map[string]any{
				"type":        "string",
				"description": "User id, role name or group name allowed to decide",
				"minLength":   1,
			},
			"instructions": map[string]any{
				"type":        "string",
				"description": "Text shown to the approver",
			},
		},
		"required": []string{"approver_type", "approver_ref"},
	}
}

var approvalSchema = func() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(ApprovalSchema()))
	if err != nil {
		panic(fmt.Errorf("invalid approval schema: %w", err))
	}

	return schema
}()

// ApprovalConfig is the decoded configuration of an APPROVAL step.
type ApprovalConfig struct {
	ApproverType models.ApproverType
	ApproverRef  string
	Instructions string
}

// ApprovalConfigOf decodes the configuration of an APPROVAL step.
func ApprovalConfigOf(step *models.Step) (ApprovalConfig, error) {
	approverType, _ := step.Config["approver_type"].(string)
	approverRef, _ := step.Config["approver_ref"].(string)
	instructions, _ := step.Config["instructions"].(string)

	config := ApprovalConfig{
		ApproverType: models.ApproverType(approverType),
		ApproverRef:  approverRef,
		Instructions: instructions,
	}

	if !config.ApproverType.Valid() || config.ApproverRef == "" {
		return config, &ConfigError{
			StepID:   step.StepID,
			StepType: step.StepType,
			Details:  []string{"approver_type and approver_ref are required"},
		}
	}

	return config, nil
}
