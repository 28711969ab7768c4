package web

import (
	"testing"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestWorkflowRequest_Validation(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	steps := []*models.Step{{StepID: "a", Name: "A", StepType: models.StepTypeAction}}

	tests := []struct {
		name    string
		request WorkflowRequest
		field   string
	}{
		{
			name:    "valid",
			request: WorkflowRequest{Name: "Valid workflow", TriggerType: "MANUAL", Steps: steps},
		},
		{
			name:    "name too short",
			request: WorkflowRequest{Name: "ab", TriggerType: "MANUAL", Steps: steps},
			field:   "Name",
		},
		{
			name:    "trigger type missing",
			request: WorkflowRequest{Name: "Valid workflow", Steps: steps},
			field:   "TriggerType",
		},
		{
			name:    "steps missing",
			request: WorkflowRequest{Name: "Valid workflow", TriggerType: "MANUAL"},
			field:   "Steps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(tt.request)
			if tt.field == "" {
				assert.NoError(t, err)

				return
			}

			assert.ErrorContains(t, err, tt.field)
		})
	}
}

func TestWorkflowRequest_Definition(t *testing.T) {
	inactive := false

	request := WorkflowRequest{
		Name:             "Nightly audit",
		TriggerType:      "SCHEDULED",
		Schedule:         "0 2 * * *",
		TriggerCondition: "true",
		Steps:            []*models.Step{{StepID: "a", Name: "A", StepType: models.StepTypeAction}},
	}

	definition := request.Definition()
	assert.True(t, definition.IsActive)
	assert.Equal(t, models.TriggerScheduled, definition.TriggerType)
	assert.Equal(t, "0 2 * * *", definition.Schedule)
	assert.Empty(t, definition.ID)

	request.IsActive = &inactive
	assert.False(t, request.Definition().IsActive)
}
