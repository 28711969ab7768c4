package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/flowgate/pkg/mocks"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func mockFactory(stepType models.StepType, schema map[string]any) *mocks.MockExecutorFactory {
	factory := &mocks.MockExecutorFactory{}
	factory.On("StepType").Return(stepType)
	factory.On("Name").Return(string(stepType))
	factory.On("Schema").Return(schema)

	return factory
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	r := NewRegistry(slog.Default())

	executor := &mocks.MockStepExecutor{}
	factory := mockFactory(models.StepTypeAction, map[string]any{"type": "object"})
	factory.On("Create", mock.Anything, map[string]any{"action": "close"}).Return(executor, nil)

	require.NoError(t, r.Register(factory))

	created, err := r.Create(context.Background(), models.StepTypeAction, map[string]any{"action": "close"})
	require.NoError(t, err)
	assert.Same(t, executor, created)

	_, err = r.Create(context.Background(), models.StepTypeDelay, nil)
	require.ErrorIs(t, err, ErrExecutorNotRegistered)

	factory.AssertExpectations(t)
}

func TestRegistry_RegisterRejectsApproval(t *testing.T) {
	r := NewRegistry(slog.Default())

	factory := &mocks.MockExecutorFactory{}
	factory.On("StepType").Return(models.StepTypeApproval)

	require.Error(t, r.Register(factory))
}

func TestRegistry_RegisterRejectsInvalidSchema(t *testing.T) {
	r := NewRegistry(slog.Default())

	factory := mockFactory(models.StepTypeAction, map[string]any{"type": 12})

	require.Error(t, r.Register(factory))
}

func TestRegistry_ValidateConfig(t *testing.T) {
	r := NewRegistry(slog.Default())
	require.NoError(t, r.RegisterDefaults(Defaults{}))

	tests := []struct {
		name    string
		step    *models.Step
		wantErr error
	}{
		{
			name: "valid notification",
			step: &models.Step{StepID: "n", StepType: models.StepTypeNotification, Config: map[string]any{
				"recipients": []any{"a@example.com"},
				"message":    "hello",
			}},
		},
		{
			name: "notification without recipients",
			step: &models.Step{StepID: "n", StepType: models.StepTypeNotification, Config: map[string]any{
				"message": "hello",
			}},
			wantErr: ErrInvalidConfig,
		},
		{
			name: "nil config checked as empty object",
			step: &models.Step{StepID: "c", StepType: models.StepTypeCondition},
			wantErr: ErrInvalidConfig,
		},
		{
			name: "valid approval",
			step: &models.Step{StepID: "a", StepType: models.StepTypeApproval, Config: map[string]any{
				"approver_type": "ROLE",
				"approver_ref":  "cab",
			}},
		},
		{
			name: "approval with unknown approver type",
			step: &models.Step{StepID: "a", StepType: models.StepTypeApproval, Config: map[string]any{
				"approver_type": "TEAM",
				"approver_ref":  "cab",
			}},
			wantErr: ErrInvalidConfig,
		},
		{
			name: "delay by minutes",
			step: &models.Step{StepID: "d", StepType: models.StepTypeDelay, Config: map[string]any{
				"delay_minutes": float64(5),
			}},
		},
		{
			name: "http call without url",
			step: &models.Step{StepID: "h", StepType: models.StepTypeHTTPCall, Config: map[string]any{
				"method": "GET",
			}},
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateConfig(tt.step)
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, tt.wantErr)

			var configErr *ConfigError
			require.ErrorAs(t, err, &configErr)
			assert.Equal(t, tt.step.StepID, configErr.StepID)
			assert.NotEmpty(t, configErr.Details)
		})
	}
}

func TestRegistry_ValidateSteps_UnknownType(t *testing.T) {
	r := NewRegistry(slog.Default())

	err := r.ValidateSteps([]*models.Step{{StepID: "x", StepType: models.StepTypeAction}})
	require.ErrorIs(t, err, ErrExecutorNotRegistered)
}

func TestRegistry_Defaults(t *testing.T) {
	r := NewRegistry(slog.Default())
	require.NoError(t, r.RegisterDefaults(Defaults{}))

	factories := r.Factories()

	types := make([]models.StepType, 0, len(factories))
	for _, f := range factories {
		types = append(types, f.StepType())
	}

	assert.Equal(t, []models.StepType{
		models.StepTypeAction,
		models.StepTypeAssignment,
		models.StepTypeCondition,
		models.StepTypeCreateRecord,
		models.StepTypeDelay,
		models.StepTypeFieldUpdate,
		models.StepTypeHTTPCall,
		models.StepTypeNotification,
	}, types)

	message, ok := r.HealthCheck()
	assert.True(t, ok)
	assert.Equal(t, "8 step executors registered", message)

	_, ok = NewRegistry(slog.Default()).HealthCheck()
	assert.False(t, ok)
}

func TestApprovalConfigOf(t *testing.T) {
	config, err := ApprovalConfigOf(&models.Step{StepID: "a", StepType: models.StepTypeApproval, Config: map[string]any{
		"approver_type": "GROUP",
		"approver_ref":  "network-admins",
		"instructions":  "Check the change window",
	}})
	require.NoError(t, err)
	assert.Equal(t, models.ApproverGroup, config.ApproverType)
	assert.Equal(t, "network-admins", config.ApproverRef)

	_, err = ApprovalConfigOf(&models.Step{StepID: "a", StepType: models.StepTypeApproval})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

var _ protocol.ExecutorFactory = (*mocks.MockExecutorFactory)(nil)
