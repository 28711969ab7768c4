package mocks

import (
	"context"
	"log/slog"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockStepExecutor is a mock implementation of protocol.StepExecutor interface.
type MockStepExecutor struct {
	mock.Mock
}

func (m *MockStepExecutor) Execute(ctx context.Context, input protocol.StepInput, logger *slog.Logger) (protocol.StepOutput, error) {
	args := m.Called(ctx, input)

	return args.Get(0).(protocol.StepOutput), args.Error(1)
}

// MockExecutorFactory is a mock implementation of protocol.ExecutorFactory interface.
type MockExecutorFactory struct {
	mock.Mock
}

//nolint:ireturn
func (m *MockExecutorFactory) Create(ctx context.Context, config map[string]any) (protocol.StepExecutor, error) {
	args := m.Called(ctx, config)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(protocol.StepExecutor), args.Error(1)
}

func (m *MockExecutorFactory) StepType() models.StepType {
	args := m.Called()

	return args.Get(0).(models.StepType)
}

func (m *MockExecutorFactory) Name() string {
	args := m.Called()

	return args.String(0)
}

func (m *MockExecutorFactory) Description() string {
	args := m.Called()

	return args.String(0)
}

func (m *MockExecutorFactory) Schema() map[string]any {
	args := m.Called()

	return args.Get(0).(map[string]any)
}
