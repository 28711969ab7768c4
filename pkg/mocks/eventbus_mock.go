package mocks

import (
	"context"

	"github.com/dukex/flowgate/pkg/eventbus"
	"github.com/dukex/flowgate/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockEventBus is a mock implementation of eventbus.EventBus interface.
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) PublishDomainEvent(ctx context.Context, event *events.DomainEvent) error {
	args := m.Called(ctx, event)

	return args.Error(0)
}

func (m *MockEventBus) PublishWorkflowEvent(ctx context.Context, event *events.WorkflowEvent) error {
	args := m.Called(ctx, event)

	return args.Error(0)
}

func (m *MockEventBus) HandleDomainEvents(ctx context.Context, handler eventbus.DomainEventHandler) error {
	args := m.Called(ctx, handler)

	return args.Error(0)
}

func (m *MockEventBus) HandleWorkflowEvents(ctx context.Context, handler eventbus.WorkflowEventHandler) error {
	args := m.Called(ctx, handler)

	return args.Error(0)
}

func (m *MockEventBus) Close() error {
	args := m.Called()

	return args.Error(0)
}

func (m *MockEventBus) GenerateID() string {
	args := m.Called()

	return args.String(0)
}
