package mocks

import (
	"context"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Workflows *MockWorkflowRepository
	Instances *MockInstanceRepository
	Approvals *MockApprovalRepository
	Audit     *MockAuditRepository
}

// NewMockPersistence returns a MockPersistence with fresh repository mocks.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Workflows: &MockWorkflowRepository{},
		Instances: &MockInstanceRepository{},
		Approvals: &MockApprovalRepository{},
		Audit:     &MockAuditRepository{},
	}
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository { return m.Workflows }

func (m *MockPersistence) InstanceRepository() persistence.InstanceRepository { return m.Instances }

func (m *MockPersistence) ApprovalRepository() persistence.ApprovalRepository { return m.Approvals }

func (m *MockPersistence) AuditRepository() persistence.AuditRepository { return m.Audit }

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) List(ctx context.Context, filter persistence.WorkflowFilter) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	args := m.Called(ctx, definition)

	return args.Error(0)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockInstanceRepository is a mock implementation of persistence.InstanceRepository interface.
type MockInstanceRepository struct {
	mock.Mock
}

func (m *MockInstanceRepository) Create(ctx context.Context, instance *models.WorkflowInstance) error {
	args := m.Called(ctx, instance)

	return args.Error(0)
}

func (m *MockInstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowInstance), args.Error(1)
}

func (m *MockInstanceRepository) Update(ctx context.Context, instance *models.WorkflowInstance) error {
	args := m.Called(ctx, instance)

	return args.Error(0)
}

func (m *MockInstanceRepository) List(ctx context.Context, filter persistence.InstanceFilter) (*persistence.InstancePage, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.InstancePage), args.Error(1)
}

func (m *MockInstanceRepository) ListActive(ctx context.Context) ([]*models.WorkflowInstance, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowInstance), args.Error(1)
}

// MockApprovalRepository is a mock implementation of persistence.ApprovalRepository interface.
type MockApprovalRepository struct {
	mock.Mock
}

func (m *MockApprovalRepository) CreateIfAbsent(ctx context.Context, approval *models.Approval) (*models.Approval, bool, error) {
	args := m.Called(ctx, approval)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}

	return args.Get(0).(*models.Approval), args.Bool(1), args.Error(2)
}

func (m *MockApprovalRepository) GetByID(ctx context.Context, id string) (*models.Approval, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Approval), args.Error(1)
}

func (m *MockApprovalRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.Approval, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Approval), args.Error(1)
}

func (m *MockApprovalRepository) ListPending(ctx context.Context) ([]*models.Approval, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Approval), args.Error(1)
}

func (m *MockApprovalRepository) Decide(ctx context.Context, id string, decision persistence.ApprovalDecision) (*models.Approval, error) {
	args := m.Called(ctx, id, decision)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Approval), args.Error(1)
}

// MockAuditRepository is a mock implementation of persistence.AuditRepository interface.
type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) Append(ctx context.Context, event *models.AuditEvent) error {
	args := m.Called(ctx, event)

	return args.Error(0)
}

func (m *MockAuditRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.AuditEvent, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.AuditEvent), args.Error(1)
}
