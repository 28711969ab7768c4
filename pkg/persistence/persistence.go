// Package persistence provides the storage abstraction for workflow
// definitions, instances, approvals and audit events.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/flowgate/pkg/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	InstanceRepository() InstanceRepository
	ApprovalRepository() ApprovalRepository
	AuditRepository() AuditRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowFilter narrows WorkflowRepository.List.
type WorkflowFilter struct {
	ActiveOnly  bool
	TriggerType models.TriggerType
}

// WorkflowRepository stores workflow definitions. Deleted definitions are
// kept (soft delete) because instances reference them.
type WorkflowRepository interface {
	List(ctx context.Context, filter WorkflowFilter) ([]*models.WorkflowDefinition, error)
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	Delete(ctx context.Context, id string) error
}

// InstanceFilter narrows and paginates InstanceRepository.List. Page is 1-based.
type InstanceFilter struct {
	Statuses   []models.InstanceStatus
	WorkflowID string
	Page       int
	PageSize   int
}

// Normalize applies the pagination defaults and bounds.
func (f InstanceFilter) Normalize() InstanceFilter {
	if f.Page < 1 {
		f.Page = 1
	}

	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}

	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}

	return f
}

// Offset is the number of rows skipped by the page.
func (f InstanceFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// InstancePage is one page of instances, newest first.
type InstancePage struct {
	Instances   []*models.WorkflowInstance `json:"instances"`
	TotalCount  int                        `json:"total_count"`
	Page        int                        `json:"page"`
	PageSize    int                        `json:"page_size"`
	HasNextPage bool                       `json:"has_next_page"`
}

// InstanceRepository stores workflow instances with optimistic versioning.
type InstanceRepository interface {
	// Create stores a new instance with version 1. It fails with
	// ErrDuplicateInstance when the instance has a dedupe key that is
	// already taken.
	Create(ctx context.Context, instance *models.WorkflowInstance) error

	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)

	// Update replaces the stored instance if its version still equals
	// instance.Version, then increments instance.Version. A stale version
	// fails with ErrVersionConflict.
	Update(ctx context.Context, instance *models.WorkflowInstance) error

	List(ctx context.Context, filter InstanceFilter) (*InstancePage, error)

	// ListActive returns every non-terminal instance.
	ListActive(ctx context.Context) ([]*models.WorkflowInstance, error)
}

// ApprovalDecision is the compare-and-set payload of ApprovalRepository.Decide.
type ApprovalDecision struct {
	Status    models.ApprovalStatus
	DecidedBy string
	Comments  string
	DecidedAt time.Time
}

// ApprovalRepository stores approvals. Approvals are never deleted.
type ApprovalRepository interface {
	// CreateIfAbsent stores the approval unless one with the same id exists.
	// It returns the stored approval and whether it was created.
	CreateIfAbsent(ctx context.Context, approval *models.Approval) (*models.Approval, bool, error)

	GetByID(ctx context.Context, id string) (*models.Approval, error)
	ListByInstance(ctx context.Context, instanceID string) ([]*models.Approval, error)
	ListPending(ctx context.Context) ([]*models.Approval, error)

	// Decide moves a PENDING approval to the decision status. It fails with
	// ErrApprovalAlreadyDecided when the approval is no longer pending.
	Decide(ctx context.Context, id string, decision ApprovalDecision) (*models.Approval, error)
}

// AuditRepository is the append-only audit trail.
type AuditRepository interface {
	Append(ctx context.Context, event *models.AuditEvent) error
	ListByInstance(ctx context.Context, instanceID string) ([]*models.AuditEvent, error)
}
