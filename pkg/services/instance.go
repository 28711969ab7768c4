package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/trigger"
	"github.com/dukex/flowgate/pkg/watch"
)

const (
	DefaultWatchTimeout = 30 * time.Second
	MaxWatchTimeout     = 2 * time.Minute
)

// Runner is the part of the engine the instance service drives.
type Runner interface {
	CreateInstance(ctx context.Context, request *models.InstanceCreationRequest) (*models.WorkflowInstance, error)
	Cancel(ctx context.Context, instanceID, actorID, reason string) (*models.WorkflowInstance, error)
	Hub() *watch.Hub
}

type Instance struct {
	persistence persistence.Persistence
	runner      Runner
	listener    *trigger.Listener
}

// NewInstance creates a new instance service.
func NewInstance(persistence persistence.Persistence, runner Runner, listener *trigger.Listener) *Instance {
	return &Instance{
		persistence: persistence,
		runner:      runner,
		listener:    listener,
	}
}

// ListInstancesRequest contains options for listing instances.
type ListInstancesRequest struct {
	Statuses   []string
	WorkflowID string
	Page       int
	PageSize   int
}

// InstanceDetail is an instance with its open approvals.
type InstanceDetail struct {
	*models.WorkflowInstance

	PendingApprovals []*models.Approval `json:"pending_approvals"`
}

// ListInstances retrieves one page of instances, newest first.
func (s *Instance) ListInstances(ctx context.Context, req ListInstancesRequest) (*persistence.InstancePage, error) {
	statuses := make([]models.InstanceStatus, 0, len(req.Statuses))

	for _, raw := range req.Statuses {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}

			status := models.InstanceStatus(part)
			if !status.Valid() {
				return nil, NewValidationError(
					"ListInstances",
					"INVALID_STATUS",
					fmt.Sprintf("invalid status '%s'", part),
					ErrInvalidStatus,
				)
			}

			statuses = append(statuses, status)
		}
	}

	if req.Page < 0 || req.PageSize < 0 {
		return nil, NewValidationError("ListInstances", "INVALID_PAGE", "page and page_size must be positive", ErrInvalidRequest)
	}

	page, err := s.persistence.InstanceRepository().List(ctx, persistence.InstanceFilter{
		Statuses:   statuses,
		WorkflowID: req.WorkflowID,
		Page:       req.Page,
		PageSize:   req.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	return page, nil
}

// FetchByID retrieves an instance with its pending approvals.
func (s *Instance) FetchByID(ctx context.Context, id string) (*InstanceDetail, error) {
	instance, err := s.persistence.InstanceRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	approvals, err := s.persistence.ApprovalRepository().ListByInstance(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}

	pending := make([]*models.Approval, 0, len(approvals))

	for _, approval := range approvals {
		if approval.Pending() {
			pending = append(pending, approval)
		}
	}

	return &InstanceDetail{WorkflowInstance: instance, PendingApprovals: pending}, nil
}

// Trigger starts an instance of a workflow on operator request.
func (s *Instance) Trigger(ctx context.Context, manual trigger.ManualRequest) (*models.WorkflowInstance, error) {
	request, err := s.listener.Manual(ctx, manual)
	if err != nil {
		return nil, err
	}

	return s.runner.CreateInstance(ctx, request)
}

// Cancel cancels a live instance.
func (s *Instance) Cancel(ctx context.Context, id, actor, reason string) (*models.WorkflowInstance, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, NewValidationError("Cancel", "ACTOR_REQUIRED", "", ErrActorRequired)
	}

	return s.runner.Cancel(ctx, id, actor, reason)
}

// Audit returns the audit trail of an instance in order.
func (s *Instance) Audit(ctx context.Context, id string) ([]*models.AuditEvent, error) {
	_, err := s.persistence.InstanceRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.persistence.AuditRepository().ListByInstance(ctx, id)
}

// Watch blocks until the instance version differs from version, the
// instance is terminal, the timeout expires or ctx is done, then returns the
// current instance. changed reports whether the version moved.
func (s *Instance) Watch(ctx context.Context, id string, version int, timeout time.Duration) (*models.WorkflowInstance, bool, error) {
	if timeout <= 0 {
		timeout = DefaultWatchTimeout
	}

	timeout = min(timeout, MaxWatchTimeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		// subscribe before reading so a change in between is not missed
		changed := s.runner.Hub().Changed(id)

		instance, err := s.persistence.InstanceRepository().GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}

		if instance.Version != version {
			return instance, true, nil
		}

		if instance.Status.Terminal() {
			return instance, false, nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return instance, false, nil
		case <-ctx.Done():
			return instance, false, nil
		}
	}
}
