package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/flowgate/pkg/audit"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

const maxConflictRetries = 3

// effects are the side effects of a transition. They run only after the
// instance update committed, in the order: approvals, executor signals,
// audit, watchers, dispatch.
type effects struct {
	entries  []audit.Entry
	dispatch []string
	open     []*models.Approval

	closeApprovals bool
	closeActor     string
	closeComment   string
	stopInflight   bool
}

func (fx *effects) record(entry audit.Entry) {
	fx.entries = append(fx.entries, entry)
}

type transition func(instance *models.WorkflowInstance, fx *effects) error

// withLock runs fn while holding the instance lock.
func (e *Engine) withLock(ctx context.Context, instanceID string, fn func(ctx context.Context) error) error {
	release, err := e.locker.Lock(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("failed to lock instance %s: %w", instanceID, err)
	}
	defer release()

	return fn(ctx)
}

// apply locks the instance and runs one transition.
func (e *Engine) apply(ctx context.Context, instanceID string, fn transition) (*models.WorkflowInstance, error) {
	var instance *models.WorkflowInstance

	err := e.withLock(ctx, instanceID, func(ctx context.Context) error {
		var err error

		instance, err = e.applyLocked(ctx, instanceID, fn)

		return err
	})

	return instance, err
}

// applyLocked re-reads the instance, computes the transition on a copy and
// commits it with a compare-and-set on the version. The lock makes conflicts
// rare; they only happen when another process wrote without it.
func (e *Engine) applyLocked(ctx context.Context, instanceID string, fn transition) (*models.WorkflowInstance, error) {
	instances := e.store.InstanceRepository()

	for range maxConflictRetries {
		current, err := instances.GetByID(ctx, instanceID)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		fx := &effects{}

		err = fn(next, fx)
		if err != nil {
			return nil, err
		}

		if unchanged(current, next) {
			e.afterCommit(ctx, current, fx)

			return current, nil
		}

		next.UpdatedAt = e.now().UTC()

		err = instances.Update(ctx, next)
		if errors.Is(err, persistence.ErrVersionConflict) {
			e.logger.WarnContext(ctx, "Instance changed concurrently, retrying transition", "instance_id", instanceID)

			continue
		}

		if err != nil {
			return nil, err
		}

		e.afterCommit(ctx, next, fx)

		return next, nil
	}

	return nil, persistence.NewInstanceError("apply", instanceID, persistence.ErrVersionConflict)
}

func unchanged(current, next *models.WorkflowInstance) bool {
	a, errA := json.Marshal(current)
	b, errB := json.Marshal(next)

	return errA == nil && errB == nil && bytes.Equal(a, b)
}

func (e *Engine) afterCommit(ctx context.Context, instance *models.WorkflowInstance, fx *effects) {
	logger := e.logger.With("instance_id", instance.ID, "workflow_id", instance.WorkflowID)
	approvals := e.store.ApprovalRepository()

	for _, approval := range fx.open {
		_, created, err := approvals.CreateIfAbsent(ctx, approval)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to create approval, it will be recreated on recovery",
				"step_id", approval.StepID, "error", err)

			continue
		}

		if created {
			logger.InfoContext(ctx, "Approval requested",
				"step_id", approval.StepID,
				"approver_type", approval.ApproverType,
				"approver_ref", approval.ApproverRef,
			)
		}
	}

	if fx.closeApprovals {
		fx.entries = append(fx.entries, e.closeApprovals(ctx, instance.ID, fx.closeActor, fx.closeComment)...)
	}

	if fx.stopInflight {
		e.signalInflight(instance.ID, stopCause(instance.Status))
	}

	e.recordAudit(ctx, instance, fx.entries)

	if len(fx.entries) > 0 {
		e.hub.Notify(instance.ID)
	}

	for _, stepID := range fx.dispatch {
		e.dispatch(instance, stepID)
	}
}

func (e *Engine) recordAudit(ctx context.Context, instance *models.WorkflowInstance, entries []audit.Entry) {
	if len(entries) == 0 {
		return
	}

	now := e.now()
	auditEvents := make([]*models.AuditEvent, 0, len(entries))

	for _, entry := range entries {
		event, err := audit.NewEvent(instance, entry, now)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to build audit event", "instance_id", instance.ID, "error", err)

			continue
		}

		auditEvents = append(auditEvents, event)
	}

	err := e.recorder.Record(ctx, instance.Status, auditEvents...)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to record audit events", "instance_id", instance.ID, "error", err)
	}
}

// closeApprovals rejects every pending approval of an instance on behalf of
// actor. Approvals decided concurrently keep their decision.
func (e *Engine) closeApprovals(ctx context.Context, instanceID, actor, comment string) []audit.Entry {
	approvals := e.store.ApprovalRepository()

	pending, err := approvals.ListByInstance(ctx, instanceID)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to list approvals to close", "instance_id", instanceID, "error", err)

		return nil
	}

	var entries []audit.Entry

	for _, approval := range pending {
		if !approval.Pending() {
			continue
		}

		closed, err := approvals.Decide(ctx, approval.ID, persistence.ApprovalDecision{
			Status:    models.ApprovalRejected,
			DecidedBy: actor,
			Comments:  comment,
			DecidedAt: e.now().UTC(),
		})
		if err != nil {
			if !persistence.IsApprovalAlreadyDecided(err) {
				e.logger.ErrorContext(ctx, "Failed to close approval", "approval_id", approval.ID, "error", err)
			}

			continue
		}

		entries = append(entries, audit.Entry{
			Type:       models.AuditApprovalDecided,
			StepID:     closed.StepID,
			ApprovalID: closed.ID,
			Actor:      actor,
			Details:    map[string]any{"status": closed.Status, "comments": comment},
		})
	}

	return entries
}
