package engine

import (
	"context"
	"fmt"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

// Decide records a decision on a pending approval and resumes its instance.
// The first decision wins: later ones fail with ErrApprovalAlreadyDecided and
// change nothing.
func (e *Engine) Decide(
	ctx context.Context,
	approvalID string,
	decision models.Decision,
	actorID string,
	comments string,
) (*models.Approval, error) {
	if decision != models.DecisionApprove && decision != models.DecisionReject {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	approvals := e.store.ApprovalRepository()

	approval, err := approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	var (
		decided  *models.Approval
		deferred bool
	)

	err = e.withLock(ctx, approval.WorkflowInstanceID, func(ctx context.Context) error {
		approval, err := approvals.GetByID(ctx, approvalID)
		if err != nil {
			return err
		}

		if !approval.Pending() {
			return persistence.NewApprovalError("Decide", approvalID, persistence.ErrApprovalAlreadyDecided)
		}

		actor, err := e.directory.Resolve(ctx, actorID)
		if err != nil {
			return fmt.Errorf("failed to resolve actor %s: %w", actorID, err)
		}

		if actorID == "" || !actor.Satisfies(approval.ApproverType, approval.ApproverRef) {
			return fmt.Errorf("%w: %s does not match %s %s", ErrUnauthorized, actorID, approval.ApproverType, approval.ApproverRef)
		}

		instance, err := e.store.InstanceRepository().GetByID(ctx, approval.WorkflowInstanceID)
		if err != nil {
			return err
		}

		if instance.Status.Terminal() {
			return terminalError(instance)
		}

		decided, err = approvals.Decide(ctx, approvalID, persistence.ApprovalDecision{
			Status:    decision.Status(),
			DecidedBy: actorID,
			Comments:  comments,
			DecidedAt: e.now().UTC(),
		})
		if err != nil {
			return err
		}

		_, err = e.applyLocked(ctx, approval.WorkflowInstanceID, e.decided(decided))
		if err != nil {
			e.logger.WarnContext(ctx, "Decision recorded, instance update deferred",
				"approval_id", approvalID,
				"instance_id", approval.WorkflowInstanceID,
				"error", err,
			)

			deferred = true
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if deferred {
		e.reconcile(decided.WorkflowInstanceID)
	}

	e.logger.InfoContext(ctx, "Approval decided",
		"approval_id", decided.ID,
		"instance_id", decided.WorkflowInstanceID,
		"status", decided.Status,
		"decided_by", decided.DecidedBy,
	)

	return decided, nil
}

// PendingFor lists the pending approvals an actor may decide, joined with
// the display data of their instance. An empty actor id lists every pending
// approval.
func (e *Engine) PendingFor(ctx context.Context, actorID string) ([]*models.ApprovalWithContext, error) {
	pending, err := e.store.ApprovalRepository().ListPending(ctx)
	if err != nil {
		return nil, err
	}

	var actor models.Actor

	if actorID != "" {
		actor, err = e.directory.Resolve(ctx, actorID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve actor %s: %w", actorID, err)
		}
	}

	instances := make(map[string]*models.WorkflowInstance)
	inbox := make([]*models.ApprovalWithContext, 0, len(pending))

	for _, approval := range pending {
		if actorID != "" && !actor.Satisfies(approval.ApproverType, approval.ApproverRef) {
			continue
		}

		instance, ok := instances[approval.WorkflowInstanceID]
		if !ok {
			instance, err = e.store.InstanceRepository().GetByID(ctx, approval.WorkflowInstanceID)
			if err != nil {
				if persistence.IsInstanceNotFound(err) {
					continue
				}

				return nil, err
			}

			instances[approval.WorkflowInstanceID] = instance
		}

		if instance.Status.Terminal() {
			continue
		}

		item := &models.ApprovalWithContext{
			Approval:          *approval,
			WorkflowName:      instance.WorkflowName,
			TriggerRecordType: instance.TriggerRecordType,
			TriggerRecordID:   instance.TriggerRecordID,
		}

		if step, ok := models.FindStep(instance.Steps, approval.StepID); ok {
			item.StepName = step.Name
		}

		inbox = append(inbox, item)
	}

	return inbox, nil
}
