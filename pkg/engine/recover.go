package engine

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowgate/pkg/models"
)

const reconcileInterval = 100 * time.Millisecond

// Recover rebuilds the runtime state from the store alone: it starts PENDING
// instances, applies approvals decided before a crash, recreates missing
// approval records, re-dispatches RUNNING executor steps and closes
// approvals left pending on terminal instances.
func (e *Engine) Recover(ctx context.Context) error {
	active, err := e.store.InstanceRepository().ListActive(ctx)
	if err != nil {
		return err
	}

	for _, instance := range active {
		_, err := e.apply(ctx, instance.ID, e.recoverInstance(ctx))
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to recover instance", "instance_id", instance.ID, "error", err)
		}
	}

	pending, err := e.store.ApprovalRepository().ListPending(ctx)
	if err != nil {
		return err
	}

	closed := make(map[string]bool)

	for _, approval := range pending {
		if closed[approval.WorkflowInstanceID] {
			continue
		}

		err := e.withLock(ctx, approval.WorkflowInstanceID, func(ctx context.Context) error {
			instance, err := e.store.InstanceRepository().GetByID(ctx, approval.WorkflowInstanceID)
			if err != nil {
				return err
			}

			if !instance.Status.Terminal() {
				return nil
			}

			closed[instance.ID] = true
			entries := e.closeApprovals(ctx, instance.ID, models.SystemActor, "instance "+strings.ToLower(string(instance.Status)))
			e.recordAudit(ctx, instance, entries)

			return nil
		})
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to close orphan approval", "approval_id", approval.ID, "error", err)
		}
	}

	e.logger.InfoContext(ctx, "Recovery finished", "active_instances", len(active))

	return nil
}

// reconcile re-applies the persisted state of an instance in the background
// until it succeeds or the engine stops. It is used when a committed
// decision could not be applied to its instance.
func (e *Engine) reconcile(instanceID string) {
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		ctx := e.baseCtx

		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = reconcileInterval
		policy.MaxInterval = defaultRetryMaxInterval
		policy.MaxElapsedTime = 0

		err := backoff.RetryNotify(func() error {
			_, err := e.apply(ctx, instanceID, e.recoverInstance(ctx))

			return err
		}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
			e.logger.WarnContext(ctx, "Instance reconcile failed, retrying", "instance_id", instanceID, "retry_in", wait, "error", err)
		})
		if err != nil {
			e.logger.ErrorContext(ctx, "Instance reconcile abandoned", "instance_id", instanceID, "error", err)

			return
		}

		e.logger.InfoContext(ctx, "Instance reconciled", "instance_id", instanceID)
	}()
}

func (e *Engine) recoverInstance(ctx context.Context) transition {
	return func(instance *models.WorkflowInstance, fx *effects) error {
		if instance.Status.Terminal() {
			return nil
		}

		if instance.Status == models.InstanceStatusPending {
			return e.start(instance, fx)
		}

		approvals, err := e.store.ApprovalRepository().ListByInstance(ctx, instance.ID)
		if err != nil {
			return err
		}

		byStep := make(map[string]*models.Approval, len(approvals))
		for _, approval := range approvals {
			byStep[approval.StepID] = approval
		}

		for _, execution := range instance.StepHistory {
			if execution.Status != models.StepStatusRunning || execution.StepType != models.StepTypeApproval {
				continue
			}

			approval, ok := byStep[execution.StepID]
			if !ok {
				step, _ := models.FindStep(instance.Steps, execution.StepID)
				fx.open = append(fx.open, newApproval(instance, step, execution.StartedAt))

				continue
			}

			if !approval.Pending() {
				err := e.decided(approval)(instance, fx)
				if err != nil {
					return err
				}
			}
		}

		e.progress(instance, fx)

		if instance.Status.Terminal() {
			return nil
		}

		for _, execution := range instance.StepHistory {
			if execution.Status != models.StepStatusRunning || execution.StepType == models.StepTypeApproval {
				continue
			}

			if !e.running(instance.ID, execution.StepID) && !slices.Contains(fx.dispatch, execution.StepID) {
				fx.dispatch = append(fx.dispatch, execution.StepID)
			}
		}

		return nil
	}
}
