package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/flowgate/pkg/audit"
	"github.com/dukex/flowgate/pkg/graph"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/dukex/flowgate/pkg/registry"
)

// start moves a freshly created instance out of PENDING.
func (e *Engine) start(instance *models.WorkflowInstance, fx *effects) error {
	if instance.Status == models.InstanceStatusPending {
		instance.Status = models.InstanceStatusRunning
		fx.record(audit.Entry{Type: models.AuditInstanceStarted, Details: map[string]any{
			"workflow_version": instance.WorkflowVersion,
			"steps":            len(instance.Steps),
		}})
	}

	e.progress(instance, fx)

	return nil
}

// progress records skips, starts ready steps and settles the status, until
// the graph yields nothing new.
func (e *Engine) progress(instance *models.WorkflowInstance, fx *effects) {
	if instance.Status.Terminal() {
		return
	}

	for {
		resolution := graph.Resolve(instance.Steps, instance.StepHistory)
		progressed := false

		for _, skip := range resolution.Skip {
			step, _ := models.FindStep(instance.Steps, skip.StepID)
			now := e.now().UTC()

			instance.AppendExecution(&models.StepExecution{
				StepID:      step.StepID,
				StepName:    step.Name,
				StepType:    step.StepType,
				Status:      models.StepStatusSkipped,
				SkipReason:  skip.Reason,
				StartedAt:   now,
				CompletedAt: &now,
			})
			fx.record(audit.Entry{Type: models.AuditStepSkipped, StepID: step.StepID, Details: map[string]any{"reason": skip.Reason}})

			progressed = true
		}

		_, failed := graph.Failed(instance.Steps, instance.StepHistory)

		for _, stepID := range resolution.Ready {
			step, _ := models.FindStep(instance.Steps, stepID)

			if step.IsApproval() {
				if failed {
					continue
				}

				e.openApproval(instance, step, fx)
			} else {
				e.startStep(instance, step, fx)
			}

			progressed = true
		}

		if !progressed {
			break
		}
	}

	e.settle(instance, fx)
}

func (e *Engine) startStep(instance *models.WorkflowInstance, step *models.Step, fx *effects) {
	instance.AppendExecution(&models.StepExecution{
		StepID:    step.StepID,
		StepName:  step.Name,
		StepType:  step.StepType,
		Status:    models.StepStatusRunning,
		Attempts:  1,
		StartedAt: e.now().UTC(),
	})

	fx.record(audit.Entry{Type: models.AuditStepStarted, StepID: step.StepID, Details: map[string]any{"step_type": step.StepType}})
	fx.dispatch = append(fx.dispatch, step.StepID)
}

func (e *Engine) openApproval(instance *models.WorkflowInstance, step *models.Step, fx *effects) {
	now := e.now().UTC()

	instance.AppendExecution(&models.StepExecution{
		StepID:    step.StepID,
		StepName:  step.Name,
		StepType:  step.StepType,
		Status:    models.StepStatusRunning,
		StartedAt: now,
	})

	approval := newApproval(instance, step, now)

	fx.open = append(fx.open, approval)
	fx.record(audit.Entry{
		Type:       models.AuditApprovalRequested,
		StepID:     step.StepID,
		ApprovalID: approval.ID,
		Details: map[string]any{
			"approver_type": approval.ApproverType,
			"approver_ref":  approval.ApproverRef,
		},
	})
}

func newApproval(instance *models.WorkflowInstance, step *models.Step, requestedAt time.Time) *models.Approval {
	// the configuration was validated when the definition was saved
	config, _ := registry.ApprovalConfigOf(step)

	return &models.Approval{
		ID:                 models.ApprovalID(instance.ID, step.StepID),
		WorkflowInstanceID: instance.ID,
		WorkflowID:         instance.WorkflowID,
		StepID:             step.StepID,
		ApproverType:       config.ApproverType,
		ApproverRef:        config.ApproverRef,
		Status:             models.ApprovalPending,
		RequestedAt:        requestedAt,
	}
}

// settle derives the instance status from the step history.
func (e *Engine) settle(instance *models.WorkflowInstance, fx *effects) {
	if instance.Status.Terminal() {
		return
	}

	if failedExecution, failed := graph.Failed(instance.Steps, instance.StepHistory); failed {
		if !executorsRunning(instance) {
			e.finish(instance, models.InstanceStatusFailed, failedExecution.ErrorMessage, fx)

			return
		}
	} else if graph.Settled(instance.Steps, instance.StepHistory) {
		e.finish(instance, models.InstanceStatusCompleted, "", fx)

		return
	}

	instance.Status = models.InstanceStatusRunning
	instance.CurrentStepID = ""

	for _, execution := range instance.StepHistory {
		if execution.Status != models.StepStatusRunning {
			continue
		}

		if execution.StepType == models.StepTypeApproval {
			instance.Status = models.InstanceStatusWaitingApproval
			instance.CurrentStepID = execution.StepID

			return
		}

		if instance.CurrentStepID == "" {
			instance.CurrentStepID = execution.StepID
		}
	}
}

func executorsRunning(instance *models.WorkflowInstance) bool {
	for _, execution := range instance.StepHistory {
		if execution.Status == models.StepStatusRunning && execution.StepType != models.StepTypeApproval {
			return true
		}
	}

	return false
}

// finish enters a terminal state. Open approval steps are closed and the
// running executors are signalled; their results will arrive late.
func (e *Engine) finish(instance *models.WorkflowInstance, status models.InstanceStatus, message string, fx *effects) {
	now := e.now().UTC()

	instance.Status = status
	instance.CurrentStepID = ""
	instance.ErrorMessage = message

	if instance.CompletedAt == nil {
		instance.CompletedAt = &now
	}

	comment := "instance " + strings.ToLower(string(status))

	for _, execution := range instance.StepHistory {
		if execution.Status != models.StepStatusRunning || execution.StepType != models.StepTypeApproval {
			continue
		}

		execution.Status = models.StepStatusSkipped
		execution.SkipReason = models.SkipReasonApprovalRejected
		execution.ErrorMessage = comment
		execution.CompletedAt = &now
		instance.MoveToEnd(execution.StepID)

		fx.record(audit.Entry{Type: models.AuditStepSkipped, StepID: execution.StepID, Details: map[string]any{
			"reason": models.SkipReasonApprovalRejected,
			"cause":  comment,
		}})
	}

	entry := audit.Entry{Details: map[string]any{"status": status}}

	switch status {
	case models.InstanceStatusCompleted:
		entry.Type = models.AuditInstanceCompleted
	case models.InstanceStatusFailed:
		entry.Type = models.AuditInstanceFailed
		entry.Details = map[string]any{"status": status, "error": message}
	default:
		entry.Type = models.AuditInstanceCancelled
	}

	fx.record(entry)

	fx.closeApprovals = true
	fx.closeActor = models.SystemActor
	fx.closeComment = comment
	fx.stopInflight = true
}

// completeStep records the outcome of an executor. Outcomes for steps that
// are already terminal are ignored; outcomes arriving after the instance
// reached a terminal state are kept but flagged late.
func (e *Engine) completeStep(stepID string, attempts int, output protocol.StepOutput, stepErr error) transition {
	return func(instance *models.WorkflowInstance, fx *effects) error {
		execution, ok := instance.Execution(stepID)
		if !ok || execution.Status.Terminal() {
			return nil
		}

		step, _ := models.FindStep(instance.Steps, stepID)
		now := e.now().UTC()

		if stepErr == nil {
			result, err := json.Marshal(output.Result)
			if err != nil {
				stepErr = fmt.Errorf("failed to encode step result: %w", err)
			} else {
				execution.Result = result
			}
		}

		if stepErr != nil && instance.Status == models.InstanceStatusCancelled && !errors.Is(stepErr, ErrCancelled) {
			stepErr = fmt.Errorf("%w: %w", ErrCancelled, stepErr)
		}

		execution.Attempts = max(execution.Attempts, attempts)
		execution.CompletedAt = &now

		entry := audit.Entry{StepID: stepID, Details: map[string]any{"attempts": execution.Attempts}}

		if stepErr != nil {
			execution.Status = models.StepStatusFailed
			execution.ErrorMessage = stepErr.Error()
			entry.Type = models.AuditStepFailed
			entry.Details = map[string]any{"attempts": execution.Attempts, "error": execution.ErrorMessage}
		} else {
			execution.Status = models.StepStatusCompleted
			execution.BranchClosed = output.CloseBranch && step != nil && step.StepType == models.StepTypeCondition
			entry.Type = models.AuditStepCompleted
		}

		instance.MoveToEnd(stepID)

		if instance.Status.Terminal() {
			execution.Late = true
			fx.record(audit.Entry{Type: models.AuditLateResultRecorded, StepID: stepID, Details: map[string]any{
				"status":          execution.Status,
				"instance_status": instance.Status,
			}})

			return nil
		}

		fx.record(entry)
		e.progress(instance, fx)

		return nil
	}
}

// retrying records that a step attempt failed and another one is scheduled.
func (e *Engine) retrying(stepID string, attempt int, cause error) transition {
	return func(instance *models.WorkflowInstance, fx *effects) error {
		execution, ok := instance.Execution(stepID)
		if !ok || execution.Status.Terminal() || instance.Status.Terminal() {
			return nil
		}

		execution.Attempts = attempt
		fx.record(audit.Entry{Type: models.AuditStepRetried, StepID: stepID, Details: map[string]any{
			"attempt": attempt,
			"error":   cause.Error(),
		}})

		return nil
	}
}

// decided applies a decided approval to its step.
func (e *Engine) decided(approval *models.Approval) transition {
	return func(instance *models.WorkflowInstance, fx *effects) error {
		if instance.Status.Terminal() || approval.Pending() {
			return nil
		}

		execution, ok := instance.Execution(approval.StepID)
		if !ok || execution.Status.Terminal() {
			return nil
		}

		step, ok := models.FindStep(instance.Steps, approval.StepID)
		if !ok {
			return fmt.Errorf("approval %s references unknown step %s", approval.ID, approval.StepID)
		}

		now := e.now().UTC()
		decision := models.DecisionApprove

		if approval.Status == models.ApprovalRejected {
			decision = models.DecisionReject
		}

		result, err := json.Marshal(map[string]any{
			"decision":   decision,
			"decided_by": approval.DecidedBy,
			"comments":   approval.Comments,
		})
		if err != nil {
			return err
		}

		execution.Result = result
		execution.CompletedAt = &now
		instance.MoveToEnd(step.StepID)

		fx.record(audit.Entry{
			Type:       models.AuditApprovalDecided,
			StepID:     step.StepID,
			ApprovalID: approval.ID,
			Actor:      approval.DecidedBy,
			Details:    map[string]any{"status": approval.Status, "comments": approval.Comments},
		})

		switch {
		case approval.Status == models.ApprovalApproved:
			execution.Status = models.StepStatusCompleted
			fx.record(audit.Entry{Type: models.AuditStepCompleted, StepID: step.StepID})
			e.progress(instance, fx)
		case step.Optional:
			execution.Status = models.StepStatusSkipped
			execution.SkipReason = models.SkipReasonApprovalRejected
			fx.record(audit.Entry{Type: models.AuditStepSkipped, StepID: step.StepID, Details: map[string]any{
				"reason": models.SkipReasonApprovalRejected,
			}})
			e.progress(instance, fx)
		default:
			message := fmt.Sprintf("approval rejected by %s", approval.DecidedBy)
			if approval.Comments != "" {
				message += ": " + approval.Comments
			}

			execution.Status = models.StepStatusFailed
			execution.ErrorMessage = message
			fx.record(audit.Entry{Type: models.AuditStepFailed, StepID: step.StepID, Details: map[string]any{"error": message}})
			e.finish(instance, models.InstanceStatusFailed, message, fx)
		}

		return nil
	}
}

// cancel moves a live instance to CANCELLED.
func (e *Engine) cancel(actor, reason string) transition {
	return func(instance *models.WorkflowInstance, fx *effects) error {
		if instance.Status.Terminal() {
			return terminalError(instance)
		}

		e.finish(instance, models.InstanceStatusCancelled, "", fx)

		// the instance.cancelled entry is the last one recorded by finish
		last := &fx.entries[len(fx.entries)-1]
		last.Actor = actor
		last.Details = map[string]any{"status": models.InstanceStatusCancelled, "reason": reason}

		return nil
	}
}

func terminalError(instance *models.WorkflowInstance) error {
	return fmt.Errorf("%w: instance %s is %s", ErrInstanceTerminal, instance.ID, instance.Status)
}
