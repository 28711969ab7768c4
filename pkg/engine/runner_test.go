package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(maxRetries int) *models.RetryPolicy {
	return &models.RetryPolicy{
		MaxRetries:      maxRetries,
		InitialInterval: models.Duration(time.Millisecond),
		MaxInterval:     models.Duration(2 * time.Millisecond),
	}
}

func single(step *models.Step) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID: "wf-single", Name: "Single", IsActive: true, TriggerType: models.TriggerManual,
		Steps: []*models.Step{step},
	}
}

func TestRetry_SucceedsWithinBudget(t *testing.T) {
	var calls atomic.Int32

	actions := newScriptedFactory(models.StepTypeAction).on("a", func(_ context.Context, input protocol.StepInput) (protocol.StepOutput, error) {
		if calls.Add(1) < 3 {
			return protocol.StepOutput{}, errors.New("backend unavailable")
		}

		return protocol.StepOutput{Result: map[string]any{"attempt": input.Attempt}}, nil
	})

	h := newHarness(t, t.TempDir(), actions)

	instance := h.start(single(&models.Step{StepID: "a", Name: "A", StepType: models.StepTypeAction, Retry: fastRetry(3)}))
	completed := h.waitForStatus(instance.ID, models.InstanceStatusCompleted)

	a := execution(t, completed, "a")
	assert.Equal(t, models.StepStatusCompleted, a.Status)
	assert.Equal(t, 3, a.Attempts)
	assert.JSONEq(t, `{"attempt":3}`, string(a.Result))

	retried := 0

	for _, eventType := range h.auditTypes(instance.ID) {
		if eventType == models.AuditStepRetried {
			retried++
		}
	}

	assert.Equal(t, 2, retried)
}

func TestRetry_ExhaustedFailsInstance(t *testing.T) {
	actions := newScriptedFactory(models.StepTypeAction).on("a", func(context.Context, protocol.StepInput) (protocol.StepOutput, error) {
		return protocol.StepOutput{}, errors.New("backend unavailable")
	})

	h := newHarness(t, t.TempDir(), actions)

	instance := h.start(single(&models.Step{StepID: "a", Name: "A", StepType: models.StepTypeAction, Retry: fastRetry(1)}))
	failed := h.waitForStatus(instance.ID, models.InstanceStatusFailed)

	a := execution(t, failed, "a")
	assert.Equal(t, models.StepStatusFailed, a.Status)
	assert.Equal(t, 2, a.Attempts)
	assert.Contains(t, a.ErrorMessage, "backend unavailable")
	assert.Equal(t, a.ErrorMessage, failed.ErrorMessage)
	assert.Equal(t, 2, actions.callCount("a"))
}

func TestRetry_DefaultIsNoRetry(t *testing.T) {
	actions := newScriptedFactory(models.StepTypeAction).on("a", func(context.Context, protocol.StepInput) (protocol.StepOutput, error) {
		return protocol.StepOutput{}, errors.New("nope")
	})

	h := newHarness(t, t.TempDir(), actions)

	instance := h.start(single(&models.Step{StepID: "a", Name: "A", StepType: models.StepTypeAction}))
	h.waitForStatus(instance.ID, models.InstanceStatusFailed)

	assert.Equal(t, 1, actions.callCount("a"))
}

func TestRetry_PermanentErrorStopsRetries(t *testing.T) {
	actions := newScriptedFactory(models.StepTypeAction).on("a", func(context.Context, protocol.StepInput) (protocol.StepOutput, error) {
		return protocol.StepOutput{}, backoff.Permanent(errors.New("bad request"))
	})

	h := newHarness(t, t.TempDir(), actions)

	instance := h.start(single(&models.Step{StepID: "a", Name: "A", StepType: models.StepTypeAction, Retry: fastRetry(5)}))
	failed := h.waitForStatus(instance.ID, models.InstanceStatusFailed)

	assert.Equal(t, 1, actions.callCount("a"))
	assert.Equal(t, 1, execution(t, failed, "a").Attempts)
}

func TestTimeout_TreatedAsFailure(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	// ignores its context on purpose
	actions := newScriptedFactory(models.StepTypeAction).on("a", func(context.Context, protocol.StepInput) (protocol.StepOutput, error) {
		<-release

		return protocol.StepOutput{}, nil
	})

	h := newHarness(t, t.TempDir(), actions)

	instance := h.start(single(&models.Step{
		StepID:   "a",
		Name:     "A",
		StepType: models.StepTypeAction,
		Timeout:  models.Duration(20 * time.Millisecond),
		Retry:    fastRetry(1),
	}))

	failed := h.waitForStatus(instance.ID, models.InstanceStatusFailed)

	a := execution(t, failed, "a")
	assert.Contains(t, a.ErrorMessage, ErrStepTimeout.Error())
	assert.Equal(t, 2, a.Attempts)
}

func TestTimeout_ResultAfterDeadlineIsTimeout(t *testing.T) {
	actions := newScriptedFactory(models.StepTypeAction).on("a", func(ctx context.Context, _ protocol.StepInput) (protocol.StepOutput, error) {
		<-ctx.Done()

		return protocol.StepOutput{Result: map[string]any{"too": "late"}}, nil
	})

	h := newHarness(t, t.TempDir(), actions)

	instance := h.start(single(&models.Step{
		StepID:   "a",
		Name:     "A",
		StepType: models.StepTypeAction,
		Timeout:  models.Duration(20 * time.Millisecond),
	}))

	failed := h.waitForStatus(instance.ID, models.InstanceStatusFailed)

	a := execution(t, failed, "a")
	assert.Equal(t, models.StepStatusFailed, a.Status)
	assert.Contains(t, a.ErrorMessage, ErrStepTimeout.Error())
	assert.Empty(t, a.Result)
}

func TestExecutorPanicFailsStep(t *testing.T) {
	actions := newScriptedFactory(models.StepTypeAction).on("a", func(context.Context, protocol.StepInput) (protocol.StepOutput, error) {
		panic("boom")
	})

	h := newHarness(t, t.TempDir(), actions)

	instance := h.start(single(&models.Step{StepID: "a", Name: "A", StepType: models.StepTypeAction, Retry: fastRetry(3)}))
	failed := h.waitForStatus(instance.ID, models.InstanceStatusFailed)

	assert.Contains(t, execution(t, failed, "a").ErrorMessage, "executor panicked: boom")
	assert.Equal(t, 1, actions.callCount("a"))
}

func TestUnregisteredStepTypeFails(t *testing.T) {
	h := newHarness(t, t.TempDir())

	instance := h.start(single(&models.Step{StepID: "n", Name: "Notify", StepType: models.StepTypeNotification}))
	failed := h.waitForStatus(instance.ID, models.InstanceStatusFailed)

	assert.Contains(t, execution(t, failed, "n").ErrorMessage, "no executor registered")
}

func TestFailure_WaitsForRunningSiblings(t *testing.T) {
	release := make(chan struct{})

	actions := newScriptedFactory(models.StepTypeAction).
		on("a", func(context.Context, protocol.StepInput) (protocol.StepOutput, error) {
			return protocol.StepOutput{}, errors.New("classification failed")
		}).
		on("e", func(ctx context.Context, _ protocol.StepInput) (protocol.StepOutput, error) {
			select {
			case <-release:
				return protocol.StepOutput{Result: "e"}, nil
			case <-ctx.Done():
				return protocol.StepOutput{}, ctx.Err()
			}
		})

	h := newHarness(t, t.TempDir(), actions)

	instance := h.start(&models.WorkflowDefinition{
		ID: "wf-failure", Name: "Failure", IsActive: true, TriggerType: models.TriggerManual,
		Steps: []*models.Step{
			{StepID: "a", Name: "A", StepType: models.StepTypeAction},
			{StepID: "b", Name: "B", StepType: models.StepTypeAction, Dependencies: []string{"a"}},
			{StepID: "cleanup", Name: "Cleanup", StepType: models.StepTypeAction, Dependencies: []string{"a"}, RunOnFailure: true},
			{StepID: "e", Name: "E", StepType: models.StepTypeAction},
			{
				StepID: "f", Name: "F", StepType: models.StepTypeApproval, Dependencies: []string{"e"},
				Config: map[string]any{"approver_type": "USER", "approver_ref": "alice"},
			},
		},
	})

	running := h.waitFor(instance.ID, func(i *models.WorkflowInstance) bool {
		b, ok := i.Execution("b")

		return ok && b.Status == models.StepStatusSkipped
	})
	assert.Equal(t, models.InstanceStatusRunning, running.Status, "e is still running")
	assert.Equal(t, models.SkipReasonUpstreamFailed, execution(t, running, "b").SkipReason)

	close(release)

	failed := h.waitForStatus(instance.ID, models.InstanceStatusFailed)
	assert.Contains(t, failed.ErrorMessage, "classification failed")
	assert.Equal(t, models.StepStatusCompleted, execution(t, failed, "e").Status)
	assert.Equal(t, models.StepStatusCompleted, execution(t, failed, "cleanup").Status)

	// no approval is opened once a failure is certain
	_, ok := failed.Execution("f")
	assert.False(t, ok)

	_, err := h.store.ApprovalRepository().GetByID(context.Background(), models.ApprovalID(instance.ID, "f"))
	assert.Error(t, err)
}

func TestOptionalStepFailureDoesNotFailInstance(t *testing.T) {
	actions := newScriptedFactory(models.StepTypeAction).on("a", func(context.Context, protocol.StepInput) (protocol.StepOutput, error) {
		return protocol.StepOutput{}, errors.New("optional enrichment failed")
	})

	h := newHarness(t, t.TempDir(), actions)

	instance := h.start(&models.WorkflowDefinition{
		ID: "wf-optional", Name: "Optional", IsActive: true, TriggerType: models.TriggerManual,
		Steps: []*models.Step{
			{StepID: "a", Name: "A", StepType: models.StepTypeAction, Optional: true},
			{StepID: "b", Name: "B", StepType: models.StepTypeAction, Dependencies: []string{"a"}},
		},
	})

	completed := h.waitForStatus(instance.ID, models.InstanceStatusCompleted)
	assert.Equal(t, models.StepStatusFailed, execution(t, completed, "a").Status)
	assert.Equal(t, models.StepStatusCompleted, execution(t, completed, "b").Status)
}

func TestConditionClosesBranch(t *testing.T) {
	actions := newScriptedFactory(models.StepTypeAction)
	conditions := newScriptedFactory(models.StepTypeCondition).on("check", func(context.Context, protocol.StepInput) (protocol.StepOutput, error) {
		return protocol.StepOutput{Result: map[string]any{"matched": false}, CloseBranch: true}, nil
	})

	h := newHarness(t, t.TempDir(), actions, conditions)

	instance := h.start(&models.WorkflowDefinition{
		ID: "wf-branch", Name: "Branch", IsActive: true, TriggerType: models.TriggerManual,
		Steps: []*models.Step{
			{StepID: "check", Name: "Is P1", StepType: models.StepTypeCondition},
			{StepID: "page", Name: "Page on-call", StepType: models.StepTypeAction, Dependencies: []string{"check"}},
			{StepID: "escalate", Name: "Escalate", StepType: models.StepTypeAction, Dependencies: []string{"page"}},
			{StepID: "log", Name: "Log", StepType: models.StepTypeAction},
		},
	})

	completed := h.waitForStatus(instance.ID, models.InstanceStatusCompleted)

	check := execution(t, completed, "check")
	assert.Equal(t, models.StepStatusCompleted, check.Status)
	assert.True(t, check.BranchClosed)

	for _, stepID := range []string{"page", "escalate"} {
		skipped := execution(t, completed, stepID)
		assert.Equal(t, models.StepStatusSkipped, skipped.Status, stepID)
		assert.Equal(t, models.SkipReasonBranchClosed, skipped.SkipReason, stepID)
	}

	assert.Equal(t, 0, actions.callCount("page"))
}

func TestCloseBranchIgnoredForActions(t *testing.T) {
	actions := newScriptedFactory(models.StepTypeAction).on("a", func(context.Context, protocol.StepInput) (protocol.StepOutput, error) {
		return protocol.StepOutput{CloseBranch: true}, nil
	})

	h := newHarness(t, t.TempDir(), actions)

	instance := h.start(&models.WorkflowDefinition{
		ID: "wf-close", Name: "Close", IsActive: true, TriggerType: models.TriggerManual,
		Steps: []*models.Step{
			{StepID: "a", Name: "A", StepType: models.StepTypeAction},
			{StepID: "b", Name: "B", StepType: models.StepTypeAction, Dependencies: []string{"a"}},
		},
	})

	completed := h.waitForStatus(instance.ID, models.InstanceStatusCompleted)
	assert.Equal(t, models.StepStatusCompleted, execution(t, completed, "b").Status)
}

func TestRetryPolicy(t *testing.T) {
	_, ok := retryPolicy(nil).(*backoff.StopBackOff)
	assert.True(t, ok)

	_, ok = retryPolicy(&models.RetryPolicy{MaxRetries: 0}).(*backoff.StopBackOff)
	assert.True(t, ok)

	policy := retryPolicy(&models.RetryPolicy{MaxRetries: 2, InitialInterval: models.Duration(time.Millisecond)})

	first := policy.NextBackOff()
	require.NotEqual(t, backoff.Stop, first)
	assert.Less(t, first, 10*time.Millisecond)
	require.NotEqual(t, backoff.Stop, policy.NextBackOff())
	assert.Equal(t, backoff.Stop, policy.NextBackOff())
}
