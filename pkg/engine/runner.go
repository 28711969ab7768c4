package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowgate/pkg/audit"
	"github.com/dukex/flowgate/pkg/log"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/otelhelper"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultRetryInitialInterval = time.Second
	defaultRetryMaxInterval     = 30 * time.Second
	defaultRetryMultiplier      = 2.0

	lateResultGrace = 30 * time.Second
)

// CreateInstance creates an instance from a trigger request and starts it.
// It fails with persistence.ErrDuplicateInstance when the request's dedupe
// key is already taken.
func (e *Engine) CreateInstance(ctx context.Context, request *models.InstanceCreationRequest) (*models.WorkflowInstance, error) {
	definition := request.Definition
	if definition == nil {
		return nil, errors.New("instance creation request without definition")
	}

	if !definition.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrInactiveWorkflow, definition.ID)
	}

	now := e.now().UTC()

	instance := &models.WorkflowInstance{
		ID:                uuid.Must(uuid.NewV7()).String(),
		SchemaVersion:     models.InstanceSchemaVersion,
		WorkflowID:        definition.ID,
		WorkflowName:      definition.Name,
		WorkflowVersion:   definition.Version,
		TriggerType:       request.TriggerType,
		TriggerRecordType: request.TriggerRecordType,
		TriggerRecordID:   request.TriggerRecordID,
		TriggerEventID:    request.TriggerEventID,
		DedupeKey:         request.DedupeKey,
		Status:            models.InstanceStatusPending,
		Steps:             models.CloneSteps(definition.Steps),
		Context:           request.Context,
		StepHistory:       []*models.StepExecution{},
		StartedAt:         now,
		UpdatedAt:         now,
	}

	var started *models.WorkflowInstance

	err := e.withLock(ctx, instance.ID, func(ctx context.Context) error {
		err := e.store.InstanceRepository().Create(ctx, instance)
		if err != nil {
			return err
		}

		e.recordAudit(ctx, instance, []audit.Entry{{
			Type:  models.AuditTriggerFired,
			Actor: request.TriggeredBy,
			Details: map[string]any{
				"trigger_type":        request.TriggerType,
				"trigger_record_type": request.TriggerRecordType,
				"trigger_record_id":   request.TriggerRecordID,
				"trigger_event_id":    request.TriggerEventID,
				"dedupe_key":          request.DedupeKey,
			},
		}})

		started, err = e.applyLocked(ctx, instance.ID, e.start)

		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Instance started",
		"instance_id", started.ID,
		"workflow_id", started.WorkflowID,
		"status", started.Status,
	)

	return started, nil
}

// dispatch runs an executor step in its own goroutine. The result is applied
// as a new transition once the executor returns.
func (e *Engine) dispatch(instance *models.WorkflowInstance, stepID string) {
	step, ok := models.FindStep(instance.Steps, stepID)
	if !ok {
		return
	}

	execution, ok := instance.Execution(stepID)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancelCause(e.baseCtx)

	if !e.track(instance.ID, stepID, cancel) {
		cancel(nil)

		return
	}

	input := protocol.StepInput{
		InstanceID:        instance.ID,
		WorkflowID:        instance.WorkflowID,
		StepID:            step.StepID,
		StepName:          step.Name,
		StepType:          step.StepType,
		Attempt:           max(execution.Attempts, 1),
		IdempotencyKey:    protocol.IdempotencyKey(instance.ID, step.StepID),
		TriggerRecordType: instance.TriggerRecordType,
		TriggerRecordID:   instance.TriggerRecordID,
		Config:            step.Config,
		Context:           instance.Context,
		Results:           results(instance),
	}

	instanceID := instance.ID

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		defer e.untrack(instanceID, stepID)
		defer cancel(nil)

		output, attempts, err := e.execute(ctx, step, input)

		if e.baseCtx.Err() != nil {
			e.logger.Info("Engine stopping, step result dropped", "instance_id", instanceID, "step_id", stepID)

			return
		}

		_, err = e.apply(e.baseCtx, instanceID, e.completeStep(stepID, attempts, output, err))
		if err != nil {
			e.logger.Error("Failed to record step result", "instance_id", instanceID, "step_id", stepID, "error", err)
		}
	}()
}

func results(instance *models.WorkflowInstance) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)

	for _, execution := range instance.StepHistory {
		if execution.Status == models.StepStatusCompleted && len(execution.Result) > 0 {
			out[execution.StepID] = slices.Clone(execution.Result)
		}
	}

	return out
}

// execute runs the attempts of a step under its retry policy.
func (e *Engine) execute(ctx context.Context, step *models.Step, input protocol.StepInput) (protocol.StepOutput, int, error) {
	logger := log.FromContext(ctx, e.logger).With(
		"instance_id", input.InstanceID,
		"workflow_id", input.WorkflowID,
		"step_id", step.StepID,
		"step_type", step.StepType,
	)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "step.execute",
		attribute.String(otelhelper.WorkflowIDKey, input.WorkflowID),
		attribute.String(otelhelper.InstanceIDKey, input.InstanceID),
		attribute.String(otelhelper.StepIDKey, step.StepID),
		attribute.String(otelhelper.StepTypeKey, string(step.StepType)),
	)
	defer span.End()

	ctx = log.WithLogger(ctx, logger)

	attempt := input.Attempt - 1

	executor, err := e.registry.Create(ctx, step.StepType, step.Config)
	if err != nil {
		otelhelper.SetError(span, err)

		return protocol.StepOutput{}, input.Attempt, &StepExecutionError{StepID: step.StepID, Attempts: input.Attempt, Err: err}
	}

	var output protocol.StepOutput

	operation := func() error {
		attempt++
		input.Attempt = attempt

		logger.DebugContext(ctx, "Executing step", "attempt", attempt)

		out, err := e.attempt(ctx, executor, step, input, logger)
		if err != nil {
			return err
		}

		output = out

		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "Step attempt failed, retrying", "attempt", attempt, "retry_in", wait, "error", err)

		_, applyErr := e.apply(e.baseCtx, input.InstanceID, e.retrying(step.StepID, attempt+1, err))
		if applyErr != nil {
			logger.ErrorContext(ctx, "Failed to record retry", "error", applyErr)
		}
	}

	err = backoff.RetryNotify(operation, backoff.WithContext(retryPolicy(step.Retry), ctx), notify)
	if err != nil {
		otelhelper.SetError(span, err, attribute.Int("attempts", attempt))
		logger.WarnContext(ctx, "Step failed", "attempts", attempt, "error", err)

		return protocol.StepOutput{}, attempt, &StepExecutionError{StepID: step.StepID, Attempts: attempt, Err: err}
	}

	logger.InfoContext(ctx, "Step completed", "attempts", attempt)

	return output, attempt, nil
}

type outcome struct {
	output   protocol.StepOutput
	err      error
	finished time.Time
}

// attempt runs the executor once. The step timeout is enforced even when the
// executor ignores its context, and a result delivered after the deadline is
// a timeout. Cancellation of ctx is permanent. When the instance stopped,
// the executor is given lateResultGrace to report its real outcome so that
// it can be recorded on the step.
func (e *Engine) attempt(
	ctx context.Context,
	executor protocol.StepExecutor,
	step *models.Step,
	input protocol.StepInput,
	logger *slog.Logger,
) (protocol.StepOutput, error) {
	attemptCtx, cancel := context.WithCancel(ctx)

	timeout := step.Timeout.Std()
	if timeout > 0 {
		cancel()

		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: backoff.Permanent(fmt.Errorf("executor panicked: %v", r)), finished: time.Now()}
			}
		}()

		output, err := executor.Execute(attemptCtx, input, logger)
		done <- outcome{output: output, err: err, finished: time.Now()}
	}()

	select {
	case result := <-done:
		if ctx.Err() != nil {
			return cancelled(ctx, result)
		}

		if deadline, ok := attemptCtx.Deadline(); ok && timeout > 0 && result.finished.After(deadline) {
			return protocol.StepOutput{}, fmt.Errorf("%w after %s", ErrStepTimeout, timeout)
		}

		return result.output, result.err
	case <-attemptCtx.Done():
		if ctx.Err() == nil {
			return protocol.StepOutput{}, fmt.Errorf("%w after %s", ErrStepTimeout, timeout)
		}

		if !instanceStopped(ctx) {
			return protocol.StepOutput{}, backoff.Permanent(ctx.Err())
		}

		grace := time.NewTimer(lateResultGrace)
		defer grace.Stop()

		select {
		case result := <-done:
			return cancelled(ctx, result)
		case <-grace.C:
			logger.WarnContext(ctx, "Executor ignored cancellation", "grace", lateResultGrace)
		case <-e.baseCtx.Done():
		}

		return protocol.StepOutput{}, backoff.Permanent(context.Cause(ctx))
	}
}

// stopCause is the cancellation cause given to the executors of an instance
// entering status.
func stopCause(status models.InstanceStatus) error {
	if status == models.InstanceStatusCancelled {
		return ErrCancelled
	}

	return fmt.Errorf("%w: %s", ErrInstanceTerminal, status)
}

// instanceStopped reports whether ctx was cancelled because its instance
// reached a terminal state, rather than because the engine is stopping.
func instanceStopped(ctx context.Context) bool {
	cause := context.Cause(ctx)

	return errors.Is(cause, ErrCancelled) || errors.Is(cause, ErrInstanceTerminal)
}

// cancelled maps the outcome of an executor whose context was cancelled. A
// success is kept. Failures are permanent and carry ErrCancelled when the
// instance was cancelled.
func cancelled(ctx context.Context, result outcome) (protocol.StepOutput, error) {
	if result.err == nil {
		return result.output, nil
	}

	if errors.Is(context.Cause(ctx), ErrCancelled) && !errors.Is(result.err, ErrCancelled) {
		return protocol.StepOutput{}, backoff.Permanent(fmt.Errorf("%w: %w", ErrCancelled, result.err))
	}

	return protocol.StepOutput{}, backoff.Permanent(result.err)
}

func retryPolicy(policy *models.RetryPolicy) backoff.BackOff {
	if policy == nil || policy.MaxRetries <= 0 {
		return &backoff.StopBackOff{}
	}

	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = defaultRetryInitialInterval
	exponential.MaxInterval = defaultRetryMaxInterval
	exponential.Multiplier = defaultRetryMultiplier
	exponential.MaxElapsedTime = 0

	if policy.InitialInterval > 0 {
		exponential.InitialInterval = policy.InitialInterval.Std()
	}

	if policy.MaxInterval > 0 {
		exponential.MaxInterval = policy.MaxInterval.Std()
	}

	if policy.Multiplier >= 1 {
		exponential.Multiplier = policy.Multiplier
	}

	exponential.Reset()

	return backoff.WithMaxRetries(exponential, uint64(policy.MaxRetries))
}
