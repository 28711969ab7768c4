// Package trigger turns domain events, manual requests and cron ticks into
// instance creation requests.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowgate/pkg/events"
	"github.com/dukex/flowgate/pkg/expression"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

// ScheduleRecordType is the trigger record type of instances fired by cron.
const ScheduleRecordType = "schedule"

var ErrInactiveWorkflow = errors.New("workflow is not active")

// Starter creates and starts instances. It is implemented by the engine.
type Starter interface {
	CreateInstance(ctx context.Context, request *models.InstanceCreationRequest) (*models.WorkflowInstance, error)
}

// ManualRequest is an operator request to run a workflow on a record.
type ManualRequest struct {
	WorkflowID string
	RecordType string
	RecordID   string
	Actor      string
	Context    map[string]any
}

// Listener matches triggers against active definitions.
type Listener struct {
	logger    *slog.Logger
	workflows persistence.WorkflowRepository
	evaluator *expression.Evaluator
	now       func() time.Time
}

func NewListener(logger *slog.Logger, workflows persistence.WorkflowRepository, evaluator *expression.Evaluator) *Listener {
	if evaluator == nil {
		evaluator = expression.NewEvaluator()
	}

	return &Listener{
		logger:    logger.With("module", "trigger_listener"),
		workflows: workflows,
		evaluator: evaluator,
		now:       time.Now,
	}
}

// OnEvent returns one request per active definition fired by the event. A
// definition whose trigger condition cannot be evaluated is skipped.
func (l *Listener) OnEvent(ctx context.Context, event *events.DomainEvent) ([]*models.InstanceCreationRequest, error) {
	triggerType, ok := event.Type.TriggerType()
	if !ok {
		return nil, fmt.Errorf("%w: %q", events.ErrUnknownEventType, event.Type)
	}

	definitions, err := l.workflows.List(ctx, persistence.WorkflowFilter{ActiveOnly: true, TriggerType: triggerType})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows for %s: %w", triggerType, err)
	}

	env := conditionEnv(event)
	requests := make([]*models.InstanceCreationRequest, 0, len(definitions))

	for _, definition := range definitions {
		logger := l.logger.With("workflow_id", definition.ID, "event_id", event.ID)

		if definition.TriggerCondition != "" {
			matched, err := l.evaluator.Evaluate(definition.TriggerCondition, env)
			if err != nil {
				logger.WarnContext(ctx, "Trigger condition failed, workflow skipped", "error", err)

				continue
			}

			if !matched {
				logger.DebugContext(ctx, "Trigger condition not met")

				continue
			}
		}

		requests = append(requests, newRequest(definition, triggerType, event.RecordType, event.RecordID, event.OccurredAt, map[string]any{
			"record": event.Record,
			"event": map[string]any{
				"id":    event.ID,
				"type":  event.Type,
				"actor": event.Actor,
			},
		}, func(r *models.InstanceCreationRequest) {
			r.TriggerEventID = event.ID
			r.TriggeredBy = event.Actor
		}))
	}

	return requests, nil
}

// Manual builds the request of an operator-started instance.
func (l *Listener) Manual(ctx context.Context, manual ManualRequest) (*models.InstanceCreationRequest, error) {
	definition, err := l.workflows.GetByID(ctx, manual.WorkflowID)
	if err != nil {
		return nil, err
	}

	if !definition.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrInactiveWorkflow, definition.ID)
	}

	payload := manual.Context
	if payload == nil {
		payload = map[string]any{}
	}

	return newRequest(definition, models.TriggerManual, manual.RecordType, manual.RecordID, l.now(), payload,
		func(r *models.InstanceCreationRequest) {
			r.TriggeredBy = manual.Actor
		}), nil
}

// Scheduled builds the request of a cron tick.
func (l *Listener) Scheduled(definition *models.WorkflowDefinition, at time.Time) *models.InstanceCreationRequest {
	at = at.UTC()

	return newRequest(definition, models.TriggerScheduled, ScheduleRecordType, definition.ID, at, map[string]any{
		"schedule": map[string]any{
			"cron":     definition.Schedule,
			"fired_at": at.Format(time.RFC3339),
		},
	})
}

func newRequest(
	definition *models.WorkflowDefinition,
	triggerType models.TriggerType,
	recordType, recordID string,
	at time.Time,
	payload map[string]any,
	opts ...func(*models.InstanceCreationRequest),
) *models.InstanceCreationRequest {
	snapshot := *definition
	snapshot.Steps = models.CloneSteps(definition.Steps)

	request := &models.InstanceCreationRequest{
		Definition:        &snapshot,
		TriggerType:       triggerType,
		TriggerRecordType: recordType,
		TriggerRecordID:   recordID,
		TriggeredAt:       at.UTC(),
		DedupeKey:         DedupeKey(definition, recordType, recordID, at),
		Context:           payload,
	}

	for _, opt := range opts {
		opt(request)
	}

	return request
}

// DedupeKey is workflow_id:record_type:record_id:bucket where bucket is the
// trigger time truncated to the definition's dedupe window. Definitions
// without a window are never deduplicated.
func DedupeKey(definition *models.WorkflowDefinition, recordType, recordID string, at time.Time) string {
	window := definition.DedupeWindow.Std()
	if window <= 0 {
		return ""
	}

	bucket := at.UTC().Truncate(window).Unix()

	return fmt.Sprintf("%s:%s:%s:%d", definition.ID, recordType, recordID, bucket)
}

func conditionEnv(event *events.DomainEvent) map[string]any {
	record := make(map[string]any, len(event.Record)+2)
	for k, v := range event.Record {
		record[k] = v
	}

	if _, ok := record["type"]; !ok {
		record["type"] = event.RecordType
	}

	if _, ok := record["id"]; !ok {
		record["id"] = event.RecordID
	}

	return map[string]any{
		"record": record,
		"event": map[string]any{
			"id":    event.ID,
			"type":  string(event.Type),
			"actor": event.Actor,
		},
	}
}
