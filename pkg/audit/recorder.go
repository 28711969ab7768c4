// Package audit records the immutable trail of instance state transitions.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowgate/pkg/events"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/google/uuid"
)

// Publisher forwards audit events to the event bus.
type Publisher interface {
	PublishWorkflowEvent(ctx context.Context, event *events.WorkflowEvent) error
}

// Recorder appends audit events to the store and fans them out to the bus.
// The store append is authoritative; publishing is best effort.
type Recorder struct {
	logger    *slog.Logger
	store     persistence.AuditRepository
	publisher Publisher
}

func NewRecorder(logger *slog.Logger, store persistence.AuditRepository, publisher Publisher) *Recorder {
	return &Recorder{
		logger:    logger.With("module", "audit"),
		store:     store,
		publisher: publisher,
	}
}

// Entry describes one transition before it is stamped with an id and time.
type Entry struct {
	Type       models.AuditEventType
	StepID     string
	ApprovalID string
	Actor      string
	Details    any
}

// NewEvent builds the audit event for a transition of instance.
func NewEvent(instance *models.WorkflowInstance, entry Entry, at time.Time) (*models.AuditEvent, error) {
	event := &models.AuditEvent{
		ID:                 uuid.Must(uuid.NewV7()).String(),
		WorkflowID:         instance.WorkflowID,
		WorkflowInstanceID: instance.ID,
		Type:               entry.Type,
		StepID:             entry.StepID,
		ApprovalID:         entry.ApprovalID,
		Actor:              entry.Actor,
		InstanceVersion:    instance.Version,
		OccurredAt:         at.UTC(),
	}

	if entry.Details != nil {
		details, err := json.Marshal(entry.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to encode details of %s: %w", entry.Type, err)
		}

		event.Details = details
	}

	return event, nil
}

// Record appends the events in order. It stops at the first store failure.
func (r *Recorder) Record(ctx context.Context, status models.InstanceStatus, auditEvents ...*models.AuditEvent) error {
	for _, event := range auditEvents {
		err := r.store.Append(ctx, event)
		if err != nil {
			return fmt.Errorf("failed to append audit event %s: %w", event.Type, err)
		}

		r.logger.DebugContext(ctx, "Recorded audit event",
			"instance_id", event.WorkflowInstanceID,
			"type", event.Type,
			"step_id", event.StepID,
		)

		if r.publisher == nil {
			continue
		}

		err = r.publisher.PublishWorkflowEvent(ctx, &events.WorkflowEvent{AuditEvent: *event, Status: status})
		if err != nil {
			r.logger.WarnContext(ctx, "Failed to publish workflow event",
				"instance_id", event.WorkflowInstanceID,
				"type", event.Type,
				"error", err,
			)
		}
	}

	return nil
}

// History returns the audit trail of an instance in append order.
func (r *Recorder) History(ctx context.Context, instanceID string) ([]*models.AuditEvent, error) {
	return r.store.ListByInstance(ctx, instanceID)
}
