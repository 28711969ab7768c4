// Package events defines the messages exchanged over the event bus: inbound
// domain events that fire workflows and outbound workflow events mirroring
// the audit trail.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Bus topics.
const (
	DomainEventsTopic   = "flowgate.domain-events"
	WorkflowEventsTopic = "flowgate.workflow-events"
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

// Domain event types published by the ITSM backend.
const (
	TicketCreated       EventType = "ticket.created"
	TicketUpdated       EventType = "ticket.updated"
	TicketStatusChanged EventType = "ticket.status_changed"
	ApprovalRequired    EventType = "approval.required"
	AlertCreated        EventType = "alert.created"
	CIChanged           EventType = "ci.changed"
)

var triggerTypes = map[EventType]models.TriggerType{
	TicketCreated:       models.TriggerOnTicketCreate,
	TicketUpdated:       models.TriggerOnTicketUpdate,
	TicketStatusChanged: models.TriggerOnTicketStatusChange,
	ApprovalRequired:    models.TriggerOnApprovalRequired,
	AlertCreated:        models.TriggerOnAlertCreated,
	CIChanged:           models.TriggerOnCIChange,
}

// TriggerType returns the trigger type fired by the event type.
func (t EventType) TriggerType() (models.TriggerType, bool) {
	triggerType, ok := triggerTypes[t]

	return triggerType, ok
}

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingRecord    = errors.New("record_type and record_id are required")
)

// DomainEvent is a change in the ITSM backend that may fire workflows.
type DomainEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"        validate:"required"`
	RecordType string         `json:"record_type" validate:"required"`
	RecordID   string         `json:"record_id"   validate:"required"`
	Record     map[string]any `json:"record,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func (e *DomainEvent) GetType() EventType {
	return e.Type
}

// Normalize fills the id and timestamp of events that arrive without them
// and checks the fields the trigger listener relies on.
func (e *DomainEvent) Normalize(now time.Time) error {
	if _, ok := e.Type.TriggerType(); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}

	if e.RecordType == "" || e.RecordID == "" {
		return ErrMissingRecord
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	if e.OccurredAt.IsZero() {
		e.OccurredAt = now.UTC()
	}

	return nil
}

// WorkflowEvent is the bus representation of an audit event.
type WorkflowEvent struct {
	models.AuditEvent

	Status models.InstanceStatus `json:"instance_status,omitempty"`
}

func (e *WorkflowEvent) GetType() EventType {
	return EventType(e.Type)
}
