// Package eventbus connects the engine to the message bus: domain events in,
// workflow events out.
package eventbus

import (
	"context"

	"github.com/dukex/flowgate/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type DomainEventHandler func(ctx context.Context, event *events.DomainEvent) error

type WorkflowEventHandler func(ctx context.Context, event *events.WorkflowEvent) error

type EventPublisher interface {
	PublishDomainEvent(ctx context.Context, event *events.DomainEvent) error
	PublishWorkflowEvent(ctx context.Context, event *events.WorkflowEvent) error
}

type EventSubscriber interface {
	HandleDomainEvents(ctx context.Context, handler DomainEventHandler) error
	HandleWorkflowEvents(ctx context.Context, handler WorkflowEventHandler) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
