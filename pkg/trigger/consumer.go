package trigger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/flowgate/pkg/eventbus"
	"github.com/dukex/flowgate/pkg/events"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

// Consumer starts the instances fired by domain events, whether they come
// from the event bus or from the HTTP ingest endpoint.
type Consumer struct {
	logger   *slog.Logger
	listener *Listener
	starter  Starter
}

func NewConsumer(logger *slog.Logger, listener *Listener, starter Starter) *Consumer {
	return &Consumer{
		logger:   logger.With("module", "trigger_consumer"),
		listener: listener,
		starter:  starter,
	}
}

// Handle starts one instance per matching definition. Duplicate triggers are
// logged and ignored. An error is returned only when the event itself is
// invalid or the definitions could not be read, so that a bus redelivers it.
func (c *Consumer) Handle(ctx context.Context, event *events.DomainEvent) ([]*models.WorkflowInstance, error) {
	err := event.Normalize(time.Now())
	if err != nil {
		return nil, err
	}

	logger := c.logger.With("event_id", event.ID, "event_type", event.Type, "record_id", event.RecordID)

	requests, err := c.listener.OnEvent(ctx, event)
	if err != nil {
		return nil, err
	}

	if len(requests) == 0 {
		logger.DebugContext(ctx, "No workflow matched the event")

		return nil, nil
	}

	started := make([]*models.WorkflowInstance, 0, len(requests))

	for _, request := range requests {
		instance, err := c.starter.CreateInstance(ctx, request)

		switch {
		case errors.Is(err, persistence.ErrDuplicateInstance):
			logger.InfoContext(ctx, "Duplicate trigger ignored",
				"workflow_id", request.Definition.ID,
				"dedupe_key", request.DedupeKey,
			)
		case err != nil:
			logger.ErrorContext(ctx, "Failed to start instance", "workflow_id", request.Definition.ID, "error", err)
		default:
			started = append(started, instance)
		}
	}

	logger.InfoContext(ctx, "Domain event processed", "matched", len(requests), "started", len(started))

	return started, nil
}

// Start consumes the domain events topic until ctx is done. Malformed events
// are dropped instead of being redelivered forever.
func (c *Consumer) Start(ctx context.Context, subscriber eventbus.EventSubscriber) error {
	return subscriber.HandleDomainEvents(ctx, func(ctx context.Context, event *events.DomainEvent) error {
		_, err := c.Handle(ctx, event)
		if errors.Is(err, events.ErrUnknownEventType) || errors.Is(err, events.ErrMissingRecord) {
			c.logger.WarnContext(ctx, "Dropping invalid domain event", "event_id", event.ID, "error", err)

			return nil
		}

		return err
	})
}
