package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowgate/pkg/events"
)

type WatermillEventBus struct {
	logger     *slog.Logger
	publisher  message.Publisher
	subscriber message.Subscriber
}

func NewWatermillEventBus(logger *slog.Logger, pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		logger:     logger.With("module", "eventbus"),
		publisher:  pub,
		subscriber: sub,
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) PublishDomainEvent(ctx context.Context, event *events.DomainEvent) error {
	return eb.publish(ctx, events.DomainEventsTopic, event.RecordType+":"+event.RecordID, event)
}

// PublishWorkflowEvent keys messages by instance id so consumers of a
// partitioned topic see the events of one instance in order.
func (eb *WatermillEventBus) PublishWorkflowEvent(ctx context.Context, event *events.WorkflowEvent) error {
	return eb.publish(ctx, events.WorkflowEventsTopic, event.WorkflowInstanceID, event)
}

func (eb *WatermillEventBus) publish(ctx context.Context, topic, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(topic, msg)
}

func (eb *WatermillEventBus) HandleDomainEvents(ctx context.Context, handler DomainEventHandler) error {
	return subscribe(ctx, eb, events.DomainEventsTopic, handler)
}

func (eb *WatermillEventBus) HandleWorkflowEvents(ctx context.Context, handler WorkflowEventHandler) error {
	return subscribe(ctx, eb, events.WorkflowEventsTopic, handler)
}

// subscribe consumes topic until ctx is done. Malformed payloads are acked
// and dropped; handler errors nack the message for redelivery.
func subscribe[T any](ctx context.Context, eb *WatermillEventBus, topic string, handler func(context.Context, *T) error) error {
	messages, err := eb.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	logger := eb.logger.With("topic", topic)

	go func() {
		for msg := range messages {
			event := new(T)

			err := json.Unmarshal(msg.Payload, event)
			if err != nil {
				logger.ErrorContext(ctx, "Dropping malformed message", "message_id", msg.UUID, "error", err)
				msg.Ack()

				continue
			}

			err = handler(ctx, event)
			if err != nil {
				logger.WarnContext(ctx, "Event handler failed", "message_id", msg.UUID, "error", err)
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
