package eventbus_test

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowgate/pkg/channels/gochannel"
	"github.com/dukex/flowgate/pkg/eventbus"
	"github.com/dukex/flowgate/pkg/events"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(logger, pub, sub)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_DomainEvents(t *testing.T) {
	bus := newBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.DomainEvent, 1)

	require.NoError(t, bus.HandleDomainEvents(ctx, func(_ context.Context, event *events.DomainEvent) error {
		received <- event

		return nil
	}))

	require.NoError(t, bus.PublishDomainEvent(ctx, &events.DomainEvent{
		ID:         "e-1",
		Type:       events.TicketCreated,
		RecordType: "ticket",
		RecordID:   "T-1",
		Record:     map[string]any{"priority": "P1"},
	}))

	select {
	case event := <-received:
		assert.Equal(t, "e-1", event.ID)
		assert.Equal(t, events.TicketCreated, event.Type)
		assert.Equal(t, "P1", event.Record["priority"])
	case <-time.After(5 * time.Second):
		t.Fatal("domain event not delivered")
	}
}

func TestWatermillEventBus_RedeliversOnHandlerError(t *testing.T) {
	bus := newBus(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32

	done := make(chan struct{})

	require.NoError(t, bus.HandleWorkflowEvents(ctx, func(_ context.Context, event *events.WorkflowEvent) error {
		if calls.Add(1) == 1 {
			return assert.AnError
		}

		assert.Equal(t, models.AuditInstanceCompleted, event.Type)
		assert.Equal(t, models.InstanceStatusCompleted, event.Status)
		close(done)

		return nil
	}))

	require.NoError(t, bus.PublishWorkflowEvent(ctx, &events.WorkflowEvent{
		AuditEvent: models.AuditEvent{
			ID:                 "a-1",
			WorkflowInstanceID: "i-1",
			Type:               models.AuditInstanceCompleted,
		},
		Status: models.InstanceStatusCompleted,
	}))

	select {
	case <-done:
		assert.Equal(t, int32(2), calls.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("workflow event not redelivered")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
