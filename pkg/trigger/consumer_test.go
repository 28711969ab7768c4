package trigger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowgate/pkg/channels/gochannel"
	"github.com/dukex/flowgate/pkg/eventbus"
	"github.com/dukex/flowgate/pkg/events"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type starterMock struct {
	mock.Mock
}

func (m *starterMock) CreateInstance(ctx context.Context, request *models.InstanceCreationRequest) (*models.WorkflowInstance, error) {
	args := m.Called(ctx, request)

	instance, _ := args.Get(0).(*models.WorkflowInstance)

	return instance, args.Error(1)
}

func forWorkflow(id string) any {
	return mock.MatchedBy(func(r *models.InstanceCreationRequest) bool { return r.Definition.ID == id })
}

func TestConsumer_Handle(t *testing.T) {
	workflows := seed(t,
		definition("wf-a", models.TriggerOnTicketCreate),
		definition("wf-b", models.TriggerOnTicketCreate),
		definition("wf-c", models.TriggerOnTicketCreate),
	)

	starter := &starterMock{}
	starter.On("CreateInstance", mock.Anything, forWorkflow("wf-a")).
		Return(&models.WorkflowInstance{ID: "i-1", WorkflowID: "wf-a"}, nil)
	starter.On("CreateInstance", mock.Anything, forWorkflow("wf-b")).
		Return(nil, persistence.NewInstanceError("Create", "i-2", persistence.ErrDuplicateInstance))
	starter.On("CreateInstance", mock.Anything, forWorkflow("wf-c")).
		Return(nil, errors.New("disk full"))

	consumer := trigger.NewConsumer(testLogger(), trigger.NewListener(testLogger(), workflows, nil), starter)

	started, err := consumer.Handle(context.Background(), ticketCreated(nil))
	require.NoError(t, err)
	require.Len(t, started, 1)
	assert.Equal(t, "i-1", started[0].ID)

	starter.AssertNumberOfCalls(t, "CreateInstance", 3)
}

func TestConsumer_Handle_NormalizesEvent(t *testing.T) {
	starter := &starterMock{}
	consumer := trigger.NewConsumer(testLogger(), trigger.NewListener(testLogger(), seed(t), nil), starter)

	event := &events.DomainEvent{Type: events.AlertCreated, RecordType: "alert", RecordID: "A-1"}

	started, err := consumer.Handle(context.Background(), event)
	require.NoError(t, err)
	assert.Empty(t, started)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.OccurredAt.IsZero())

	_, err = consumer.Handle(context.Background(), &events.DomainEvent{Type: events.AlertCreated})
	require.ErrorIs(t, err, events.ErrMissingRecord)

	starter.AssertNotCalled(t, "CreateInstance", mock.Anything, mock.Anything)
}

func TestConsumer_Start_ConsumesBus(t *testing.T) {
	workflows := seed(t, definition("wf-a", models.TriggerOnTicketCreate))

	started := make(chan *models.InstanceCreationRequest, 1)

	starter := &starterMock{}
	starter.On("CreateInstance", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { started <- args.Get(1).(*models.InstanceCreationRequest) }).
		Return(&models.WorkflowInstance{ID: "i-1"}, nil)

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(testLogger(), pub, sub)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := trigger.NewConsumer(testLogger(), trigger.NewListener(testLogger(), workflows, nil), starter)
	require.NoError(t, consumer.Start(ctx, bus))

	// invalid events are dropped, the valid one behind them is processed
	require.NoError(t, bus.PublishDomainEvent(ctx, &events.DomainEvent{ID: "bad", Type: events.TicketCreated}))
	require.NoError(t, bus.PublishDomainEvent(ctx, ticketCreated(map[string]any{"priority": "P2"})))

	select {
	case request := <-started:
		assert.Equal(t, "wf-a", request.Definition.ID)
		assert.Equal(t, "T-42", request.TriggerRecordID)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not consumed")
	}
}
