package events

import (
	"testing"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_TriggerType(t *testing.T) {
	tests := []struct {
		eventType EventType
		expected  models.TriggerType
		ok        bool
	}{
		{TicketCreated, models.TriggerOnTicketCreate, true},
		{TicketUpdated, models.TriggerOnTicketUpdate, true},
		{TicketStatusChanged, models.TriggerOnTicketStatusChange, true},
		{ApprovalRequired, models.TriggerOnApprovalRequired, true},
		{AlertCreated, models.TriggerOnAlertCreated, true},
		{CIChanged, models.TriggerOnCIChange, true},
		{EventType("ticket.deleted"), "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			triggerType, ok := tt.eventType.TriggerType()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, triggerType)
		})
	}
}

func TestDomainEvent_Normalize(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	event := &DomainEvent{Type: TicketCreated, RecordType: "ticket", RecordID: "T-1"}
	require.NoError(t, event.Normalize(now))
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, now, event.OccurredAt)

	kept := &DomainEvent{ID: "e-1", Type: CIChanged, RecordType: "ci", RecordID: "srv-1", OccurredAt: now.Add(-time.Hour)}
	require.NoError(t, kept.Normalize(now))
	assert.Equal(t, "e-1", kept.ID)
	assert.Equal(t, now.Add(-time.Hour), kept.OccurredAt)

	err := (&DomainEvent{Type: "nope", RecordType: "ticket", RecordID: "T-1"}).Normalize(now)
	require.ErrorIs(t, err, ErrUnknownEventType)

	err = (&DomainEvent{Type: TicketCreated, RecordType: "ticket"}).Normalize(now)
	require.ErrorIs(t, err, ErrMissingRecord)
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "flowgate.domain-events", DomainEventsTopic)
	assert.Equal(t, "flowgate.workflow-events", WorkflowEventsTopic)
}
