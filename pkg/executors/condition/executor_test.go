package condition

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Execute(t *testing.T) {
	input := protocol.StepInput{
		InstanceID:        "inst-1",
		StepID:            "check",
		TriggerRecordType: "ticket",
		TriggerRecordID:   "T-1",
		Context:           map[string]any{"priority": "P1", "impact": float64(3)},
		Results:           map[string]json.RawMessage{"lookup": json.RawMessage(`{"vip": true}`)},
	}

	tests := []struct {
		name        string
		condition   string
		closeBranch bool
	}{
		{name: "context match", condition: `context.priority == "P1"`},
		{name: "context mismatch", condition: `context.priority == "P4"`, closeBranch: true},
		{name: "numeric", condition: `context.impact >= 3`},
		{name: "step result", condition: `steps.lookup.vip`},
		{name: "record", condition: `record.type == "ticket" && record.id == "T-1"`},
		{name: "undefined variable is nil", condition: `context.missing == nil`},
	}

	factory := NewFactory(nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor, err := factory.Create(context.Background(), map[string]any{"condition": tt.condition})
			require.NoError(t, err)

			out, err := executor.Execute(context.Background(), input, slog.Default())
			require.NoError(t, err)

			assert.Equal(t, tt.closeBranch, out.CloseBranch)
			assert.Equal(t, !tt.closeBranch, out.Result.(map[string]any)["result"])
		})
	}
}

func TestFactory_Create(t *testing.T) {
	factory := NewFactory(nil)

	_, err := factory.Create(context.Background(), map[string]any{})
	require.Error(t, err)

	_, err = factory.Create(context.Background(), map[string]any{"condition": "priority =="})
	require.Error(t, err)
}

func TestExecutor_NonBooleanIsPermanent(t *testing.T) {
	factory := NewFactory(nil)

	executor, err := factory.Create(context.Background(), map[string]any{"condition": "context.priority"})
	require.NoError(t, err)

	_, err = executor.Execute(context.Background(), protocol.StepInput{
		Context: map[string]any{"priority": "P1"},
	}, slog.Default())
	require.Error(t, err)

	var permanent *backoff.PermanentError
	assert.True(t, errors.As(err, &permanent))
}
