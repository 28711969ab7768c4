package expression_test

import (
	"testing"

	"github.com/dukex/flowgate/pkg/expression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_Evaluate(t *testing.T) {
	t.Parallel()

	evaluator := expression.NewEvaluator()
	env := map[string]any{
		"record": map[string]any{"priority": "P1", "impact": 3, "tags": []any{"network"}},
	}

	tests := []struct {
		name       string
		expression string
		want       bool
	}{
		{name: "string equality", expression: `record.priority == "P1"`, want: true},
		{name: "numeric comparison", expression: `record.impact > 4`, want: false},
		{name: "membership", expression: `"network" in record.tags`, want: true},
		{name: "combined", expression: `record.priority == "P1" && record.impact >= 3`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := evaluator.Evaluate(tt.expression, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_Errors(t *testing.T) {
	evaluator := expression.NewEvaluator()

	err := evaluator.Compile(`record.priority ==`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid expression")

	_, err = evaluator.Evaluate(`record.priority`, map[string]any{"record": map[string]any{"priority": "P1"}})
	assert.Error(t, err)
}

func TestEvaluator_CachesPrograms(t *testing.T) {
	evaluator := expression.NewEvaluator()

	require.NoError(t, evaluator.Compile(`status == "open"`))

	for _, status := range []string{"open", "closed"} {
		got, err := evaluator.Evaluate(`status == "open"`, map[string]any{"status": status})
		require.NoError(t, err)
		assert.Equal(t, status == "open", got)
	}
}
