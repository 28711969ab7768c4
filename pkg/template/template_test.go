package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_SimpleExpression(t *testing.T) {
	data := map[string]any{
		"name":  "John",
		"age":   30,
		"isNew": true,
	}

	result, err := Render("{{ .name }}", data)
	require.NoError(t, err)
	assert.Equal(t, "John", result)

	result, err = Render("{{ .isNew }}", data)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	// numbers always come back as float64
	result, err = Render("{{ .age }}", data)
	require.NoError(t, err)
	assert.Equal(t, 30.0, result)
}

func TestRender_WithStepResults(t *testing.T) {
	data := map[string]any{
		"steps": map[string]any{
			"lookup": map[string]any{
				"status": 200,
				"body":   map[string]any{"assignee": "alice"},
			},
		},
	}

	result, err := Render("{{ .steps.lookup.body.assignee }}", data)
	require.NoError(t, err)
	assert.Equal(t, "alice", result)

	result, err = Render("{{ if eq .steps.lookup.status 200 }}found{{ else }}missing{{ end }}", data)
	require.NoError(t, err)
	assert.Equal(t, "found", result)
}

func TestRender_ObjectConstruction(t *testing.T) {
	data := map[string]any{
		"record": map[string]any{"type": "ticket", "id": "T-1"},
		"items":  []any{1, 2, 3},
	}

	result, err := Render(`{"ref": "{{ .record.type }}/{{ .record.id }}", "count": {{ len .items }}}`, data)
	require.NoError(t, err)

	resultMap, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ticket/T-1", resultMap["ref"])
	assert.Equal(t, 3.0, resultMap["count"])
}

func TestRender_InvalidJSONStaysString(t *testing.T) {
	result, err := Render("{{ .open }} not json }", map[string]any{"open": "{"})
	require.NoError(t, err)
	assert.Equal(t, "{ not json }", result)
}

func TestRender_Errors(t *testing.T) {
	_, err := Render("{{ .a ", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse template")

	_, err = Render("{{ nonexistent.field }}", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "function \"nonexistent\" not defined")
}

func TestRenderString(t *testing.T) {
	data := map[string]any{"record": map[string]any{"id": "42"}}

	result, err := RenderString("https://itsm.local/tickets/{{ .record.id }}", data)
	require.NoError(t, err)
	assert.Equal(t, "https://itsm.local/tickets/42", result)

	result, err = RenderString("{{ .missing }}", data)
	require.NoError(t, err)
	assert.Empty(t, result)

	result, err = RenderString("plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", result)
}

func TestRender_Funcs(t *testing.T) {
	result, err := Render(`{{ default "unassigned" .owner }}`, map[string]any{"owner": ""})
	require.NoError(t, err)
	assert.Equal(t, "unassigned", result)

	result, err = Render(`{{ json .tags }}`, map[string]any{"tags": []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, result)
}

func TestRenderValue(t *testing.T) {
	data := map[string]any{"context": map[string]any{"priority": "P1", "team": "network"}}

	config := map[string]any{
		"fields": map[string]any{
			"priority": "{{ .context.priority }}",
			"labels":   []any{"auto", "{{ .context.team }}"},
			"count":    3,
		},
	}

	rendered, err := RenderValue(config, data)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"fields": map[string]any{
			"priority": "P1",
			"labels":   []any{"auto", "network"},
			"count":    3,
		},
	}, rendered)

	// the input is left untouched
	assert.Equal(t, "{{ .context.priority }}", config["fields"].(map[string]any)["priority"])
}
