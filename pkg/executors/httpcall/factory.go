package httpcall

import (
	"context"
	"net/http"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
)

// Factory creates HTTP_CALL executors.
type Factory struct {
	client *http.Client
}

// NewFactory creates a factory. A nil client uses a per-call client built
// from the step timeout.
func NewFactory(client *http.Client) *Factory {
	return &Factory{client: client}
}

func (f *Factory) Create(_ context.Context, config map[string]any) (protocol.StepExecutor, error) {
	return New(config, f.client)
}

func (f *Factory) StepType() models.StepType {
	return models.StepTypeHTTPCall
}

func (f *Factory) Name() string {
	return "HTTP call"
}

func (f *Factory) Description() string {
	return "Performs an HTTP request against an external system and exposes the response to later steps"
}

// Schema returns the JSON schema for HTTP call configuration.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to request. Supports templating with {{ .steps.<step_id>.<field> }}",
				"minLength":   1,
				"examples": []string{
					"https://cmdb.example.com/api/ci/{{ .context.ci_id }}",
					"{{ .steps.lookup.body.callback_url }}",
				},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method",
				"default":     "GET",
				"enum":        []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
			},
			"headers": map[string]any{
				"type":                 "object",
				"description":          "HTTP headers. Values support templating",
				"additionalProperties": map[string]any{"type": "string"},
				"examples": []map[string]any{
					{"Authorization": "Bearer {{ .context.token }}"},
				},
			},
			"body": map[string]any{
				"description": "Request body. An object is sent as JSON, a string is sent as is. Both support templating",
				"examples": []any{
					map[string]any{"ticket": "{{ .record.id }}", "status": "approved"},
					`{"ticket": "{{ .record.id }}"}`,
				},
			},
			"timeout": map[string]any{
				"type":        "number",
				"description": "Request timeout in seconds",
				"default":     30,
				"minimum":     1,
				"maximum":     300,
			},
			"expected_status": map[string]any{
				"type":        "array",
				"description": "Status codes counted as success. Defaults to any 2xx or 3xx",
				"items":       map[string]any{"type": "integer", "minimum": 100, "maximum": 599},
			},
		},
		"required": []string{"url"},
		"examples": []map[string]any{
			{
				"url":    "https://status.example.com/api/incidents",
				"method": "POST",
				"body":   map[string]any{"title": "{{ .context.title }}", "ticket": "{{ .record.id }}"},
			},
		},
	}
}
