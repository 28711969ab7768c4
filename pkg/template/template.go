// Package template renders step configuration values against the data of a
// running instance (trigger context, record reference, results of earlier
// steps).
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}

		return string(b), nil
	},
	"default": func(fallback, v any) any {
		if v == nil {
			return fallback
		}

		if s, ok := v.(string); ok && s == "" {
			return fallback
		}

		return v
	},
}

// NeedsTemplating reports whether s contains a template action.
func NeedsTemplating(s string) bool {
	return strings.Contains(s, "{{")
}

// RenderString executes templateStr and returns the raw text.
func RenderString(templateStr string, data any) (string, error) {
	if !NeedsTemplating(templateStr) {
		return templateStr, nil
	}

	tmpl, err := template.New("step").Option("missingkey=zero").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// Render executes templateStr and converts the output into a JSON value,
// number or boolean when it looks like one. Anything else stays a string.
func Render(templateStr string, data any) (any, error) {
	if !NeedsTemplating(templateStr) {
		return templateStr, nil
	}

	rendered, err := RenderString(templateStr, data)
	if err != nil {
		return nil, err
	}

	result := strings.TrimSpace(rendered)

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		if err := json.Unmarshal([]byte(result), &jsonResult); err == nil {
			return jsonResult, nil
		}

		return result, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderValue walks maps and slices and renders every string leaf with Render.
func RenderValue(value any, data any) (any, error) {
	switch v := value.(type) {
	case string:
		return Render(v, data)
	case map[string]any:
		out := make(map[string]any, len(v))

		for key, item := range v {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}

			out[key] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, 0, len(v))

		for i, item := range v {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			out = append(out, rendered)
		}

		return out, nil
	default:
		return value, nil
	}
}
