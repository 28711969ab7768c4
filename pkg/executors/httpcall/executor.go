// Package httpcall provides the HTTP_CALL executor.
package httpcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/dukex/flowgate/pkg/template"
)

const defaultTimeout = 30 * time.Second

var methods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
	http.MethodPatch, http.MethodHead, http.MethodOptions,
}

// Config defines the configuration of an HTTP call.
type Config struct {
	URL            string
	Method         string
	Headers        map[string]string
	Body           any
	Timeout        time.Duration
	ExpectedStatus []int
}

// Executor performs one HTTP request per attempt.
type Executor struct {
	config Config
	client *http.Client
}

// HTTPError is an unexpected status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// New parses config into an executor.
func New(config map[string]any, client *http.Client) (*Executor, error) {
	cfg := Config{
		Method:  http.MethodGet,
		Headers: make(map[string]string),
		Timeout: defaultTimeout,
	}

	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, errors.New("missing required field 'url'")
	}

	cfg.URL = url

	if method, ok := config["method"].(string); ok && method != "" {
		cfg.Method = strings.ToUpper(method)
	}

	if !slices.Contains(methods, cfg.Method) {
		return nil, fmt.Errorf("invalid HTTP method: %s", cfg.Method)
	}

	if headers, ok := config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				cfg.Headers[k] = s
			}
		}
	}

	cfg.Body = config["body"]

	if timeout, ok := number(config["timeout"]); ok {
		if timeout < 1 || timeout > 300 {
			return nil, errors.New("timeout must be between 1 and 300 seconds")
		}

		cfg.Timeout = time.Duration(timeout * float64(time.Second))
	}

	if statuses, ok := config["expected_status"].([]any); ok {
		for _, s := range statuses {
			if code, ok := number(s); ok {
				cfg.ExpectedStatus = append(cfg.ExpectedStatus, int(code))
			}
		}
	}

	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Executor{config: cfg, client: client}, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}

// Execute renders the request and performs it. Client errors are permanent;
// network errors and server errors are left to the retry policy.
func (e *Executor) Execute(ctx context.Context, input protocol.StepInput, logger *slog.Logger) (protocol.StepOutput, error) {
	data := input.Data()

	url, err := template.RenderString(e.config.URL, data)
	if err != nil {
		return protocol.StepOutput{}, backoff.Permanent(fmt.Errorf("failed to render URL template: %w", err))
	}

	body, err := e.renderBody(data)
	if err != nil {
		return protocol.StepOutput{}, backoff.Permanent(err)
	}

	headers := make(map[string]string, len(e.config.Headers))

	for key, value := range e.config.Headers {
		rendered, err := template.RenderString(value, data)
		if err != nil {
			return protocol.StepOutput{}, backoff.Permanent(fmt.Errorf("failed to render header %s: %w", key, err))
		}

		headers[key] = rendered
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	logger.InfoContext(ctx, "Performing HTTP call", "method", e.config.Method, "url", url)

	result, err := e.perform(ctx, url, body, headers, input.IdempotencyKey)
	if err != nil {
		return protocol.StepOutput{}, err
	}

	return protocol.StepOutput{Result: result}, nil
}

func (e *Executor) renderBody(data map[string]any) (string, error) {
	switch body := e.config.Body.(type) {
	case nil:
		return "", nil
	case string:
		rendered, err := template.RenderString(body, data)
		if err != nil {
			return "", fmt.Errorf("failed to render body template: %w", err)
		}

		return rendered, nil
	default:
		rendered, err := template.RenderValue(body, data)
		if err != nil {
			return "", fmt.Errorf("failed to render body template: %w", err)
		}

		b, err := json.Marshal(rendered)
		if err != nil {
			return "", fmt.Errorf("failed to encode body: %w", err)
		}

		return string(b), nil
	}
}

func (e *Executor) perform(ctx context.Context, url, body string, headers map[string]string, key string) (map[string]any, error) {
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, e.config.Method, url, reqBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Idempotency-Key", key)

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if !e.expected(resp.StatusCode) {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}

		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(httpErr)
		}

		return nil, httpErr
	}

	headersOut := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headersOut[k] = resp.Header.Get(k)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headersOut,
		"body":        string(respBody),
	}

	var jsonBody any
	if err := json.Unmarshal(respBody, &jsonBody); err == nil {
		result["json"] = jsonBody
	}

	return result, nil
}

func (e *Executor) expected(status int) bool {
	if len(e.config.ExpectedStatus) > 0 {
		return slices.Contains(e.config.ExpectedStatus, status)
	}

	return status < 400
}
