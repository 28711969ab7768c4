// Package itsm provides the executors that act on the ITSM backend (field
// updates, assignments, record creation, notifications and named actions)
// and the REST client they share.
package itsm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowgate/pkg/log"
)

// IdempotencyHeader carries protocol.IdempotencyKey on every mutating call.
const IdempotencyHeader = "Idempotency-Key"

var ErrBackendNotConfigured = errors.New("ITSM backend URL is not configured")

// HTTPError is a non-2xx answer of the backend.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("ITSM backend returned HTTP %d: %s", e.StatusCode, e.Message)
}

// Client calls the ITSM backend REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the backend at baseURL. token, when not
// empty, is sent as a bearer token.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// UpdateRecord merges fields into a record.
func (c *Client) UpdateRecord(ctx context.Context, key, recordType, recordID string, fields map[string]any) (map[string]any, error) {
	return c.do(ctx, http.MethodPatch, recordPath(recordType, recordID), key, fields)
}

// Assign sets the assignee of a record.
func (c *Client) Assign(ctx context.Context, key, recordType, recordID string, assignment map[string]any) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, recordPath(recordType, recordID)+"/assignment", key, assignment)
}

// CreateRecord creates a new record of recordType.
func (c *Client) CreateRecord(ctx context.Context, key, recordType string, data map[string]any) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/records/"+url.PathEscape(recordType), key, data)
}

// Notify hands a notification to the backend's delivery service.
func (c *Client) Notify(ctx context.Context, key string, notification map[string]any) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/notifications", key, notification)
}

// RunAction invokes a named backend action.
func (c *Client) RunAction(ctx context.Context, key, action string, payload map[string]any) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/actions/"+url.PathEscape(action), key, payload)
}

func recordPath(recordType, recordID string) string {
	return "/api/v1/records/" + url.PathEscape(recordType) + "/" + url.PathEscape(recordID)
}

// do sends one request. Client errors are wrapped with backoff.Permanent so
// the runner does not retry them.
func (c *Client) do(ctx context.Context, method, path, key string, body any) (map[string]any, error) {
	if c.baseURL == "" {
		return nil, backoff.Permanent(ErrBackendNotConfigured)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to encode request body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(IdempotencyHeader, key)

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to ITSM backend failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	log.FromContext(ctx, slog.Default()).DebugContext(ctx, "ITSM backend answered",
		"method", method, "path", path, "status_code", resp.StatusCode)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ITSM backend response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}

		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(httpErr)
		}

		return nil, httpErr
	}

	result := map[string]any{"status_code": resp.StatusCode}

	if len(bytes.TrimSpace(respBody)) > 0 {
		var decoded any
		if err := json.Unmarshal(respBody, &decoded); err == nil {
			result["body"] = decoded
		} else {
			result["body"] = string(respBody)
		}
	}

	return result, nil
}
