package itsm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Key    string
	Auth   string
	Body   map[string]any
}

type backend struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	response string
}

func newBackend(t *testing.T, status int, response string) (*backend, *Client) {
	t.Helper()

	b := &backend{status: status, response: response}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)

		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		b.mu.Lock()
		b.requests = append(b.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Key:    r.Header.Get(IdempotencyHeader),
			Auth:   r.Header.Get("Authorization"),
			Body:   body,
		})
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(b.status)
		_, _ = w.Write([]byte(b.response))
	}))
	t.Cleanup(server.Close)

	return b, NewClient(server.URL+"/", "secret", server.Client())
}

func (b *backend) last(t *testing.T) recordedRequest {
	t.Helper()

	b.mu.Lock()
	defer b.mu.Unlock()

	require.NotEmpty(t, b.requests)

	return b.requests[len(b.requests)-1]
}

func input() protocol.StepInput {
	return protocol.StepInput{
		InstanceID:        "inst-1",
		WorkflowID:        "wf-1",
		StepID:            "step-a",
		IdempotencyKey:    protocol.IdempotencyKey("inst-1", "step-a"),
		TriggerRecordType: "ticket",
		TriggerRecordID:   "T-42",
		Context:           map[string]any{"priority": "P1", "requester": "bob"},
		Results: map[string]json.RawMessage{
			"lookup": json.RawMessage(`{"body": {"owner": "alice", "team": "network"}}`),
		},
	}
}

func TestFieldUpdate(t *testing.T) {
	b, client := newBackend(t, http.StatusOK, `{"id": "T-42"}`)

	executor, err := NewFieldUpdateFactory(client).Create(context.Background(), map[string]any{
		"updates": map[string]any{
			"status": "in_progress",
			"owner":  "{{ .steps.lookup.body.owner }}",
		},
	})
	require.NoError(t, err)

	out, err := executor.Execute(context.Background(), input(), slog.Default())
	require.NoError(t, err)

	req := b.last(t)
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "/api/v1/records/ticket/T-42", req.Path)
	assert.Equal(t, "inst-1:step-a", req.Key)
	assert.Equal(t, "Bearer secret", req.Auth)
	assert.Equal(t, map[string]any{"status": "in_progress", "owner": "alice"}, req.Body)

	result := out.Result.(map[string]any)
	assert.Equal(t, "fields_updated", result["status"])
}

func TestFieldUpdate_TargetOverride(t *testing.T) {
	b, client := newBackend(t, http.StatusOK, `{}`)

	executor, err := NewFieldUpdateFactory(client).Create(context.Background(), map[string]any{
		"record_type": "change",
		"record_id":   "CHG-{{ .context.priority }}",
		"updates":     map[string]any{"risk": "high"},
	})
	require.NoError(t, err)

	_, err = executor.Execute(context.Background(), input(), slog.Default())
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/records/change/CHG-P1", b.last(t).Path)
}

func TestFieldUpdate_NoRecord(t *testing.T) {
	_, client := newBackend(t, http.StatusOK, `{}`)

	executor, err := NewFieldUpdateFactory(client).Create(context.Background(), map[string]any{
		"updates": map[string]any{"risk": "high"},
	})
	require.NoError(t, err)

	in := input()
	in.TriggerRecordType = ""
	in.TriggerRecordID = ""

	_, err = executor.Execute(context.Background(), in, slog.Default())
	require.Error(t, err)
	assertPermanent(t, err)
}

func TestAssignment(t *testing.T) {
	b, client := newBackend(t, http.StatusOK, `{}`)

	executor, err := NewAssignmentFactory(client).Create(context.Background(), map[string]any{
		"assignee":      "{{ .steps.lookup.body.team }}",
		"assignee_type": "GROUP",
	})
	require.NoError(t, err)

	_, err = executor.Execute(context.Background(), input(), slog.Default())
	require.NoError(t, err)

	req := b.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/v1/records/ticket/T-42/assignment", req.Path)
	assert.Equal(t, map[string]any{"assignee": "network", "assignee_type": "GROUP"}, req.Body)
}

func TestCreateRecord(t *testing.T) {
	b, client := newBackend(t, http.StatusCreated, `{"id": "TASK-7"}`)

	executor, err := NewCreateRecordFactory(client).Create(context.Background(), map[string]any{
		"record_type": "task",
		"link_parent": true,
		"data": map[string]any{
			"title":    "Follow up with {{ .context.requester }}",
			"priority": "{{ .context.priority }}",
		},
	})
	require.NoError(t, err)

	out, err := executor.Execute(context.Background(), input(), slog.Default())
	require.NoError(t, err)

	req := b.last(t)
	assert.Equal(t, "/api/v1/records/task", req.Path)
	assert.Equal(t, "Follow up with bob", req.Body["title"])
	assert.Equal(t, map[string]any{"type": "ticket", "id": "T-42"}, req.Body["parent"])

	result := out.Result.(map[string]any)
	assert.Equal(t, map[string]any{"id": "TASK-7"}, result["record"])
}

func TestNotification(t *testing.T) {
	b, client := newBackend(t, http.StatusAccepted, ``)

	executor, err := NewNotificationFactory(client).Create(context.Background(), map[string]any{
		"recipients": []any{"{{ .context.requester }}", "oncall@example.com"},
		"subject":    "Ticket {{ .record.id }}",
		"message":    "Priority {{ .context.priority }}",
	})
	require.NoError(t, err)

	out, err := executor.Execute(context.Background(), input(), slog.Default())
	require.NoError(t, err)

	req := b.last(t)
	assert.Equal(t, "/api/v1/notifications", req.Path)
	assert.Equal(t, "email", req.Body["channel"])
	assert.Equal(t, []any{"bob", "oncall@example.com"}, req.Body["recipients"])
	assert.Equal(t, "Ticket T-42", req.Body["subject"])
	assert.Equal(t, "Priority P1", req.Body["message"])

	assert.Equal(t, "notification_sent", out.Result.(map[string]any)["status"])
}

func TestAction(t *testing.T) {
	b, client := newBackend(t, http.StatusOK, `{"ok": true}`)

	executor, err := NewActionFactory(client).Create(context.Background(), map[string]any{
		"action": "escalate",
		"params": map[string]any{"level": "2"},
	})
	require.NoError(t, err)

	out, err := executor.Execute(context.Background(), input(), slog.Default())
	require.NoError(t, err)

	req := b.last(t)
	assert.Equal(t, "/api/v1/actions/escalate", req.Path)
	assert.Equal(t, map[string]any{"level": "2"}, req.Body["params"])
	assert.Equal(t, map[string]any{"ok": true}, out.Result.(map[string]any)["response"])
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{name: "bad request", status: http.StatusBadRequest, permanent: true},
		{name: "conflict", status: http.StatusConflict, permanent: true},
		{name: "rate limited", status: http.StatusTooManyRequests},
		{name: "server error", status: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := newBackend(t, tt.status, `{"error": "nope"}`)

			_, err := client.Notify(context.Background(), "k", map[string]any{})
			require.Error(t, err)

			var httpErr *HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.status, httpErr.StatusCode)

			var permanent *backoff.PermanentError
			assert.Equal(t, tt.permanent, errors.As(err, &permanent))
		})
	}
}

func TestClient_NotConfigured(t *testing.T) {
	client := NewClient("", "", nil)

	_, err := client.RunAction(context.Background(), "k", "close", nil)
	require.ErrorIs(t, err, ErrBackendNotConfigured)
	assertPermanent(t, err)
}

func TestFactories_RequiredFields(t *testing.T) {
	client := NewClient("http://localhost", "", nil)
	ctx := context.Background()

	_, err := NewFieldUpdateFactory(client).Create(ctx, map[string]any{})
	require.Error(t, err)

	_, err = NewAssignmentFactory(client).Create(ctx, map[string]any{})
	require.Error(t, err)

	_, err = NewCreateRecordFactory(client).Create(ctx, map[string]any{})
	require.Error(t, err)

	_, err = NewNotificationFactory(client).Create(ctx, map[string]any{"recipients": []any{"a"}})
	require.Error(t, err)

	_, err = NewActionFactory(client).Create(ctx, map[string]any{})
	require.Error(t, err)
}

func assertPermanent(t *testing.T, err error) {
	t.Helper()

	var permanent *backoff.PermanentError
	assert.True(t, errors.As(err, &permanent), "expected a permanent error, got %v", err)
}
