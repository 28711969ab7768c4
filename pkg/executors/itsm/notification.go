package itsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/protocol"
	"github.com/dukex/flowgate/pkg/template"
)

// NotificationFactory creates NOTIFICATION executors. Delivery (email, chat,
// webhook) is done by the backend; the executor only submits the message.
type NotificationFactory struct {
	client *Client
}

func NewNotificationFactory(client *Client) *NotificationFactory {
	return &NotificationFactory{client: client}
}

func (f *NotificationFactory) Create(_ context.Context, config map[string]any) (protocol.StepExecutor, error) {
	message, _ := config["message"].(string)
	if message == "" {
		return nil, errors.New("missing required field 'message'")
	}

	channel, _ := config["channel"].(string)
	if channel == "" {
		channel = "email"
	}

	subject, _ := config["subject"].(string)

	var recipients []string

	if list, ok := config["recipients"].([]any); ok {
		for _, r := range list {
			if s, ok := r.(string); ok {
				recipients = append(recipients, s)
			}
		}
	}

	return &Notification{
		client:     f.client,
		channel:    channel,
		subject:    subject,
		message:    message,
		recipients: recipients,
	}, nil
}

func (f *NotificationFactory) StepType() models.StepType { return models.StepTypeNotification }

func (f *NotificationFactory) Name() string { return "Notification" }

func (f *NotificationFactory) Description() string {
	return "Submits a notification to the backend delivery service"
}

func (f *NotificationFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"channel": map[string]any{
				"type":    "string",
				"enum":    []string{"email", "slack", "teams", "webhook", "in_app"},
				"default": "email",
			},
			"recipients": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 1,
			},
			"subject": map[string]any{
				"type":        "string",
				"description": "Subject line. Supports templating",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message body. Supports templating",
				"minLength":   1,
			},
		},
		"required": []string{"recipients", "message"},
	}
}

// Notification submits one message.
type Notification struct {
	client     *Client
	channel    string
	subject    string
	message    string
	recipients []string
}

func (s *Notification) Execute(ctx context.Context, input protocol.StepInput, logger *slog.Logger) (protocol.StepOutput, error) {
	data := input.Data()

	subject, err := template.RenderString(s.subject, data)
	if err != nil {
		return protocol.StepOutput{}, backoff.Permanent(fmt.Errorf("failed to render subject: %w", err))
	}

	message, err := template.RenderString(s.message, data)
	if err != nil {
		return protocol.StepOutput{}, backoff.Permanent(fmt.Errorf("failed to render message: %w", err))
	}

	recipients := make([]string, 0, len(s.recipients))

	for _, r := range s.recipients {
		rendered, err := template.RenderString(r, data)
		if err != nil {
			return protocol.StepOutput{}, backoff.Permanent(fmt.Errorf("failed to render recipient: %w", err))
		}

		if rendered != "" {
			recipients = append(recipients, rendered)
		}
	}

	logger.InfoContext(ctx, "Submitting notification", "channel", s.channel, "recipients", len(recipients))

	_, err = s.client.Notify(ctx, input.IdempotencyKey, map[string]any{
		"channel":    s.channel,
		"recipients": recipients,
		"subject":    subject,
		"message":    message,
		"source": map[string]any{
			"workflow_id":          input.WorkflowID,
			"workflow_instance_id": input.InstanceID,
			"step_id":              input.StepID,
			"record_type":          input.TriggerRecordType,
			"record_id":            input.TriggerRecordID,
		},
	})
	if err != nil {
		return protocol.StepOutput{}, err
	}

	return protocol.StepOutput{Result: map[string]any{
		"status":     "notification_sent",
		"channel":    s.channel,
		"recipients": recipients,
		"message":    message,
	}}, nil
}
