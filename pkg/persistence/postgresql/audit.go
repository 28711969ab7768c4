package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

// AuditRepository appends audit events; seq keeps the append order.
type AuditRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *AuditRepository) Append(ctx context.Context, event *models.AuditEvent) error {
	query := `
		INSERT INTO audit_events (id, workflow_id, workflow_instance_id, type, step_id, approval_id, actor, details, instance_version, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	var details any
	if len(event.Details) > 0 {
		details = []byte(event.Details)
	}

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.WorkflowID,
		event.WorkflowInstanceID,
		string(event.Type),
		event.StepID,
		event.ApprovalID,
		event.Actor,
		details,
		event.InstanceVersion,
		event.OccurredAt,
	)
	if err != nil {
		return persistence.NewInstanceError("AppendAudit", event.WorkflowInstanceID, err)
	}

	return nil
}

func (r *AuditRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.AuditEvent, error) {
	query := `
		SELECT id, workflow_id, workflow_instance_id, type, step_id, approval_id, actor, details, instance_version, occurred_at
		FROM audit_events
		WHERE workflow_instance_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	events := make([]*models.AuditEvent, 0)

	for rows.Next() {
		var (
			event     models.AuditEvent
			eventType string
			details   []byte
		)

		err := rows.Scan(
			&event.ID,
			&event.WorkflowID,
			&event.WorkflowInstanceID,
			&eventType,
			&event.StepID,
			&event.ApprovalID,
			&event.Actor,
			&details,
			&event.InstanceVersion,
			&event.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		event.Type = models.AuditEventType(eventType)
		event.Details = details
		event.OccurredAt = event.OccurredAt.UTC()

		events = append(events, &event)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}
