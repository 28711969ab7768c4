package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// List returns the non-deleted definitions, newest first.
func (r *WorkflowRepository) List(ctx context.Context, filter persistence.WorkflowFilter) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT document
		FROM workflows
		WHERE deleted_at IS NULL
		  AND ($1::boolean = false OR is_active = true)
		  AND ($2::text = '' OR trigger_type = $2::text)
		ORDER BY created_at DESC, id
	`

	rows, err := r.db.QueryContext(ctx, query, filter.ActiveOnly, string(filter.TriggerType))
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}

		definitions = append(definitions, definition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return definitions, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document FROM workflows WHERE id = $1 AND deleted_at IS NULL`, id)

	definition, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return definition, nil
}

func scanWorkflow(row scanner) (*models.WorkflowDefinition, error) {
	var document []byte

	err := row.Scan(&document)
	if err != nil {
		return nil, err
	}

	var definition models.WorkflowDefinition

	err = json.Unmarshal(document, &definition)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}

	return &definition, nil
}

// Save upserts a definition.
func (r *WorkflowRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	now := time.Now().UTC()

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	if definition.UpdatedAt.IsZero() {
		definition.UpdatedAt = now
	}

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		definition.ID = id.String()
	}

	document, err := json.Marshal(definition)
	if err != nil {
		return persistence.NewWorkflowError("Save", definition.ID, err)
	}

	query := `
		INSERT INTO workflows (id, name, trigger_type, is_active, version, document, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , trigger_type = EXCLUDED.trigger_type
		  , is_active = EXCLUDED.is_active
		  , version = EXCLUDED.version
		  , document = EXCLUDED.document
		  , updated_at = EXCLUDED.updated_at
		  , deleted_at = EXCLUDED.deleted_at
	`

	_, err = r.db.ExecContext(ctx, query,
		definition.ID,
		definition.Name,
		string(definition.TriggerType),
		definition.IsActive,
		definition.Version,
		document,
		definition.CreatedAt,
		definition.UpdatedAt,
		definition.DeletedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", definition.ID, err)
	}

	return nil
}

// Delete soft deletes a definition and deactivates it.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	definition, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	definition.DeletedAt = &now
	definition.IsActive = false
	definition.UpdatedAt = now

	return r.Save(ctx, definition)
}
