package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/lib/pq"
)

// InstanceRepository stores instances; version is the optimistic lock column.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *InstanceRepository) Create(ctx context.Context, instance *models.WorkflowInstance) error {
	stored := *instance
	stored.Version = 1

	if stored.SchemaVersion == 0 {
		stored.SchemaVersion = models.InstanceSchemaVersion
	}

	document, err := json.Marshal(&stored)
	if err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	query := `
		INSERT INTO workflow_instances (id, workflow_id, status, dedupe_key, version, document, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		stored.ID,
		stored.WorkflowID,
		string(stored.Status),
		sql.NullString{String: stored.DedupeKey, Valid: stored.DedupeKey != ""},
		stored.Version,
		document,
		stored.StartedAt,
		stored.CompletedAt,
		stored.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewInstanceError("Create", instance.ID, persistence.ErrDuplicateInstance)
		}

		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	instance.Version = stored.Version
	instance.SchemaVersion = stored.SchemaVersion

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document, version FROM workflow_instances WHERE id = $1`, id)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	return instance, nil
}

func scanInstance(row scanner) (*models.WorkflowInstance, error) {
	var (
		document []byte
		version  int
	)

	err := row.Scan(&document, &version)
	if err != nil {
		return nil, err
	}

	var instance models.WorkflowInstance

	err = json.Unmarshal(document, &instance)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
	}

	instance.Version = version

	return &instance, nil
}

// Update is a compare-and-set on the version column.
func (r *InstanceRepository) Update(ctx context.Context, instance *models.WorkflowInstance) error {
	stored := *instance
	stored.Version = instance.Version + 1

	document, err := json.Marshal(&stored)
	if err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	query := `
		UPDATE workflow_instances
		SET status = $2
		  , version = version + 1
		  , document = $3
		  , completed_at = $4
		  , updated_at = $5
		WHERE id = $1 AND version = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		instance.ID,
		string(instance.Status),
		document,
		instance.CompletedAt,
		instance.UpdatedAt,
		instance.Version,
	)
	if err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	if affected == 0 {
		var exists bool

		err = r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM workflow_instances WHERE id = $1)`, instance.ID).Scan(&exists)
		if err != nil {
			return persistence.NewInstanceError("Update", instance.ID, err)
		}

		if !exists {
			return persistence.NewInstanceError("Update", instance.ID, persistence.ErrInstanceNotFound)
		}

		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrVersionConflict)
	}

	instance.Version = stored.Version

	return nil
}

func (r *InstanceRepository) List(ctx context.Context, filter persistence.InstanceFilter) (*persistence.InstancePage, error) {
	filter = filter.Normalize()

	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}

	where := `
		WHERE (cardinality($1::text[]) = 0 OR status = ANY($1::text[]))
		  AND ($2::text = '' OR workflow_id = $2::text)
	`

	var total int

	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_instances `+where, pq.Array(statuses), filter.WorkflowID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflow instances: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT document, version FROM workflow_instances `+where+` ORDER BY started_at DESC, id DESC LIMIT $3 OFFSET $4`,
		pq.Array(statuses), filter.WorkflowID, filter.PageSize, filter.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow instances: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	instances, err := collectInstances(rows)
	if err != nil {
		return nil, err
	}

	return &persistence.InstancePage{
		Instances:   instances,
		TotalCount:  total,
		Page:        filter.Page,
		PageSize:    filter.PageSize,
		HasNextPage: filter.Offset()+len(instances) < total,
	}, nil
}

func (r *InstanceRepository) ListActive(ctx context.Context) ([]*models.WorkflowInstance, error) {
	statuses := make([]string, 0, len(models.ActiveInstanceStatuses))
	for _, status := range models.ActiveInstanceStatuses {
		statuses = append(statuses, string(status))
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT document, version FROM workflow_instances WHERE status = ANY($1::text[]) ORDER BY started_at, id`,
		pq.Array(statuses))
	if err != nil {
		return nil, fmt.Errorf("failed to query active workflow instances: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	return collectInstances(rows)
}

func collectInstances(rows *sql.Rows) ([]*models.WorkflowInstance, error) {
	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflow instances: %w", err)
	}

	return instances, nil
}
