package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

const approvalColumns = `
	id
  , workflow_instance_id
  , workflow_id
  , step_id
  , approver_type
  , approver_ref
  , status
  , comments
  , requested_at
  , decided_at
  , decided_by
`

// ApprovalRepository stores approvals in their own table.
type ApprovalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *ApprovalRepository) CreateIfAbsent(ctx context.Context, approval *models.Approval) (*models.Approval, bool, error) {
	query := `
		INSERT INTO approvals (` + approvalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		approval.ID,
		approval.WorkflowInstanceID,
		approval.WorkflowID,
		approval.StepID,
		string(approval.ApproverType),
		approval.ApproverRef,
		string(approval.Status),
		approval.Comments,
		approval.RequestedAt,
		approval.DecidedAt,
		approval.DecidedBy,
	)
	if err != nil {
		return nil, false, persistence.NewApprovalError("CreateIfAbsent", approval.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, persistence.NewApprovalError("CreateIfAbsent", approval.ID, err)
	}

	if affected == 1 {
		stored := *approval

		return &stored, true, nil
	}

	existing, err := r.GetByID(ctx, approval.ID)
	if err != nil {
		return nil, false, err
	}

	return existing, false, nil
}

func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.Approval, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = $1`, id)

	approval, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewApprovalError("GetByID", id, persistence.ErrApprovalNotFound)
		}

		return nil, persistence.NewApprovalError("GetByID", id, err)
	}

	return approval, nil
}

func (r *ApprovalRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.Approval, error) {
	return r.query(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE workflow_instance_id = $1 ORDER BY requested_at, id`, instanceID)
}

func (r *ApprovalRepository) ListPending(ctx context.Context) ([]*models.Approval, error) {
	return r.query(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE status = $1 ORDER BY requested_at, id`, string(models.ApprovalPending))
}

func (r *ApprovalRepository) query(ctx context.Context, query string, args ...any) ([]*models.Approval, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	approvals := make([]*models.Approval, 0)

	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}

		approvals = append(approvals, approval)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating approvals: %w", err)
	}

	return approvals, nil
}

// Decide is a compare-and-set on status = PENDING.
func (r *ApprovalRepository) Decide(ctx context.Context, id string, decision persistence.ApprovalDecision) (*models.Approval, error) {
	query := `
		UPDATE approvals
		SET status = $2
		  , decided_by = $3
		  , comments = $4
		  , decided_at = $5
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + approvalColumns

	row := r.db.QueryRowContext(ctx, query,
		id,
		string(decision.Status),
		decision.DecidedBy,
		decision.Comments,
		decision.DecidedAt.UTC(),
	)

	approval, err := scanApproval(row)
	if err == nil {
		return approval, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewApprovalError("Decide", id, err)
	}

	_, err = r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return nil, persistence.NewApprovalError("Decide", id, persistence.ErrApprovalAlreadyDecided)
}

func scanApproval(row scanner) (*models.Approval, error) {
	var (
		approval     models.Approval
		approverType string
		status       string
		decidedAt    sql.NullTime
	)

	err := row.Scan(
		&approval.ID,
		&approval.WorkflowInstanceID,
		&approval.WorkflowID,
		&approval.StepID,
		&approverType,
		&approval.ApproverRef,
		&status,
		&approval.Comments,
		&approval.RequestedAt,
		&decidedAt,
		&approval.DecidedBy,
	)
	if err != nil {
		return nil, err
	}

	approval.ApproverType = models.ApproverType(approverType)
	approval.Status = models.ApprovalStatus(status)

	if decidedAt.Valid {
		t := decidedAt.Time.UTC()
		approval.DecidedAt = &t
	}

	approval.RequestedAt = approval.RequestedAt.UTC()

	return &approval, nil
}
