package file

import (
	"context"
	"fmt"
	"sort"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

// ApprovalRepository handles approval files.
type ApprovalRepository struct {
	store *store
}

func (ar *ApprovalRepository) CreateIfAbsent(_ context.Context, approval *models.Approval) (*models.Approval, bool, error) {
	if !validID(approval.ID) {
		return nil, false, persistence.NewApprovalError("CreateIfAbsent", approval.ID, fmt.Errorf("invalid approval id %q", approval.ID))
	}

	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	existing, err := ar.get(approval.ID)
	if err != nil {
		return nil, false, persistence.NewApprovalError("CreateIfAbsent", approval.ID, err)
	}

	if existing != nil {
		return existing, false, nil
	}

	err = ar.store.write(ar.store.path("approvals", approval.ID+".json"), approval)
	if err != nil {
		return nil, false, persistence.NewApprovalError("CreateIfAbsent", approval.ID, err)
	}

	stored := *approval

	return &stored, true, nil
}

func (ar *ApprovalRepository) GetByID(_ context.Context, id string) (*models.Approval, error) {
	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	approval, err := ar.get(id)
	if err != nil {
		return nil, persistence.NewApprovalError("GetByID", id, err)
	}

	if approval == nil {
		return nil, persistence.NewApprovalError("GetByID", id, persistence.ErrApprovalNotFound)
	}

	return approval, nil
}

func (ar *ApprovalRepository) get(id string) (*models.Approval, error) {
	if !validID(id) {
		return nil, nil
	}

	var approval models.Approval

	found, err := ar.store.read(ar.store.path("approvals", id+".json"), &approval)
	if err != nil || !found {
		return nil, err
	}

	return &approval, nil
}

func (ar *ApprovalRepository) ListByInstance(_ context.Context, instanceID string) ([]*models.Approval, error) {
	return ar.filter(func(a *models.Approval) bool {
		return a.WorkflowInstanceID == instanceID
	})
}

func (ar *ApprovalRepository) ListPending(_ context.Context) ([]*models.Approval, error) {
	return ar.filter((*models.Approval).Pending)
}

func (ar *ApprovalRepository) filter(keep func(*models.Approval) bool) ([]*models.Approval, error) {
	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	ids, err := ar.store.list("approvals")
	if err != nil {
		return nil, err
	}

	approvals := make([]*models.Approval, 0)

	for _, id := range ids {
		approval, err := ar.get(id)
		if err != nil {
			return nil, persistence.NewApprovalError("List", id, err)
		}

		if approval != nil && keep(approval) {
			approvals = append(approvals, approval)
		}
	}

	sort.SliceStable(approvals, func(i, j int) bool {
		return approvals[i].RequestedAt.Before(approvals[j].RequestedAt)
	})

	return approvals, nil
}

// Decide is the compare-and-set on the PENDING status.
func (ar *ApprovalRepository) Decide(_ context.Context, id string, decision persistence.ApprovalDecision) (*models.Approval, error) {
	ar.store.mu.Lock()
	defer ar.store.mu.Unlock()

	approval, err := ar.get(id)
	if err != nil {
		return nil, persistence.NewApprovalError("Decide", id, err)
	}

	if approval == nil {
		return nil, persistence.NewApprovalError("Decide", id, persistence.ErrApprovalNotFound)
	}

	if !approval.Pending() {
		return nil, persistence.NewApprovalError("Decide", id, persistence.ErrApprovalAlreadyDecided)
	}

	decidedAt := decision.DecidedAt.UTC()
	approval.Status = decision.Status
	approval.DecidedBy = decision.DecidedBy
	approval.Comments = decision.Comments
	approval.DecidedAt = &decidedAt

	err = ar.store.write(ar.store.path("approvals", id+".json"), approval)
	if err != nil {
		return nil, persistence.NewApprovalError("Decide", id, err)
	}

	return approval, nil
}
