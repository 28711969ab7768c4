package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

// WorkflowRepository handles workflow definition files.
type WorkflowRepository struct {
	store *store
}

// List returns the non-deleted definitions, newest first.
func (wr *WorkflowRepository) List(_ context.Context, filter persistence.WorkflowFilter) ([]*models.WorkflowDefinition, error) {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	ids, err := wr.store.list("workflows")
	if err != nil {
		return nil, err
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		definition, err := wr.get(id)
		if err != nil {
			return nil, err
		}

		if definition == nil || definition.DeletedAt != nil {
			continue
		}

		if filter.ActiveOnly && !definition.IsActive {
			continue
		}

		if filter.TriggerType != "" && definition.TriggerType != filter.TriggerType {
			continue
		}

		definitions = append(definitions, definition)
	}

	sort.SliceStable(definitions, func(i, j int) bool {
		return definitions[i].CreatedAt.After(definitions[j].CreatedAt)
	})

	return definitions, nil
}

// GetByID retrieves a non-deleted definition.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	definition, err := wr.get(id)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	if definition == nil || definition.DeletedAt != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return definition, nil
}

func (wr *WorkflowRepository) get(id string) (*models.WorkflowDefinition, error) {
	if !validID(id) {
		return nil, nil
	}

	var definition models.WorkflowDefinition

	found, err := wr.store.read(wr.store.path("workflows", id+".json"), &definition)
	if err != nil || !found {
		return nil, err
	}

	return &definition, nil
}

// Save creates or replaces a definition.
func (wr *WorkflowRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	if !validID(definition.ID) {
		return persistence.NewWorkflowError("Save", definition.ID, fmt.Errorf("invalid workflow id %q", definition.ID))
	}

	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	now := time.Now().UTC()
	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	if definition.UpdatedAt.IsZero() {
		definition.UpdatedAt = now
	}

	err := wr.store.write(wr.store.path("workflows", definition.ID+".json"), definition)
	if err != nil {
		return persistence.NewWorkflowError("Save", definition.ID, err)
	}

	return nil
}

// Delete marks a definition deleted and inactive.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	definition, err := wr.get(id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if definition == nil || definition.DeletedAt != nil {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	now := time.Now().UTC()
	definition.DeletedAt = &now
	definition.IsActive = false
	definition.UpdatedAt = now

	err = wr.store.write(wr.store.path("workflows", id+".json"), definition)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}
