package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/persistence"
)

// InstanceRepository handles workflow instance files.
type InstanceRepository struct {
	store *store
}

type dedupeMarker struct {
	Key        string `json:"key"`
	InstanceID string `json:"instance_id"`
}

func (ir *InstanceRepository) dedupePath(key string) string {
	sum := sha256.Sum256([]byte(key))

	return ir.store.path("dedupe", hex.EncodeToString(sum[:]))
}

// Create stores a new instance. The dedupe marker is written before the
// instance, so a crash in between leaves a marker without an instance; such
// markers are ignored and replaced.
func (ir *InstanceRepository) Create(_ context.Context, instance *models.WorkflowInstance) error {
	if !validID(instance.ID) {
		return persistence.NewInstanceError("Create", instance.ID, fmt.Errorf("invalid instance id %q", instance.ID))
	}

	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	existing, err := ir.get(instance.ID)
	if err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	if existing != nil {
		return persistence.NewInstanceError("Create", instance.ID, persistence.ErrDuplicateInstance)
	}

	if instance.DedupeKey != "" {
		var marker dedupeMarker

		found, err := ir.store.read(ir.dedupePath(instance.DedupeKey), &marker)
		if err != nil {
			return persistence.NewInstanceError("Create", instance.ID, err)
		}

		if found {
			owner, err := ir.get(marker.InstanceID)
			if err != nil {
				return persistence.NewInstanceError("Create", instance.ID, err)
			}

			if owner != nil {
				return persistence.NewInstanceError("Create", instance.ID,
					fmt.Errorf("%w: dedupe key %s is held by instance %s", persistence.ErrDuplicateInstance, instance.DedupeKey, owner.ID))
			}
		}

		err = ir.store.write(ir.dedupePath(instance.DedupeKey), dedupeMarker{Key: instance.DedupeKey, InstanceID: instance.ID})
		if err != nil {
			return persistence.NewInstanceError("Create", instance.ID, err)
		}
	}

	stored := *instance
	stored.Version = 1

	if stored.SchemaVersion == 0 {
		stored.SchemaVersion = models.InstanceSchemaVersion
	}

	err = ir.store.write(ir.store.path("instances", instance.ID+".json"), &stored)
	if err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	instance.Version = stored.Version
	instance.SchemaVersion = stored.SchemaVersion

	return nil
}

func (ir *InstanceRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	instance, err := ir.get(id)
	if err != nil {
		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	if instance == nil {
		return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
	}

	return instance, nil
}

func (ir *InstanceRepository) get(id string) (*models.WorkflowInstance, error) {
	if !validID(id) {
		return nil, nil
	}

	var instance models.WorkflowInstance

	found, err := ir.store.read(ir.store.path("instances", id+".json"), &instance)
	if err != nil || !found {
		return nil, err
	}

	return &instance, nil
}

// Update performs the compare-and-set on the instance version.
func (ir *InstanceRepository) Update(_ context.Context, instance *models.WorkflowInstance) error {
	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	current, err := ir.get(instance.ID)
	if err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	if current == nil {
		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrInstanceNotFound)
	}

	if current.Version != instance.Version {
		return persistence.NewInstanceError("Update", instance.ID,
			fmt.Errorf("%w: stored version %d, got %d", persistence.ErrVersionConflict, current.Version, instance.Version))
	}

	stored := *instance
	stored.Version++

	err = ir.store.write(ir.store.path("instances", instance.ID+".json"), &stored)
	if err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	instance.Version = stored.Version

	return nil
}

// List returns one page of instances, newest first.
func (ir *InstanceRepository) List(_ context.Context, filter persistence.InstanceFilter) (*persistence.InstancePage, error) {
	filter = filter.Normalize()

	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	all, err := ir.all()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.WorkflowInstance, 0, len(all))

	for _, instance := range all {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, instance.Status) {
			continue
		}

		if filter.WorkflowID != "" && instance.WorkflowID != filter.WorkflowID {
			continue
		}

		matched = append(matched, instance)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].ID > matched[j].ID
		}

		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	page := &persistence.InstancePage{
		Instances:  []*models.WorkflowInstance{},
		TotalCount: len(matched),
		Page:       filter.Page,
		PageSize:   filter.PageSize,
	}

	start := filter.Offset()
	if start >= len(matched) {
		return page, nil
	}

	end := min(start+filter.PageSize, len(matched))

	page.Instances = matched[start:end]
	page.HasNextPage = end < len(matched)

	return page, nil
}

func (ir *InstanceRepository) ListActive(_ context.Context) ([]*models.WorkflowInstance, error) {
	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	all, err := ir.all()
	if err != nil {
		return nil, err
	}

	active := make([]*models.WorkflowInstance, 0)

	for _, instance := range all {
		if !instance.Status.Terminal() {
			active = append(active, instance)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].StartedAt.Before(active[j].StartedAt)
	})

	return active, nil
}

func (ir *InstanceRepository) all() ([]*models.WorkflowInstance, error) {
	ids, err := ir.store.list("instances")
	if err != nil {
		return nil, err
	}

	instances := make([]*models.WorkflowInstance, 0, len(ids))

	for _, id := range ids {
		instance, err := ir.get(id)
		if err != nil {
			return nil, persistence.NewInstanceError("List", id, err)
		}

		if instance != nil {
			instances = append(instances, instance)
		}
	}

	return instances, nil
}
