package services

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/testutil"
	"github.com/dukex/flowgate/pkg/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t         *testing.T
	engine    *testutil.Engine
	workflows *Workflow
	instances *Instance
	approvals *Approval
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	e := testutil.NewTestEngine(t)
	listener := trigger.NewListener(testutil.Logger(), e.Persistence.WorkflowRepository(), nil)

	return &fixture{
		t:         t,
		engine:    e,
		workflows: NewWorkflow(e.Persistence, e.Registry, nil),
		instances: NewInstance(e.Persistence, e.Engine, listener),
		approvals: NewApproval(e.Engine),
	}
}

func (f *fixture) create(definition *models.WorkflowDefinition) *models.WorkflowDefinition {
	f.t.Helper()

	created, err := f.workflows.Create(f.t.Context(), definition)
	require.NoError(f.t, err)

	return created
}

func (f *fixture) trigger(workflowID, recordID string) *models.WorkflowInstance {
	f.t.Helper()

	instance, err := f.instances.Trigger(f.t.Context(), trigger.ManualRequest{
		WorkflowID: workflowID,
		RecordType: "change",
		RecordID:   recordID,
		Actor:      "carol",
	})
	require.NoError(f.t, err)

	return instance
}

func (f *fixture) waitForStatus(instanceID string, status models.InstanceStatus) *models.WorkflowInstance {
	f.t.Helper()

	var instance *models.WorkflowInstance

	require.Eventually(f.t, func() bool {
		var err error

		instance, err = f.engine.Persistence.InstanceRepository().GetByID(context.Background(), instanceID)

		return err == nil && instance.Status == status
	}, 5*time.Second, 5*time.Millisecond)

	return instance
}

func (f *fixture) waitForApproval(instanceID, stepID string) *models.Approval {
	f.t.Helper()

	var approval *models.Approval

	require.Eventually(f.t, func() bool {
		var err error

		approval, err = f.engine.Persistence.ApprovalRepository().GetByID(context.Background(), models.ApprovalID(instanceID, stepID))

		return err == nil
	}, 5*time.Second, 5*time.Millisecond)

	return approval
}

func TestInstance_Trigger(t *testing.T) {
	f := newFixture(t)
	definition := f.create(testutil.CreateTestDefinition())

	instance := f.trigger(definition.ID, "CHG-1")
	assert.Equal(t, definition.ID, instance.WorkflowID)
	assert.Equal(t, models.TriggerManual, instance.TriggerType)
	assert.Equal(t, "CHG-1", instance.TriggerRecordID)

	f.waitForStatus(instance.ID, models.InstanceStatusCompleted)

	inactive := f.create(testutil.CreateTestDefinition(testutil.WithInactive()))

	_, err := f.instances.Trigger(t.Context(), trigger.ManualRequest{WorkflowID: inactive.ID, Actor: "carol"})
	require.ErrorIs(t, err, trigger.ErrInactiveWorkflow)
	assert.True(t, IsValidationError(err))

	_, err = f.instances.Trigger(t.Context(), trigger.ManualRequest{WorkflowID: "missing", Actor: "carol"})
	assert.True(t, IsNotFoundError(err))
}

func TestInstance_FetchByID(t *testing.T) {
	f := newFixture(t)
	definition := f.create(testutil.CreateApprovalDefinition(models.ApproverGroup, "cab"))

	instance := f.trigger(definition.ID, "CHG-2")
	f.waitForStatus(instance.ID, models.InstanceStatusWaitingApproval)
	f.waitForApproval(instance.ID, "approve")

	detail, err := f.instances.FetchByID(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.ID, detail.ID)
	require.Len(t, detail.PendingApprovals, 1)
	assert.Equal(t, "approve", detail.PendingApprovals[0].StepID)

	_, err = f.instances.FetchByID(t.Context(), "missing")
	assert.True(t, IsNotFoundError(err))
}

func TestInstance_ListInstances(t *testing.T) {
	f := newFixture(t)
	simple := f.create(testutil.CreateTestDefinition())
	gated := f.create(testutil.CreateApprovalDefinition(models.ApproverUser, "bob"))

	done := f.trigger(simple.ID, "CHG-1")
	waiting := f.trigger(gated.ID, "CHG-2")

	f.waitForStatus(done.ID, models.InstanceStatusCompleted)
	f.waitForStatus(waiting.ID, models.InstanceStatusWaitingApproval)

	page, err := f.instances.ListInstances(t.Context(), ListInstancesRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)

	page, err = f.instances.ListInstances(t.Context(), ListInstancesRequest{Statuses: []string{"completed, failed"}})
	require.NoError(t, err)
	require.Len(t, page.Instances, 1)
	assert.Equal(t, done.ID, page.Instances[0].ID)

	page, err = f.instances.ListInstances(t.Context(), ListInstancesRequest{WorkflowID: gated.ID})
	require.NoError(t, err)
	require.Len(t, page.Instances, 1)
	assert.Equal(t, waiting.ID, page.Instances[0].ID)

	page, err = f.instances.ListInstances(t.Context(), ListInstancesRequest{PageSize: 1})
	require.NoError(t, err)
	assert.Len(t, page.Instances, 1)
	assert.True(t, page.HasNextPage)

	_, err = f.instances.ListInstances(t.Context(), ListInstancesRequest{Statuses: []string{"SLEEPING"}})
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.instances.ListInstances(t.Context(), ListInstancesRequest{Page: -1})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestInstance_Cancel(t *testing.T) {
	f := newFixture(t)
	definition := f.create(testutil.CreateApprovalDefinition(models.ApproverGroup, "cab"))

	instance := f.trigger(definition.ID, "CHG-3")
	f.waitForStatus(instance.ID, models.InstanceStatusWaitingApproval)
	f.waitForApproval(instance.ID, "approve")

	_, err := f.instances.Cancel(t.Context(), instance.ID, " ", "no reason")
	require.ErrorIs(t, err, ErrActorRequired)

	cancelled, err := f.instances.Cancel(t.Context(), instance.ID, "carol", "change withdrawn")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, cancelled.Status)

	_, err = f.instances.Cancel(t.Context(), instance.ID, "carol", "again")
	assert.True(t, IsConflictError(err))

	_, err = f.instances.Cancel(t.Context(), "missing", "carol", "")
	assert.True(t, IsNotFoundError(err))
}

func TestInstance_Audit(t *testing.T) {
	f := newFixture(t)
	definition := f.create(testutil.CreateTestDefinition())

	instance := f.trigger(definition.ID, "CHG-4")
	f.waitForStatus(instance.ID, models.InstanceStatusCompleted)

	var trail []*models.AuditEvent

	require.Eventually(t, func() bool {
		var err error

		trail, err = f.instances.Audit(t.Context(), instance.ID)
		if err != nil || len(trail) == 0 {
			return false
		}

		return trail[len(trail)-1].Type == models.AuditInstanceCompleted
	}, 5*time.Second, 5*time.Millisecond)

	require.GreaterOrEqual(t, len(trail), 2)
	assert.Equal(t, models.AuditTriggerFired, trail[0].Type)
	assert.Equal(t, models.AuditInstanceStarted, trail[1].Type)

	_, err := f.instances.Audit(t.Context(), "missing")
	assert.True(t, IsNotFoundError(err))
}

func TestInstance_Watch(t *testing.T) {
	f := newFixture(t)
	definition := f.create(testutil.CreateApprovalDefinition(models.ApproverUser, "bob"))

	instance := f.trigger(definition.ID, "CHG-5")
	waiting := f.waitForStatus(instance.ID, models.InstanceStatusWaitingApproval)
	approval := f.waitForApproval(instance.ID, "approve")

	// settle before taking the version to watch from
	require.Eventually(t, func() bool {
		current, err := f.engine.Persistence.InstanceRepository().GetByID(t.Context(), instance.ID)
		if err != nil {
			return false
		}

		same := current.Version == waiting.Version
		waiting = current

		return same
	}, 5*time.Second, 20*time.Millisecond)

	unchanged, changed, err := f.instances.Watch(t.Context(), instance.ID, waiting.Version, 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, waiting.Version, unchanged.Version)

	go func() {
		time.Sleep(20 * time.Millisecond)

		_, _ = f.approvals.Decide(context.Background(), approval.ID, models.DecisionApprove, "bob", "")
	}()

	moved, changed, err := f.instances.Watch(t.Context(), instance.ID, waiting.Version, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Greater(t, moved.Version, waiting.Version)

	done := f.waitForStatus(instance.ID, models.InstanceStatusCompleted)

	terminal, changed, err := f.instances.Watch(t.Context(), instance.ID, done.Version, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.InstanceStatusCompleted, terminal.Status)

	_, _, err = f.instances.Watch(t.Context(), "missing", 0, time.Millisecond)
	assert.True(t, IsNotFoundError(err))
}
