package services

import (
	"testing"

	"github.com/dukex/flowgate/pkg/models"
	"github.com/dukex/flowgate/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApproval_Pending(t *testing.T) {
	f := newFixture(t)
	cab := f.create(testutil.CreateApprovalDefinition(models.ApproverGroup, "cab"))
	managers := f.create(testutil.CreateApprovalDefinition(models.ApproverRole, "change-manager"))

	first := f.trigger(cab.ID, "CHG-10")
	second := f.trigger(managers.ID, "CHG-11")
	f.waitForApproval(first.ID, "approve")
	f.waitForApproval(second.ID, "approve")

	alice, err := f.approvals.Pending(t.Context(), "alice")
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.Equal(t, first.ID, alice[0].WorkflowInstanceID)
	assert.Equal(t, "Change approval", alice[0].WorkflowName)
	assert.Equal(t, "CHG-10", alice[0].TriggerRecordID)

	bob, err := f.approvals.Pending(t.Context(), " bob ")
	require.NoError(t, err)
	require.Len(t, bob, 1)
	assert.Equal(t, second.ID, bob[0].WorkflowInstanceID)

	all, err := f.approvals.Pending(t.Context(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	nobody, err := f.approvals.Pending(t.Context(), "mallory")
	require.NoError(t, err)
	assert.Empty(t, nobody)
}

func TestApproval_Decide(t *testing.T) {
	f := newFixture(t)
	definition := f.create(testutil.CreateApprovalDefinition(models.ApproverGroup, "cab"))

	instance := f.trigger(definition.ID, "CHG-12")
	approval := f.waitForApproval(instance.ID, "approve")

	_, err := f.approvals.Decide(t.Context(), approval.ID, models.DecisionApprove, "", "")
	require.ErrorIs(t, err, ErrActorRequired)

	_, err = f.approvals.Decide(t.Context(), approval.ID, models.DecisionApprove, "bob", "")
	assert.True(t, IsForbiddenError(err))

	_, err = f.approvals.Decide(t.Context(), approval.ID, "MAYBE", "alice", "")
	assert.True(t, IsValidationError(err))

	_, err = f.approvals.Decide(t.Context(), "missing", models.DecisionApprove, "alice", "")
	assert.True(t, IsNotFoundError(err))

	decided, err := f.approvals.Decide(t.Context(), approval.ID, models.DecisionApprove, "alice", "  looks safe  ")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, decided.Status)
	assert.Equal(t, "alice", decided.DecidedBy)
	assert.Equal(t, "looks safe", decided.Comments)

	f.waitForStatus(instance.ID, models.InstanceStatusCompleted)

	_, err = f.approvals.Decide(t.Context(), approval.ID, models.DecisionReject, "alice", "")
	assert.True(t, IsConflictError(err))
}
