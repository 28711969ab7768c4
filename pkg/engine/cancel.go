package engine

import (
	"context"

	"github.com/dukex/flowgate/pkg/models"
)

// Cancel moves a live instance to CANCELLED. Its pending approvals are closed
// by the system actor and its running executors are signalled to stop. No
// step starts after Cancel returns. Cancelling a terminal instance fails with
// ErrInstanceTerminal.
func (e *Engine) Cancel(ctx context.Context, instanceID, actorID, reason string) (*models.WorkflowInstance, error) {
	instance, err := e.apply(ctx, instanceID, e.cancel(actorID, reason))
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Instance cancelled", "instance_id", instanceID, "actor", actorID)

	return instance, nil
}
