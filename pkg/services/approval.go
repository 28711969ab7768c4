package services

import (
	"context"
	"strings"

	"github.com/dukex/flowgate/pkg/models"
)

// Gateway is the approval side of the engine.
type Gateway interface {
	Decide(ctx context.Context, approvalID string, decision models.Decision, actorID, comments string) (*models.Approval, error)
	PendingFor(ctx context.Context, actorID string) ([]*models.ApprovalWithContext, error)
}

type Approval struct {
	gateway Gateway
}

// NewApproval creates a new approval service.
func NewApproval(gateway Gateway) *Approval {
	return &Approval{gateway: gateway}
}

// Pending lists the approvals actor may decide. An empty actor lists all of
// them.
func (s *Approval) Pending(ctx context.Context, actor string) ([]*models.ApprovalWithContext, error) {
	return s.gateway.PendingFor(ctx, strings.TrimSpace(actor))
}

// Decide approves or rejects an approval on behalf of actor.
func (s *Approval) Decide(
	ctx context.Context,
	approvalID string,
	decision models.Decision,
	actor string,
	comments string,
) (*models.Approval, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, NewValidationError("Decide", "ACTOR_REQUIRED", "", ErrActorRequired)
	}

	return s.gateway.Decide(ctx, approvalID, decision, actor, strings.TrimSpace(comments))
}
