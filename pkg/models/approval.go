package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// ApproverType selects how an approver reference is matched against an actor.
type ApproverType string

const (
	ApproverUser  ApproverType = "USER"
	ApproverRole  ApproverType = "ROLE"
	ApproverGroup ApproverType = "GROUP"
)

// Valid reports whether t is a known approver type.
func (t ApproverType) Valid() bool {
	return t == ApproverUser || t == ApproverRole || t == ApproverGroup
}

// ApprovalStatus is the state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Decision is the verdict submitted by an approver.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Status maps a decision to the approval status it produces.
func (d Decision) Status() ApprovalStatus {
	if d == DecisionApprove {
		return ApprovalApproved
	}

	return ApprovalRejected
}

// SystemActor is recorded as decider when the engine closes an approval itself.
const SystemActor = "system"

// Approval is a human decision gate blocking instance progress.
type Approval struct {
	ID                 string         `json:"id"`
	WorkflowInstanceID string         `json:"workflow_instance_id"`
	WorkflowID         string         `json:"workflow_id"`
	StepID             string         `json:"step_id"`
	ApproverType       ApproverType   `json:"approver_type"`
	ApproverRef        string         `json:"approver_ref"`
	Status             ApprovalStatus `json:"status"`
	Comments           string         `json:"comments,omitempty"`
	RequestedAt        time.Time      `json:"requested_at"`
	DecidedAt          *time.Time     `json:"decided_at,omitempty"`
	DecidedBy          string         `json:"decided_by,omitempty"`
}

// Pending reports whether the approval still awaits a decision.
func (a *Approval) Pending() bool {
	return a.Status == ApprovalPending
}

var approvalNamespace = uuid.MustParse("6f1c5b7e-3f0a-4e55-9d53-0b8a3c1f9e21")

// ApprovalID derives the approval id for a step of an instance. The id is
// deterministic so that re-requesting the same approval after a crash finds
// the existing record instead of creating a second one.
func ApprovalID(instanceID, stepID string) string {
	return uuid.NewSHA1(approvalNamespace, []byte(instanceID+"/"+stepID)).String()
}

// ApprovalWithContext joins a pending approval with the data an inbox needs.
type ApprovalWithContext struct {
	Approval

	WorkflowName      string `json:"workflow_name"`
	StepName          string `json:"step_name"`
	TriggerRecordType string `json:"trigger_record_type"`
	TriggerRecordID   string `json:"trigger_record_id"`
}

// Actor is an identity that may decide approvals.
type Actor struct {
	ID     string   `json:"id"     yaml:"id"`
	Roles  []string `json:"roles"  yaml:"roles"`
	Groups []string `json:"groups" yaml:"groups"`
}

// Satisfies reports whether the actor matches the approver of an approval.
// USER approvals require an exact identity match, ROLE and GROUP approvals
// require membership.
func (a Actor) Satisfies(approverType ApproverType, approverRef string) bool {
	switch approverType {
	case ApproverUser:
		return a.ID != "" && a.ID == approverRef
	case ApproverRole:
		return slices.Contains(a.Roles, approverRef)
	case ApproverGroup:
		return slices.Contains(a.Groups, approverRef)
	default:
		return false
	}
}
