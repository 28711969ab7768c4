package models

import (
	"encoding/json"
	"time"
)

// AuditEventType names a state transition recorded in the audit trail.
type AuditEventType string

const (
	AuditTriggerFired       AuditEventType = "trigger.fired"
	AuditInstanceStarted    AuditEventType = "instance.started"
	AuditInstanceCompleted  AuditEventType = "instance.completed"
	AuditInstanceFailed     AuditEventType = "instance.failed"
	AuditInstanceCancelled  AuditEventType = "instance.cancelled"
	AuditStepStarted        AuditEventType = "step.started"
	AuditStepRetried        AuditEventType = "step.retried"
	AuditStepCompleted      AuditEventType = "step.completed"
	AuditStepFailed         AuditEventType = "step.failed"
	AuditStepSkipped        AuditEventType = "step.skipped"
	AuditApprovalRequested  AuditEventType = "approval.requested"
	AuditApprovalDecided    AuditEventType = "approval.decided"
	AuditLateResultRecorded AuditEventType = "step.late_result"
)

// AuditEvent is an immutable record of one state transition.
type AuditEvent struct {
	ID                 string          `json:"id"`
	WorkflowID         string          `json:"workflow_id"`
	WorkflowInstanceID string          `json:"workflow_instance_id"`
	Type               AuditEventType  `json:"type"`
	StepID             string          `json:"step_id,omitempty"`
	ApprovalID         string          `json:"approval_id,omitempty"`
	Actor              string          `json:"actor,omitempty"`
	Details            json.RawMessage `json:"details,omitempty"`
	InstanceVersion    int             `json:"instance_version"`
	OccurredAt         time.Time       `json:"occurred_at"`
}
