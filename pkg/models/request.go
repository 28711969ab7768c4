package models

import "time"

// InstanceCreationRequest asks the runner to start one instance of a
// definition. It carries a snapshot of the definition so later edits do not
// affect the instance.
type InstanceCreationRequest struct {
	Definition        *WorkflowDefinition `json:"definition"`
	TriggerType       TriggerType         `json:"trigger_type"`
	TriggerRecordType string              `json:"trigger_record_type"`
	TriggerRecordID   string              `json:"trigger_record_id"`
	TriggerEventID    string              `json:"trigger_event_id,omitempty"`
	TriggeredAt       time.Time           `json:"triggered_at"`
	TriggeredBy       string              `json:"triggered_by,omitempty"`
	DedupeKey         string              `json:"dedupe_key,omitempty"`
	Context           map[string]any      `json:"context,omitempty"`
}
