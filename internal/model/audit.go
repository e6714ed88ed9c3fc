package model

import "time"

// AuditAction identifies what kind of event an audit record describes.
type AuditAction string

const (
	AuditActionReconcileApply AuditAction = "reconcile_apply"
	AuditActionTaskStatusEdit AuditAction = "task_status_edit"
)

// AuditRecord is an immutable record of a state-changing operation on a
// company's task set. Every successful Apply emits one.
type AuditRecord struct {
	ID        string      `json:"id"`
	CompanyID string      `json:"company_id"`
	Action    AuditAction `json:"action"`

	Summary PlanSummary         `json:"summary"`
	Plan    *ReconciliationPlan `json:"plan,omitempty"`

	VersionTokenBefore string `json:"version_token_before"`
	VersionTokenAfter  string `json:"version_token_after"`

	Timestamp time.Time `json:"timestamp"`
}
