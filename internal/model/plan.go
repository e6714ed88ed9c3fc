package model

// DiagnosticReason classifies a non-fatal finding attached to a plan.
type DiagnosticReason string

const (
	// DiagnosticNoLongerRequired flags an in-progress task that no candidate
	// matched: current scoping no longer requires it, but user work is
	// invested, so it is preserved for manual review instead of removed.
	DiagnosticNoLongerRequired DiagnosticReason = "no_longer_required"
)

// Diagnostic is a per-task advisory surfaced alongside a plan. Diagnostics
// never block Preview or Apply.
type Diagnostic struct {
	TaskID     string           `json:"task_id"`
	NaturalKey string           `json:"natural_key"`
	Reason     DiagnosticReason `json:"reason"`
	Detail     string           `json:"detail,omitempty"`
}

// PlanSummary carries the bucket counts of a reconciliation plan.
type PlanSummary struct {
	PreservedCount int `json:"preserved_count"`
	UpdatedCount   int `json:"updated_count"`
	AddedCount     int `json:"added_count"`
	RemovedCount   int `json:"removed_count"`
}

// Total returns the size of the task set after the plan is applied.
func (s PlanSummary) Total() int {
	return s.PreservedCount + s.UpdatedCount + s.AddedCount
}

// ReconciliationPlan is the classified result of merging the persisted task
// set against a freshly generated candidate set. It is a first-class,
// serializable value: Apply commits exactly the plan a Preview produced and
// never recomputes it.
type ReconciliationPlan struct {
	CompanyID string `json:"company_id"`

	// Preserved tasks are kept byte-for-byte: either a matching candidate was
	// identical, or no candidate exists but user work is invested.
	Preserved []Task `json:"preserved"`
	// Updated tasks keep their identity and user-owned state but take content
	// fields from the matched candidate.
	Updated []Task `json:"updated"`
	// Added tasks are brand new, from candidates no existing task matched.
	Added []Task `json:"added"`
	// Removed tasks are stale: unmatched and never started by a user.
	Removed []Task `json:"removed"`

	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`

	VersionTokenBefore string `json:"version_token_before"`
	VersionTokenAfter  string `json:"version_token_after,omitempty"`
}

// Summary computes the bucket counts for the plan.
func (p *ReconciliationPlan) Summary() PlanSummary {
	return PlanSummary{
		PreservedCount: len(p.Preserved),
		UpdatedCount:   len(p.Updated),
		AddedCount:     len(p.Added),
		RemovedCount:   len(p.Removed),
	}
}

// FinalTasks returns the task set as it will exist after the plan is applied.
func (p *ReconciliationPlan) FinalTasks() []Task {
	out := make([]Task, 0, len(p.Preserved)+len(p.Updated)+len(p.Added))
	out = append(out, p.Preserved...)
	out = append(out, p.Updated...)
	out = append(out, p.Added...)
	return out
}
