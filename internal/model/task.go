package model

import (
	"sort"
	"strings"
	"time"
)

// TaskStatus represents the user-facing lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

// Valid reports whether s is one of the known task statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusCompleted:
		return true
	}
	return false
}

// Started reports whether a user has invested work in a task with this status.
func (s TaskStatus) Started() bool {
	return s == TaskStatusInProgress || s == TaskStatusCompleted
}

// TaskCategory is the ESG pillar a task belongs to.
type TaskCategory string

const (
	CategoryEnvironmental TaskCategory = "environmental"
	CategorySocial        TaskCategory = "social"
	CategoryGovernance    TaskCategory = "governance"
)

// legacyCategories maps category names from older sector catalogs onto the
// three canonical ESG pillars.
var legacyCategories = map[string]TaskCategory{
	"energy":       CategoryEnvironmental,
	"water":        CategoryEnvironmental,
	"waste":        CategoryEnvironmental,
	"supply_chain": CategorySocial,
}

// NormalizeCategory maps a raw category string to a canonical TaskCategory.
// Unrecognized values default to environmental.
func NormalizeCategory(raw string) TaskCategory {
	c := TaskCategory(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case CategoryEnvironmental, CategorySocial, CategoryGovernance:
		return c
	}
	if mapped, ok := legacyCategories[string(c)]; ok {
		return mapped
	}
	return CategoryEnvironmental
}

// Provenance records where a task came from at generation time. It is the
// sole input to natural key derivation and is kept for audit.
type Provenance struct {
	SourceQuestionID string `json:"source_question_id"`
	Sector           string `json:"sector"`
	LocationID       string `json:"location_id,omitempty"`
	SubLocationID    string `json:"sub_location_id,omitempty"`
}

// Task is a unit of compliance work persisted for a company.
//
// Content fields (Title, Description, ComplianceContext, ActionRequired,
// Category, FrameworkTags) are generator-owned and may be overwritten when a
// reconciliation refreshes the task. Status, AssignedUserID, EvidenceRefs,
// RequiredEvidenceCount and DueDate are user-owned and are never touched by
// reconciliation.
type Task struct {
	ID         string `json:"id"`
	CompanyID  string `json:"company_id"`
	NaturalKey string `json:"natural_key"`

	Title             string       `json:"title"`
	Description       string       `json:"description"`
	ComplianceContext string       `json:"compliance_context"`
	ActionRequired    string       `json:"action_required"`
	Category          TaskCategory `json:"category"`
	FrameworkTags     []string     `json:"framework_tags"`

	Status                TaskStatus `json:"status"`
	AssignedUserID        string     `json:"assigned_user_id,omitempty"`
	EvidenceRefs          []string   `json:"evidence_refs,omitempty"`
	RequiredEvidenceCount int        `json:"required_evidence_count"`
	DueDate               *time.Time `json:"due_date,omitempty"`

	Provenance       Provenance `json:"provenance"`
	CreatedAt        time.Time  `json:"created_at"`
	LastReconciledAt *time.Time `json:"last_reconciled_at,omitempty"`
}

// CandidateTask is a task freshly produced by the generator from the current
// scoping snapshot. It has no id and no user-owned state until the reconciler
// admits it into the persisted set.
type CandidateTask struct {
	NaturalKey string `json:"natural_key"`

	Title             string       `json:"title"`
	Description       string       `json:"description"`
	ComplianceContext string       `json:"compliance_context"`
	ActionRequired    string       `json:"action_required"`
	Category          TaskCategory `json:"category"`
	FrameworkTags     []string     `json:"framework_tags"`

	RequiredEvidenceCount int        `json:"required_evidence_count"`
	Provenance            Provenance `json:"provenance"`
}

// TagSetEqual compares two framework tag slices as sets.
func TagSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
