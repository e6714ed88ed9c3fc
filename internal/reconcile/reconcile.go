package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/verdant-group/esg-cli/internal/model"
)

// PlanOptions injects id and clock sources into BuildPlan so tests can pin
// them. Zero fields fall back to uuid.New and time.Now.
type PlanOptions struct {
	NewID func() string
	Now   func() time.Time
}

func (o *PlanOptions) newID() string {
	if o != nil && o.NewID != nil {
		return o.NewID()
	}
	return uuid.New().String()
}

func (o *PlanOptions) now() time.Time {
	if o != nil && o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

// BuildPlan turns a matching into the four-bucket reconciliation plan.
//
// Per existing task: a matched candidate with identical content preserves the
// task; a matched candidate with differing content updates its content fields
// while user-owned state is carried forward untouched; an unmatched task is
// preserved if the user has started it (completed silently, in_progress with
// a no_longer_required diagnostic) and removed only when still todo. Every
// unconsumed candidate becomes a new task with a fresh id and status todo.
//
// BuildPlan is pure apart from the injected id/clock sources: no I/O, no
// errors. Inputs are validated upstream by the service.
func BuildPlan(companyID string, existing []model.Task, candidates []model.CandidateTask, m Matching, opts *PlanOptions) *model.ReconciliationPlan {
	plan := &model.ReconciliationPlan{CompanyID: companyID}
	now := opts.now()

	byKey := make(map[string]model.CandidateTask, len(candidates))
	for _, c := range candidates {
		byKey[c.NaturalKey] = c
	}

	for _, t := range existing {
		key, matched := m.ByExisting[t.ID]
		if !matched {
			switch {
			case t.Status == model.TaskStatusCompleted:
				// Orphaned-but-completed work is never discarded.
				plan.Preserved = append(plan.Preserved, t)
			case t.Status == model.TaskStatusInProgress:
				plan.Preserved = append(plan.Preserved, t)
				plan.Diagnostics = append(plan.Diagnostics, model.Diagnostic{
					TaskID:     t.ID,
					NaturalKey: t.NaturalKey,
					Reason:     model.DiagnosticNoLongerRequired,
					Detail:     fmt.Sprintf("task %q is no longer required by current scoping", t.Title),
				})
			default:
				plan.Removed = append(plan.Removed, t)
			}
			continue
		}

		c := byKey[key]
		if contentEqual(t, c) {
			plan.Preserved = append(plan.Preserved, t)
		} else {
			plan.Updated = append(plan.Updated, refreshContent(t, c))
		}
	}

	for _, c := range candidates {
		if _, consumed := m.ByCandidate[c.NaturalKey]; consumed {
			continue
		}
		plan.Added = append(plan.Added, model.Task{
			ID:                    opts.newID(),
			CompanyID:             companyID,
			NaturalKey:            c.NaturalKey,
			Title:                 c.Title,
			Description:           c.Description,
			ComplianceContext:     c.ComplianceContext,
			ActionRequired:        c.ActionRequired,
			Category:              c.Category,
			FrameworkTags:         append([]string(nil), c.FrameworkTags...),
			Status:                model.TaskStatusTodo,
			RequiredEvidenceCount: c.RequiredEvidenceCount,
			Provenance:            c.Provenance,
			CreatedAt:             now,
		})
	}

	sortTasks(plan.Preserved)
	sortTasks(plan.Updated)
	sortTasks(plan.Added)
	sortTasks(plan.Removed)
	sort.Slice(plan.Diagnostics, func(i, j int) bool {
		return plan.Diagnostics[i].NaturalKey < plan.Diagnostics[j].NaturalKey
	})

	return plan
}

// contentEqual reports whether a candidate carries the exact content the
// existing task already has. Framework tags compare as sets.
func contentEqual(t model.Task, c model.CandidateTask) bool {
	return t.Title == c.Title &&
		t.Description == c.Description &&
		t.ComplianceContext == c.ComplianceContext &&
		t.ActionRequired == c.ActionRequired &&
		t.Category == c.Category &&
		model.TagSetEqual(t.FrameworkTags, c.FrameworkTags)
}

// refreshContent returns a copy of t with generator-owned fields taken from
// the candidate. Identity follows the candidate too: a fuzzy match means the
// requirement's provenance changed, so the natural key moves with it. Status,
// assignment, evidence and due date are user-owned and pass through as-is.
func refreshContent(t model.Task, c model.CandidateTask) model.Task {
	t.NaturalKey = c.NaturalKey
	t.Title = c.Title
	t.Description = c.Description
	t.ComplianceContext = c.ComplianceContext
	t.ActionRequired = c.ActionRequired
	t.Category = c.Category
	t.FrameworkTags = append([]string(nil), c.FrameworkTags...)
	t.Provenance = c.Provenance
	return t
}

func sortTasks(tasks []model.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].NaturalKey != tasks[j].NaturalKey {
			return tasks[i].NaturalKey < tasks[j].NaturalKey
		}
		return tasks[i].ID < tasks[j].ID
	})
}
