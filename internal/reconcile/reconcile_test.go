package reconcile

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-group/esg-cli/internal/model"
)

var fixedTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// testPlanOptions returns deterministic id/clock sources.
func testPlanOptions() *PlanOptions {
	n := 0
	return &PlanOptions{
		NewID: func() string {
			n++
			return fmt.Sprintf("new-%d", n)
		},
		Now: func() time.Time { return fixedTime },
	}
}

func buildTestPlan(existing []model.Task, candidates []model.CandidateTask) *model.ReconciliationPlan {
	m := Match(existing, candidates)
	return BuildPlan("company-1", existing, candidates, m, testPlanOptions())
}

func TestBuildPlan_ContentRefreshKeepsCompletedStatus(t *testing.T) {
	t.Parallel()

	// Existing completed task, candidate with the same key but a new title.
	existing := []model.Task{{
		ID:             "t1",
		CompanyID:      "company-1",
		NaturalKey:     "hosp.q1.loc1",
		Title:          "old title",
		Category:       model.CategoryEnvironmental,
		Status:         model.TaskStatusCompleted,
		AssignedUserID: "user-9",
		EvidenceRefs:   []string{"ev-1", "ev-2"},
	}}
	candidates := []model.CandidateTask{{
		NaturalKey: "hosp.q1.loc1",
		Title:      "new title",
		Category:   model.CategoryEnvironmental,
	}}

	plan := buildTestPlan(existing, candidates)
	sum := plan.Summary()

	assert.Equal(t, model.PlanSummary{UpdatedCount: 1}, sum)
	require.Len(t, plan.Updated, 1)
	got := plan.Updated[0]
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, "new title", got.Title)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	assert.Equal(t, "user-9", got.AssignedUserID)
	assert.Equal(t, []string{"ev-1", "ev-2"}, got.EvidenceRefs)
}

func TestBuildPlan_StaleTodoIsRemoved(t *testing.T) {
	t.Parallel()

	existing := []model.Task{{
		ID:         "t1",
		NaturalKey: "k1",
		Status:     model.TaskStatusTodo,
		Category:   model.CategoryEnvironmental,
	}}

	plan := buildTestPlan(existing, nil)

	require.Len(t, plan.Removed, 1)
	assert.Equal(t, "k1", plan.Removed[0].NaturalKey)
	assert.Empty(t, plan.Preserved)
	assert.Empty(t, plan.Updated)
	assert.Empty(t, plan.Added)
}

func TestBuildPlan_OrphanedInProgressIsPreservedWithDiagnostic(t *testing.T) {
	t.Parallel()

	existing := []model.Task{{
		ID:         "t1",
		NaturalKey: "k1",
		Title:      "Install sub-meters",
		Status:     model.TaskStatusInProgress,
		Category:   model.CategoryEnvironmental,
	}}

	plan := buildTestPlan(existing, nil)

	require.Len(t, plan.Preserved, 1)
	assert.Equal(t, "k1", plan.Preserved[0].NaturalKey)
	assert.Zero(t, plan.Summary().RemovedCount)
	require.Len(t, plan.Diagnostics, 1)
	assert.Equal(t, model.DiagnosticNoLongerRequired, plan.Diagnostics[0].Reason)
	assert.Equal(t, "t1", plan.Diagnostics[0].TaskID)
}

func TestBuildPlan_FreshCandidatesBecomeAddedTasks(t *testing.T) {
	t.Parallel()

	candidates := []model.CandidateTask{
		{NaturalKey: "k2", Title: "Task two", Category: model.CategorySocial},
		{NaturalKey: "k3", Title: "Task three", Category: model.CategoryGovernance},
	}

	plan := buildTestPlan(nil, candidates)

	require.Len(t, plan.Added, 2)
	ids := map[string]bool{}
	for _, task := range plan.Added {
		assert.Equal(t, model.TaskStatusTodo, task.Status)
		assert.Equal(t, "company-1", task.CompanyID)
		assert.NotEmpty(t, task.ID)
		assert.Equal(t, fixedTime, task.CreatedAt)
		ids[task.ID] = true
	}
	assert.Len(t, ids, 2, "fresh ids must be unique")
}

func TestBuildPlan_OrphanedCompletedIsPreserved(t *testing.T) {
	t.Parallel()

	existing := []model.Task{{
		ID:         "t1",
		NaturalKey: "hosp.q9",
		Status:     model.TaskStatusCompleted,
		Category:   model.CategoryGovernance,
	}}

	plan := buildTestPlan(existing, nil)

	require.Len(t, plan.Preserved, 1)
	assert.Empty(t, plan.Removed)
	assert.Empty(t, plan.Diagnostics, "completed orphans preserve silently")
}

func TestBuildPlan_IdenticalContentIsPreserved(t *testing.T) {
	t.Parallel()

	existing := []model.Task{{
		ID:            "t1",
		NaturalKey:    "hosp.q1",
		Title:         "Track consumption",
		Description:   "desc",
		Category:      model.CategoryEnvironmental,
		FrameworkTags: []string{"LEED", "DST"},
		Status:        model.TaskStatusInProgress,
	}}
	candidates := []model.CandidateTask{{
		NaturalKey:    "hosp.q1",
		Title:         "Track consumption",
		Description:   "desc",
		Category:      model.CategoryEnvironmental,
		FrameworkTags: []string{"DST", "LEED"}, // order must not matter
	}}

	plan := buildTestPlan(existing, candidates)

	assert.Equal(t, model.PlanSummary{PreservedCount: 1}, plan.Summary())
}

func TestBuildPlan_FuzzyUpdateAdoptsCandidateIdentity(t *testing.T) {
	t.Parallel()

	existing := []model.Task{{
		ID:         "t1",
		NaturalKey: "hosp.q1.loc1",
		Title:      "Track monthly electricity consumption",
		Category:   model.CategoryEnvironmental,
		Status:     model.TaskStatusInProgress,
		Provenance: model.Provenance{Sector: "hosp", SourceQuestionID: "q1", LocationID: "loc1"},
	}}
	candidates := []model.CandidateTask{{
		NaturalKey: "retail.q3.loc1",
		Title:      "Track monthly electricity consumption",
		Category:   model.CategoryEnvironmental,
		Provenance: model.Provenance{Sector: "retail", SourceQuestionID: "q3", LocationID: "loc1"},
	}}

	plan := buildTestPlan(existing, candidates)

	require.Len(t, plan.Updated, 1)
	got := plan.Updated[0]
	assert.Equal(t, "t1", got.ID, "persistent id never changes")
	assert.Equal(t, "retail.q3.loc1", got.NaturalKey, "identity follows provenance")
	assert.Equal(t, "retail", got.Provenance.Sector)
	assert.Equal(t, model.TaskStatusInProgress, got.Status)
}

func TestBuildPlan_BucketsPartitionThePriorSet(t *testing.T) {
	t.Parallel()

	existing := []model.Task{
		{ID: "t1", NaturalKey: "s.q1", Status: model.TaskStatusCompleted, Category: model.CategoryEnvironmental},
		{ID: "t2", NaturalKey: "s.q2", Status: model.TaskStatusInProgress, Category: model.CategorySocial},
		{ID: "t3", NaturalKey: "s.q3", Status: model.TaskStatusTodo, Category: model.CategoryGovernance},
		{ID: "t4", NaturalKey: "s.q4", Title: "same", Status: model.TaskStatusTodo, Category: model.CategorySocial},
	}
	candidates := []model.CandidateTask{
		{NaturalKey: "s.q4", Title: "same", Category: model.CategorySocial},
		{NaturalKey: "s.q5", Title: "brand new", Category: model.CategoryGovernance},
	}

	plan := buildTestPlan(existing, candidates)

	seen := map[string]int{}
	for _, bucket := range [][]model.Task{plan.Preserved, plan.Updated, plan.Removed} {
		for _, task := range bucket {
			seen[task.ID]++
		}
	}
	require.Len(t, seen, len(existing), "every prior task lands in exactly one bucket")
	for id, count := range seen {
		assert.Equal(t, 1, count, "task %s classified twice", id)
	}
	for _, task := range plan.Added {
		assert.NotContains(t, seen, task.ID)
	}
}

// Property: no completed task is ever placed in removed, for any candidate set.
func TestBuildPlan_CompletedTasksNeverRemoved(t *testing.T) {
	t.Parallel()

	existing := []model.Task{
		{ID: "t1", NaturalKey: "s.q1", Title: "alpha", Status: model.TaskStatusCompleted, Category: model.CategoryEnvironmental},
		{ID: "t2", NaturalKey: "s.q2", Title: "beta", Status: model.TaskStatusCompleted, Category: model.CategorySocial},
	}

	candidateSets := [][]model.CandidateTask{
		nil,
		{{NaturalKey: "s.q1", Title: "alpha", Category: model.CategoryEnvironmental}},
		{{NaturalKey: "s.q1", Title: "changed", Category: model.CategoryEnvironmental}},
		{{NaturalKey: "x.q9", Title: "unrelated", Category: model.CategoryGovernance}},
		{
			{NaturalKey: "s.q1", Title: "alpha", Category: model.CategoryEnvironmental},
			{NaturalKey: "s.q2", Title: "beta", Category: model.CategorySocial},
			{NaturalKey: "s.q3", Title: "gamma", Category: model.CategorySocial},
		},
	}

	for _, candidates := range candidateSets {
		plan := buildTestPlan(existing, candidates)
		for _, removed := range plan.Removed {
			assert.NotEqual(t, model.TaskStatusCompleted, removed.Status)
		}
		final := map[string]bool{}
		for _, task := range plan.FinalTasks() {
			final[task.ID] = true
		}
		assert.True(t, final["t1"], "completed t1 must survive")
		assert.True(t, final["t2"], "completed t2 must survive")
	}
}

// Re-running the merge on a plan's own output yields all-preserved: the
// second pass has nothing left to change.
func TestBuildPlan_SecondPassIsAllPreserved(t *testing.T) {
	t.Parallel()

	existing := []model.Task{
		{ID: "t1", NaturalKey: "s.q1", Title: "old", Status: model.TaskStatusCompleted, Category: model.CategoryEnvironmental},
		{ID: "t2", NaturalKey: "s.q2", Title: "stale", Status: model.TaskStatusTodo, Category: model.CategorySocial},
	}
	candidates := []model.CandidateTask{
		{NaturalKey: "s.q1", Title: "new", Category: model.CategoryEnvironmental},
		{NaturalKey: "s.q3", Title: "added", Category: model.CategoryGovernance},
	}

	first := buildTestPlan(existing, candidates)
	second := buildTestPlan(first.FinalTasks(), candidates)

	sum := second.Summary()
	assert.Zero(t, sum.UpdatedCount)
	assert.Zero(t, sum.AddedCount)
	assert.Zero(t, sum.RemovedCount)
	assert.Equal(t, len(first.FinalTasks()), sum.PreservedCount)
}
