package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatus(t *testing.T) {
	t.Parallel()

	assert.True(t, TaskStatusTodo.Valid())
	assert.True(t, TaskStatusInProgress.Valid())
	assert.True(t, TaskStatusCompleted.Valid())
	assert.False(t, TaskStatus("archived").Valid())
	assert.False(t, TaskStatus("").Valid())

	assert.False(t, TaskStatusTodo.Started())
	assert.True(t, TaskStatusInProgress.Started())
	assert.True(t, TaskStatusCompleted.Started())
}

func TestNormalizeCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want TaskCategory
	}{
		{"environmental", CategoryEnvironmental},
		{"Social", CategorySocial},
		{"  GOVERNANCE ", CategoryGovernance},
		{"energy", CategoryEnvironmental},
		{"water", CategoryEnvironmental},
		{"waste", CategoryEnvironmental},
		{"supply_chain", CategorySocial},
		{"something_else", CategoryEnvironmental},
		{"", CategoryEnvironmental},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeCategory(tt.raw), "raw %q", tt.raw)
	}
}

func TestTagSetEqual(t *testing.T) {
	t.Parallel()

	assert.True(t, TagSetEqual(nil, nil))
	assert.True(t, TagSetEqual([]string{"a", "b"}, []string{"b", "a"}))
	assert.False(t, TagSetEqual([]string{"a"}, []string{"a", "b"}))
	assert.False(t, TagSetEqual([]string{"a", "b"}, []string{"a", "c"}))

	// Inputs are not mutated.
	a := []string{"z", "a"}
	b := []string{"a", "z"}
	TagSetEqual(a, b)
	assert.Equal(t, []string{"z", "a"}, a)
}

func TestScopingSnapshot_Hash(t *testing.T) {
	t.Parallel()

	s1 := ScopingSnapshot{
		Sector:  "hospitality",
		Answers: map[string]any{"a": true, "b": "yes", "c": 3},
		Locations: []Location{
			{ID: "loc1", SubLocations: []SubLocation{{ID: "sub1"}}},
		},
	}
	s2 := ScopingSnapshot{
		Sector:  "hospitality",
		Answers: map[string]any{"c": 3, "b": "yes", "a": true},
		Locations: []Location{
			{ID: "loc1", SubLocations: []SubLocation{{ID: "sub1"}}},
		},
	}

	// Map iteration order must not leak into the digest.
	assert.Equal(t, s1.Hash(), s2.Hash())

	s3 := s1
	s3.Sector = "retail"
	assert.NotEqual(t, s1.Hash(), s3.Hash())

	s4 := s1
	s4.Answers = map[string]any{"a": false, "b": "yes", "c": 3}
	assert.NotEqual(t, s1.Hash(), s4.Hash())
}

func TestPlanSummaryAndFinalTasks(t *testing.T) {
	t.Parallel()

	plan := &ReconciliationPlan{
		Preserved: []Task{{ID: "p1"}, {ID: "p2"}},
		Updated:   []Task{{ID: "u1"}},
		Added:     []Task{{ID: "a1"}},
		Removed:   []Task{{ID: "r1"}},
	}

	s := plan.Summary()
	assert.Equal(t, 2, s.PreservedCount)
	assert.Equal(t, 1, s.UpdatedCount)
	assert.Equal(t, 1, s.AddedCount)
	assert.Equal(t, 1, s.RemovedCount)
	assert.Equal(t, 4, s.Total())

	final := plan.FinalTasks()
	ids := make([]string, len(final))
	for i, task := range final {
		ids[i] = task.ID
	}
	assert.Equal(t, []string{"p1", "p2", "u1", "a1"}, ids, "removed tasks never appear in the final set")
}

func TestScopingSnapshot_HashStableAcrossTime(t *testing.T) {
	t.Parallel()

	// CompletedAt is metadata, not scoping state; it must not change the key
	// used for preview deduplication.
	now := time.Now()
	s1 := ScopingSnapshot{Sector: "hospitality", Answers: map[string]any{"a": 1}}
	s2 := s1
	s2.CompletedAt = &now
	assert.Equal(t, s1.Hash(), s2.Hash())
}
