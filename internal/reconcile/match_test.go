package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-group/esg-cli/internal/model"
)

func existingTask(id, key, title string, cat model.TaskCategory, tags ...string) model.Task {
	return model.Task{
		ID:            id,
		NaturalKey:    key,
		Title:         title,
		Category:      cat,
		FrameworkTags: tags,
	}
}

func candidateTask(key, title string, cat model.TaskCategory, tags ...string) model.CandidateTask {
	return model.CandidateTask{
		NaturalKey:    key,
		Title:         title,
		Category:      cat,
		FrameworkTags: tags,
	}
}

func TestMatch_NaturalKeyIsPrimaryPath(t *testing.T) {
	t.Parallel()

	existing := []model.Task{
		existingTask("t1", "hosp.q1.loc1", "Track electricity consumption", model.CategoryEnvironmental),
		existingTask("t2", "hosp.q2.loc1", "Publish board diversity policy", model.CategoryGovernance),
	}
	candidates := []model.CandidateTask{
		// Title completely rewritten, key unchanged: still a 1.0 match.
		candidateTask("hosp.q1.loc1", "Monthly utility metering", model.CategoryEnvironmental),
		candidateTask("hosp.q2.loc1", "Publish board diversity policy", model.CategoryGovernance),
	}

	m := Match(existing, candidates)

	assert.Equal(t, "hosp.q1.loc1", m.ByExisting["t1"])
	assert.Equal(t, "hosp.q2.loc1", m.ByExisting["t2"])
	assert.Equal(t, "t1", m.ByCandidate["hosp.q1.loc1"])
	assert.InDelta(t, 1.0, m.Scores["t1"], 0.0001)
	assert.InDelta(t, 1.0, m.Scores["t2"], 0.0001)
}

func TestMatch_FuzzyFallbackAfterSectorSwitch(t *testing.T) {
	t.Parallel()

	// Sector changed hosp -> retail, so no natural key survives, but the
	// requirement is recognizably the same task.
	existing := []model.Task{
		existingTask("t1", "hosp.q1.loc1", "Track monthly electricity consumption", model.CategoryEnvironmental, "DST Carbon Calculator"),
	}
	candidates := []model.CandidateTask{
		candidateTask("retail.q3.loc1", "Track monthly electricity consumption", model.CategoryEnvironmental, "DST Carbon Calculator"),
	}

	m := Match(existing, candidates)

	require.Equal(t, "retail.q3.loc1", m.ByExisting["t1"])
	assert.GreaterOrEqual(t, m.Scores["t1"], fuzzyThreshold)
}

func TestMatch_CategoryMismatchDisqualifies(t *testing.T) {
	t.Parallel()

	existing := []model.Task{
		existingTask("t1", "hosp.q1", "Annual sustainability report", model.CategoryEnvironmental),
	}
	candidates := []model.CandidateTask{
		// Identical title would clear the threshold, but category differs.
		candidateTask("retail.q9", "Annual sustainability report", model.CategoryGovernance),
	}

	m := Match(existing, candidates)

	assert.Empty(t, m.ByExisting)
	assert.Empty(t, m.ByCandidate)
}

func TestMatch_BelowThresholdIsNoMatch(t *testing.T) {
	t.Parallel()

	existing := []model.Task{
		existingTask("t1", "hosp.q1", "Track electricity consumption", model.CategoryEnvironmental, "LEED"),
	}
	candidates := []model.CandidateTask{
		candidateTask("retail.q2", "Train staff on waste segregation", model.CategoryEnvironmental, "ISO 14001"),
	}

	m := Match(existing, candidates)

	assert.Empty(t, m.ByExisting)
}

func TestMatch_CandidateConsumedAtMostOnce(t *testing.T) {
	t.Parallel()

	// Two near-identical existing tasks compete for one candidate. Only one
	// may win; the loser stays unmatched rather than sharing the candidate.
	existing := []model.Task{
		existingTask("t1", "hosp.q1.loc1", "Install water flow restrictors", model.CategoryEnvironmental, "Green Key Global"),
		existingTask("t2", "hosp.q1.loc2", "Install water flow restrictors", model.CategoryEnvironmental, "Green Key Global"),
	}
	candidates := []model.CandidateTask{
		candidateTask("retail.q4.loc1", "Install water flow restrictors", model.CategoryEnvironmental, "Green Key Global"),
	}

	m := Match(existing, candidates)

	require.Len(t, m.ByCandidate, 1)
	require.Len(t, m.ByExisting, 1)
	winner := m.ByCandidate["retail.q4.loc1"]
	assert.Contains(t, []string{"t1", "t2"}, winner)
}

func TestMatch_TiesBreakByCandidateKeyOrder(t *testing.T) {
	t.Parallel()

	existing := []model.Task{
		existingTask("t1", "hosp.q1", "Segregate recyclable waste", model.CategoryEnvironmental),
	}
	// Both candidates score identically against t1; the lexically smaller
	// natural key must win, every time.
	candidates := []model.CandidateTask{
		candidateTask("retail.q8", "Segregate recyclable waste", model.CategoryEnvironmental),
		candidateTask("retail.q2", "Segregate recyclable waste", model.CategoryEnvironmental),
	}

	for i := 0; i < 20; i++ {
		m := Match(existing, candidates)
		assert.Equal(t, "retail.q2", m.ByExisting["t1"])
	}
}

func TestMatch_Deterministic(t *testing.T) {
	t.Parallel()

	existing := []model.Task{
		existingTask("t1", "hosp.q1.loc1", "Track electricity consumption", model.CategoryEnvironmental, "LEED"),
		existingTask("t2", "hosp.q2.loc1", "Staff welfare policy", model.CategorySocial, "DST"),
		existingTask("t3", "hosp.q3.loc1", "Board ethics charter", model.CategoryGovernance),
	}
	candidates := []model.CandidateTask{
		candidateTask("retail.q1.loc1", "Track electricity consumption", model.CategoryEnvironmental, "LEED"),
		candidateTask("retail.q2.loc1", "Staff welfare policy", model.CategorySocial, "DST"),
		candidateTask("retail.q5.loc1", "Supplier code of conduct", model.CategorySocial),
	}

	first := Match(existing, candidates)
	for i := 0; i < 50; i++ {
		again := Match(existing, candidates)
		assert.Equal(t, first.ByExisting, again.ByExisting)
		assert.Equal(t, first.ByCandidate, again.ByCandidate)
		assert.Equal(t, first.Scores, again.Scores)
	}
}

func TestTitleTokens_Normalization(t *testing.T) {
	t.Parallel()

	a := titleTokens("Track Monthly Electricity-Consumption!")
	b := titleTokens("track monthly electricity consumption")
	assert.Equal(t, b, a)
}

func TestJaccard(t *testing.T) {
	t.Parallel()

	a := map[string]struct{}{"x": {}, "y": {}}
	b := map[string]struct{}{"y": {}, "z": {}}
	assert.InDelta(t, 1.0/3.0, jaccard(a, b), 0.0001)
	assert.InDelta(t, 1.0, jaccard(nil, nil), 0.0001)
	assert.InDelta(t, 0.0, jaccard(a, nil), 0.0001)
}
