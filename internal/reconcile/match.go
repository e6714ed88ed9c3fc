package reconcile

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/verdant-group/esg-cli/internal/model"
)

// Fuzzy matching weights and acceptance threshold. Natural-key matches
// bypass these entirely; the fuzzy path only runs for tasks orphaned by a
// provenance-breaking change such as a sector switch.
const (
	titleWeight     = 0.5
	categoryWeight  = 0.2
	frameworkWeight = 0.3
	fuzzyThreshold  = 0.6
)

// Matching is a bipartite pairing between existing tasks and candidates.
// No existing task or candidate appears in more than one pair.
type Matching struct {
	// ByExisting maps an existing task id to the natural key of its matched
	// candidate. Unmatched existing tasks are absent.
	ByExisting map[string]string
	// ByCandidate maps a candidate natural key to the id of the existing
	// task that consumed it. Unconsumed candidates are absent.
	ByCandidate map[string]string
	// Scores holds the similarity score per matched existing task id
	// (1.0 for natural-key matches).
	Scores map[string]float64
}

// Match pairs each existing task with at most one candidate and vice versa.
// Exact natural-key equality is the primary path; leftovers go through a
// weighted fuzzy score over normalized titles, category equality and
// framework tag overlap. Candidates are assigned greedily in descending
// score order, ties broken by candidate natural-key lexical order so the
// result is deterministic.
func Match(existing []model.Task, candidates []model.CandidateTask) Matching {
	m := Matching{
		ByExisting:  make(map[string]string, len(existing)),
		ByCandidate: make(map[string]string, len(candidates)),
		Scores:      make(map[string]float64, len(existing)),
	}

	byKey := make(map[string]model.CandidateTask, len(candidates))
	for _, c := range candidates {
		byKey[c.NaturalKey] = c
	}

	// Primary path: exact natural-key identity.
	var leftovers []model.Task
	for _, t := range existing {
		if _, ok := byKey[t.NaturalKey]; ok {
			if _, taken := m.ByCandidate[t.NaturalKey]; !taken {
				m.ByExisting[t.ID] = t.NaturalKey
				m.ByCandidate[t.NaturalKey] = t.ID
				m.Scores[t.ID] = 1.0
				continue
			}
		}
		leftovers = append(leftovers, t)
	}
	if len(leftovers) == 0 {
		return m
	}

	// Fallback: score every leftover against every unconsumed candidate.
	type pair struct {
		existingID   string
		candidateKey string
		score        float64
	}
	var pairs []pair
	for _, t := range leftovers {
		for _, c := range candidates {
			if _, taken := m.ByCandidate[c.NaturalKey]; taken {
				continue
			}
			score, ok := similarity(t, c)
			if !ok {
				continue
			}
			pairs = append(pairs, pair{t.ID, c.NaturalKey, score})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score > pairs[j].score
		}
		if pairs[i].candidateKey != pairs[j].candidateKey {
			return pairs[i].candidateKey < pairs[j].candidateKey
		}
		return pairs[i].existingID < pairs[j].existingID
	})

	for _, p := range pairs {
		if _, done := m.ByExisting[p.existingID]; done {
			continue
		}
		if _, taken := m.ByCandidate[p.candidateKey]; taken {
			continue
		}
		m.ByExisting[p.existingID] = p.candidateKey
		m.ByCandidate[p.candidateKey] = p.existingID
		m.Scores[p.existingID] = p.score
	}

	return m
}

// similarity computes the weighted fuzzy score for a task/candidate pair.
// A category mismatch disqualifies the pair regardless of score; otherwise
// the pair matches only if the score clears the threshold.
func similarity(t model.Task, c model.CandidateTask) (float64, bool) {
	if t.Category != c.Category {
		return 0, false
	}

	score := titleWeight*jaccard(titleTokens(t.Title), titleTokens(c.Title)) +
		categoryWeight + // categories are equal past the gate above
		frameworkWeight*jaccard(tagSet(t.FrameworkTags), tagSet(c.FrameworkTags))

	if score < fuzzyThreshold {
		return 0, false
	}
	return score, true
}

var titleFolder = cases.Fold()

// titleTokens normalizes a title into a token set: case-folded, split on
// anything that is not a letter or digit.
func titleTokens(title string) map[string]struct{} {
	folded := titleFolder.String(title)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func tagSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[titleFolder.String(strings.TrimSpace(t))] = struct{}{}
	}
	return set
}

// jaccard is |a ∩ b| / |a ∪ b|. Two empty sets overlap fully.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
