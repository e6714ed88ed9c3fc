// Package reconcile implements the task reconciliation engine: stable
// identity assignment, existing-to-candidate matching, and the three-way
// merge that classifies every task into preserved, updated, added or removed.
// Everything in this package is pure; persistence and orchestration live in
// internal/store and internal/service.
package reconcile

import (
	"strings"

	"github.com/verdant-group/esg-cli/internal/model"
)

// NaturalKey derives the stable identity of a task from its provenance.
// The same provenance always yields the same key, independent of generation
// order, so a requirement keeps its identity across regenerations. Segments
// are lowercased and dot-joined; empty segments are omitted, e.g.
// "hospitality.q1.loc1" or "education.q7" for a company-wide question.
func NaturalKey(p model.Provenance) string {
	parts := make([]string, 0, 4)
	for _, seg := range []string{p.Sector, p.SourceQuestionID, p.LocationID, p.SubLocationID} {
		seg = strings.ToLower(strings.TrimSpace(seg))
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, ".")
}
