// Package monitoring computes compliance progress metrics over a company's
// persisted task set.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/verdant-group/esg-cli/internal/model"
	"github.com/verdant-group/esg-cli/internal/store"
)

// FrameworkCoverage summarizes completion for one framework tag.
type FrameworkCoverage struct {
	Framework string  `json:"framework"`
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Rate      float64 `json:"rate"`
}

// ProgressSnapshot holds a point-in-time view of a company's compliance
// progress.
type ProgressSnapshot struct {
	CompanyID string `json:"company_id"`

	Total      int `json:"total"`
	Todo       int `json:"todo"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`

	CompletionRate float64 `json:"completion_rate"`

	ByCategory map[string]int `json:"by_category"`

	// EvidenceComplete counts completed tasks that also meet their required
	// evidence count.
	EvidenceComplete int `json:"evidence_complete"`

	Overdue int `json:"overdue"`

	Frameworks []FrameworkCoverage `json:"frameworks,omitempty"`

	VersionToken string    `json:"version_token"`
	CollectedAt  time.Time `json:"collected_at"`
}

// Collector gathers progress metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect computes a progress snapshot for one company.
func (c *Collector) Collect(ctx context.Context, companyID string) (*ProgressSnapshot, error) {
	tasks, token, err := c.store.LoadTasks(ctx, companyID)
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: load tasks for %s", companyID)
	}

	now := time.Now().UTC()
	snap := &ProgressSnapshot{
		CompanyID:    companyID,
		Total:        len(tasks),
		ByCategory:   make(map[string]int),
		VersionToken: token,
		CollectedAt:  now,
	}

	type coverage struct{ total, completed int }
	byFramework := make(map[string]*coverage)

	for _, t := range tasks {
		switch t.Status {
		case model.TaskStatusTodo:
			snap.Todo++
		case model.TaskStatusInProgress:
			snap.InProgress++
		case model.TaskStatusCompleted:
			snap.Completed++
			if len(t.EvidenceRefs) >= t.RequiredEvidenceCount {
				snap.EvidenceComplete++
			}
		}

		snap.ByCategory[string(t.Category)]++

		if t.DueDate != nil && t.DueDate.Before(now) && t.Status != model.TaskStatusCompleted {
			snap.Overdue++
		}

		for _, fw := range t.FrameworkTags {
			cov := byFramework[fw]
			if cov == nil {
				cov = &coverage{}
				byFramework[fw] = cov
			}
			cov.total++
			if t.Status == model.TaskStatusCompleted {
				cov.completed++
			}
		}
	}

	if snap.Total > 0 {
		snap.CompletionRate = float64(snap.Completed) / float64(snap.Total)
	}

	names := make([]string, 0, len(byFramework))
	for name := range byFramework {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cov := byFramework[name]
		fc := FrameworkCoverage{Framework: name, Total: cov.total, Completed: cov.completed}
		if cov.total > 0 {
			fc.Rate = float64(cov.completed) / float64(cov.total)
		}
		snap.Frameworks = append(snap.Frameworks, fc)
	}

	return snap, nil
}
