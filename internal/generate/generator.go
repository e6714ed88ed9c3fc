// Package generate produces candidate task sets from a company's scoping
// snapshot. Sector question catalogs are pre-parsed YAML files, one per
// sector; the markdown content pipeline that produces them is a separate
// system.
package generate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/verdant-group/esg-cli/internal/model"
	"github.com/verdant-group/esg-cli/internal/reconcile"
)

// Generator produces the candidate task set for a scoping snapshot. It must
// be deterministic: the same snapshot always yields the same candidates in
// the same order.
type Generator interface {
	GenerateCandidates(ctx context.Context, snapshot model.ScopingSnapshot) ([]model.CandidateTask, error)
}

// CatalogQuestion is one compliance question from a sector catalog.
type CatalogQuestion struct {
	ID         string `yaml:"id"`
	Question   string `yaml:"question"`
	Rationale  string `yaml:"rationale"`
	Frameworks string `yaml:"frameworks"`
	DataSource string `yaml:"data_source"`
	Category   string `yaml:"category"`

	// AppliesTo lists answer keys that gate this question. Empty means the
	// question always applies for the sector.
	AppliesTo []string `yaml:"applies_to"`
	// PerLocation questions fan out across the snapshot's locations and
	// sub-locations instead of producing one company-wide task.
	PerLocation bool `yaml:"per_location"`

	RequiredEvidenceCount int `yaml:"required_evidence_count"`
}

// SectorCatalog is the full question set for one business sector.
type SectorCatalog struct {
	Sector    string            `yaml:"sector"`
	Questions []CatalogQuestion `yaml:"questions"`
}

// CatalogGenerator implements Generator on top of a directory of per-sector
// YAML catalogs (<dir>/<sector>.yaml). Catalogs are cached after first load.
type CatalogGenerator struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*SectorCatalog
}

// NewCatalogGenerator creates a generator reading catalogs from dir.
func NewCatalogGenerator(dir string) *CatalogGenerator {
	return &CatalogGenerator{
		dir:   dir,
		cache: make(map[string]*SectorCatalog),
	}
}

// GenerateCandidates builds the candidate set for the snapshot: catalog
// questions gated by scoping answers, fanned out per location where the
// question demands it. Output is sorted by natural key.
func (g *CatalogGenerator) GenerateCandidates(ctx context.Context, snapshot model.ScopingSnapshot) ([]model.CandidateTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "generate: context done")
	}

	catalog, err := g.loadCatalog(snapshot.Sector)
	if err != nil {
		return nil, err
	}

	var candidates []model.CandidateTask
	for _, q := range catalog.Questions {
		if !applies(q, snapshot.Answers) {
			continue
		}
		if !q.PerLocation || len(snapshot.Locations) == 0 {
			candidates = append(candidates, newCandidate(catalog.Sector, q, "", ""))
			continue
		}
		for _, loc := range snapshot.Locations {
			if len(loc.SubLocations) == 0 {
				candidates = append(candidates, newCandidate(catalog.Sector, q, loc.ID, ""))
				continue
			}
			for _, sub := range loc.SubLocations {
				candidates = append(candidates, newCandidate(catalog.Sector, q, loc.ID, sub.ID))
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NaturalKey < candidates[j].NaturalKey
	})

	zap.L().Debug("generate: candidate set built",
		zap.String("sector", snapshot.Sector),
		zap.Int("questions", len(catalog.Questions)),
		zap.Int("candidates", len(candidates)),
	)

	return candidates, nil
}

func newCandidate(sector string, q CatalogQuestion, locationID, subLocationID string) model.CandidateTask {
	prov := model.Provenance{
		SourceQuestionID: q.ID,
		Sector:           sector,
		LocationID:       locationID,
		SubLocationID:    subLocationID,
	}
	evidence := q.RequiredEvidenceCount
	if evidence <= 0 {
		evidence = 1
	}
	title := q.Question
	if locationID != "" {
		// Location suffix keeps per-location tasks distinguishable in lists.
		title = fmt.Sprintf("%s [%s]", q.Question, locationSuffix(locationID, subLocationID))
	}
	return model.CandidateTask{
		NaturalKey:            reconcile.NaturalKey(prov),
		Title:                 title,
		Description:           q.Rationale,
		ComplianceContext:     q.Frameworks,
		ActionRequired:        q.DataSource,
		Category:              model.NormalizeCategory(q.Category),
		FrameworkTags:         ExtractFrameworkTags(q.Frameworks),
		RequiredEvidenceCount: evidence,
		Provenance:            prov,
	}
}

func locationSuffix(locationID, subLocationID string) string {
	if subLocationID != "" {
		return locationID + "/" + subLocationID
	}
	return locationID
}

// applies reports whether a question is in scope given the answer map. A
// question with gating keys applies when any of them carries an affirmative
// answer.
func applies(q CatalogQuestion, answers map[string]any) bool {
	if len(q.AppliesTo) == 0 {
		return true
	}
	for _, key := range q.AppliesTo {
		if affirmative(answers[key]) {
			return true
		}
	}
	return false
}

// affirmative interprets a scoping answer as a yes. Wizard answers arrive as
// booleans, yes/no strings, or multi-select slices.
func affirmative(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		s := strings.ToLower(strings.TrimSpace(val))
		return s == "yes" || s == "true" || s == "y"
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	default:
		return false
	}
}

func (g *CatalogGenerator) loadCatalog(sector string) (*SectorCatalog, error) {
	sector = strings.ToLower(strings.TrimSpace(sector))

	g.mu.RLock()
	cached, ok := g.cache[sector]
	g.mu.RUnlock()
	if ok {
		return cached, nil
	}

	path := filepath.Join(g.dir, sector+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "generate: read catalog for sector %s", sector)
	}

	var catalog SectorCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, eris.Wrapf(err, "generate: parse catalog %s", path)
	}
	if catalog.Sector == "" {
		catalog.Sector = sector
	}

	g.mu.Lock()
	g.cache[sector] = &catalog
	g.mu.Unlock()

	return &catalog, nil
}
