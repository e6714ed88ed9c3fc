package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// SubLocation is a sub-unit of a company location (a floor, a building, a
// site within a campus).
type SubLocation struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Location is a physical company location that per-location compliance
// questions fan out across.
type Location struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	SubLocations []SubLocation `json:"sub_locations,omitempty" yaml:"sub_locations"`
}

// ScopingSnapshot captures the company's scoping wizard state at the moment a
// candidate set is generated: the sector, the full answer map, and location
// data. It is passed through to the generator unchanged.
type ScopingSnapshot struct {
	Sector      string         `json:"sector" yaml:"sector"`
	Answers     map[string]any `json:"answers" yaml:"answers"`
	Locations   []Location     `json:"locations,omitempty" yaml:"locations"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" yaml:"completed_at"`
}

// Hash returns a stable digest of the snapshot, used to key preview
// deduplication. Answer keys are sorted so map iteration order cannot leak
// into the digest.
func (s ScopingSnapshot) Hash() string {
	keys := make([]string, 0, len(s.Answers))
	for k := range s.Answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(s.Sector))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		v, _ := json.Marshal(s.Answers[k])
		h.Write(v)
	}
	for _, loc := range s.Locations {
		h.Write([]byte{0})
		h.Write([]byte(loc.ID))
		for _, sub := range loc.SubLocations {
			h.Write([]byte{1})
			h.Write([]byte(sub.ID))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
