package inventory

import (
	"encoding/json"
	"os"
	"sort"
	"time"
)

// Category buckets a collection by the kind of data it holds. Categories
// drive policy synthesis: every collection in a category shares a base rule.
type Category string

const (
	CategoryIdentity     Category = "identity"
	CategoryOrganization Category = "organization"
	CategoryBilling      Category = "billing"
	CategoryCatalog      Category = "catalog"
	CategoryAudit        Category = "audit"
	CategoryConfig       Category = "config"
	CategoryOther        Category = "other"
)

// Categories lists every known category in policy-rendering order.
func Categories() []Category {
	return []Category{
		CategoryIdentity,
		CategoryOrganization,
		CategoryBilling,
		CategoryCatalog,
		CategoryAudit,
		CategoryConfig,
		CategoryOther,
	}
}

// Predicate operators and sort directions as they appear in query patterns.
const (
	OpEq      = "eq"
	OpOrderBy = "orderBy"

	DirectionAsc  = "asc"
	DirectionDesc = "desc"
)

// SourceRef points at the location a collection reference was extracted from.
type SourceRef struct {
	Project string `json:"project"`
	Path    string `json:"path"`
	Line    int    `json:"line,omitempty"`
}

// Predicate is one clause of a query pattern: an equality filter on a field,
// or an ordering on a field with a direction.
type Predicate struct {
	Field     string `json:"field"`
	Op        string `json:"op"`
	Direction string `json:"direction,omitempty"`
}

// QueryPattern records one query shape observed in source: the collection it
// targets, its clauses in declaration order, and an optional result limit.
type QueryPattern struct {
	Collection string      `json:"collection"`
	Predicates []Predicate `json:"predicates,omitempty"`
	Limit      *int        `json:"limit,omitempty"`
	Source     SourceRef   `json:"source"`
}

// ResourceRecord is one discovered collection with every location that
// references it.
type ResourceRecord struct {
	Name     string      `json:"name"`
	Category Category    `json:"category"`
	Sources  []SourceRef `json:"sources"`
}

// ScanStats summarizes how a scan went.
type ScanStats struct {
	FilesScanned int `json:"filesScanned"`
	FilesSkipped int `json:"filesSkipped"`
	CacheHits    int `json:"cacheHits,omitempty"`
}

// ScanReport is the scanner's complete output: all discovered collections,
// all query patterns, and the project roots that were walked.
type ScanReport struct {
	ScanTime    time.Time         `json:"scanTime"`
	Sources     map[string]string `json:"sources"`
	Collections []ResourceRecord  `json:"collections"`
	Patterns    []QueryPattern    `json:"queryPatterns,omitempty"`
	Stats       ScanStats         `json:"stats"`
}

// LoadReport reads a persisted scan report back from disk.
func LoadReport(path string) (*ScanReport, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var report ScanReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Collection returns the record for name, or nil when the scan never saw it.
func (r *ScanReport) Collection(name string) *ResourceRecord {
	for i := range r.Collections {
		if r.Collections[i].Name == name {
			return &r.Collections[i]
		}
	}
	return nil
}

// PatternsFor returns every query pattern that targets the named collection.
func (r *ScanReport) PatternsFor(name string) []QueryPattern {
	var out []QueryPattern
	for _, p := range r.Patterns {
		if p.Collection == name {
			out = append(out, p)
		}
	}
	return out
}

// Sort orders the report deterministically: collections by name, sources by
// project/path/line, patterns by collection then source. Two scans of the
// same tree must serialize byte-identically regardless of walk order.
func (r *ScanReport) Sort() {
	sort.Slice(r.Collections, func(i, j int) bool {
		return r.Collections[i].Name < r.Collections[j].Name
	})
	for i := range r.Collections {
		sortSources(r.Collections[i].Sources)
	}
	sort.Slice(r.Patterns, func(i, j int) bool {
		pi, pj := r.Patterns[i], r.Patterns[j]
		if pi.Collection != pj.Collection {
			return pi.Collection < pj.Collection
		}
		return lessSource(pi.Source, pj.Source)
	})
}

func sortSources(refs []SourceRef) {
	sort.Slice(refs, func(i, j int) bool { return lessSource(refs[i], refs[j]) })
}

func lessSource(a, b SourceRef) bool {
	if a.Project != b.Project {
		return a.Project < b.Project
	}
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	return a.Line < b.Line
}
