// Package indexes derives composite-index requirements from observed query
// patterns. Queries are grouped by their field signature; a signature
// touching more than one distinct field needs a composite index, weighted by
// how many call sites issue it.
package indexes

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/governor/internal/inventory"
	"github.com/charlesng35/governor/pkg/logger"
)

// Index field sort orders as they appear in the emitted configuration.
const (
	OrderAsc  = "ASC"
	OrderDesc = "DESC"
)

// Requirement priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// QueryScopeCollection is the only query scope the store supports today.
const QueryScopeCollection = "COLLECTION"

// Field is one component of a composite index.
type Field struct {
	FieldPath string `json:"fieldPath"`
	Order     string `json:"order"`
}

// Requirement is a derived need for a composite index on a collection.
type Requirement struct {
	Collection string  `json:"collection"`
	Fields     []Field `json:"fields"`
	QueryCount int     `json:"queryCount"`
	Priority   string  `json:"priority"`
}

// ConfigEntry is one index in the deployable configuration artifact.
type ConfigEntry struct {
	CollectionGroup string  `json:"collectionGroup"`
	QueryScope      string  `json:"queryScope"`
	Fields          []Field `json:"fields"`
}

// ConfigFile is the complete index configuration artifact.
type ConfigFile struct {
	Indexes []ConfigEntry `json:"indexes"`
}

// Analyze groups the report's query patterns by field signature and returns
// one requirement per multi-field signature, ordered deterministically.
func Analyze(report *inventory.ScanReport) []Requirement {
	type group struct {
		collection string
		fields     []Field
		count      int
	}

	groups := make(map[string]*group)
	for _, pattern := range report.Patterns {
		fields := indexFields(pattern)
		if len(fields) < 2 {
			continue
		}

		key := signature(pattern.Collection, fields)
		g, ok := groups[key]
		if !ok {
			g = &group{collection: pattern.Collection, fields: fields}
			groups[key] = g
		}
		g.count++
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	reqs := make([]Requirement, 0, len(keys))
	for _, key := range keys {
		g := groups[key]
		reqs = append(reqs, Requirement{
			Collection: g.collection,
			Fields:     g.fields,
			QueryCount: g.count,
			Priority:   priorityFor(g.count),
		})
	}

	logger.WithModule("indexes").Info("index analysis complete",
		zap.Int("patterns", len(report.Patterns)),
		zap.Int("requirements", len(reqs)))

	return reqs
}

// indexFields converts a pattern's predicates into index fields: equality
// fields first in sorted order, then ordering fields in sorted order with
// their directions. A field filtered and ordered in the same query counts
// once, keeping the ordering direction.
func indexFields(pattern inventory.QueryPattern) []Field {
	var equality, ordering []Field
	seen := make(map[string]int) // field name -> slot in equality

	for _, pred := range pattern.Predicates {
		switch pred.Op {
		case inventory.OpEq:
			if _, dup := seen[pred.Field]; dup {
				continue
			}
			seen[pred.Field] = len(equality)
			equality = append(equality, Field{FieldPath: pred.Field, Order: OrderAsc})
		case inventory.OpOrderBy:
			order := OrderAsc
			if pred.Direction == inventory.DirectionDesc {
				order = OrderDesc
			}
			if slot, dup := seen[pred.Field]; dup {
				if slot >= 0 {
					equality[slot].Order = order
				}
				continue
			}
			seen[pred.Field] = -1
			ordering = append(ordering, Field{FieldPath: pred.Field, Order: order})
		}
	}

	sort.Slice(equality, func(i, j int) bool { return equality[i].FieldPath < equality[j].FieldPath })
	sort.Slice(ordering, func(i, j int) bool { return ordering[i].FieldPath < ordering[j].FieldPath })

	return append(equality, ordering...)
}

// signature is the canonical grouping key for a query shape.
func signature(collection string, fields []Field) string {
	tokens := make([]string, len(fields))
	for i, f := range fields {
		tokens[i] = f.FieldPath + ":" + strings.ToLower(f.Order)
	}
	return collection + "|" + strings.Join(tokens, ",")
}

func priorityFor(count int) string {
	switch {
	case count > 5:
		return PriorityHigh
	case count > 2:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Merge folds new requirements into an existing configuration without
// duplicating entries. The merged index list is fully re-sorted so output
// order never depends on the prior artifact's order.
func Merge(reqs []Requirement, prior *ConfigFile) *ConfigFile {
	merged := &ConfigFile{}
	seen := make(map[string]struct{})

	add := func(entry ConfigEntry) {
		key := signature(entry.CollectionGroup, entry.Fields)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		merged.Indexes = append(merged.Indexes, entry)
	}

	if prior != nil {
		for _, entry := range prior.Indexes {
			add(entry)
		}
	}
	for _, req := range reqs {
		add(ConfigEntry{
			CollectionGroup: req.Collection,
			QueryScope:      QueryScopeCollection,
			Fields:          req.Fields,
		})
	}

	sort.Slice(merged.Indexes, func(i, j int) bool {
		ki := signature(merged.Indexes[i].CollectionGroup, merged.Indexes[i].Fields)
		kj := signature(merged.Indexes[j].CollectionGroup, merged.Indexes[j].Fields)
		return ki < kj
	})

	return merged
}

// LoadConfig reads a previously emitted index configuration. A missing file
// yields an empty configuration, not an error.
func LoadConfig(path string) (*ConfigFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ConfigFile{}, nil
		}
		return nil, err
	}

	var cfg ConfigFile
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
