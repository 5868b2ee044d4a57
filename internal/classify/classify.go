// Package classify assigns discovered collections to semantic categories.
//
// Classification is an ordered table of (regex, category) rules: the first
// rule whose pattern matches the collection name wins, and names no rule
// matches fall back to CategoryOther. The same name always yields the same
// category for a given table.
package classify

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/charlesng35/governor/internal/inventory"
	apperrors "github.com/charlesng35/governor/pkg/errors"
)

// Rule pairs a compiled name pattern with the category it assigns.
type Rule struct {
	Pattern  string             `yaml:"pattern"`
	Category inventory.Category `yaml:"category"`

	re *regexp.Regexp
}

// Table is an ordered rule list. Order is significant: earlier rules shadow
// later ones.
type Table struct {
	rules []Rule
}

// builtinRules is the default classification table. Patterns are matched
// case-insensitively anywhere in the collection name.
var builtinRules = []Rule{
	{Pattern: `(?i)(user|account|profile|member|session|credential)`, Category: inventory.CategoryIdentity},
	{Pattern: `(?i)(org|team|tenant|workspace|company)`, Category: inventory.CategoryOrganization},
	{Pattern: `(?i)(licen[cs]e|invoice|subscription|payment|billing|order|checkout)`, Category: inventory.CategoryBilling},
	{Pattern: `(?i)(product|plan|catalog|sku|price)`, Category: inventory.CategoryCatalog},
	{Pattern: `(?i)(audit|log|event|history|activity|telemetry)`, Category: inventory.CategoryAudit},
	{Pattern: `(?i)(config|setting|preference|flag)`, Category: inventory.CategoryConfig},
}

// Builtin returns the default classification table.
func Builtin() *Table {
	t, err := newTable(builtinRules)
	if err != nil {
		// The builtin patterns are compiled in tests; a failure here is a
		// programming error.
		panic(err)
	}
	return t
}

// Load reads an ordered rule table from a YAML file:
//
//	rules:
//	  - pattern: "(?i)grant"
//	    category: billing
//
// The loaded rules replace the builtin table entirely.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.ErrInvalidConfig.WithInternal(err)
	}

	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.ErrInvalidConfig.WithInternal(err)
	}
	if len(doc.Rules) == 0 {
		return nil, apperrors.ErrInvalidConfig.WithInternal(fmt.Errorf("%s: no rules defined", path))
	}

	return newTable(doc.Rules)
}

func newTable(rules []Rule) (*Table, error) {
	compiled := make([]Rule, 0, len(rules))
	for i, rule := range rules {
		pattern := strings.TrimSpace(rule.Pattern)
		if pattern == "" {
			return nil, apperrors.ErrInvalidConfig.WithInternal(fmt.Errorf("rule %d: empty pattern", i))
		}
		if !validCategory(rule.Category) {
			return nil, apperrors.ErrInvalidConfig.WithInternal(fmt.Errorf("rule %d: unknown category %q", i, rule.Category))
		}

		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, apperrors.ErrInvalidConfig.WithInternal(fmt.Errorf("rule %d: %w", i, err))
		}

		compiled = append(compiled, Rule{Pattern: pattern, Category: rule.Category, re: re})
	}
	return &Table{rules: compiled}, nil
}

func validCategory(c inventory.Category) bool {
	for _, known := range inventory.Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Classify returns the category of a collection name. First matching rule
// wins; names no rule matches are CategoryOther.
func (t *Table) Classify(name string) inventory.Category {
	for _, rule := range t.rules {
		if rule.re.MatchString(name) {
			return rule.Category
		}
	}
	return inventory.CategoryOther
}

// Annotate assigns a category to every collection in the report.
func (t *Table) Annotate(report *inventory.ScanReport) {
	for i := range report.Collections {
		report.Collections[i].Category = t.Classify(report.Collections[i].Name)
	}
}

// Rules returns a copy of the table for inspection.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}
