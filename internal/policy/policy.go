// Package policy synthesizes an access-control document from a collection
// inventory. Every collection receives a rule derived from its category,
// sensitive collections get explicit per-name overrides, and a universal
// fallback rule covers collections discovered after the last synthesis.
//
// Rendering is deterministic: the same report always produces a
// byte-identical document.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/governor/internal/inventory"
	"github.com/charlesng35/governor/pkg/logger"
)

// Rule is the synthesized authorization rule for one collection. Read and
// Write are condition expressions in the policy language; "false" denies the
// operation entirely.
type Rule struct {
	Collection string             `json:"collection"`
	Category   inventory.Category `json:"category"`
	Read       string             `json:"read"`
	Write      string             `json:"write"`
	Comment    string             `json:"comment,omitempty"`
}

// Document is a complete synthesized policy.
type Document struct {
	Rules []Rule
}

// conditions maps a category to its base read/write conditions. Every
// condition is implicitly wrapped in an authentication check at render time.
type conditions struct {
	read  string
	write string
}

var categoryConditions = map[inventory.Category]conditions{
	inventory.CategoryIdentity:     {read: "isOwner() || isAdmin()", write: "isOwner() || isAdmin()"},
	inventory.CategoryOrganization: {read: "sameOrg()", write: "sameOrg() && isAdmin()"},
	inventory.CategoryBilling:      {read: "sameOrg() && hasRole('billing')", write: "isAdmin()"},
	inventory.CategoryCatalog:      {read: "isSignedIn()", write: "isAdmin()"},
	inventory.CategoryAudit:        {read: "isAdmin()", write: "false"},
	inventory.CategoryConfig:       {read: "isSignedIn()", write: "isAdmin()"},
	inventory.CategoryOther:        {read: "isSignedIn()", write: "isSignedIn()"},
}

// builtinOverrides pins rules for collections whose names demand stricter
// handling than their category default, regardless of classification.
var builtinOverrides = []Override{
	{
		Collection: "users",
		Read:       "isOwner() || isAdmin()",
		Write:      "isOwner() || isAdmin()",
		Comment:    "profile documents are owner-private",
	},
	{
		Collection: "auditLogs",
		Read:       "isAdmin()",
		Write:      "false",
		Comment:    "audit trail is append-only via backend services",
	},
}

// Synthesizer builds policy documents from scan reports.
type Synthesizer struct {
	overrides map[string]Override
	log       *zap.Logger
}

// NewSynthesizer builds a Synthesizer carrying the builtin overrides plus
// any extras, later entries winning on collection-name collisions.
func NewSynthesizer(extra ...Override) *Synthesizer {
	s := &Synthesizer{
		overrides: make(map[string]Override, len(builtinOverrides)+len(extra)),
		log:       logger.WithModule("policy"),
	}
	for _, o := range builtinOverrides {
		s.overrides[o.Collection] = o
	}
	for _, o := range extra {
		s.overrides[o.Collection] = o
	}
	return s
}

// Build derives one rule per discovered collection. Collections the report
// never saw are covered by the fallback rule added at render time.
func (s *Synthesizer) Build(report *inventory.ScanReport) *Document {
	doc := &Document{Rules: make([]Rule, 0, len(report.Collections))}

	for _, rec := range report.Collections {
		doc.Rules = append(doc.Rules, s.ruleFor(rec))
	}
	doc.sort()

	s.log.Info("policy synthesized", zap.Int("rules", len(doc.Rules)))
	return doc
}

func (s *Synthesizer) ruleFor(rec inventory.ResourceRecord) Rule {
	if o, ok := s.overrides[rec.Name]; ok {
		return Rule{
			Collection: rec.Name,
			Category:   rec.Category,
			Read:       o.Read,
			Write:      o.Write,
			Comment:    o.Comment,
		}
	}

	cond, ok := categoryConditions[rec.Category]
	if !ok {
		cond = categoryConditions[inventory.CategoryOther]
	}
	return Rule{
		Collection: rec.Name,
		Category:   rec.Category,
		Read:       cond.read,
		Write:      cond.write,
	}
}

// sort orders rules by category (fixed category order), then by collection
// name inside each category.
func (d *Document) sort() {
	rank := make(map[inventory.Category]int, len(inventory.Categories()))
	for i, c := range inventory.Categories() {
		rank[c] = i
	}

	sort.SliceStable(d.Rules, func(i, j int) bool {
		ri, rj := d.Rules[i], d.Rules[j]
		if rank[ri.Category] != rank[rj.Category] {
			return rank[ri.Category] < rank[rj.Category]
		}
		return ri.Collection < rj.Collection
	})
}

// Render serializes the document into the policy language.
func (d *Document) Render() string {
	var b strings.Builder

	b.WriteString("service governed.store {\n")
	b.WriteString("  match /documents {\n")
	b.WriteString("    function isSignedIn() { return request.auth != null; }\n")
	b.WriteString("    function isAdmin() { return request.auth.roles.has('admin'); }\n")
	b.WriteString("    function isOwner() { return request.auth.uid == resource.ownerId; }\n")
	b.WriteString("    function sameOrg() { return request.auth.orgId == resource.organizationId; }\n")
	b.WriteString("    function hasRole(role) { return request.auth.roles.has(role); }\n")

	var lastCategory inventory.Category
	for i, rule := range d.Rules {
		if i == 0 || rule.Category != lastCategory {
			fmt.Fprintf(&b, "\n    // category: %s\n", rule.Category)
			lastCategory = rule.Category
		}

		if rule.Comment != "" {
			fmt.Fprintf(&b, "    // %s\n", rule.Comment)
		}
		fmt.Fprintf(&b, "    match /%s/{doc} {\n", rule.Collection)
		if rule.Read == rule.Write {
			fmt.Fprintf(&b, "      allow read, write: if %s;\n", guard(rule.Read))
		} else {
			fmt.Fprintf(&b, "      allow read: if %s;\n", guard(rule.Read))
			fmt.Fprintf(&b, "      allow write: if %s;\n", guard(rule.Write))
		}
		b.WriteString("    }\n")
	}

	b.WriteString("\n    // fallback: any authenticated principal\n")
	b.WriteString("    match /{collection}/{doc} {\n")
	b.WriteString("      allow read, write: if isSignedIn();\n")
	b.WriteString("    }\n")
	b.WriteString("  }\n")
	b.WriteString("}\n")

	return b.String()
}

// guard wraps a condition in the authentication check unless it already is
// one, or denies outright.
func guard(cond string) string {
	switch cond {
	case "false", "isSignedIn()":
		return cond
	default:
		return fmt.Sprintf("isSignedIn() && (%s)", cond)
	}
}
