package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/governor/internal/inventory"
)

func testReport() *inventory.ScanReport {
	return &inventory.ScanReport{
		Collections: []inventory.ResourceRecord{
			{Name: "auditLogs", Category: inventory.CategoryAudit},
			{Name: "invoices", Category: inventory.CategoryBilling},
			{Name: "licenses", Category: inventory.CategoryBilling},
			{Name: "users", Category: inventory.CategoryIdentity},
			{Name: "widgets", Category: inventory.CategoryOther},
		},
	}
}

func TestBuildGroupsAndSortsRules(t *testing.T) {
	doc := NewSynthesizer().Build(testReport())

	require.Len(t, doc.Rules, 5)

	var names []string
	for _, r := range doc.Rules {
		names = append(names, r.Collection)
	}
	// Category order (identity, billing, audit, other), names sorted inside
	// each category.
	require.Equal(t, []string{"users", "invoices", "licenses", "auditLogs", "widgets"}, names)
}

func TestRenderIsDeterministic(t *testing.T) {
	s := NewSynthesizer()

	first := s.Build(testReport()).Render()
	second := s.Build(testReport()).Render()

	require.Equal(t, first, second)
}

func TestRenderContainsFallbackRule(t *testing.T) {
	out := NewSynthesizer().Build(testReport()).Render()

	require.Contains(t, out, "match /{collection}/{doc} {")
	require.Contains(t, out, "allow read, write: if isSignedIn();")

	// The fallback must come after every explicit rule.
	fallback := strings.Index(out, "match /{collection}/{doc}")
	explicit := strings.LastIndex(out, "match /auditLogs/{doc}")
	require.Greater(t, fallback, explicit)
}

func TestRenderEmptyReportStillHasFallback(t *testing.T) {
	out := NewSynthesizer().Build(&inventory.ScanReport{}).Render()

	require.Contains(t, out, "match /{collection}/{doc} {")
	require.Contains(t, out, "function isSignedIn()")
}

func TestBuiltinOverridesApply(t *testing.T) {
	doc := NewSynthesizer().Build(testReport())

	var audit *Rule
	for i := range doc.Rules {
		if doc.Rules[i].Collection == "auditLogs" {
			audit = &doc.Rules[i]
		}
	}
	require.NotNil(t, audit)
	require.Equal(t, "isAdmin()", audit.Read)
	require.Equal(t, "false", audit.Write)

	out := doc.Render()
	require.Contains(t, out, "allow read: if isSignedIn() && (isAdmin());")
	require.Contains(t, out, "allow write: if false;")
}

func TestExtraOverridesWin(t *testing.T) {
	doc := NewSynthesizer(Override{
		Collection: "widgets",
		Read:       "isAdmin()",
		Write:      "isAdmin()",
		Comment:    "locked down",
	}).Build(testReport())

	var widget *Rule
	for i := range doc.Rules {
		if doc.Rules[i].Collection == "widgets" {
			widget = &doc.Rules[i]
		}
	}
	require.NotNil(t, widget)
	require.Equal(t, "isAdmin()", widget.Read)
	require.Contains(t, doc.Render(), "// locked down")
}

func TestUncategorizedFallsBackToOther(t *testing.T) {
	doc := NewSynthesizer().Build(&inventory.ScanReport{
		Collections: []inventory.ResourceRecord{{Name: "mystery"}},
	})

	require.Len(t, doc.Rules, 1)
	require.Equal(t, "isSignedIn()", doc.Rules[0].Read)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	content := `overrides:
  - collection: apiKeys
    read: isAdmin()
    write: isAdmin()
    comment: backend credentials
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	overrides, err := LoadOverrides(path)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	require.Equal(t, "apiKeys", overrides[0].Collection)
}

func TestLoadOverridesRejectsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	content := `overrides:
  - collection: apiKeys
    read: isAdmin()
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadOverrides(path)
	require.Error(t, err)
}
