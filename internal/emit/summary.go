package emit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charlesng35/governor/internal/indexes"
	"github.com/charlesng35/governor/internal/inventory"
)

func marshalReport(report *inventory.ScanReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func marshalIndexes(cfg *indexes.ConfigFile) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// renderSummary produces the human-readable run digest that sits next to the
// machine artifacts.
func renderSummary(a Artifacts) string {
	var b strings.Builder

	b.WriteString("# Governance Run Summary\n\n")

	if a.Report != nil {
		fmt.Fprintf(&b, "Scanned at %s.\n\n", a.Report.ScanTime.Format("2006-01-02 15:04:05 MST"))
		fmt.Fprintf(&b, "- Files scanned: %d (skipped: %d)\n", a.Report.Stats.FilesScanned, a.Report.Stats.FilesSkipped)
		fmt.Fprintf(&b, "- Collections discovered: %d\n", len(a.Report.Collections))
		fmt.Fprintf(&b, "- Query patterns observed: %d\n\n", len(a.Report.Patterns))

		writeCategoryBreakdown(&b, a.Report)
		writeProjects(&b, a.Report)
	}

	if a.Policy != "" {
		b.WriteString("## Policy\n\n")
		fmt.Fprintf(&b, "Access policy regenerated (%s).\n\n", PolicyFile)
	}

	if len(a.Requirements) > 0 {
		b.WriteString("## Composite index requirements\n\n")
		b.WriteString("| Collection | Fields | Queries | Priority |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, req := range a.Requirements {
			var fields []string
			for _, f := range req.Fields {
				fields = append(fields, f.FieldPath+" "+f.Order)
			}
			fmt.Fprintf(&b, "| %s | %s | %d | %s |\n",
				req.Collection, strings.Join(fields, ", "), req.QueryCount, req.Priority)
		}
		b.WriteString("\n")
	} else if a.IndexConfig != nil {
		b.WriteString("## Composite index requirements\n\nNone derived from this scan.\n\n")
	}

	return b.String()
}

func writeCategoryBreakdown(b *strings.Builder, report *inventory.ScanReport) {
	counts := make(map[inventory.Category]int)
	for _, rec := range report.Collections {
		counts[rec.Category]++
	}
	if len(counts) == 0 {
		return
	}

	b.WriteString("## Collections by category\n\n")
	for _, category := range inventory.Categories() {
		if counts[category] == 0 {
			continue
		}
		var names []string
		for _, rec := range report.Collections {
			if rec.Category == category {
				names = append(names, rec.Name)
			}
		}
		sort.Strings(names)
		fmt.Fprintf(b, "- **%s** (%d): %s\n", category, counts[category], strings.Join(names, ", "))
	}
	b.WriteString("\n")
}

func writeProjects(b *strings.Builder, report *inventory.ScanReport) {
	if len(report.Sources) == 0 {
		return
	}

	b.WriteString("## Projects\n\n")
	projects := make([]string, 0, len(report.Sources))
	for name := range report.Sources {
		projects = append(projects, name)
	}
	sort.Strings(projects)
	for _, name := range projects {
		fmt.Fprintf(b, "- %s: `%s`\n", name, report.Sources[name])
	}
	b.WriteString("\n")
}
