package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/datatypes"

	"github.com/charlesng35/governor/internal/history"
)

var (
	historyLimit int

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List recent scans, remediations, and alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context())
		},
	}
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum entries per section")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(ctx context.Context) error {
	cfg, err := bootstrap(nil)
	if err != nil {
		return err
	}

	db, err := history.Open(cfg.History)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer closeDatabase(db)

	if err := history.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate run history: %w", err)
	}
	catalog, err := history.NewCatalog(db)
	if err != nil {
		return err
	}

	scans, err := catalog.RecentScans(ctx, historyLimit)
	if err != nil {
		return err
	}
	remediations, err := catalog.RecentRemediations(ctx, historyLimit)
	if err != nil {
		return err
	}
	alerts, err := catalog.RecentAlerts(ctx, historyLimit)
	if err != nil {
		return err
	}

	printScans(scans)
	printRemediations(remediations)
	printAlerts(alerts)
	return nil
}

const historyTimeFormat = "2006-01-02 15:04"

func printScans(scans []history.ScanRun) {
	fmt.Println("Scans:")
	if len(scans) == 0 {
		fmt.Println("  none recorded")
		return
	}
	for _, run := range scans {
		deployed := ""
		if run.Deployed {
			deployed = ", deployed"
		}
		fmt.Printf("  %s  %s  %-11s %d collections, %d files (%d skipped), %d index requirements%s\n",
			run.CreatedAt.Format(historyTimeFormat),
			run.Stamp,
			run.Trigger,
			run.Collections,
			run.FilesScanned,
			run.FilesSkipped,
			run.Requirements,
			deployed,
		)
	}
}

func printRemediations(runs []history.RemediationRun) {
	fmt.Println("Remediations:")
	if len(runs) == 0 {
		fmt.Println("  none recorded")
		return
	}
	for _, run := range runs {
		line := fmt.Sprintf("  %s  %-9s %s",
			run.CreatedAt.Format(historyTimeFormat), run.Outcome, decodeNames(run.Resources))
		if still := decodeNames(run.StillFailing); still != "" {
			line += "  still failing: " + still
		}
		if run.ArtifactStamp != "" {
			line += "  stamp " + run.ArtifactStamp
		}
		if run.Error != "" {
			line += "  error: " + run.Error
		}
		fmt.Println(line)
	}
}

func printAlerts(alerts []history.AlertRecord) {
	fmt.Println("Alerts:")
	if len(alerts) == 0 {
		fmt.Println("  none recorded")
		return
	}
	for _, rec := range alerts {
		fmt.Printf("  %s  %-22s %-8s %s\n",
			rec.CreatedAt.Format(historyTimeFormat), rec.Type, rec.Severity, rec.Message)
	}
}

// decodeNames renders a JSON string array stored in the catalog. Anything
// that does not decode cleanly is shown raw rather than hidden.
func decodeNames(raw datatypes.JSON) string {
	if len(raw) == 0 {
		return ""
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return string(raw)
	}
	return strings.Join(names, ", ")
}
