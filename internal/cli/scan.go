package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/charlesng35/governor/internal/deploy"
	"github.com/charlesng35/governor/internal/inventory"
	apperrors "github.com/charlesng35/governor/pkg/errors"
	"github.com/charlesng35/governor/pkg/logger"
)

var (
	scanVerbose       bool
	scanGenerateRules bool
	scanDeploy        bool
	scanWatch         bool

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Scan source trees for document-store collection references",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context())
		},
	}
)

func init() {
	scanCmd.Flags().BoolVarP(&scanVerbose, "verbose", "v", false, "log per-file scan detail")
	scanCmd.Flags().BoolVar(&scanGenerateRules, "generate-rules", false, "synthesize access policy and index configuration")
	scanCmd.Flags().BoolVar(&scanDeploy, "deploy", false, "deploy generated artifacts (implies --generate-rules)")
	scanCmd.Flags().BoolVar(&scanWatch, "watch", false, "keep watching the source trees and rescan on change")
	rootCmd.AddCommand(scanCmd)
}

func runScan(ctx context.Context) error {
	cfg, err := bootstrap(nil)
	if err != nil {
		return err
	}

	catalog, db := openCatalog(cfg)
	defer closeDatabase(db)

	p, err := newPipeline(cfg, scanVerbose, catalog)
	if err != nil {
		return err
	}

	opts := runOptions{
		generateRules: scanGenerateRules || scanDeploy,
		trigger:       "cli",
	}
	if scanDeploy {
		driver, err := deploy.NewExecDriver(cfg.Deploy.Command, cfg.Deploy.Timeout)
		if err != nil {
			return err
		}
		opts.driver = driver
	}

	if scanWatch {
		return watchLoop(ctx, p, opts)
	}

	res, err := p.run(ctx, opts)
	if err != nil {
		return err
	}
	printScanSummary(res)

	if n := res.report.Stats.FilesSkipped; n > 0 {
		return apperrors.ErrFileAccess.WithInternal(fmt.Errorf("%d file(s) skipped during scan", n))
	}
	return nil
}

// watchLoop runs one scan immediately, then rescans after every debounced
// filesystem change. Rescan failures are logged and the watch continues; only
// cancellation ends the loop.
func watchLoop(ctx context.Context, p *pipeline, opts runOptions) error {
	log := logger.WithModule("watch")
	opts.trigger = "watch"

	res, err := p.run(ctx, opts)
	if err != nil {
		return err
	}
	printScanSummary(res)
	log.Info("watching for source changes",
		zap.Strings("roots", p.cfg.Scanner.Roots),
		zap.Duration("debounce", p.cfg.Scanner.Watch.Debounce))

	err = p.scanner.Watch(ctx, p.cfg.Scanner.Watch.Debounce, func(ctx context.Context) {
		res, err := p.run(ctx, opts)
		if err != nil {
			log.Error("rescan failed", zap.Error(err))
			return
		}
		log.Info("rescan complete",
			zap.String("stamp", res.emit.Stamp),
			zap.Int("collections", len(res.report.Collections)))
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printScanSummary(res *runResult) {
	report := res.report

	fmt.Println("Scan complete.")
	fmt.Printf("  Files scanned: %d (skipped %d, cache hits %d)\n",
		report.Stats.FilesScanned, report.Stats.FilesSkipped, report.Stats.CacheHits)
	fmt.Printf("  Collections:   %d\n", len(report.Collections))
	fmt.Printf("  Query shapes:  %d\n", len(report.Patterns))

	byCategory := make(map[inventory.Category][]string, 8)
	for _, rec := range report.Collections {
		byCategory[rec.Category] = append(byCategory[rec.Category], rec.Name)
	}
	for _, cat := range inventory.Categories() {
		names := byCategory[cat]
		if len(names) == 0 {
			continue
		}
		fmt.Printf("    %-13s %s\n", string(cat)+":", strings.Join(names, ", "))
	}

	if len(res.reqs) > 0 {
		fmt.Printf("  Composite index requirements: %d\n", len(res.reqs))
		for _, req := range res.reqs {
			fields := make([]string, 0, len(req.Fields))
			for _, f := range req.Fields {
				fields = append(fields, f.FieldPath+" "+f.Order)
			}
			fmt.Printf("    %s [%s] (%d queries, %s priority)\n",
				req.Collection, strings.Join(fields, ", "), req.QueryCount, req.Priority)
		}
	}

	if res.deployed {
		fmt.Println("  Deployed to store.")
	}
	fmt.Printf("  Artifacts: %s (stamp %s)\n", res.emit.LatestDir, res.emit.Stamp)
}
