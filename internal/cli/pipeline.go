package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/governor/internal/app"
	"github.com/charlesng35/governor/internal/classify"
	"github.com/charlesng35/governor/internal/deploy"
	"github.com/charlesng35/governor/internal/emit"
	"github.com/charlesng35/governor/internal/history"
	"github.com/charlesng35/governor/internal/indexes"
	"github.com/charlesng35/governor/internal/inventory"
	"github.com/charlesng35/governor/internal/policy"
	"github.com/charlesng35/governor/internal/scanner"
	"github.com/charlesng35/governor/pkg/logger"
	"github.com/charlesng35/governor/pkg/metrics"
)

// pipeline ties the scan stages together: walk the tree, classify what was
// found, optionally synthesize policy and indexes, and emit artifacts. Both
// the scan command and the monitor's remediation path run through it.
type pipeline struct {
	cfg     *app.Config
	scanner *scanner.Scanner
	table   *classify.Table
	synth   *policy.Synthesizer
	emitter *emit.Emitter
	catalog *history.Catalog
	log     *zap.Logger
}

type runOptions struct {
	// generateRules switches policy and index synthesis on. A plain scan
	// emits only the report and summary.
	generateRules bool
	// trigger names what started the run; it lands in the run history.
	trigger string
	// driver, when set, deploys the freshly emitted artifact set.
	driver deploy.Driver
}

type runResult struct {
	report   *inventory.ScanReport
	emit     *emit.Result
	reqs     []indexes.Requirement
	deployed bool
}

func newPipeline(cfg *app.Config, verbose bool, catalog *history.Catalog) (*pipeline, error) {
	table := classify.Builtin()
	if cfg.Classify.RulesFile != "" {
		loaded, err := classify.Load(cfg.Classify.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("load classification rules: %w", err)
		}
		table = loaded
	}

	var overrides []policy.Override
	if cfg.Policy.OverridesFile != "" {
		loaded, err := policy.LoadOverrides(cfg.Policy.OverridesFile)
		if err != nil {
			return nil, fmt.Errorf("load policy overrides: %w", err)
		}
		overrides = loaded
	}

	var cache *scanner.FileCache
	if cfg.Scanner.Cache.Enabled && cfg.Scanner.Cache.Size > 0 {
		cache = scanner.NewFileCache(cfg.Scanner.Cache.Size, cfg.Scanner.Cache.TTL)
	}

	// Exclude the artifact directory so watch mode never rescans its own
	// output.
	excludes := make([]string, 0, len(cfg.Scanner.ExcludeDirs)+1)
	excludes = append(excludes, cfg.Scanner.ExcludeDirs...)
	excludes = append(excludes, filepath.Base(cfg.Artifacts.Dir))

	return &pipeline{
		cfg: cfg,
		scanner: scanner.New(scanner.Config{
			Roots:       cfg.Scanner.Roots,
			Extensions:  cfg.Scanner.Extensions,
			ExcludeDirs: excludes,
			Verbose:     verbose,
			Cache:       cache,
		}),
		table:   table,
		synth:   policy.NewSynthesizer(overrides...),
		emitter: emit.New(cfg.Artifacts.Dir, emit.WithHistoryLimit(cfg.Artifacts.HistoryLimit)),
		catalog: catalog,
		log:     logger.WithModule("pipeline"),
	}, nil
}

// run executes one full pass and emits an artifact set.
func (p *pipeline) run(ctx context.Context, opts runOptions) (*runResult, error) {
	started := time.Now()

	report, err := p.scanner.Run(ctx)
	if err != nil {
		metrics.ScansTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	p.table.Annotate(report)

	artifacts := emit.Artifacts{Report: report}
	var reqs []indexes.Requirement
	if opts.generateRules {
		artifacts.Policy = p.synth.Build(report).Render()

		reqs = indexes.Analyze(report)
		prior, err := indexes.LoadConfig(p.emitter.LatestPath(emit.IndexFile))
		if err != nil {
			p.log.Warn("prior index config unreadable, starting fresh", zap.Error(err))
			prior = nil
		}
		artifacts.IndexConfig = indexes.Merge(reqs, prior)
		artifacts.Requirements = reqs
	}

	res, err := p.emitter.Write(artifacts)
	if err != nil {
		metrics.ScansTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("emit artifacts: %w", err)
	}

	out := &runResult{report: report, emit: res, reqs: reqs}

	if opts.driver != nil {
		if err := opts.driver.Deploy(ctx, res.LatestDir); err != nil {
			p.recordScan(ctx, opts.trigger, out)
			metrics.ScansTotal.WithLabelValues("error").Inc()
			return out, err
		}
		out.deployed = true
	}

	p.recordScan(ctx, opts.trigger, out)

	metrics.ScanDuration.Observe(time.Since(started).Seconds())
	switch {
	case report.Stats.FilesSkipped > 0:
		metrics.ScansTotal.WithLabelValues("degraded").Inc()
	default:
		metrics.ScansTotal.WithLabelValues("ok").Inc()
	}

	return out, nil
}

func (p *pipeline) recordScan(ctx context.Context, trigger string, res *runResult) {
	if p.catalog == nil {
		return
	}

	categories := make(map[string]int, 8)
	for _, rec := range res.report.Collections {
		categories[string(rec.Category)]++
	}

	err := p.catalog.RecordScan(ctx, history.ScanEntry{
		Stamp:        res.emit.Stamp,
		Trigger:      trigger,
		Collections:  len(res.report.Collections),
		FilesScanned: res.report.Stats.FilesScanned,
		FilesSkipped: res.report.Stats.FilesSkipped,
		Requirements: len(res.reqs),
		Deployed:     res.deployed,
		Categories:   categories,
	})
	if err != nil {
		p.log.Warn("failed to record scan in run history", zap.Error(err))
	}
}
