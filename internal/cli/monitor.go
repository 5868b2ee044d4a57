package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/charlesng35/governor/internal/alert"
	"github.com/charlesng35/governor/internal/app"
	"github.com/charlesng35/governor/internal/app/maintenance"
	"github.com/charlesng35/governor/internal/deploy"
	"github.com/charlesng35/governor/internal/emit"
	"github.com/charlesng35/governor/internal/inventory"
	"github.com/charlesng35/governor/internal/monitor"
	"github.com/charlesng35/governor/internal/ops"
	"github.com/charlesng35/governor/internal/store"
	apperrors "github.com/charlesng35/governor/pkg/errors"
	"github.com/charlesng35/governor/pkg/logger"
)

const storeCloseTimeout = 5 * time.Second

var (
	monitorContinuous bool
	monitorWebhookURL string
	monitorThreshold  int
	monitorInterval   time.Duration

	monitorCmd = &cobra.Command{
		Use:   "monitor",
		Short: "Probe governed collections for permission failures",
		Long: `Monitor probes every collection from the latest scan report against the
document store. Permission denials are counted per resource; once a resource
crosses the error threshold the monitor regenerates the access policy,
redeploys it, and reverifies the failing resources.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd.Context())
		},
	}
)

func init() {
	monitorCmd.Flags().BoolVar(&monitorContinuous, "continuous", false, "keep monitoring on the configured interval")
	monitorCmd.Flags().StringVar(&monitorWebhookURL, "webhook-url", "", "alert webhook URL (overrides configuration)")
	monitorCmd.Flags().IntVar(&monitorThreshold, "threshold", 0, "permission errors before remediation (overrides configuration)")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 0, "probe cycle interval, e.g. 60s (overrides configuration)")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(ctx context.Context) error {
	cfg, err := bootstrap(func(cfg *app.Config) {
		if monitorWebhookURL != "" {
			cfg.Alerts.WebhookURL = monitorWebhookURL
		}
		if monitorThreshold > 0 {
			cfg.Monitor.Threshold = monitorThreshold
		}
		if monitorInterval > 0 {
			cfg.Monitor.Interval = monitorInterval
		}
	})
	if err != nil {
		return err
	}

	log := logger.WithModule("monitor")

	st, err := store.Connect(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("connect to document store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), storeCloseTimeout)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			log.Warn("failed to close store client", zap.Error(err))
		}
	}()

	catalog, db := openCatalog(cfg)
	defer closeDatabase(db)

	p, err := newPipeline(cfg, false, catalog)
	if err != nil {
		return err
	}

	driver, err := deploy.NewExecDriver(cfg.Deploy.Command, cfg.Deploy.Timeout)
	if err != nil {
		return err
	}

	sinkOpts := []alert.Option{
		alert.WithTimeout(cfg.Alerts.Timeout),
		alert.WithRetry(cfg.Alerts.MaxRetries, cfg.Alerts.RetryDelay),
	}
	if cfg.Alerts.WebhookURL != "" {
		sinkOpts = append(sinkOpts, alert.WithWebhook(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookSecret))
	}
	sink := alert.NewSink(cfg.AlertDir(), sinkOpts...)

	mon, err := monitor.New(cfg.Monitor, monitor.Deps{
		Store:      st,
		Driver:     driver,
		Sink:       sink,
		Catalog:    catalog,
		Resources:  governedResources(p),
		Regenerate: regenerate(p),
	})
	if err != nil {
		return err
	}

	log.Info("permission monitor starting",
		zap.Int("threshold", cfg.Monitor.Threshold),
		zap.Duration("interval", cfg.Monitor.Interval),
		zap.Bool("continuous", monitorContinuous),
		zap.String("alert_log", sink.LogPath()))

	if !monitorContinuous {
		res, err := mon.RunCycle(ctx)
		if err != nil {
			return err
		}
		printCycleSummary(res)
		return cycleExitError(res)
	}

	cleaner := maintenance.NewCleaner(catalog, maintenance.WithRetentionDays(cfg.History.RetentionDays))
	if err := cleaner.Start(); err != nil {
		log.Warn("history cleaner failed to start", zap.Error(err))
	} else {
		defer func() {
			stopCtx := cleaner.Stop()
			if err := cleaner.RunOnce(stopCtx); err != nil {
				log.Warn("final history cleanup failed", zap.Error(err))
			}
		}()
	}

	if cfg.Ops.Enabled {
		opsSrv := ops.NewServer(cfg.Ops.Addr, st, mon.Snapshot)
		go func() {
			if err := opsSrv.Run(ctx); err != nil {
				log.Error("ops endpoint failed", zap.Error(err))
			}
		}()
	}

	return mon.Run(ctx)
}

// governedResources lists the collections the monitor probes, read from the
// latest persisted scan report. A missing report triggers one fresh scan so
// the monitor can start on a clean checkout.
func governedResources(p *pipeline) monitor.ResourceLister {
	return func(ctx context.Context) ([]string, error) {
		report, err := inventory.LoadReport(p.emitter.LatestPath(emit.ReportFile))
		if errors.Is(err, os.ErrNotExist) {
			res, runErr := p.run(ctx, runOptions{trigger: "monitor"})
			if runErr != nil {
				return nil, runErr
			}
			report = res.report
		} else if err != nil {
			return nil, fmt.Errorf("load scan report: %w", err)
		}

		names := make([]string, 0, len(report.Collections))
		for _, rec := range report.Collections {
			names = append(names, rec.Name)
		}
		return names, nil
	}
}

func regenerate(p *pipeline) monitor.RegenerateFunc {
	return func(ctx context.Context) (monitor.Artifacts, error) {
		res, err := p.run(ctx, runOptions{generateRules: true, trigger: "remediation"})
		if err != nil {
			return monitor.Artifacts{}, err
		}
		return monitor.Artifacts{Dir: res.emit.LatestDir, Stamp: res.emit.Stamp}, nil
	}
}

func printCycleSummary(res *monitor.CycleResult) {
	fmt.Printf("Cycle %s finished in %s: %s\n",
		res.ID, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond), res.State)
	fmt.Printf("  Probed: %d\n", res.Probed)
	printResourceList("Failing", res.Failing)
	printResourceList("Unreachable", res.Unreachable)
	printResourceList("Triggered", res.Triggered)
	printResourceList("In backoff", res.Suppressed)

	rem := res.Remediation
	if rem == nil {
		return
	}
	fmt.Printf("  Remediation: %s", rem.Outcome)
	if rem.FailedStep != "" {
		fmt.Printf(" (step %s)", rem.FailedStep)
	}
	fmt.Println()
	if rem.ArtifactStamp != "" {
		fmt.Printf("    Artifacts: %s (stamp %s)\n", rem.ArtifactDir, rem.ArtifactStamp)
	}
	printResourceList("  Still failing", rem.StillFailing)
	if rem.Detail != "" {
		fmt.Printf("    %s\n", rem.Detail)
	}
}

func printResourceList(label string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Printf("  %s (%d): %s\n", label, len(names), strings.Join(names, ", "))
}

// cycleExitError maps a single-shot cycle onto the process exit code. A clean
// cycle, or one whose remediation fixed every failing resource, exits zero.
// Unreachable resources are transient probe errors, not permission failures,
// and do not fail the check on their own.
func cycleExitError(res *monitor.CycleResult) error {
	if res.State == monitor.StateAllOk {
		return nil
	}

	if rem := res.Remediation; rem != nil {
		if rem.Err != nil {
			return rem.Err
		}
		if rem.Outcome == monitor.RemediationSucceeded &&
			len(res.Suppressed) == 0 &&
			len(res.Failing) == len(rem.Targets) {
			return nil
		}
	}

	return apperrors.ErrPermissionDenied.WithInternal(fmt.Errorf(
		"%d resource(s) failing permission checks, %d unreachable",
		len(res.Failing), len(res.Unreachable)))
}
