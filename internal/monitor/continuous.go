package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Run executes probe cycles on the configured interval until ctx is
// cancelled. The first cycle runs immediately; later cycles go through cron
// with overlap protection, so a slow cycle causes ticks to be skipped rather
// than stacked. Run returns only after any in-flight cycle has finished.
func (m *Monitor) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.log.Info("monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Int("threshold", m.cfg.Threshold),
	)

	m.runScheduled(ctx)

	c := cron.New(
		cron.WithLogger(cron.DiscardLogger),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", m.cfg.Interval), func() {
		m.runScheduled(ctx)
	}); err != nil {
		return err
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	m.log.Info("monitor stopped")
	return nil
}

func (m *Monitor) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := m.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInFlight) {
		m.log.Error("cycle failed", zap.Error(err))
	}
}
