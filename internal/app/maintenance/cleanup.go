package maintenance

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/charlesng35/governor/internal/history"
	"github.com/charlesng35/governor/pkg/logger"
)

const (
	defaultRetentionDays = 90
	defaultSchedule      = "@daily"
)

// Cleaner enforces the history catalog retention window in the background so
// long-running monitors do not grow the catalog without bound.
type Cleaner struct {
	catalog   *history.Catalog
	cron      *cron.Cron
	log       *zap.Logger
	retention int
	schedule  string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithRetentionDays adjusts how long catalog rows are retained before cleanup.
func WithRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithSchedule overrides the cron specification for retention enforcement.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil catalog
// results in a no-op cleaner.
func NewCleaner(catalog *history.Catalog, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		catalog:   catalog,
		retention: defaultRetentionDays,
		schedule:  defaultSchedule,
		log:       logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the retention job with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.catalog == nil || c.retention <= 0 {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		ctx := context.Background()
		if _, err := c.catalog.CleanupOlderThan(ctx, c.retention); err != nil {
			c.log.Warn("catalog cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes the retention pass immediately. Primarily used in tests and
// during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.catalog == nil || c.retention <= 0 {
		return nil
	}

	removed, err := c.catalog.CleanupOlderThan(ctx, c.retention)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Info("catalog rows pruned", zap.Int64("removed", removed))
	}
	return nil
}
