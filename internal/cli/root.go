// Package cli implements the governor command tree: scan, monitor, and
// history. Commands load configuration, wire the pipeline packages together,
// and map errors onto process exit codes.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/governor/internal/app"
	"github.com/charlesng35/governor/internal/history"
	"github.com/charlesng35/governor/pkg/logger"
)

var (
	cfgPath string

	rootCmd = &cobra.Command{
		Use:   "governor",
		Short: "Governor keeps document-store access policy in step with the source tree",
		Long: `Governor scans application source trees for document-store collection
references and query shapes, synthesizes an access policy document and a
composite index configuration from what it finds, and monitors the store for
permission failures, regenerating and redeploying the policy when they cross
the error threshold.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to configuration directory or file")
}

// Execute runs the root command under ctx and returns the resulting error.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// bootstrap loads configuration, applies any command-line overrides, and
// initialises logging. Every subcommand starts here.
func bootstrap(mutate func(*app.Config)) (*app.Config, error) {
	cfg, err := resolveConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	if mutate != nil {
		mutate(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	generated, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return nil, err
	}

	if err := app.ConfigureLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	log := logger.WithModule("bootstrap")
	for key := range generated {
		log.Info("generated runtime secret", zap.String("key", key))
	}

	return cfg, nil
}

func resolveConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

// openCatalog opens the run-history catalog. The catalog is observability
// only: any failure is logged and recording is simply disabled.
func openCatalog(cfg *app.Config) (*history.Catalog, *gorm.DB) {
	log := logger.WithModule("history")

	db, err := history.Open(cfg.History)
	if err != nil {
		log.Warn("run-history catalog unavailable", zap.Error(err))
		return nil, nil
	}
	if err := history.AutoMigrate(db); err != nil {
		log.Warn("run-history catalog migration failed", zap.Error(err))
		closeDatabase(db)
		return nil, nil
	}

	catalog, err := history.NewCatalog(db)
	if err != nil {
		log.Warn("run-history catalog unavailable", zap.Error(err))
		closeDatabase(db)
		return nil, nil
	}
	return catalog, db
}

func closeDatabase(db *gorm.DB) {
	if db == nil {
		return
	}

	log := logger.WithModule("history")
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close catalog database", zap.Error(err))
	}
}
