package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/charlesng35/governor/internal/history"
	"github.com/charlesng35/governor/internal/monitor"
	"github.com/charlesng35/governor/internal/store"
	apperrors "github.com/charlesng35/governor/pkg/errors"
	"github.com/charlesng35/governor/pkg/validator"
)

// Config represents the runtime configuration for the Governor.
type Config struct {
	LogLevel  string          `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string          `mapstructure:"log_format" validate:"omitempty,oneof=console json"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Classify  ClassifyConfig  `mapstructure:"classify"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Deploy    DeployConfig    `mapstructure:"deploy"`
	Store     store.Config    `mapstructure:"store"`
	Monitor   monitor.Config  `mapstructure:"monitor"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	History   history.Config  `mapstructure:"history"`
	Ops       OpsConfig       `mapstructure:"ops"`
}

// ScannerConfig controls source tree discovery.
type ScannerConfig struct {
	Roots       []string    `mapstructure:"roots"`
	Extensions  []string    `mapstructure:"extensions"`
	ExcludeDirs []string    `mapstructure:"exclude_dirs"`
	Cache       CacheConfig `mapstructure:"cache"`
	Watch       WatchConfig `mapstructure:"watch"`
}

// CacheConfig sizes the per-file extraction cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Size    int           `mapstructure:"size" validate:"gte=0"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// WatchConfig tunes filesystem watch mode.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// ClassifyConfig points at an optional custom classification table.
type ClassifyConfig struct {
	RulesFile string `mapstructure:"rules_file"`
}

// PolicyConfig points at an optional per-resource override file.
type PolicyConfig struct {
	OverridesFile string `mapstructure:"overrides_file"`
}

// ArtifactsConfig controls where generated artifacts land.
type ArtifactsConfig struct {
	Dir          string `mapstructure:"dir"`
	HistoryLimit int    `mapstructure:"history_limit" validate:"gte=0"`
}

// DeployConfig describes the external publish command.
type DeployConfig struct {
	Command []string      `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AlertsConfig controls the alert sink and optional webhook delivery.
type AlertsConfig struct {
	Dir           string        `mapstructure:"dir"`
	WebhookURL    string        `mapstructure:"webhook_url" validate:"omitempty,url"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// OpsConfig controls the local operations endpoint.
type OpsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// AlertDir resolves the alert sink directory, defaulting to a subdirectory of
// the artifact tree.
func (c *Config) AlertDir() string {
	if strings.TrimSpace(c.Alerts.Dir) != "" {
		return c.Alerts.Dir
	}
	return filepath.Join(c.Artifacts.Dir, "alerts")
}

// LoadConfig initialises Governor configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("GOVERNOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	if err := validator.ValidateStruct(c); err != nil {
		return apperrors.ErrInvalidConfig.WithInternal(err)
	}
	if c.Monitor.Threshold < 0 {
		return apperrors.ErrInvalidConfig.WithInternal(errors.New("monitor.threshold must not be negative"))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	v.SetDefault("scanner.roots", []string{"."})
	v.SetDefault("scanner.extensions", []string{".js", ".jsx", ".ts", ".tsx", ".vue", ".html"})
	v.SetDefault("scanner.exclude_dirs", []string{"node_modules", ".git", "dist", "build", "coverage", ".governor"})
	v.SetDefault("scanner.cache.enabled", true)
	v.SetDefault("scanner.cache.size", 4096)
	v.SetDefault("scanner.cache.ttl", "10m")
	v.SetDefault("scanner.watch.debounce", "500ms")

	v.SetDefault("artifacts.dir", ".governor")
	v.SetDefault("artifacts.history_limit", 20)

	v.SetDefault("deploy.command", []string{"dbctl", "publish"})
	v.SetDefault("deploy.timeout", "2m")

	v.SetDefault("store.uri", "mongodb://127.0.0.1:27017")
	v.SetDefault("store.database", "app")
	v.SetDefault("store.connect_timeout", "10s")

	v.SetDefault("monitor.threshold", 5)
	v.SetDefault("monitor.interval", "60s")
	v.SetDefault("monitor.probe_timeout", "5s")
	v.SetDefault("monitor.propagation_delay", "15s")
	v.SetDefault("monitor.backoff_base", "60s")
	v.SetDefault("monitor.backoff_max", "30m")

	v.SetDefault("alerts.timeout", "10s")
	v.SetDefault("alerts.max_retries", 3)
	v.SetDefault("alerts.retry_delay", "5s")

	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.path", ".governor/governor.db")
	v.SetDefault("history.retention_days", 90)

	v.SetDefault("ops.enabled", false)
	v.SetDefault("ops.addr", "127.0.0.1:9464")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
