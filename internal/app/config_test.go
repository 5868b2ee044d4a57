package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/charlesng35/governor/pkg/errors"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "console", cfg.LogFormat)

	require.Equal(t, []string{"."}, cfg.Scanner.Roots)
	require.Contains(t, cfg.Scanner.Extensions, ".ts")
	require.Contains(t, cfg.Scanner.ExcludeDirs, "node_modules")
	require.True(t, cfg.Scanner.Cache.Enabled)
	require.Equal(t, 4096, cfg.Scanner.Cache.Size)
	require.Equal(t, 10*time.Minute, cfg.Scanner.Cache.TTL)
	require.Equal(t, 500*time.Millisecond, cfg.Scanner.Watch.Debounce)

	require.Equal(t, ".governor", cfg.Artifacts.Dir)
	require.Equal(t, 20, cfg.Artifacts.HistoryLimit)
	require.Equal(t, filepath.Join(".governor", "alerts"), cfg.AlertDir())

	require.Equal(t, []string{"dbctl", "publish"}, cfg.Deploy.Command)
	require.Equal(t, 2*time.Minute, cfg.Deploy.Timeout)

	require.Equal(t, "mongodb://127.0.0.1:27017", cfg.Store.URI)
	require.Equal(t, "app", cfg.Store.Database)

	require.Equal(t, 5, cfg.Monitor.Threshold)
	require.Equal(t, time.Minute, cfg.Monitor.Interval)
	require.Equal(t, 5*time.Second, cfg.Monitor.ProbeTimeout)
	require.Equal(t, 15*time.Second, cfg.Monitor.PropagationDelay)
	require.Equal(t, time.Minute, cfg.Monitor.BackoffBase)
	require.Equal(t, 30*time.Minute, cfg.Monitor.BackoffMax)

	require.Equal(t, 3, cfg.Alerts.MaxRetries)
	require.Equal(t, 10*time.Second, cfg.Alerts.Timeout)

	require.Equal(t, "sqlite", cfg.History.Driver)
	require.Equal(t, filepath.Join(".governor", "governor.db"), filepath.FromSlash(cfg.History.Path))
	require.Equal(t, 90, cfg.History.RetentionDays)

	require.False(t, cfg.Ops.Enabled)
	require.Equal(t, "127.0.0.1:9464", cfg.Ops.Addr)
}

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)

	require.Equal(t, []string{"./web", "./admin"}, cfg.Scanner.Roots)
	require.Equal(t, []string{".js", ".ts"}, cfg.Scanner.Extensions)
	require.Equal(t, []string{"node_modules", "vendor"}, cfg.Scanner.ExcludeDirs)
	require.False(t, cfg.Scanner.Cache.Enabled)
	require.Equal(t, 128, cfg.Scanner.Cache.Size)
	require.Equal(t, time.Minute, cfg.Scanner.Cache.TTL)
	require.Equal(t, 250*time.Millisecond, cfg.Scanner.Watch.Debounce)

	require.Equal(t, "./governance/rules.yaml", cfg.Classify.RulesFile)
	require.Equal(t, "./governance/overrides.yaml", cfg.Policy.OverridesFile)

	require.Equal(t, "./out/governance", cfg.Artifacts.Dir)
	require.Equal(t, 5, cfg.Artifacts.HistoryLimit)

	require.Equal(t, []string{"firebase", "deploy", "--only", "firestore"}, cfg.Deploy.Command)
	require.Equal(t, 90*time.Second, cfg.Deploy.Timeout)

	require.Equal(t, "mongodb://db.internal:27017", cfg.Store.URI)
	require.Equal(t, "production", cfg.Store.Database)
	require.Equal(t, 3*time.Second, cfg.Store.ConnectTimeout)

	require.Equal(t, 3, cfg.Monitor.Threshold)
	require.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	require.Equal(t, 2*time.Second, cfg.Monitor.ProbeTimeout)
	require.Equal(t, 5*time.Second, cfg.Monitor.PropagationDelay)
	require.Equal(t, 45*time.Second, cfg.Monitor.BackoffBase)
	require.Equal(t, 10*time.Minute, cfg.Monitor.BackoffMax)

	require.Equal(t, "./out/alerts", cfg.Alerts.Dir)
	require.Equal(t, "./out/alerts", cfg.AlertDir())
	require.Equal(t, "https://hooks.example.com/governor", cfg.Alerts.WebhookURL)
	require.Equal(t, "super-secret", cfg.Alerts.WebhookSecret)
	require.Equal(t, 5*time.Second, cfg.Alerts.Timeout)
	require.Equal(t, 2, cfg.Alerts.MaxRetries)
	require.Equal(t, time.Second, cfg.Alerts.RetryDelay)

	require.Equal(t, "postgres", cfg.History.Driver)
	require.Equal(t, "db.example.com", cfg.History.Host)
	require.Equal(t, 6543, cfg.History.Port)
	require.Equal(t, "governor", cfg.History.User)
	require.Equal(t, "governance", cfg.History.Name)
	require.Equal(t, 30, cfg.History.RetentionDays)

	require.True(t, cfg.Ops.Enabled)
	require.Equal(t, "127.0.0.1:9900", cfg.Ops.Addr)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("GOVERNOR_MONITOR_THRESHOLD", "7")
	t.Setenv("GOVERNOR_STORE_DATABASE", "staging")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 7, cfg.Monitor.Threshold)
	require.Equal(t, "staging", cfg.Store.Database)
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	cfg.LogLevel = "loud"
	err = cfg.Validate()
	require.Error(t, err)
	require.ErrorIs(t, err, apperrors.ErrInvalidConfig)

	cfg.LogLevel = "info"
	cfg.Ops.Addr = "not-an-address"
	require.Error(t, cfg.Validate())
}
