package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/governor/pkg/crypto"
)

const webhookSecretBytes = 32

// ApplyRuntimeDefaults fills in settings that must exist at runtime but have
// no sensible static default. It returns a map describing which keys were
// generated so callers can log the event without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	// A webhook without a signing secret would emit unverifiable payloads.
	if strings.TrimSpace(cfg.Alerts.WebhookURL) != "" && strings.TrimSpace(cfg.Alerts.WebhookSecret) == "" {
		secret, err := crypto.GenerateToken(webhookSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate webhook secret: %w", err)
		}
		cfg.Alerts.WebhookSecret = secret
		generated["alerts.webhook_secret"] = true
	}

	return generated, nil
}
