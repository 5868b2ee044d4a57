// Package alert delivers operator notifications. Every alert is recorded in
// an append-only log and as an individual JSON artifact; webhook delivery is
// best-effort on top and never fails a Raise.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/governor/internal/emit"
	"github.com/charlesng35/governor/pkg/crypto"
	"github.com/charlesng35/governor/pkg/logger"
	"github.com/charlesng35/governor/pkg/metrics"
)

// Alert types.
const (
	TypePermissionErrors  = "permission_errors"
	TypeRemediationResult = "remediation_result"
	TypeDeploymentFailure = "deployment_failure"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is one operator notification.
type Alert struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Resources []string               `json:"resources,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// LogFile is the append-only alert log inside the sink directory.
const LogFile = "alerts.log"

// Webhook retry defaults.
const (
	DefaultWebhookTimeout = 10 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 5 * time.Second
)

// Sink persists and forwards alerts.
type Sink struct {
	dir           string
	webhookURL    string
	webhookSecret string
	maxRetries    int
	retryDelay    time.Duration
	http          *http.Client
	now           func() time.Time
	log           *zap.Logger
}

// Option customises a Sink.
type Option func(*Sink)

// WithWebhook enables webhook delivery. An empty secret disables signing.
func WithWebhook(url, secret string) Option {
	return func(s *Sink) {
		s.webhookURL = url
		s.webhookSecret = secret
	}
}

// WithTimeout overrides the webhook HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Sink) {
		if timeout > 0 {
			s.http.Timeout = timeout
		}
	}
}

// WithRetry overrides webhook retry behaviour.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(s *Sink) {
		s.maxRetries = maxRetries
		s.retryDelay = delay
	}
}

// WithNow overrides the clock, primarily for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSink builds a Sink writing under dir.
func NewSink(dir string, opts ...Option) *Sink {
	s := &Sink{
		dir:        dir,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		http:       &http.Client{Timeout: DefaultWebhookTimeout},
		now:        time.Now,
		log:        logger.WithModule("alerts"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogPath is where the append-only log lives.
func (s *Sink) LogPath() string {
	return filepath.Join(s.dir, LogFile)
}

// Raise records the alert and forwards it to the webhook when one is
// configured. The returned error covers local persistence only; webhook
// failures are logged and counted but never propagate.
func (s *Sink) Raise(ctx context.Context, a Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}

	persistErr := s.appendLog(payload)
	if persistErr != nil {
		metrics.AlertDeliveries.WithLabelValues("log", "error").Inc()
	} else {
		metrics.AlertDeliveries.WithLabelValues("log", "ok").Inc()
	}

	if err := s.writeAlertFile(a); err != nil {
		s.log.Error("cannot write alert artifact", zap.String("id", a.ID), zap.Error(err))
		if persistErr == nil {
			persistErr = err
		}
	}

	s.log.Warn("alert raised",
		zap.String("id", a.ID),
		zap.String("type", a.Type),
		zap.String("severity", a.Severity),
		zap.Strings("resources", a.Resources))

	if s.webhookURL != "" {
		if err := s.deliverWebhook(ctx, payload); err != nil {
			metrics.AlertDeliveries.WithLabelValues("webhook", "error").Inc()
			s.log.Warn("webhook delivery failed", zap.String("id", a.ID), zap.Error(err))
		} else {
			metrics.AlertDeliveries.WithLabelValues("webhook", "ok").Inc()
		}
	}

	return persistErr
}

// appendLog adds one line to the append-only alert log.
func (s *Sink) appendLog(payload []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(s.LogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		return err
	}
	return nil
}

// writeAlertFile persists the alert as its own artifact.
func (s *Sink) writeAlertFile(a Alert) error {
	short := a.ID
	if len(short) > 8 {
		short = short[:8]
	}
	name := fmt.Sprintf("alert-%s-%s.json", a.CreatedAt.Format("20060102T150405Z"), short)
	return emit.WriteJSONAtomic(filepath.Join(s.dir, name), a)
}

// deliverWebhook POSTs the alert payload, retrying transient failures.
func (s *Sink) deliverWebhook(ctx context.Context, payload []byte) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Governor-Webhook/1.0")
		if s.webhookSecret != "" {
			req.Header.Set("X-Governor-Signature", crypto.SignPayload(payload, s.webhookSecret))
		}

		resp, err := s.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("http %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return lastErr
}
