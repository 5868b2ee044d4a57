// Package monitor runs the closed loop that keeps deployed access policy in
// line with reality: probe every governed resource, count consecutive
// permission denials, and when a resource crosses the error threshold drive
// the remediation pipeline until the denials clear.
package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/governor/internal/alert"
	"github.com/charlesng35/governor/internal/deploy"
	"github.com/charlesng35/governor/internal/history"
	"github.com/charlesng35/governor/internal/store"
	"github.com/charlesng35/governor/pkg/logger"
)

// CycleState is the terminal state of one monitor cycle.
type CycleState string

const (
	StateAllOk          CycleState = "all_ok"
	StateErrorsDetected CycleState = "errors_detected"
)

// Outcome classifies one remediation pass.
type Outcome string

const (
	RemediationSucceeded Outcome = "succeeded"
	RemediationPartial   Outcome = "partial"
	RemediationFailed    Outcome = "failed"
)

// Remediation pipeline steps, recorded on failure.
const (
	StepRegenerate = "regenerate"
	StepDeploy     = "deploy"
	StepWait       = "wait"
	StepReverify   = "reverify"
)

// Default tuning. Threshold and interval mirror the config defaults so a
// zero-value Config still produces a working monitor.
const (
	DefaultThreshold        = 5
	DefaultInterval         = time.Minute
	DefaultProbeTimeout     = 5 * time.Second
	DefaultPropagationDelay = 15 * time.Second
	DefaultBackoffBase      = time.Minute
	DefaultBackoffMax       = 30 * time.Minute
)

// ErrCycleInFlight is returned when RunCycle is called while a previous cycle
// is still executing. Cycles never overlap.
var ErrCycleInFlight = errors.New("monitor: cycle already in flight")

// Config contains monitor tuning options.
type Config struct {
	Threshold        int           `mapstructure:"threshold"`
	Interval         time.Duration `mapstructure:"interval"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	PropagationDelay time.Duration `mapstructure:"propagation_delay"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.PropagationDelay < 0 {
		c.PropagationDelay = DefaultPropagationDelay
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = DefaultBackoffMax
	}
	return c
}

// Artifacts identifies one regenerated artifact set.
type Artifacts struct {
	Dir   string
	Stamp string
}

// ResourceLister returns the governed resources the monitor should probe,
// typically the collections named by the latest scan report.
type ResourceLister func(ctx context.Context) ([]string, error)

// RegenerateFunc rebuilds policy and index artifacts from a fresh scan and
// returns where they were written. It covers the rescan and resynthesize
// steps of the remediation pipeline.
type RegenerateFunc func(ctx context.Context) (Artifacts, error)

// Deps wires the monitor to the rest of the system.
type Deps struct {
	Store      store.Store
	Driver     deploy.Driver
	Sink       *alert.Sink
	Catalog    *history.Catalog // optional
	Resources  ResourceLister
	Regenerate RegenerateFunc
}

// Monitor owns the per-resource error accounting and drives probe cycles.
type Monitor struct {
	cfg   Config
	deps  Deps
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	log   *zap.Logger

	mu           sync.Mutex
	inFlight     bool
	counts       map[string]int
	lastErrors   map[string]ErrorDetail
	backoff      map[string]*backoffState
	lastCycle    *CycleResult
	cycles       uint64
	remediations uint64
}

type backoffState struct {
	attempts int
	next     time.Time
}

// ErrorDetail captures the most recent permission denial observed for a
// resource, kept alongside its consecutive-error count until the resource
// verifies clean.
type ErrorDetail struct {
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Option customises the Monitor.
type Option func(*Monitor)

// WithNow overrides the clock used for cycle timestamps and backoff gates.
func WithNow(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSleep overrides the propagation wait, primarily for testing.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Monitor) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// New constructs a Monitor. Store, Resources, Regenerate, Driver and Sink are
// required; Catalog is optional and failures to record history are logged,
// never fatal.
func New(cfg Config, deps Deps, opts ...Option) (*Monitor, error) {
	if deps.Store == nil {
		return nil, errors.New("monitor: store is required")
	}
	if deps.Resources == nil {
		return nil, errors.New("monitor: resource lister is required")
	}
	if deps.Regenerate == nil {
		return nil, errors.New("monitor: regenerate func is required")
	}
	if deps.Driver == nil {
		return nil, errors.New("monitor: deploy driver is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("monitor: alert sink is required")
	}

	m := &Monitor{
		cfg:   cfg.withDefaults(),
		deps:  deps,
		now:   time.Now,
		sleep: sleepContext,
		log:   logger.WithModule("monitor"),
		counts:     make(map[string]int),
		lastErrors: make(map[string]ErrorDetail),
		backoff:    make(map[string]*backoffState),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Snapshot is a point-in-time copy of the monitor state for status surfaces.
type Snapshot struct {
	Running      bool                   `json:"running"`
	Cycles       uint64                 `json:"cycles"`
	Remediations uint64                 `json:"remediations"`
	Threshold    int                    `json:"threshold"`
	Counts       map[string]int         `json:"counts,omitempty"`
	Errors       map[string]ErrorDetail `json:"errors,omitempty"`
	NextAttempt  map[string]int64       `json:"nextAttempt,omitempty"` // unix seconds per deferred resource
	LastCycle    *CycleResult           `json:"lastCycle,omitempty"`
}

// Snapshot returns a copy of the current monitor state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Running:      m.inFlight,
		Cycles:       m.cycles,
		Remediations: m.remediations,
		Threshold:    m.cfg.Threshold,
		LastCycle:    m.lastCycle,
	}
	if len(m.counts) > 0 {
		snap.Counts = make(map[string]int, len(m.counts))
		for resource, count := range m.counts {
			snap.Counts[resource] = count
		}
	}
	if len(m.lastErrors) > 0 {
		snap.Errors = make(map[string]ErrorDetail, len(m.lastErrors))
		for resource, detail := range m.lastErrors {
			snap.Errors[resource] = detail
		}
	}
	if len(m.backoff) > 0 {
		snap.NextAttempt = make(map[string]int64, len(m.backoff))
		for resource, state := range m.backoff {
			snap.NextAttempt[resource] = state.next.Unix()
		}
	}
	return snap
}

// deferRetry pushes a resource's next remediation attempt out exponentially.
// Callers hold m.mu.
func (m *Monitor) deferRetry(resource string, now time.Time) {
	state, ok := m.backoff[resource]
	if !ok {
		state = &backoffState{}
		m.backoff[resource] = state
	}
	state.attempts++

	delay := m.cfg.BackoffBase
	for i := 1; i < state.attempts; i++ {
		delay *= 2
		if delay >= m.cfg.BackoffMax {
			delay = m.cfg.BackoffMax
			break
		}
	}
	state.next = now.Add(delay)
}

// clearResource forgets accumulated errors and backoff for a verified
// resource. Callers hold m.mu.
func (m *Monitor) clearResource(resource string) {
	delete(m.counts, resource)
	delete(m.lastErrors, resource)
	delete(m.backoff, resource)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func sortedCopy(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}
