package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/governor/internal/alert"
	"github.com/charlesng35/governor/internal/history"
	apperrors "github.com/charlesng35/governor/pkg/errors"
	"github.com/charlesng35/governor/pkg/metrics"
)

// ProbeResult captures a single resource probe outcome.
type ProbeResult struct {
	Resource   string        `json:"resource"`
	Permission bool          `json:"permission"`
	Detail     string        `json:"detail,omitempty"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// CycleResult aggregates one full probe cycle.
type CycleResult struct {
	ID          string             `json:"id"`
	StartedAt   time.Time          `json:"startedAt"`
	FinishedAt  time.Time          `json:"finishedAt"`
	State       CycleState         `json:"state"`
	Probed      int                `json:"probed"`
	Failing     []string           `json:"failing,omitempty"`
	Unreachable []string           `json:"unreachable,omitempty"`
	Triggered   []string           `json:"triggered,omitempty"`
	Suppressed  []string           `json:"suppressed,omitempty"`
	Remediation *RemediationResult `json:"remediation,omitempty"`
}

// RemediationResult records one pass of the repair pipeline.
type RemediationResult struct {
	Outcome       Outcome   `json:"outcome"`
	FailedStep    string    `json:"failedStep,omitempty"`
	ArtifactDir   string    `json:"artifactDir,omitempty"`
	ArtifactStamp string    `json:"artifactStamp,omitempty"`
	Targets       []string  `json:"targets"`
	StillFailing  []string  `json:"stillFailing,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	Err           error     `json:"-"`
}

// RunCycle executes one probe cycle: list governed resources, probe them all
// concurrently, update per-resource error counts, and remediate any resource
// that crossed the threshold. Cycles never overlap; a call made while another
// cycle runs returns ErrCycleInFlight.
func (m *Monitor) RunCycle(ctx context.Context) (*CycleResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return nil, ErrCycleInFlight
	}
	m.inFlight = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
	}()

	result := &CycleResult{
		ID:        uuid.NewString(),
		StartedAt: m.now().UTC(),
		State:     StateAllOk,
	}

	resources, err := m.deps.Resources(ctx)
	if err != nil {
		metrics.MonitorCycles.WithLabelValues("error").Inc()
		return nil, apperrors.Wrap(err, "list governed resources")
	}
	resources = sortedCopy(resources)

	probes := m.probeAll(ctx, resources)
	result.Probed = len(probes)

	triggered, suppressed := m.applyProbes(resources, probes, result)
	result.Triggered = triggered
	result.Suppressed = suppressed

	if len(result.Failing) > 0 || len(triggered) > 0 || len(suppressed) > 0 {
		result.State = StateErrorsDetected
	}

	if len(triggered) > 0 {
		m.raise(ctx, alert.Alert{
			Type:      alert.TypePermissionErrors,
			Severity:  alert.SeverityCritical,
			Message:   fmt.Sprintf("%d resource(s) crossed the permission error threshold", len(triggered)),
			Resources: triggered,
			Details: map[string]interface{}{
				"threshold": m.cfg.Threshold,
				"counts":    m.countsFor(triggered),
				"errors":    m.errorsFor(triggered),
			},
		})
		result.Remediation = m.runRemediation(ctx, result.ID, triggered)
	}

	result.FinishedAt = m.now().UTC()

	m.mu.Lock()
	m.cycles++
	m.lastCycle = result
	tracked := len(m.counts)
	m.mu.Unlock()

	metrics.MonitorCycles.WithLabelValues(string(result.State)).Inc()
	metrics.TrackedResources.Set(float64(tracked))

	m.log.Info("cycle complete",
		zap.String("cycle_id", result.ID),
		zap.String("state", string(result.State)),
		zap.Int("probed", result.Probed),
		zap.Int("failing", len(result.Failing)),
		zap.Int("unreachable", len(result.Unreachable)),
		zap.Int("triggered", len(triggered)),
		zap.Int("suppressed", len(suppressed)),
	)

	return result, nil
}

// probeAll fans out one goroutine per resource and collects results in input
// order.
func (m *Monitor) probeAll(ctx context.Context, resources []string) []ProbeResult {
	results := make([]ProbeResult, len(resources))

	var wg sync.WaitGroup
	for i, resource := range resources {
		wg.Add(1)
		go func(i int, resource string) {
			defer wg.Done()
			results[i] = m.probeOne(ctx, resource)
		}(i, resource)
	}
	wg.Wait()

	return results
}

func (m *Monitor) probeOne(ctx context.Context, resource string) (result ProbeResult) {
	result = ProbeResult{Resource: resource}
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			detail := "probe panicked"
			switch v := rec.(type) {
			case string:
				detail = v
			case error:
				detail = v.Error()
			}
			result.Err = apperrors.ErrProbeFailed.WithInternal(errors.New(detail))
			result.Detail = detail
			result.Permission = false
			result.Duration = time.Since(start)
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	err := m.deps.Store.Probe(probeCtx, resource)
	result.Duration = time.Since(start)
	if err != nil {
		result.Err = err
		result.Detail = err.Error()
		result.Permission = errors.Is(err, apperrors.ErrPermissionDenied)
	}
	return result
}

// applyProbes folds probe outcomes into the per-resource accounting and
// reports which resources are due for remediation. Resources no longer in
// the governed set are forgotten.
func (m *Monitor) applyProbes(resources []string, probes []ProbeResult, result *CycleResult) (triggered, suppressed []string) {
	present := make(map[string]struct{}, len(resources))
	for _, resource := range resources {
		present[resource] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for resource := range m.counts {
		if _, ok := present[resource]; !ok {
			m.clearResource(resource)
		}
	}

	now := m.now()

	for _, probe := range probes {
		switch {
		case probe.Err == nil:
			m.clearResource(probe.Resource)
			metrics.ProbeResults.WithLabelValues("ok").Inc()
		case probe.Permission:
			m.counts[probe.Resource]++
			m.lastErrors[probe.Resource] = ErrorDetail{
				Code:    apperrors.FromError(probe.Err).Code,
				Message: probe.Detail,
				At:      now.UTC(),
			}
			result.Failing = append(result.Failing, probe.Resource)
			metrics.ProbeResults.WithLabelValues("permission_denied").Inc()
			m.log.Warn("permission denied",
				zap.String("resource", probe.Resource),
				zap.Int("consecutive", m.counts[probe.Resource]),
			)
		default:
			result.Unreachable = append(result.Unreachable, probe.Resource)
			metrics.ProbeResults.WithLabelValues("error").Inc()
			m.log.Warn("probe failed",
				zap.String("resource", probe.Resource),
				zap.String("detail", probe.Detail),
			)
		}
	}

	for resource, count := range m.counts {
		if count < m.cfg.Threshold {
			continue
		}
		if state, ok := m.backoff[resource]; ok && now.Before(state.next) {
			suppressed = append(suppressed, resource)
			continue
		}
		triggered = append(triggered, resource)
	}

	return sortedCopy(triggered), sortedCopy(suppressed)
}

func (m *Monitor) countsFor(resources []string) map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int, len(resources))
	for _, resource := range resources {
		counts[resource] = m.counts[resource]
	}
	return counts
}

func (m *Monitor) errorsFor(resources []string) map[string]ErrorDetail {
	m.mu.Lock()
	defer m.mu.Unlock()

	details := make(map[string]ErrorDetail, len(resources))
	for _, resource := range resources {
		if detail, ok := m.lastErrors[resource]; ok {
			details[resource] = detail
		}
	}
	return details
}

// runRemediation executes the repair pipeline for the triggered resources and
// folds its outcome back into the error accounting.
func (m *Monitor) runRemediation(ctx context.Context, cycleID string, targets []string) *RemediationResult {
	rem := m.remediate(ctx, targets)

	now := m.now()
	m.mu.Lock()
	switch rem.Outcome {
	case RemediationSucceeded:
		for _, resource := range targets {
			m.clearResource(resource)
		}
	case RemediationPartial:
		still := make(map[string]struct{}, len(rem.StillFailing))
		for _, resource := range rem.StillFailing {
			still[resource] = struct{}{}
		}
		for _, resource := range targets {
			if _, ok := still[resource]; ok {
				m.deferRetry(resource, now)
			} else {
				m.clearResource(resource)
			}
		}
	default:
		for _, resource := range targets {
			m.deferRetry(resource, now)
		}
	}
	m.remediations++
	m.mu.Unlock()

	metrics.Remediations.WithLabelValues(string(rem.Outcome)).Inc()

	m.raise(ctx, m.remediationAlert(rem))
	m.recordRemediation(ctx, cycleID, rem)

	return rem
}

// remediate runs the pipeline steps in order: regenerate artifacts from a
// fresh scan, deploy them, wait for propagation, then reverify the failing
// resources.
func (m *Monitor) remediate(ctx context.Context, targets []string) *RemediationResult {
	rem := &RemediationResult{
		Targets:   targets,
		StartedAt: m.now().UTC(),
	}
	defer func() {
		rem.FinishedAt = m.now().UTC()
		if rem.Err != nil {
			rem.Detail = rem.Err.Error()
		}
	}()

	m.log.Info("remediation started", zap.Strings("resources", targets))

	artifacts, err := m.deps.Regenerate(ctx)
	if err != nil {
		rem.Outcome = RemediationFailed
		rem.FailedStep = StepRegenerate
		rem.Err = err
		return rem
	}
	rem.ArtifactDir = artifacts.Dir
	rem.ArtifactStamp = artifacts.Stamp

	if err := m.deps.Driver.Deploy(ctx, artifacts.Dir); err != nil {
		rem.Outcome = RemediationFailed
		rem.FailedStep = StepDeploy
		rem.Err = err
		return rem
	}

	if err := m.sleep(ctx, m.cfg.PropagationDelay); err != nil {
		rem.Outcome = RemediationFailed
		rem.FailedStep = StepWait
		rem.Err = err
		return rem
	}

	for _, probe := range m.probeAll(ctx, targets) {
		if probe.Err != nil {
			rem.StillFailing = append(rem.StillFailing, probe.Resource)
		}
	}
	rem.StillFailing = sortedCopy(rem.StillFailing)

	if len(rem.StillFailing) == 0 {
		rem.Outcome = RemediationSucceeded
		m.log.Info("remediation verified", zap.Int("resources", len(targets)))
		return rem
	}

	rem.Outcome = RemediationPartial
	rem.Err = apperrors.ErrRemediationPartial.WithInternal(
		fmt.Errorf("%d of %d resources still failing", len(rem.StillFailing), len(targets)))
	m.log.Warn("remediation incomplete",
		zap.Strings("still_failing", rem.StillFailing),
	)
	return rem
}

func (m *Monitor) remediationAlert(rem *RemediationResult) alert.Alert {
	details := map[string]interface{}{
		"outcome": string(rem.Outcome),
	}
	if rem.ArtifactStamp != "" {
		details["artifactStamp"] = rem.ArtifactStamp
	}
	if rem.FailedStep != "" {
		details["failedStep"] = rem.FailedStep
	}
	if rem.Detail != "" {
		details["detail"] = rem.Detail
	}

	switch rem.Outcome {
	case RemediationSucceeded:
		return alert.Alert{
			Type:      alert.TypeRemediationResult,
			Severity:  alert.SeverityInfo,
			Message:   fmt.Sprintf("remediation verified %d resource(s)", len(rem.Targets)),
			Resources: rem.Targets,
			Details:   details,
		}
	case RemediationPartial:
		return alert.Alert{
			Type:      alert.TypeRemediationResult,
			Severity:  alert.SeverityWarning,
			Message:   fmt.Sprintf("%d of %d resource(s) still failing after remediation", len(rem.StillFailing), len(rem.Targets)),
			Resources: rem.StillFailing,
			Details:   details,
		}
	default:
		alertType := alert.TypeRemediationResult
		if rem.FailedStep == StepDeploy {
			alertType = alert.TypeDeploymentFailure
		}
		return alert.Alert{
			Type:      alertType,
			Severity:  alert.SeverityCritical,
			Message:   fmt.Sprintf("remediation failed at %s step", rem.FailedStep),
			Resources: rem.Targets,
			Details:   details,
		}
	}
}

// raise assigns identity to the alert, persists it through the sink, and
// mirrors it into the history catalog. Alerting trouble never fails a cycle.
func (m *Monitor) raise(ctx context.Context, a alert.Alert) {
	a.ID = uuid.NewString()
	a.CreatedAt = m.now().UTC()

	if err := m.deps.Sink.Raise(ctx, a); err != nil {
		m.log.Warn("alert persistence failed", zap.Error(err))
	}

	if m.deps.Catalog == nil {
		return
	}
	if err := m.deps.Catalog.RecordAlert(ctx, history.AlertEntry{
		AlertID:   a.ID,
		Type:      a.Type,
		Severity:  a.Severity,
		Message:   a.Message,
		Resources: a.Resources,
	}); err != nil {
		m.log.Warn("alert history record failed", zap.Error(err))
	}
}

func (m *Monitor) recordRemediation(ctx context.Context, cycleID string, rem *RemediationResult) {
	if m.deps.Catalog == nil {
		return
	}
	if err := m.deps.Catalog.RecordRemediation(ctx, history.RemediationEntry{
		CycleID:       cycleID,
		Outcome:       string(rem.Outcome),
		Resources:     rem.Targets,
		StillFailing:  rem.StillFailing,
		ArtifactStamp: rem.ArtifactStamp,
		Err:           rem.Err,
		StartedAt:     rem.StartedAt,
		FinishedAt:    rem.FinishedAt,
	}); err != nil {
		m.log.Warn("remediation history record failed", zap.Error(err))
	}
}
