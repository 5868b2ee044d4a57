package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansTotal counts completed source scans by result (ok|degraded|error).
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_scans_total",
			Help: "Total number of source scans",
		},
		[]string{"result"},
	)

	// ScanDuration measures full scan wall time.
	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "governor_scan_duration_seconds",
			Help:    "Source scan duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ProbeResults counts resource probes by outcome (ok|permission_denied|error).
	ProbeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_probe_results_total",
			Help: "Total number of resource probes",
		},
		[]string{"result"},
	)

	// MonitorCycles counts monitor cycles by terminal state (all_ok|errors_detected).
	MonitorCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_monitor_cycles_total",
			Help: "Total number of monitor cycles",
		},
		[]string{"state"},
	)

	// Remediations counts remediation pipeline runs by outcome (succeeded|partial|failed).
	Remediations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_remediations_total",
			Help: "Total number of remediation runs",
		},
		[]string{"outcome"},
	)

	// TrackedResources reports how many resources currently carry a non-zero error count.
	TrackedResources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "governor_failing_resources",
			Help: "Resources with outstanding permission errors",
		},
	)

	// AlertDeliveries counts alert sink deliveries by channel (log|webhook) and result.
	AlertDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_alert_deliveries_total",
			Help: "Total number of alert deliveries",
		},
		[]string{"channel", "result"},
	)
)
