// Package metrics exposes Prometheus instrumentation for the engines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansTotal counts completed scans by terminal status.
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compliancemgr",
		Subsystem: "detection",
		Name:      "scans_total",
		Help:      "Completed scans by terminal status.",
	}, []string{"status"})

	// ScanDuration observes end-to-end scan latency.
	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "compliancemgr",
		Subsystem: "detection",
		Name:      "scan_duration_seconds",
		Help:      "End-to-end scan duration.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	// ControlEvaluations counts per-control detect outcomes.
	ControlEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compliancemgr",
		Subsystem: "detection",
		Name:      "control_evaluations_total",
		Help:      "Control evaluations by control and status.",
	}, []string{"control_id", "status"})

	// RemediationsTotal counts remediation attempts by control and outcome.
	RemediationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compliancemgr",
		Subsystem: "remediation",
		Name:      "remediations_total",
		Help:      "Remediation attempts by control and outcome.",
	}, []string{"control_id", "outcome"})

	// RollbacksTotal counts rollback attempts by control and outcome.
	RollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compliancemgr",
		Subsystem: "remediation",
		Name:      "rollbacks_total",
		Help:      "Rollback attempts by control and outcome.",
	}, []string{"control_id", "outcome"})

	// AdapterCalls counts cloud API failures by error class.
	AdapterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compliancemgr",
		Subsystem: "cloud",
		Name:      "adapter_errors_total",
		Help:      "Classified cloud adapter failures.",
	}, []string{"class"})

	// ReportsTotal counts report exports by format and outcome.
	ReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compliancemgr",
		Subsystem: "report",
		Name:      "exports_total",
		Help:      "Report exports by format and outcome.",
	}, []string{"format", "outcome"})
)
