package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics for production monitoring
var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsentry_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"mode", "status"}, // mode: train/predict, status: ok/empty/failed
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowsentry_run_duration_seconds",
			Help:    "End-to-end run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
		},
		[]string{"mode"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowsentry_stage_duration_seconds",
			Help:    "Per-stage run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"mode", "stage"},
	)

	// Telemetry metrics
	RecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsentry_records_fetched_total",
			Help: "Connection records fetched from the telemetry store",
		},
		[]string{"mode"},
	)

	// Alert metrics
	AlertsEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowsentry_alerts_emitted_total",
			Help: "Anomaly alerts written to the alert store",
		},
	)

	AlertWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowsentry_alert_write_failures_total",
			Help: "Anomaly alerts that failed to write",
		},
	)

	// Model metrics
	ModelThreshold = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowsentry_model_threshold",
			Help: "Decision threshold of the most recently trained model",
		},
	)

	AnomalyRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowsentry_anomaly_ratio",
			Help: "Fraction of scored records flagged anomalous in the last run",
		},
	)
)
