package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Controller, engine and persistence collectors, partitioned by device.

var (
	// Telemetry ingestion
	TelemetryReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "telemetry",
		Name:      "received_total",
		Help:      "Total telemetry reports accepted from the device",
	}, []string{"device", "mode"})

	TelemetryRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "telemetry",
		Name:      "rejected_total",
		Help:      "Total telemetry reports rejected at the HTTP boundary",
	}, []string{"device", "reason"})

	TelemetryIngestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "traffic",
		Subsystem: "telemetry",
		Name:      "ingest_duration_seconds",
		Help:      "Telemetry ingestion duration including engine evaluation",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}, []string{"device"})

	VehiclesObserved = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "traffic",
		Subsystem: "telemetry",
		Name:      "vehicles",
		Help:      "Last reported vehicle count per direction",
	}, []string{"device", "direction"})

	// Engine
	EngineEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "engine",
		Name:      "evaluations_total",
		Help:      "Engine evaluations by outcome (applied, cooldown, no_rule, duplicate)",
	}, []string{"device", "outcome"})

	EngineAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "engine",
		Name:      "adjustments_total",
		Help:      "Applied setpoint adjustments by rule and setpoint",
	}, []string{"device", "rule", "setpoint"})

	EngineSetpointMs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "traffic",
		Subsystem: "engine",
		Name:      "setpoint_ms",
		Help:      "Last commanded setpoint value in milliseconds",
	}, []string{"device", "setpoint"})

	EngineImbalanceRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "traffic",
		Subsystem: "engine",
		Name:      "imbalance_ratio",
		Help:      "Mean direction-1 traffic share over the imbalance window",
	}, []string{"device"})

	EnginePedestrianActivations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "traffic",
		Subsystem: "engine",
		Name:      "pedestrian_activations_in_window",
		Help:      "Pedestrian activations inside the evaluation window",
	}, []string{"device"})

	AutomaticModeEnabled = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "traffic",
		Subsystem: "engine",
		Name:      "automatic_enabled",
		Help:      "1 when automatic adjustment is enabled",
	}, []string{"device"})

	// Commands
	CommandsQueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "command",
		Name:      "queued_total",
		Help:      "Commands placed in the pending slot by source (manual, adaptive)",
	}, []string{"device", "source"})

	CommandsOverwrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "command",
		Name:      "overwritten_total",
		Help:      "Pending commands replaced before delivery",
	}, []string{"device"})

	CommandsDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "command",
		Name:      "delivered_total",
		Help:      "Commands delivered in a telemetry response",
	}, []string{"device", "source"})

	// Recorder
	RecorderQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "traffic",
		Subsystem: "recorder",
		Name:      "queue_depth",
		Help:      "Records waiting for persistence",
	})

	RecorderDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "recorder",
		Name:      "dropped_total",
		Help:      "Records dropped because the queue was full",
	}, []string{"kind"})

	RecorderWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "recorder",
		Name:      "writes_total",
		Help:      "Sink writes by sink, kind and status (ok, error, rejected, skipped)",
	}, []string{"sink", "kind", "status"})

	RecorderWriteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "traffic",
		Subsystem: "recorder",
		Name:      "write_duration_seconds",
		Help:      "Sink write duration including retries",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"sink"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "traffic",
		Subsystem: "recorder",
		Name:      "circuit_state",
		Help:      "Sink circuit breaker state (0=closed, 1=half_open, 2=open)",
	}, []string{"sink"})

	// DB pool
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "traffic",
		Subsystem: "db_pool",
		Name:      "open_connections",
		Help:      "Open database connections",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "traffic",
		Subsystem: "db_pool",
		Name:      "in_use",
		Help:      "Database connections in use",
	})

	DBPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "traffic",
		Subsystem: "db_pool",
		Name:      "idle",
		Help:      "Idle database connections",
	})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Alerts delivered per channel and type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Alerts suppressed by cooldown per channel and type",
	}, []string{"channel", "type"})

	// Admin API
	AdminRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	AdminRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-IP rate limiter",
	})
)
