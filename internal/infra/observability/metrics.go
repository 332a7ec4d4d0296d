// Package observability builds the service logger and holds the Prometheus
// metrics shared by the payment, import, notification and job components.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "negotiate"

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Charge Metrics ─────────────────────────────────────────────────────────

// ChargesProcessed counts orchestrated charge attempts by provider and outcome.
var ChargesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "charges",
	Name:      "processed_total",
	Help:      "Total scheduled charge attempts by provider and outcome.",
}, []string{"provider", "outcome"})

// GatewayLatency tracks provider round-trip time.
var GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "gateway",
	Name:      "request_seconds",
	Help:      "Gateway request latency in seconds.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
}, []string{"provider"})

// GatewayTransportErrors counts requests that produced no structured answer.
var GatewayTransportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "gateway",
	Name:      "transport_errors_total",
	Help:      "Total gateway requests that failed at the transport level.",
}, []string{"provider"})

// PlatformRevenue accumulates the platform share of successful charges.
var PlatformRevenue = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "charges",
	Name:      "platform_share_total",
	Help:      "Sum of platform revenue share from successful charges.",
})

// ─── Import Metrics ─────────────────────────────────────────────────────────

// ImportRows counts reconciled rows by mode and result (valid|failed).
var ImportRows = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "import",
	Name:      "rows_total",
	Help:      "Total import rows by mode and result.",
}, []string{"mode", "result"})

// ImportBatches counts finished batches by terminal status.
var ImportBatches = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "import",
	Name:      "batches_total",
	Help:      "Total import batches by terminal status.",
}, []string{"status"})

// ─── Notification Metrics ───────────────────────────────────────────────────

// NotificationsSent counts deliveries by channel and event.
var NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "notify",
	Name:      "sent_total",
	Help:      "Total notifications delivered by channel and event.",
}, []string{"channel", "event"})

// NotificationsDropped counts notifications lost to a full queue or a sender error.
var NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "notify",
	Name:      "dropped_total",
	Help:      "Total notifications dropped by reason.",
}, []string{"reason"})

// NotifyQueueDepth tracks pending notifications.
var NotifyQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "notify",
	Name:      "queue_depth",
	Help:      "Current number of queued notifications.",
})

// ─── Job Metrics ────────────────────────────────────────────────────────────

// JobsFinished counts jobs reaching a terminal status, by kind.
var JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "jobs",
	Name:      "finished_total",
	Help:      "Total jobs finished by kind and status.",
}, []string{"kind", "status"})

// JobsRunning tracks in-flight jobs.
var JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "jobs",
	Name:      "running",
	Help:      "Number of jobs currently executing.",
})

// JobRetries counts redeliveries after a failed attempt.
var JobRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "jobs",
	Name:      "retries_total",
	Help:      "Total job retries by kind.",
}, []string{"kind"})
