package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wa_agent"

var (
	// HTTP surface
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	// Inbound messages by type and outcome (accepted, ignored, rate_limited)
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbox",
			Name:      "messages_total",
			Help:      "Inbound WhatsApp messages",
		},
		[]string{"type", "status"},
	)

	// Workflow runs
	WorkflowRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Workflow runs by intent and response source",
		},
		[]string{"intent", "source"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "duration_seconds",
			Help:      "Workflow duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"intent"},
	)

	WorkflowErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "errors_total",
			Help:      "Workflow errors by kind",
		},
		[]string{"kind"},
	)

	// Knowledge base
	KnowledgeQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "knowledge",
			Name:      "queries_total",
			Help:      "Knowledge base queries by status (hit, miss, empty, error)",
		},
		[]string{"status"},
	)

	KnowledgeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "knowledge",
			Name:      "query_duration_seconds",
			Help:      "Knowledge base query duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	LLMCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "knowledge",
			Name:      "llm_cost_usd_total",
			Help:      "Accumulated LLM cost in USD",
		},
		[]string{"model"},
	)

	// Integrations
	IntegrationCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrations",
			Name:      "calls_total",
			Help:      "Service integration calls",
		},
		[]string{"service", "status"},
	)

	// Delivery
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "whatsapp",
			Name:      "deliveries_total",
			Help:      "Outbound WhatsApp deliveries",
		},
		[]string{"status"},
	)

	TranscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "whatsapp",
			Name:      "transcriptions_total",
			Help:      "Audio transcription attempts",
		},
		[]string{"status"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Live sessions observed at the last cleanup",
		},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Status renders a boolean outcome as a label value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
