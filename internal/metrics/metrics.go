// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_events_ingested_total",
			Help: "Events committed to the store, by hook event type (unknown types as other)",
		},
		[]string{"hook_event_type"},
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentwatch_ingest_batch_size",
			Help:    "Events committed per store transaction",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	IngestQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentwatch_ingest_queue_depth",
			Help: "Requests waiting for the store writer",
		},
	)

	IngestRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_ingest_rejected_total",
			Help: "Submissions rejected before reaching the store",
		},
		[]string{"reason"},
	)

	HITLResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_hitl_resolved_total",
			Help: "HITL respond attempts by outcome",
		},
		[]string{"outcome"},
	)

	HITLCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_hitl_callbacks_total",
			Help: "HITL responses delivered to agent callbacks, by result",
		},
		[]string{"result"},
	)

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentwatch_stream_clients",
			Help: "Connected stream observers",
		},
	)

	StreamDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentwatch_stream_dropped_clients_total",
			Help: "Observers disconnected because their send buffer was full",
		},
	)

	StreamMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_stream_messages_total",
			Help: "Messages fanned out to observers, by type",
		},
		[]string{"type"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentwatch_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)
)

// UnmatchedRoute labels requests that matched no route, so arbitrary
// paths do not each become a series.
const UnmatchedRoute = "unmatched"

// OtherLabel stands in for label values outside a known set.
const OtherLabel = "other"

// hookEventTypes are the lifecycle points agents emit. Producers may send
// anything; only these get their own series.
var hookEventTypes = map[string]bool{
	"PreToolUse":       true,
	"PostToolUse":      true,
	"Notification":     true,
	"UserPromptSubmit": true,
	"Stop":             true,
	"SubagentStop":     true,
	"PreCompact":       true,
	"SessionStart":     true,
	"SessionEnd":       true,
}

var httpMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodOptions: true,
}

// HookEventLabel maps a producer-supplied hook event type onto a bounded
// label value.
func HookEventLabel(hookEventType string) string {
	if hookEventTypes[hookEventType] {
		return hookEventType
	}
	return OtherLabel
}

// ObserveIngested counts one committed event.
func ObserveIngested(hookEventType string) {
	EventsIngested.WithLabelValues(HookEventLabel(hookEventType)).Inc()
}

// ObserveHTTP records one finished request. route should be a route
// pattern or UnmatchedRoute.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if !httpMethods[method] {
		method = OtherLabel
	}
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
