package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Feed presentation
	feedPresentationsTotal *prometheus.CounterVec
	feedFetchErrorsTotal   *prometheus.CounterVec
	feedStaleServedTotal   *prometheus.CounterVec
	feedRecordsPresented   *prometheus.HistogramVec

	// Chain RPC
	rpcCallsTotal    *prometheus.CounterVec
	rpcCallDuration  *prometheus.HistogramVec
	rpcRateLimitHits *prometheus.CounterVec

	// Ingestion
	recordsIngestedTotal *prometheus.CounterVec
	recordsSkippedTotal  *prometheus.CounterVec
	standbyRecordsTotal  *prometheus.CounterVec

	// Workflows
	workflowDuration   *prometheus.HistogramVec
	workflowRunsTotal  *prometheus.CounterVec
	activityDuration   *prometheus.HistogramVec
	bankSyncsTotal     *prometheus.CounterVec
	limitRequestsTotal *prometheus.CounterVec

	// HTTP
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   prometheus.Histogram
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		feedPresentationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txfeed_presentations_total",
				Help: "Feed presentations by context and resulting state",
			},
			[]string{"context", "state"},
		),
		feedFetchErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txfeed_fetch_errors_total",
				Help: "Feed fetch failures reported to the error sink",
			},
			[]string{"context"},
		),
		feedStaleServedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txfeed_stale_served_total",
				Help: "Presentations served from the last good snapshot after a fetch failure",
			},
			[]string{"context"},
		),
		feedRecordsPresented: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txfeed_records_presented",
				Help:    "Number of records in a presented feed",
				Buckets: []float64{0, 1, 10, 25, 50, 100, 250, 1000},
			},
			[]string{"context"},
		),

		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txfeed_rpc_calls_total",
				Help: "Chain RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txfeed_rpc_call_duration_seconds",
				Help:    "Duration of chain RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		rpcRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txfeed_rpc_rate_limit_hits_total",
				Help: "Chain RPC rate limit hits (429 errors)",
			},
			[]string{"method"},
		),

		recordsIngestedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txfeed_records_ingested_total",
				Help: "Records written by wallet ingestion",
			},
			[]string{"kind"},
		),
		recordsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txfeed_records_skipped_total",
				Help: "Chain transactions skipped by ingestion",
			},
			[]string{"reason"},
		),
		standbyRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txfeed_standby_records_total",
				Help: "Standby records accepted, by outcome",
			},
			[]string{"status"},
		),

		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txfeed_workflow_duration_seconds",
				Help:    "Duration of workflow executions in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"workflow", "status"},
		),
		workflowRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txfeed_workflow_runs_total",
				Help: "Workflow executions by outcome",
			},
			[]string{"workflow", "status"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txfeed_activity_duration_seconds",
				Help:    "Duration of activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "status"},
		),
		bankSyncsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txfeed_bank_syncs_total",
				Help: "Bank account sync attempts by outcome",
			},
			[]string{"status"},
		),
		limitRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txfeed_limit_requests_total",
				Help: "Raise-limit requests recorded",
			},
			[]string{"status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"source", "status"},
		),
		natsPublishDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
	}
}

// Feed metric helpers

// RecordPresentation records one feed presentation.
func (m *Metrics) RecordPresentation(context, state string, records int) {
	if m == nil {
		return
	}
	m.feedPresentationsTotal.WithLabelValues(context, state).Inc()
	m.feedRecordsPresented.WithLabelValues(context).Observe(float64(records))
}

// RecordFetchError records a failed feed fetch.
func (m *Metrics) RecordFetchError(context string) {
	if m == nil {
		return
	}
	m.feedFetchErrorsTotal.WithLabelValues(context).Inc()
}

// RecordStaleServed records a presentation built from a cached snapshot.
func (m *Metrics) RecordStaleServed(context string) {
	if m == nil {
		return
	}
	m.feedStaleServedTotal.WithLabelValues(context).Inc()
}

// Chain RPC metric helpers

// RecordRPCCall records a chain RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status string, duration float64) {
	if m == nil {
		return
	}
	m.rpcCallsTotal.WithLabelValues(method, status).Inc()
	m.rpcCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(method string) {
	if m == nil {
		return
	}
	m.rpcRateLimitHits.WithLabelValues(method).Inc()
}

// Ingestion metric helpers

// RecordRecordsIngested records records written by ingestion.
func (m *Metrics) RecordRecordsIngested(kind string, count int) {
	if m == nil {
		return
	}
	m.recordsIngestedTotal.WithLabelValues(kind).Add(float64(count))
}

// RecordRecordsSkipped records chain transactions that produced no record.
func (m *Metrics) RecordRecordsSkipped(reason string, count int) {
	if m == nil {
		return
	}
	m.recordsSkippedTotal.WithLabelValues(reason).Add(float64(count))
}

// RecordStandby records a standby submission outcome.
func (m *Metrics) RecordStandby(status string) {
	if m == nil {
		return
	}
	m.standbyRecordsTotal.WithLabelValues(status).Inc()
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(workflow, status string, duration float64) {
	if m == nil {
		return
	}
	m.workflowDuration.WithLabelValues(workflow, status).Observe(duration)
	m.workflowRunsTotal.WithLabelValues(workflow, status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64, err error) {
	if m == nil {
		return
	}
	m.activityDuration.WithLabelValues(activity, errStatus(err)).Observe(duration)
}

// RecordBankSync records a bank account sync outcome.
func (m *Metrics) RecordBankSync(status string) {
	if m == nil {
		return
	}
	m.bankSyncsTotal.WithLabelValues(status).Inc()
}

// RecordLimitRequest records a raise-limit request.
func (m *Metrics) RecordLimitRequest(status string) {
	if m == nil {
		return
	}
	m.limitRequestsTotal.WithLabelValues(status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(source string, duration float64, err error) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(source, errStatus(err)).Inc()
	m.natsPublishDuration.Observe(duration)
}

// Helper functions

func errStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
