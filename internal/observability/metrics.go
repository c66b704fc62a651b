package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitabwire/bugtriage/model"
)

const namespace = "triage"

var (
	latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	actionBuckets  = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	sizeBuckets    = prometheus.ExponentialBuckets(128, 8, 6)
)

// Metrics is the service's Prometheus instrumentation. It implements
// workflow.Recorder.
type Metrics struct {
	HTTPRequests     *prometheus.CounterVec
	HTTPLatency      *prometheus.HistogramVec
	HTTPResponseSize *prometheus.HistogramVec

	WorkflowStartsTotal      *prometheus.CounterVec
	WorkflowActionsTotal     *prometheus.CounterVec
	WorkflowActionLatency    *prometheus.HistogramVec
	WorkflowCompletionsTotal *prometheus.CounterVec
	WorkflowActiveInstances  *prometheus.GaugeVec
	StepTimeouts             *prometheus.CounterVec

	AssessmentTasksTotal *prometheus.CounterVec

	DefinitionDocuments *prometheus.CounterVec
}

// NewMetrics creates the instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		}, labels)
	}
	histogram := func(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
		}, labels)
	}

	return &Metrics{
		HTTPRequests: counter("http", "requests_total",
			"HTTP requests by route and status.", "method", "route", "status"),
		HTTPLatency: histogram("http", "request_duration_seconds",
			"HTTP request latency.", latencyBuckets, "method", "route"),
		HTTPResponseSize: histogram("http", "response_size_bytes",
			"HTTP response body size.", sizeBuckets, "method", "route"),

		WorkflowStartsTotal: counter("workflow", "starts_total",
			"Workflow executions started.", "workflow"),
		WorkflowActionsTotal: counter("workflow", "actions_total",
			"ExecuteAction calls by outcome.", "workflow", "step_id", "action_id", "outcome"),
		WorkflowActionLatency: histogram("workflow", "action_duration_seconds",
			"ExecuteAction latency.", actionBuckets, "workflow", "step_id"),
		WorkflowCompletionsTotal: counter("workflow", "completions_total",
			"Executions reaching a final status.", "workflow", "final_status"),
		WorkflowActiveInstances: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "workflow", Name: "active_instances",
			Help: "Executions started by this process and not yet finished.",
		}, []string{"workflow"}),
		StepTimeouts: counter("workflow", "timeouts_total",
			"Executions suspended because a step timed out.", "workflow", "step_id"),

		AssessmentTasksTotal: counter("assessment", "tasks_total",
			"Generated assessment tasks by result.", "result"),

		DefinitionDocuments: counter("definition", "documents_total",
			"Definition documents handled by a sync, by result.", "result"),
	}
}

// ObserveHTTP records one served request under its route pattern.
func (m *Metrics) ObserveHTTP(method, route string, status, respBytes int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(d.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, route).Observe(float64(respBytes))
}

func (m *Metrics) WorkflowStarted(workflow string) {
	m.WorkflowStartsTotal.WithLabelValues(workflow).Inc()
	m.WorkflowActiveInstances.WithLabelValues(workflow).Inc()
}

func (m *Metrics) ActionExecuted(workflow, stepID, actionID, outcome string, d time.Duration) {
	m.WorkflowActionsTotal.WithLabelValues(workflow, stepID, actionID, outcome).Inc()
	m.WorkflowActionLatency.WithLabelValues(workflow, stepID).Observe(d.Seconds())
}

func (m *Metrics) WorkflowFinished(workflow string, status model.ExecutionStatus) {
	m.WorkflowCompletionsTotal.WithLabelValues(workflow, string(status)).Inc()
	m.WorkflowActiveInstances.WithLabelValues(workflow).Dec()
}

func (m *Metrics) StepTimedOut(workflow, stepID string) {
	m.StepTimeouts.WithLabelValues(workflow, stepID).Inc()
}

// RecordAssessmentTask counts a generated task as "started", "completed"
// or "failed".
func (m *Metrics) RecordAssessmentTask(result string) {
	m.AssessmentTasksTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordDefinitionReload(published, unchanged, failed int) {
	for result, n := range map[string]int{"published": published, "unchanged": unchanged, "failed": failed} {
		m.DefinitionDocuments.WithLabelValues(result).Add(float64(n))
	}
}

// MetricsMiddleware labels requests by chi route pattern so path
// parameters do not become label values.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewStatusRecorder(w)
		next.ServeHTTP(rec, r)
		m.ObserveHTTP(r.Method, routePattern(r), rec.Status(), rec.Bytes(), time.Since(start))
	})
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}
