package observability

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/bugtriage/model"
)

func TestNewMetrics_exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveHTTP("GET", "/health", 200, 15, time.Millisecond)
	m.WorkflowStarted("bug_assessment")
	m.ActionExecuted("bug_assessment", "assess_impact", "decide", "success", time.Millisecond)
	m.WorkflowFinished("bug_assessment", model.StatusCompleted)
	m.StepTimedOut("bug_assessment", "document_rationale")
	m.RecordAssessmentTask("started")
	m.RecordDefinitionReload(1, 0, 0)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, f := range families {
		got[f.GetName()] = true
	}
	for _, name := range []string{
		"triage_http_requests_total",
		"triage_http_request_duration_seconds",
		"triage_http_response_size_bytes",
		"triage_workflow_starts_total",
		"triage_workflow_actions_total",
		"triage_workflow_action_duration_seconds",
		"triage_workflow_completions_total",
		"triage_workflow_active_instances",
		"triage_workflow_timeouts_total",
		"triage_assessment_tasks_total",
		"triage_definition_documents_total",
	} {
		if !got[name] {
			t.Errorf("%s not exported", name)
		}
	}
}

func TestNewMetrics_doubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	defer func() {
		if recover() == nil {
			t.Error("registering twice should panic")
		}
	}()
	NewMetrics(reg)
}

func TestMetrics_workflowLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	const wf = "bug_assessment"

	m.WorkflowStarted(wf)
	m.WorkflowStarted(wf)
	m.ActionExecuted(wf, "assess_impact", "decide", "success", 5*time.Millisecond)
	m.ActionExecuted(wf, "assess_impact", "decide", "rejected", time.Millisecond)
	m.WorkflowFinished(wf, model.StatusCompleted)
	m.StepTimedOut(wf, "document_rationale")

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"starts", m.WorkflowStartsTotal.WithLabelValues(wf), 2},
		{"active", m.WorkflowActiveInstances.WithLabelValues(wf), 1},
		{"completed", m.WorkflowCompletionsTotal.WithLabelValues(wf, "Completed"), 1},
		{"success", m.WorkflowActionsTotal.WithLabelValues(wf, "assess_impact", "decide", "success"), 1},
		{"rejected", m.WorkflowActionsTotal.WithLabelValues(wf, "assess_impact", "decide", "rejected"), 1},
		{"timeouts", m.StepTimeouts.WithLabelValues(wf, "document_rationale"), 1},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}
	if testutil.CollectAndCount(m.WorkflowActionLatency) != 1 {
		t.Error("action latency should have one series")
	}
}

func TestMetrics_assessmentAndDefinitions(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAssessmentTask("completed")
	m.RecordAssessmentTask("failed")
	m.RecordAssessmentTask("completed")
	m.RecordDefinitionReload(2, 3, 1)
	m.RecordDefinitionReload(1, 0, 0)

	if v := testutil.ToFloat64(m.AssessmentTasksTotal.WithLabelValues("completed")); v != 2 {
		t.Errorf("completed tasks = %v", v)
	}
	for result, want := range map[string]float64{"published": 3, "unchanged": 3, "failed": 1} {
		if v := testutil.ToFloat64(m.DefinitionDocuments.WithLabelValues(result)); v != want {
			t.Errorf("%s documents = %v, want %v", result, v, want)
		}
	}
}

func TestMetricsMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		mount     bool
		method    string
		path      string
		status    int
		wantRoute string
	}{
		{"route pattern", true, http.MethodGet, "/api/tasks/task-7/workflow", http.StatusOK, "/api/tasks/{taskId}/workflow"},
		{"error status", true, http.MethodPost, "/api/tasks/t-1/workflow/actions", http.StatusUnprocessableEntity, "/api/tasks/{taskId}/workflow/actions"},
		{"outside router", false, http.MethodGet, "/raw/path", http.StatusOK, "/raw/path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics(prometheus.NewRegistry())
			handle := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("body"))
			})

			var h http.Handler = m.MetricsMiddleware(handle)
			if tt.mount {
				r := chi.NewRouter()
				r.Use(m.MetricsMiddleware)
				r.Get("/api/tasks/{taskId}/workflow", handle)
				r.Post("/api/tasks/{taskId}/workflow/actions", handle)
				h = r
			}
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			if v := testutil.ToFloat64(m.HTTPRequests.WithLabelValues(tt.method, tt.wantRoute, strconv.Itoa(tt.status))); v != 1 {
				t.Errorf("requests{route=%q} = %v", tt.wantRoute, v)
			}
			if testutil.CollectAndCount(m.HTTPResponseSize) != 1 {
				t.Error("response size not observed")
			}
		})
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg).WorkflowStarted("bug_assessment")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `triage_workflow_starts_total{workflow="bug_assessment"} 1`) {
		t.Errorf("body missing start counter:\n%s", rec.Body)
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := NewStatusRecorder(httptest.NewRecorder())
	if rec.Status() != http.StatusOK {
		t.Errorf("default status = %d", rec.Status())
	}
	rec.WriteHeader(http.StatusAccepted)
	rec.WriteHeader(http.StatusTeapot)
	_, _ = rec.Write([]byte("queued"))

	if rec.Status() != http.StatusAccepted || rec.Bytes() != 6 {
		t.Errorf("status = %d bytes = %d", rec.Status(), rec.Bytes())
	}
	if http.NewResponseController(rec).Flush() != nil {
		t.Error("Flush should reach the wrapped recorder")
	}
}
