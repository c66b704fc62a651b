package workflow

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/bugtriage/internal/observability"
	"github.com/pitabwire/bugtriage/model"
)

var _ Recorder = (*observability.Metrics)(nil)

func TestEngine_prometheusRecorder(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	env := newTestEnv(t, WithRecorder(metrics))
	ctx := context.Background()

	if _, err := env.engine.StartWorkflow(ctx, "task-1", "branch", nil, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "complete", PerformedBy: "alice"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "decide", Decision: "No", PerformedBy: "alice"}); err != nil {
		t.Fatal(err)
	}

	if v := testutil.ToFloat64(metrics.WorkflowStartsTotal.WithLabelValues("branch")); v != 1 {
		t.Errorf("starts = %v, want 1", v)
	}
	if v := testutil.ToFloat64(metrics.WorkflowActionsTotal.WithLabelValues("branch", "B", "decide", OutcomeSuccess)); v != 1 {
		t.Errorf("decide actions = %v, want 1", v)
	}
	if v := testutil.ToFloat64(metrics.WorkflowCompletionsTotal.WithLabelValues("branch", string(model.StatusCompleted))); v != 1 {
		t.Errorf("completions = %v, want 1", v)
	}
	if v := testutil.ToFloat64(metrics.WorkflowActiveInstances.WithLabelValues("branch")); v != 0 {
		t.Errorf("active = %v, want 0", v)
	}
}
