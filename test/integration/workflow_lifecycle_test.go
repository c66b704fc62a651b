package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/pitabwire/bugtriage/model"
)

// ==========================================================================
// Helpers
// ==========================================================================

func workflowPath(taskID string, suffix ...string) string {
	p := "/api/tasks/" + taskID + "/workflow"
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

func startEscalation(t *testing.T, h *TestHarness, token, taskID string) model.WorkflowExecution {
	t.Helper()

	resp := h.POST(workflowPath(taskID), map[string]any{
		"workflow": "escalation",
		"context": map[string]any{
			"customer": "Acme Pharma",
			"priority": 2,
		},
	}, token)

	var exec model.WorkflowExecution
	h.AssertJSON(t, resp, http.StatusCreated, &exec)
	if exec.ID == "" {
		t.Fatal("expected execution ID in start response")
	}
	return exec
}

func getState(t *testing.T, h *TestHarness, token, taskID string) model.WorkflowState {
	t.Helper()
	var state model.WorkflowState
	h.AssertJSON(t, h.GET(workflowPath(taskID), token), http.StatusOK, &state)
	return state
}

func act(t *testing.T, h *TestHarness, token, taskID string, body map[string]any) model.ActionResult {
	t.Helper()
	var res model.ActionResult
	h.AssertJSON(t, h.POST(workflowPath(taskID, "actions"), body, token), http.StatusOK, &res)
	return res
}

type auditPage struct {
	Data       []model.AuditEntry `json:"data"`
	TotalCount int                `json:"total_count"`
}

// ==========================================================================
// Full Lifecycle
// ==========================================================================

func TestWorkflow_FullEscalationLifecycle(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AnalystClaims())

	// 1. Start workflow.
	exec := startEscalation(t, h, token, "task-1")
	if exec.CurrentStepID != "triage" || exec.StartedBy != "analyst@triage.example.com" {
		t.Errorf("start = step %s by %s", exec.CurrentStepID, exec.StartedBy)
	}

	// 2. Verify initial state.
	state := getState(t, h, token, "task-1")
	if state.Status != model.StatusActive || state.CurrentStep.StepID != "triage" {
		t.Fatalf("initial state = %s at %+v", state.Status, state.CurrentStep)
	}
	if len(state.AvailableActions) == 0 || state.AvailableActions[0].ActionID != "decide" {
		t.Errorf("available actions = %+v", state.AvailableActions)
	}
	if got := state.Context["customer"]; got.Interface() != "Acme Pharma" {
		t.Errorf("context customer = %v", got)
	}

	// 3. Decide yes.
	res := act(t, h, token, "task-1", map[string]any{"action_id": "decide", "decision": "Yes"})
	if res.PreviousStepID != "triage" || res.NextStepID != "engineering_review" {
		t.Errorf("decide = %s -> %s", res.PreviousStepID, res.NextStepID)
	}

	// 4. Complete the review with findings.
	res = act(t, h, token, "task-1", map[string]any{
		"action_id": "complete",
		"notes":     "Reproduced on 4.2 with a 1001 row export.",
	})
	if !res.WorkflowCompleted || res.NextStepID != "escalated" {
		t.Fatalf("complete = %+v", res)
	}

	// 5. Final state and audit trail.
	state = getState(t, h, token, "task-1")
	if state.Status != model.StatusCompleted || state.Progress.Percent != 100 {
		t.Errorf("final state = %s %.0f%%", state.Status, state.Progress.Percent)
	}

	var trail auditPage
	h.AssertJSON(t, h.GET(workflowPath("task-1", "audit"), token), http.StatusOK, &trail)
	wantActions := []string{model.AuditWorkflowStarted, "decide", "complete", model.AuditWorkflowCompleted}
	if trail.TotalCount != len(wantActions) {
		t.Fatalf("audit total = %d, want %d\n%s", trail.TotalCount, len(wantActions), FormatJSON(trail))
	}
	for i, want := range wantActions {
		if trail.Data[i].Action != want {
			t.Errorf("audit[%d].Action = %s, want %s", i, trail.Data[i].Action, want)
		}
		if trail.Data[i].PerformedBy != "analyst@triage.example.com" {
			t.Errorf("audit[%d].PerformedBy = %s", i, trail.Data[i].PerformedBy)
		}
	}
}

func TestWorkflow_DismissPath(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AnalystClaims())
	startEscalation(t, h, token, "task-1")

	res := act(t, h, token, "task-1", map[string]any{"action_id": "decide", "decision": "No"})
	if !res.WorkflowCompleted || res.NextStepID != "dismissed" {
		t.Errorf("decide no = %+v", res)
	}
}

// ==========================================================================
// Rejected Actions
// ==========================================================================

func TestWorkflow_NoteRequired(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AnalystClaims())
	startEscalation(t, h, token, "task-1")
	act(t, h, token, "task-1", map[string]any{"action_id": "decide", "decision": "Yes"})

	resp := h.POST(workflowPath("task-1", "actions"), map[string]any{"action_id": "complete"}, token)
	h.AssertError(t, resp, http.StatusUnprocessableEntity, model.ErrValidationError)

	if state := getState(t, h, token, "task-1"); state.CurrentStep.StepID != "engineering_review" {
		t.Errorf("rejected action moved the pointer to %s", state.CurrentStep.StepID)
	}
}

func TestWorkflow_UnknownAction(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AnalystClaims())
	startEscalation(t, h, token, "task-1")

	resp := h.POST(workflowPath("task-1", "actions"), map[string]any{"action_id": "complete"}, token)
	h.AssertError(t, resp, http.StatusUnprocessableEntity, model.ErrValidationError)
}

func TestWorkflow_ActionOnCompletedWorkflow(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AnalystClaims())
	startEscalation(t, h, token, "task-1")
	act(t, h, token, "task-1", map[string]any{"action_id": "decide", "decision": "No"})

	resp := h.POST(workflowPath("task-1", "actions"), map[string]any{"action_id": "decide", "decision": "Yes"}, token)
	h.AssertError(t, resp, http.StatusConflict, model.ErrWorkflowNotActive)
}

func TestWorkflow_AlreadyStarted(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AnalystClaims())
	startEscalation(t, h, token, "task-1")

	resp := h.POST(workflowPath("task-1"), map[string]any{"workflow": "escalation"}, token)
	h.AssertError(t, resp, http.StatusConflict, model.ErrAlreadyStarted)
}

func TestWorkflow_NotFound(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AnalystClaims())

	h.AssertError(t, h.GET(workflowPath("nope"), token), http.StatusNotFound, model.ErrWorkflowNotFound)
	h.AssertError(t,
		h.POST(workflowPath("task-1"), map[string]any{"workflow": "missing"}, token),
		http.StatusNotFound, model.ErrDefinitionNotFound)
}

// ==========================================================================
// Lifecycle Operations
// ==========================================================================

func TestWorkflow_SuspendResumeCancel(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AnalystClaims())
	startEscalation(t, h, token, "task-1")

	var state model.WorkflowState
	h.AssertJSON(t, h.POST(workflowPath("task-1", "suspend"), map[string]any{"reason": "waiting for logs"}, token), http.StatusOK, &state)
	if state.Status != model.StatusSuspended {
		t.Fatalf("status after suspend = %s", state.Status)
	}

	resp := h.POST(workflowPath("task-1", "actions"), map[string]any{"action_id": "decide", "decision": "Yes"}, token)
	h.AssertError(t, resp, http.StatusConflict, model.ErrWorkflowNotActive)

	h.AssertJSON(t, h.POST(workflowPath("task-1", "resume"), nil, token), http.StatusOK, &state)
	if state.Status != model.StatusActive || state.CurrentStep.StepID != "triage" {
		t.Fatalf("after resume = %s at %+v", state.Status, state.CurrentStep)
	}

	h.AssertJSON(t, h.POST(workflowPath("task-1", "cancel"), map[string]any{"reason": "duplicate"}, token), http.StatusOK, &state)
	if state.Status != model.StatusCancelled {
		t.Fatalf("status after cancel = %s", state.Status)
	}

	h.AssertError(t, h.POST(workflowPath("task-1", "resume"), nil, token), http.StatusConflict, model.ErrInvalidState)
}

func TestWorkflow_StepTimeoutSuspends(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AnalystClaims())
	startEscalation(t, h, token, "task-1")
	act(t, h, token, "task-1", map[string]any{"action_id": "decide", "decision": "Yes"})

	h.Clock.Advance(30 * time.Minute)
	n, err := h.Engine.ProcessTimeouts(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("ProcessTimeouts() before the limit = %d, %v", n, err)
	}

	h.Clock.Advance(31 * time.Minute)
	n, err = h.Engine.ProcessTimeouts(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("ProcessTimeouts() after the limit = %d, %v", n, err)
	}

	state := getState(t, h, token, "task-1")
	if state.Status != model.StatusSuspended || state.CurrentStep.StepID != "engineering_review" {
		t.Errorf("state = %s at %+v", state.Status, state.CurrentStep)
	}

	var trail auditPage
	h.AssertJSON(t, h.GET(workflowPath("task-1", "audit"), token), http.StatusOK, &trail)
	last := trail.Data[len(trail.Data)-1]
	if last.Action != model.AuditWorkflowSuspended || last.PerformedBy != "system" {
		t.Errorf("last audit entry = %s by %s", last.Action, last.PerformedBy)
	}
}

// ==========================================================================
// Idempotency
// ==========================================================================

func TestWorkflow_IdempotentReplay(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []HarnessOption
	}{
		{"memory", nil},
		{"redis", []HarnessOption{WithRedis()}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := NewTestHarness(t, tc.opts...)
			token := h.GenerateToken(AnalystClaims())
			startEscalation(t, h, token, "task-1")

			body := map[string]any{"action_id": "decide", "decision": "Yes"}
			headers := map[string]string{"Idempotency-Key": "decide-1"}

			var first, second model.ActionResult
			h.AssertJSON(t, h.POSTWithHeaders(workflowPath("task-1", "actions"), body, token, headers), http.StatusOK, &first)
			h.AssertJSON(t, h.POSTWithHeaders(workflowPath("task-1", "actions"), body, token, headers), http.StatusOK, &second)
			if first.NextStepID != second.NextStepID || second.NextStepID != "engineering_review" {
				t.Errorf("replay = %s, first = %s", second.NextStepID, first.NextStepID)
			}

			var trail auditPage
			h.AssertJSON(t, h.GET(workflowPath("task-1", "audit"), token), http.StatusOK, &trail)
			if trail.TotalCount != 2 {
				t.Errorf("audit entries = %d, want 2 (started + one decide)", trail.TotalCount)
			}

			other := map[string]any{"action_id": "decide", "decision": "No"}
			resp := h.POSTWithHeaders(workflowPath("task-1", "actions"), other, token, headers)
			h.AssertError(t, resp, http.StatusConflict, model.ErrConflict)
		})
	}
}
