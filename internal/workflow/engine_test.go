package workflow

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pitabwire/bugtriage/internal/definition"
	"github.com/pitabwire/bugtriage/internal/execution"
	"github.com/pitabwire/bugtriage/model"
)

// --- Test helpers ---

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// branchSchema is A --complete--> B --decide_yes--> C(terminal),
// B --decide_no--> D(terminal).
func branchSchema() model.WorkflowSchema {
	return model.WorkflowSchema{
		WorkflowID:    "branch",
		Name:          "branch",
		InitialStepID: "A",
		Steps: []model.StepDefinition{
			{StepID: "A", Name: "Start", Type: model.StepAction, Actions: []model.ActionDefinition{
				{ActionID: "complete", Name: "Complete", Type: model.ActionComplete, IsEnabled: true},
			}},
			{StepID: "B", Name: "Decide", Type: model.StepDecision, Actions: []model.ActionDefinition{
				{ActionID: "decide", Name: "Decide", Type: model.ActionDecide, IsEnabled: true},
			}},
			{StepID: "C", Name: "Accepted", Type: model.StepTerminal, IsTerminal: true},
			{StepID: "D", Name: "Rejected", Type: model.StepTerminal, IsTerminal: true},
		},
		Transitions: []model.Transition{
			{TransitionID: "t1", FromStepID: "A", ToStepID: "B", TriggerAction: "complete"},
			{TransitionID: "t2", FromStepID: "B", ToStepID: "C", TriggerAction: "decide_yes"},
			{TransitionID: "t3", FromStepID: "B", ToStepID: "D", TriggerAction: "decide_no"},
		},
	}
}

type testEnv struct {
	engine  *Engine
	execs   *execution.MemoryStore
	clock   *testClock
	publish func(model.WorkflowSchema)
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	defStore := definition.NewMemoryStore()
	publisher := definition.NewPublisher(defStore, nil)
	execStore := execution.NewMemoryStore()
	clock := newTestClock()

	env := &testEnv{execs: execStore, clock: clock}
	env.publish = func(s model.WorkflowSchema) {
		t.Helper()
		if _, err := publisher.Publish(context.Background(), s, "", "test"); err != nil {
			t.Fatalf("Publish(%s) error = %v", s.Name, err)
		}
	}

	opts = append([]Option{WithClock(clock.Now)}, opts...)
	env.engine = NewEngine(
		definition.NewRegistry(defStore),
		execution.NewManager(execStore, execution.WithClock(clock.Now)),
		opts...,
	)
	env.publish(branchSchema())
	return env
}

func (env *testEnv) trailLen(t *testing.T, taskID string) int {
	t.Helper()
	trail, err := env.engine.GetAuditTrail(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GetAuditTrail() error = %v", err)
	}
	return len(trail)
}

// --- StartWorkflow ---

func TestEngine_StartWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	exec, err := env.engine.StartWorkflow(ctx, "task-1", "branch", model.Context{"k": model.String("v")}, "alice")
	if err != nil {
		t.Fatalf("StartWorkflow() error = %v", err)
	}
	if exec.CurrentStepID != "A" || exec.Status != model.StatusActive {
		t.Errorf("StartWorkflow() = %+v", exec)
	}
	if exec.StartedBy != "alice" {
		t.Errorf("StartedBy = %q", exec.StartedBy)
	}
}

func TestEngine_StartWorkflow_twiceFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.StartWorkflow(ctx, "task-1", "branch", nil, "alice"); err != nil {
		t.Fatal(err)
	}
	_, err := env.engine.StartWorkflow(ctx, "task-1", "branch", nil, "alice")
	if !model.IsCode(err, model.ErrAlreadyStarted) {
		t.Fatalf("second StartWorkflow() error = %v, want ALREADY_STARTED", err)
	}
	if env.execs.Len() != 1 {
		t.Errorf("executions = %d, want 1", env.execs.Len())
	}
}

func TestEngine_StartWorkflow_unknownDefinition(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.StartWorkflow(context.Background(), "task-1", "nope", nil, "alice")
	if !model.IsCode(err, model.ErrDefinitionNotFound) {
		t.Fatalf("StartWorkflow() error = %v, want DEFINITION_NOT_FOUND", err)
	}
}

// --- ExecuteAction ---

func TestEngine_branchScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.StartWorkflow(ctx, "task-1", "branch", nil, "alice"); err != nil {
		t.Fatal(err)
	}

	res, err := env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "complete", PerformedBy: "alice"})
	if err != nil {
		t.Fatalf("ExecuteAction(complete) error = %v", err)
	}
	if res.NextStepID != "B" || res.WorkflowCompleted {
		t.Errorf("complete result = %+v", res)
	}
	if res.State == nil || res.State.CurrentStep == nil || res.State.CurrentStep.StepID != "B" {
		t.Fatalf("state after complete = %+v", res.State)
	}

	res, err = env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "decide", Decision: "No", PerformedBy: "bob"})
	if err != nil {
		t.Fatalf("ExecuteAction(decide) error = %v", err)
	}
	if !res.WorkflowCompleted || res.NextStepID != "D" || res.PreviousStepID != "B" {
		t.Errorf("decide result = %+v", res)
	}
	if res.State.Status != model.StatusCompleted || res.State.CompletedAt == nil {
		t.Errorf("state status = %s", res.State.Status)
	}
	if res.State.Progress.Percent != 100 {
		t.Errorf("progress = %v, want 100", res.State.Progress.Percent)
	}

	trail, err := env.engine.GetAuditTrail(ctx, "task-1")
	if err != nil {
		t.Fatal(err)
	}
	want := []struct{ action, prev, next string }{
		{model.AuditWorkflowStarted, "", "A"},
		{"complete", "A", "B"},
		{"decide", "B", "D"},
		{model.AuditWorkflowCompleted, "", ""},
	}
	if len(trail) != len(want) {
		t.Fatalf("trail length = %d, want %d", len(trail), len(want))
	}
	for i, w := range want {
		e := trail[i]
		if e.Action != w.action || e.PreviousStepID != w.prev || e.NextStepID != w.next {
			t.Errorf("trail[%d] = %s %s->%s, want %s %s->%s", i, e.Action, e.PreviousStepID, e.NextStepID, w.action, w.prev, w.next)
		}
		if i > 0 && trail[i-1].Sequence >= e.Sequence {
			t.Errorf("trail[%d] out of insertion order", i)
		}
	}
	if trail[2].Decision != "No" || !trail[2].ContextSnapshot.Lookup("step_B_decision").Equal(model.String("No")) {
		t.Errorf("decide entry = %+v", trail[2])
	}

	_, err = env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "decide", Decision: "Yes"})
	if !model.IsCode(err, model.ErrWorkflowNotActive) {
		t.Errorf("ExecuteAction() after completion error = %v, want WORKFLOW_NOT_ACTIVE", err)
	}
}

func TestEngine_ExecuteAction_unknownAction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.engine.StartWorkflow(ctx, "task-1", "branch", nil, "alice"); err != nil {
		t.Fatal(err)
	}

	_, err := env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "decide", Decision: "Yes"})
	if !model.IsCode(err, model.ErrValidationError) {
		t.Fatalf("ExecuteAction() error = %v, want VALIDATION_ERROR", err)
	}
	if n := env.trailLen(t, "task-1"); n != 1 {
		t.Errorf("trail length = %d, want 1", n)
	}

	state, _ := env.engine.GetWorkflowState(ctx, "task-1")
	if state.CurrentStep.StepID != "A" {
		t.Errorf("current step = %s, want A", state.CurrentStep.StepID)
	}
}

func TestEngine_ExecuteAction_requiresNote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s := branchSchema()
	s.WorkflowID, s.Name = "noted", "noted"
	s.Steps[0].Config.RequiresNote = true
	env.publish(s)

	if _, err := env.engine.StartWorkflow(ctx, "task-1", "noted", nil, "alice"); err != nil {
		t.Fatal(err)
	}

	for _, notes := range []string{"", "   "} {
		_, err := env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "complete", Notes: notes})
		if !model.IsCode(err, model.ErrValidationError) {
			t.Fatalf("ExecuteAction(notes=%q) error = %v, want VALIDATION_ERROR", notes, err)
		}
	}
	if n := env.trailLen(t, "task-1"); n != 1 {
		t.Errorf("rejections wrote audit entries: trail length %d", n)
	}

	res, err := env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "complete", Notes: "checked"})
	if err != nil {
		t.Fatalf("ExecuteAction() with notes error = %v", err)
	}
	if !res.State.Context.Lookup("step_A_notes").Equal(model.String("checked")) {
		t.Errorf("notes not stored in context: %v", res.State.Context)
	}
}

func TestEngine_ExecuteAction_decisionMustBeYesOrNo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.engine.StartWorkflow(ctx, "task-1", "branch", nil, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "complete"}); err != nil {
		t.Fatal(err)
	}

	for _, d := range []string{"", "yes", "Maybe"} {
		_, err := env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "decide", Decision: d})
		if !model.IsCode(err, model.ErrValidationError) {
			t.Errorf("decision %q error = %v, want VALIDATION_ERROR", d, err)
		}
	}
}

func TestEngine_ExecuteAction_validationRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s := branchSchema()
	s.WorkflowID, s.Name = "ruled", "ruled"
	s.Steps[0].Config.ValidationRules = []model.ValidationRule{
		{Field: "notes", Type: model.RuleMinLength, Value: "10", ErrorMessage: "explain in at least 10 characters"},
		{Field: "ticket", Type: model.RuleRequired},
	}
	env.publish(s)
	if _, err := env.engine.StartWorkflow(ctx, "task-1", "ruled", nil, "alice"); err != nil {
		t.Fatal(err)
	}

	_, err := env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "complete", Notes: "short"})
	env2, ok := err.(*model.ErrorEnvelope)
	if !ok || env2.Code != model.ErrValidationError {
		t.Fatalf("ExecuteAction() error = %v, want VALIDATION_ERROR", err)
	}
	if len(env2.Details) != 2 {
		t.Errorf("details = %+v, want 2", env2.Details)
	}

	_, err = env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{
		ActionID:       "complete",
		Notes:          "long enough explanation",
		AdditionalData: model.Context{"ticket": model.String("JIRA-1")},
	})
	if err != nil {
		t.Fatalf("valid ExecuteAction() error = %v", err)
	}
}

func TestEngine_ExecuteAction_conditionsPickTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s := model.WorkflowSchema{
		WorkflowID:    "cond",
		Name:          "cond",
		InitialStepID: "check",
		Steps: []model.StepDefinition{
			{StepID: "check", Name: "Check", Type: model.StepAutoCheck, Actions: []model.ActionDefinition{
				{ActionID: "complete", Name: "Complete", Type: model.ActionComplete, IsEnabled: true},
			}},
			{StepID: "high", Name: "High", Type: model.StepTerminal},
			{StepID: "low", Name: "Low", Type: model.StepTerminal},
		},
		Transitions: []model.Transition{
			{TransitionID: "t1", FromStepID: "check", ToStepID: "high", TriggerAction: "complete", Conditions: []model.Condition{
				{Field: "score", Operator: model.OpGreaterThan, Value: model.Number(5)},
			}},
			{TransitionID: "t2", FromStepID: "check", ToStepID: "low", TriggerAction: "complete"},
		},
	}
	env.publish(s)

	cases := map[string]struct {
		score float64
		want  string
	}{
		"high-task": {score: 9, want: "high"},
		"low-task":  {score: 2, want: "low"},
	}
	for task, tc := range cases {
		if _, err := env.engine.StartWorkflow(ctx, task, "cond", model.Context{"score": model.Number(tc.score)}, "sys"); err != nil {
			t.Fatal(err)
		}
		res, err := env.engine.ExecuteAction(ctx, task, model.ActionRequest{ActionID: "complete", PerformedBy: "sys"})
		if err != nil {
			t.Fatalf("%s: ExecuteAction() error = %v", task, err)
		}
		if res.NextStepID != tc.want {
			t.Errorf("%s: next = %s, want %s", task, res.NextStepID, tc.want)
		}
	}

	trail, _ := env.engine.GetAuditTrail(ctx, "high-task")
	if trail[1].ConditionsEvaluated == "" {
		t.Error("ConditionsEvaluated should explain the matched conditions")
	}
}

func TestEngine_ExecuteAction_noMatchingTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s := branchSchema()
	s.WorkflowID, s.Name = "guarded", "guarded"
	s.Transitions[0].Conditions = []model.Condition{
		{Field: "approved", Operator: model.OpEquals, Value: model.Bool(true)},
	}
	env.publish(s)
	if _, err := env.engine.StartWorkflow(ctx, "task-1", "guarded", nil, "alice"); err != nil {
		t.Fatal(err)
	}

	_, err := env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "complete"})
	if !model.IsCode(err, model.ErrInvalidTransition) {
		t.Fatalf("ExecuteAction() error = %v, want INVALID_TRANSITION", err)
	}
	if n := env.trailLen(t, "task-1"); n != 1 {
		t.Errorf("trail length = %d, want 1", n)
	}

	res, err := env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{
		ActionID:       "complete",
		AdditionalData: model.Context{"approved": model.String("TRUE")},
	})
	if err != nil {
		t.Fatalf("ExecuteAction() with approval error = %v", err)
	}
	if res.NextStepID != "B" {
		t.Errorf("next = %s, want B", res.NextStepID)
	}
}

func TestEngine_ExecuteAction_unknownTask(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.ExecuteAction(context.Background(), "ghost", model.ActionRequest{ActionID: "complete"})
	if !model.IsCode(err, model.ErrWorkflowNotFound) {
		t.Fatalf("ExecuteAction() error = %v, want WORKFLOW_NOT_FOUND", err)
	}
}

// --- GetWorkflowState ---

func TestEngine_GetWorkflowState_isPure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.engine.StartWorkflow(ctx, "task-1", "branch", nil, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "complete", Notes: "n"}); err != nil {
		t.Fatal(err)
	}

	first, err := env.engine.GetWorkflowState(ctx, "task-1")
	if err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(time.Hour)
	second, err := env.engine.GetWorkflowState(ctx, "task-1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("GetWorkflowState() differs between calls:\n%+v\n%+v", first, second)
	}
}

func TestEngine_GetWorkflowState_projection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.engine.StartWorkflow(ctx, "task-1", "branch", nil, "alice"); err != nil {
		t.Fatal(err)
	}

	state, err := env.engine.GetWorkflowState(ctx, "task-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(state.AvailableActions) != 1 || state.AvailableActions[0].Color != ColorEmerald {
		t.Errorf("actions at A = %+v", state.AvailableActions)
	}
	if state.Progress.TotalSteps != 4 || state.Progress.Percent != 0 {
		t.Errorf("progress = %+v", state.Progress)
	}

	if _, err := env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "complete"}); err != nil {
		t.Fatal(err)
	}
	state, _ = env.engine.GetWorkflowState(ctx, "task-1")

	decide := state.AvailableActions[0]
	if len(decide.Options) != 2 || decide.Options[0].Color != ColorGreen || decide.Options[1].Color != ColorRed {
		t.Errorf("decide options = %+v", decide.Options)
	}
	if len(state.PossibleNextSteps) != 2 {
		t.Fatalf("next steps = %+v", state.PossibleNextSteps)
	}
	if state.PossibleNextSteps[0].Label != "Yes" || state.PossibleNextSteps[1].Label != "No" {
		t.Errorf("labels = %s, %s", state.PossibleNextSteps[0].Label, state.PossibleNextSteps[1].Label)
	}
	if !state.PossibleNextSteps[0].IsTerminal {
		t.Error("C should be previewed as terminal")
	}
	if state.Progress.CompletedSteps != 1 || state.Progress.Percent != 25 {
		t.Errorf("progress = %+v, want 1/4 25%%", state.Progress)
	}
	if len(state.CompletedSteps) != 1 || state.CompletedSteps[0].StepName != "Start" {
		t.Errorf("completed steps = %+v", state.CompletedSteps)
	}
}

func TestEngine_completedStepsRecomputeStably(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.engine.StartWorkflow(ctx, "task-1", "branch", nil, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "complete"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "decide", Decision: "Yes"}); err != nil {
		t.Fatal(err)
	}

	trail, _ := env.engine.GetAuditTrail(ctx, "task-1")
	schema := branchSchema()
	a := completedSteps(schema, trail)
	b := completedSteps(schema, trail)
	if !reflect.DeepEqual(a, b) {
		t.Error("completedSteps is not stable")
	}
	if len(a) != 2 || a[0].StepID != "A" || a[1].StepID != "B" {
		t.Errorf("completedSteps = %+v", a)
	}
}

func TestEngine_GetWorkflowState_notFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.GetWorkflowState(context.Background(), "ghost")
	if !model.IsCode(err, model.ErrWorkflowNotFound) {
		t.Fatalf("GetWorkflowState() error = %v, want WORKFLOW_NOT_FOUND", err)
	}
}

// --- Lifecycle ---

func TestEngine_Suspend_Resume_Cancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.engine.StartWorkflow(ctx, "task-1", "branch", nil, "alice"); err != nil {
		t.Fatal(err)
	}

	if _, err := env.engine.Resume(ctx, "task-1", "alice"); !model.IsCode(err, model.ErrInvalidState) {
		t.Fatalf("Resume() on active error = %v, want INVALID_STATE", err)
	}

	state, err := env.engine.Suspend(ctx, "task-1", "waiting on vendor", "alice")
	if err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}
	if state.Status != model.StatusSuspended || len(state.AvailableActions) != 0 {
		t.Errorf("suspended state = %+v", state)
	}

	_, err = env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "complete"})
	if !model.IsCode(err, model.ErrWorkflowNotActive) {
		t.Errorf("ExecuteAction() while suspended error = %v", err)
	}

	if _, err := env.engine.Resume(ctx, "task-1", "alice"); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	state, err = env.engine.Cancel(ctx, "task-1", "duplicate", "alice")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if state.Status != model.StatusCancelled {
		t.Errorf("status = %s, want Cancelled", state.Status)
	}
}

// --- Timeouts ---

func TestEngine_ProcessTimeouts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s := branchSchema()
	s.WorkflowID, s.Name = "timed", "timed"
	s.Steps[0].Config.TimeoutMinutes = 30
	env.publish(s)

	if _, err := env.engine.StartWorkflow(ctx, "timed-task", "timed", nil, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine.StartWorkflow(ctx, "plain-task", "branch", nil, "alice"); err != nil {
		t.Fatal(err)
	}

	env.clock.Advance(10 * time.Minute)
	n, err := env.engine.ProcessTimeouts(ctx)
	if err != nil || n != 0 {
		t.Fatalf("ProcessTimeouts() early = %d, %v", n, err)
	}

	env.clock.Advance(time.Hour)
	n, err = env.engine.ProcessTimeouts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("ProcessTimeouts() suspended %d, want 1", n)
	}

	timed, _ := env.engine.GetWorkflowState(ctx, "timed-task")
	if timed.Status != model.StatusSuspended {
		t.Errorf("timed status = %s, want Suspended", timed.Status)
	}
	plain, _ := env.engine.GetWorkflowState(ctx, "plain-task")
	if plain.Status != model.StatusActive {
		t.Errorf("plain status = %s, want Active", plain.Status)
	}
}

func TestEngine_ProcessTimeouts_reachesPastAFullPageOfUntimed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s := branchSchema()
	s.WorkflowID, s.Name = "timed", "timed"
	s.Steps[0].Config.TimeoutMinutes = 30
	env.publish(s)

	for i := range timeoutBatchSize + 1 {
		if _, err := env.engine.StartWorkflow(ctx, fmt.Sprintf("plain-%d", i), "branch", nil, "alice"); err != nil {
			t.Fatal(err)
		}
	}
	env.clock.Advance(time.Minute)
	if _, err := env.engine.StartWorkflow(ctx, "timed-task", "timed", nil, "alice"); err != nil {
		t.Fatal(err)
	}

	env.clock.Advance(24 * time.Hour)
	n, err := env.engine.ProcessTimeouts(ctx)
	if err != nil {
		t.Fatalf("ProcessTimeouts() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("ProcessTimeouts() suspended %d, want 1", n)
	}
	timed, _ := env.engine.GetWorkflowState(ctx, "timed-task")
	if timed.Status != model.StatusSuspended {
		t.Errorf("timed status = %s, want Suspended", timed.Status)
	}
}

// --- Idempotency ---

func TestEngine_ExecuteAction_idempotent(t *testing.T) {
	env := newTestEnv(t, WithIdempotencyStore(NewMemoryIdempotencyStore(), time.Hour))
	ctx := context.Background()
	if _, err := env.engine.StartWorkflow(ctx, "task-1", "branch", nil, "alice"); err != nil {
		t.Fatal(err)
	}

	req := model.ActionRequest{ActionID: "complete", PerformedBy: "alice", IdempotencyKey: "k1"}
	first, err := env.engine.ExecuteAction(ctx, "task-1", req)
	if err != nil {
		t.Fatal(err)
	}
	again, err := env.engine.ExecuteAction(ctx, "task-1", req)
	if err != nil {
		t.Fatalf("replayed ExecuteAction() error = %v", err)
	}
	if again.NextStepID != first.NextStepID {
		t.Errorf("replay = %+v, want %+v", again, first)
	}
	if n := env.trailLen(t, "task-1"); n != 2 {
		t.Errorf("trail length = %d, want 2", n)
	}

	req.Notes = "different"
	_, err = env.engine.ExecuteAction(ctx, "task-1", req)
	if !model.IsCode(err, model.ErrConflict) {
		t.Errorf("reused key error = %v, want CONFLICT", err)
	}
}

func TestEngine_ExecuteAction_idempotencyBackendDownIsExecutionError(t *testing.T) {
	mr, client := newTestRedis(t)
	env := newTestEnv(t, WithIdempotencyStore(NewRedisIdempotencyStore(client), time.Hour))
	ctx := context.Background()
	if _, err := env.engine.StartWorkflow(ctx, "task-1", "branch", nil, "alice"); err != nil {
		t.Fatal(err)
	}

	mr.Close()
	_, err := env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "complete", PerformedBy: "alice", IdempotencyKey: "k1"})
	if !model.IsCode(err, model.ErrExecutionError) {
		t.Fatalf("ExecuteAction() error = %v, want EXECUTION_ERROR", err)
	}
	if strings.Contains(err.Error(), "idem:") {
		t.Errorf("error leaks backend detail: %v", err)
	}
	if n := env.trailLen(t, "task-1"); n != 1 {
		t.Errorf("trail length = %d, want 1", n)
	}
}

// --- Recorder ---

type recordingRecorder struct {
	mu       sync.Mutex
	started  []string
	outcomes []string
	finished []model.ExecutionStatus
	timeouts int
}

func (r *recordingRecorder) WorkflowStarted(w string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, w)
}

func (r *recordingRecorder) ActionExecuted(_, _, _, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingRecorder) WorkflowFinished(_ string, s model.ExecutionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, s)
}

func (r *recordingRecorder) StepTimedOut(_, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts++
}

func TestEngine_recordsMetrics(t *testing.T) {
	rec := &recordingRecorder{}
	env := newTestEnv(t, WithRecorder(rec))
	ctx := context.Background()

	if _, err := env.engine.StartWorkflow(ctx, "task-1", "branch", nil, "alice"); err != nil {
		t.Fatal(err)
	}
	_, _ = env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "bogus"})
	_, _ = env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "complete"})
	_, _ = env.engine.ExecuteAction(ctx, "task-1", model.ActionRequest{ActionID: "decide", Decision: "Yes"})

	if !reflect.DeepEqual(rec.started, []string{"branch"}) {
		t.Errorf("started = %v", rec.started)
	}
	want := []string{OutcomeRejected, OutcomeSuccess, OutcomeSuccess}
	if !reflect.DeepEqual(rec.outcomes, want) {
		t.Errorf("outcomes = %v, want %v", rec.outcomes, want)
	}
	if len(rec.finished) != 1 || rec.finished[0] != model.StatusCompleted {
		t.Errorf("finished = %v", rec.finished)
	}
}
