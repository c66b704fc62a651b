package definition

import (
	"testing"

	"github.com/pitabwire/bugtriage/model"
)

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

func hasCode(errs []VError, path, code string) bool {
	for _, e := range errs {
		if e.Path == path && e.Code == code {
			return true
		}
	}
	return false
}

func TestValidate_valid(t *testing.T) {
	r := Validate(branchSchema())
	if !r.Valid() {
		t.Fatalf("Validate() errors = %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Errorf("Validate() warnings = %v", r.Warnings)
	}
}

func TestValidate_requiredFields(t *testing.T) {
	r := Validate(model.WorkflowSchema{})
	for _, path := range []string{"workflow_id", "name", "initial_step_id", "steps"} {
		if !hasCode(r.Errors, path, "REQUIRED") {
			t.Errorf("expected REQUIRED error at %s, got %v", path, r.Errors)
		}
	}
}

func TestValidate_initialStepMustExist(t *testing.T) {
	s := branchSchema()
	s.InitialStepID = "Z"
	r := Validate(s)
	if !hasCode(r.Errors, "initial_step_id", "REF_NOT_FOUND") {
		t.Errorf("errors = %v", r.Errors)
	}
}

func TestValidate_transitionRefsMustExist(t *testing.T) {
	s := branchSchema()
	s.Transitions = append(s.Transitions, model.Transition{
		TransitionID: "t4", FromStepID: "Q", ToStepID: "R", TriggerAction: "complete",
	})
	r := Validate(s)
	if !hasCode(r.Errors, "transitions[3].from_step_id", "REF_NOT_FOUND") {
		t.Errorf("missing from_step_id error: %v", r.Errors)
	}
	if !hasCode(r.Errors, "transitions[3].to_step_id", "REF_NOT_FOUND") {
		t.Errorf("missing to_step_id error: %v", r.Errors)
	}
}

func TestValidate_blankTrigger(t *testing.T) {
	s := branchSchema()
	s.Transitions[0].TriggerAction = "  "
	r := Validate(s)
	if !hasCode(r.Errors, "transitions[0].trigger_action", "REQUIRED") {
		t.Errorf("errors = %v", r.Errors)
	}
}

func TestValidate_duplicates(t *testing.T) {
	s := branchSchema()
	s.Steps = append(s.Steps, model.StepDefinition{StepID: "A", Name: "Again", Type: model.StepManual})
	s.Steps[1].Actions = append(s.Steps[1].Actions, model.ActionDefinition{
		ActionID: "decide", Name: "Dup", Type: model.ActionDecide, IsEnabled: true,
	})
	s.Transitions[2].TransitionID = "t1"

	r := Validate(s)
	if !hasCode(r.Errors, "steps[4].step_id", "DUPLICATE") {
		t.Errorf("missing duplicate step error: %v", r.Errors)
	}
	if !hasCode(r.Errors, "steps[1].actions[1].action_id", "DUPLICATE") {
		t.Errorf("missing duplicate action error: %v", r.Errors)
	}
	if !hasCode(r.Errors, "transitions[2].transition_id", "DUPLICATE") {
		t.Errorf("missing duplicate transition error: %v", r.Errors)
	}
}

func TestValidate_noTerminalIsWarning(t *testing.T) {
	s := branchSchema()
	s.Steps[2].Type, s.Steps[2].IsTerminal = model.StepManual, false
	s.Steps[3].Type, s.Steps[3].IsTerminal = model.StepManual, false

	r := Validate(s)
	if !r.Valid() {
		t.Fatalf("missing terminal step should not be an error: %v", r.Errors)
	}
	if !hasCode(r.Warnings, "steps", "NO_TERMINAL") {
		t.Errorf("warnings = %v", r.Warnings)
	}
}

func TestValidate_enumsAndConditions(t *testing.T) {
	s := branchSchema()
	s.Steps[0].Type = "Sideways"
	s.Steps[0].Actions[0].Type = "Teleport"
	s.Transitions[0].Conditions = []model.Condition{
		{Field: "", Operator: model.OpEquals},
		{Field: "x", Operator: "Resembles"},
	}

	r := Validate(s)
	checks := []struct{ path, code string }{
		{"steps[0].type", "INVALID_ENUM"},
		{"steps[0].actions[0].type", "INVALID_ENUM"},
		{"transitions[0].conditions[0].field", "REQUIRED"},
		{"transitions[0].conditions[1].operator", "INVALID_ENUM"},
	}
	for _, c := range checks {
		if !hasCode(r.Errors, c.path, c.code) {
			t.Errorf("expected %s at %s, got %v", c.code, c.path, r.Errors)
		}
	}
}

func TestReport_FieldErrors(t *testing.T) {
	r := Report{Errors: []VError{{Path: "name", Code: "REQUIRED", Message: "name is required"}}}
	fe := r.FieldErrors()
	if len(fe) != 1 || fe[0].Field != "name" || fe[0].Code != "REQUIRED" {
		t.Errorf("FieldErrors() = %+v", fe)
	}
}
