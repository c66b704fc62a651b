package definition

import (
	"fmt"
	"strings"

	"github.com/pitabwire/bugtriage/model"
)

// VError describes a single validation problem in a workflow schema.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Report is the outcome of validating a schema. Only errors block
// activation.
type Report struct {
	Errors   []VError `json:"errors"`
	Warnings []VError `json:"warnings"`
}

// Valid reports whether the schema has no error-level problems.
func (r Report) Valid() bool {
	return len(r.Errors) == 0
}

// FieldErrors converts the errors into envelope details.
func (r Report) FieldErrors() []model.FieldError {
	out := make([]model.FieldError, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = model.FieldError{Field: e.Path, Code: e.Code, Message: e.Message}
	}
	return out
}

func (r *Report) errorf(path, code, format string, args ...any) {
	r.Errors = append(r.Errors, VError{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) warnf(path, code, format string, args ...any) {
	r.Warnings = append(r.Warnings, VError{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Validate checks a schema for structural integrity.
func Validate(s model.WorkflowSchema) Report {
	var r Report

	if strings.TrimSpace(s.WorkflowID) == "" {
		r.errorf("workflow_id", "REQUIRED", "workflow_id is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		r.errorf("name", "REQUIRED", "name is required")
	}
	if strings.TrimSpace(s.InitialStepID) == "" {
		r.errorf("initial_step_id", "REQUIRED", "initial_step_id is required")
	}
	if len(s.Steps) == 0 {
		r.errorf("steps", "REQUIRED", "at least one step is required")
	}

	stepIDs := make(map[string]bool, len(s.Steps))
	hasTerminal := false
	for i, step := range s.Steps {
		sp := fmt.Sprintf("steps[%d]", i)
		validateStep(&r, sp, step)

		if step.StepID != "" {
			if stepIDs[step.StepID] {
				r.errorf(sp+".step_id", "DUPLICATE", "duplicate step id %q", step.StepID)
			}
			stepIDs[step.StepID] = true
		}
		if step.Terminal() {
			hasTerminal = true
		}
	}

	if s.InitialStepID != "" && !stepIDs[s.InitialStepID] {
		r.errorf("initial_step_id", "REF_NOT_FOUND", "initial_step_id %q not found in steps", s.InitialStepID)
	}
	if len(s.Steps) > 0 && !hasTerminal {
		r.warnf("steps", "NO_TERMINAL", "no terminal step defined")
	}

	terminal := make(map[string]bool)
	for _, step := range s.Steps {
		if step.Terminal() {
			terminal[step.StepID] = true
		}
	}

	transitionIDs := make(map[string]bool, len(s.Transitions))
	for i, tr := range s.Transitions {
		tp := fmt.Sprintf("transitions[%d]", i)

		switch {
		case tr.TransitionID == "":
			r.errorf(tp+".transition_id", "REQUIRED", "transition_id is required")
		case transitionIDs[tr.TransitionID]:
			r.errorf(tp+".transition_id", "DUPLICATE", "duplicate transition id %q", tr.TransitionID)
		}
		transitionIDs[tr.TransitionID] = true

		if !stepIDs[tr.FromStepID] {
			r.errorf(tp+".from_step_id", "REF_NOT_FOUND", "step %q not found", tr.FromStepID)
		}
		if !stepIDs[tr.ToStepID] {
			r.errorf(tp+".to_step_id", "REF_NOT_FOUND", "step %q not found", tr.ToStepID)
		}
		if strings.TrimSpace(tr.TriggerAction) == "" {
			r.errorf(tp+".trigger_action", "REQUIRED", "trigger_action is required")
		}
		if terminal[tr.FromStepID] {
			r.warnf(tp+".from_step_id", "TERMINAL_SOURCE", "transition leaves terminal step %q and will never be taken", tr.FromStepID)
		}

		for j, c := range tr.Conditions {
			cp := fmt.Sprintf("%s.conditions[%d]", tp, j)
			if strings.TrimSpace(c.Field) == "" {
				r.errorf(cp+".field", "REQUIRED", "condition field is required")
			}
			if _, ok := c.Operator.Normalize(); !ok {
				r.errorf(cp+".operator", "INVALID_ENUM", "invalid operator %q", c.Operator)
			}
			if c.Logic != "" && c.Logic != model.LogicAnd && !c.Logic.IsOr() {
				r.errorf(cp+".logic", "INVALID_ENUM", "invalid logic %q", c.Logic)
			}
		}
	}

	return r
}

func validateStep(r *Report, sp string, step model.StepDefinition) {
	if strings.TrimSpace(step.StepID) == "" {
		r.errorf(sp+".step_id", "REQUIRED", "step id is required")
	}
	if step.Type == "" {
		r.errorf(sp+".type", "REQUIRED", "step type is required")
	} else if !step.Type.Valid() {
		r.errorf(sp+".type", "INVALID_ENUM", "invalid step type %q", step.Type)
	}
	if step.Config.TimeoutMinutes < 0 {
		r.errorf(sp+".config.timeout_minutes", "INVALID_VALUE", "timeout_minutes must not be negative")
	}

	actionIDs := make(map[string]bool, len(step.Actions))
	for i, a := range step.Actions {
		ap := fmt.Sprintf("%s.actions[%d]", sp, i)
		if strings.TrimSpace(a.ActionID) == "" {
			r.errorf(ap+".action_id", "REQUIRED", "action id is required")
		} else if actionIDs[a.ActionID] {
			r.errorf(ap+".action_id", "DUPLICATE", "duplicate action id %q in step %q", a.ActionID, step.StepID)
		}
		actionIDs[a.ActionID] = true
		if !a.Type.Valid() {
			r.errorf(ap+".type", "INVALID_ENUM", "invalid action type %q", a.Type)
		}
	}

	for i, rule := range step.Config.ValidationRules {
		rp := fmt.Sprintf("%s.config.validation_rules[%d]", sp, i)
		if strings.TrimSpace(rule.Field) == "" {
			r.errorf(rp+".field", "REQUIRED", "rule field is required")
		}
		if !rule.Type.Valid() {
			r.errorf(rp+".type", "INVALID_ENUM", "invalid rule type %q", rule.Type)
		}
	}

	if step.Type == model.StepAutoCheck && len(step.EnabledActions()) != 1 {
		r.warnf(sp+".actions", "AUTO_ACTIONS", "auto-check step %q should expose exactly one enabled action", step.StepID)
	}
}
