package workflow

import (
	"strings"

	"github.com/pitabwire/bugtriage/internal/rules"
	"github.com/pitabwire/bugtriage/model"
)

// Trigger actions with special matching rules.
const (
	TriggerComplete  = "complete"
	TriggerDecideYes = "decide_yes"
	TriggerDecideNo  = "decide_no"

	DecisionYes = "Yes"
	DecisionNo  = "No"
)

// triggerMatches reports whether a transition trigger applies to the
// requested action. decide_yes and decide_no match a Decide action carrying
// the corresponding decision; everything else matches by equality.
func triggerMatches(trigger string, action *model.ActionDefinition, req model.ActionRequest) bool {
	decide := req.ActionID == "decide" || (action != nil && action.Type == model.ActionDecide)

	switch trigger {
	case TriggerComplete:
		return req.ActionID == TriggerComplete
	case TriggerDecideYes:
		return decide && req.Decision == DecisionYes
	case TriggerDecideNo:
		return decide && req.Decision == DecisionNo
	}
	return trigger == req.ActionID
}

// resolveNext picks the first transition leaving step, in declaration
// order, whose trigger matches and whose conditions hold against ctx. The
// returned string explains the conditions evaluated for the chosen (or
// last considered) transition.
func resolveNext(
	ev *rules.Evaluator,
	schema *model.WorkflowSchema,
	step *model.StepDefinition,
	req model.ActionRequest,
	ctx model.Context,
) (*model.Transition, string) {
	action, _ := step.Action(req.ActionID)

	var explain string
	for _, tr := range schema.TransitionsFrom(step.StepID) {
		if !triggerMatches(tr.TriggerAction, action, req) {
			continue
		}
		if len(tr.Conditions) > 0 {
			explain = ev.Explain(tr.Conditions, ctx)
		}
		if ev.EvaluateConditions(tr.Conditions, ctx) {
			return &tr, explain
		}
	}
	return nil, explain
}

// triggerLabel turns a trigger action into a human label.
func triggerLabel(trigger string) string {
	switch trigger {
	case TriggerDecideYes:
		return DecisionYes
	case TriggerDecideNo:
		return DecisionNo
	}
	return trigger
}

// contextKey returns the synthetic context key for a per-step value.
func contextKey(stepID, name string) string {
	return "step_" + stepID + "_" + strings.ToLower(name)
}
