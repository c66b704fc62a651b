package workflow

import (
	"math"

	"github.com/pitabwire/bugtriage/model"
)

// UI colour hints attached to available actions.
const (
	ColorGreen   = "green"
	ColorRed     = "red"
	ColorOrange  = "orange"
	ColorEmerald = "emerald"
	ColorBlue    = "blue"
)

// projectState builds the read model of exec. It reads nothing but its
// arguments, so equal inputs always give an equal state.
func projectState(def model.WorkflowDefinition, exec model.WorkflowExecution, trail []model.AuditEntry) model.WorkflowState {
	schema := def.Schema
	state := model.WorkflowState{
		ExecutionID:       exec.ID,
		TaskID:            exec.TaskID,
		WorkflowName:      def.Name,
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		Status:            exec.Status,
		AvailableActions:  []model.AvailableAction{},
		ValidationRules:   []model.ValidationRuleView{},
		PossibleNextSteps: []model.NextStepPreview{},
		CompletedSteps:    completedSteps(schema, trail),
		Context:           exec.Context.Clone(),
		StartedAt:         exec.StartedAt,
		StartedBy:         exec.StartedBy,
		LastUpdated:       exec.LastUpdated,
		CompletedAt:       exec.CompletedAt,
		ErrorMessage:      exec.ErrorMessage,
	}
	state.Progress = progress(schema, exec.Status, state.CompletedSteps)

	step, ok := schema.Step(exec.CurrentStepID)
	if !ok {
		return state
	}
	state.CurrentStep = &model.StepView{
		StepID:       step.StepID,
		Name:         step.Name,
		Description:  step.Description,
		Type:         step.Type,
		IsTerminal:   step.Terminal(),
		RequiresNote: step.Config.RequiresNote,
	}

	if exec.Status != model.StatusActive {
		return state
	}

	for _, a := range step.EnabledActions() {
		state.AvailableActions = append(state.AvailableActions, availableAction(&schema, step, a))
	}
	for _, r := range step.Config.ValidationRules {
		state.ValidationRules = append(state.ValidationRules, model.ValidationRuleView{
			Field:        r.Field,
			Type:         r.Type,
			Value:        r.Value,
			ErrorMessage: r.ErrorMessage,
			IsValid:      true,
		})
	}
	for _, tr := range schema.TransitionsFrom(step.StepID) {
		preview := model.NextStepPreview{
			TransitionID:  tr.TransitionID,
			StepID:        tr.ToStepID,
			StepName:      tr.ToStepID,
			TriggerAction: tr.TriggerAction,
			Label:         triggerLabel(tr.TriggerAction),
			Conditional:   len(tr.Conditions) > 0,
		}
		if to, ok := schema.Step(tr.ToStepID); ok {
			preview.StepName = to.Name
			preview.IsTerminal = to.Terminal()
		}
		state.PossibleNextSteps = append(state.PossibleNextSteps, preview)
	}
	return state
}

func availableAction(schema *model.WorkflowSchema, step *model.StepDefinition, a model.ActionDefinition) model.AvailableAction {
	out := model.AvailableAction{
		ActionID: a.ActionID,
		Name:     a.Name,
		Label:    a.Label,
		Type:     a.Type,
		Color:    ColorBlue,
	}
	if out.Label == "" {
		out.Label = a.Name
	}

	switch a.Type {
	case model.ActionDecide:
		out.Options = []model.DecisionOption{
			{Value: DecisionYes, Label: DecisionYes, Color: ColorGreen},
			{Value: DecisionNo, Label: DecisionNo, Color: ColorRed},
		}
	case model.ActionComplete:
		out.Color = ColorEmerald
		if completesWorkflow(schema, step) {
			out.Color = ColorOrange
		}
	}
	return out
}

// completesWorkflow reports whether completing step ends the workflow.
func completesWorkflow(schema *model.WorkflowSchema, step *model.StepDefinition) bool {
	if step.Terminal() {
		return true
	}
	transitions := schema.TransitionsFrom(step.StepID)
	if len(transitions) == 0 {
		return true
	}
	for _, tr := range transitions {
		if tr.TriggerAction != TriggerComplete {
			continue
		}
		to, ok := schema.Step(tr.ToStepID)
		if !ok || !to.Terminal() {
			return false
		}
	}
	return true
}

// completedSteps lists successful actions in trail order. Lifecycle entries
// carry other results and are skipped.
func completedSteps(schema model.WorkflowSchema, trail []model.AuditEntry) []model.CompletedStep {
	out := []model.CompletedStep{}
	for _, e := range trail {
		if e.Result != model.ResultSuccess {
			continue
		}
		name := e.StepName
		if name == "" {
			if s, ok := schema.Step(e.StepID); ok {
				name = s.Name
			}
		}
		out = append(out, model.CompletedStep{
			StepID:      e.StepID,
			StepName:    name,
			Action:      e.Action,
			Decision:    e.Decision,
			Notes:       e.Notes,
			NextStepID:  e.NextStepID,
			PerformedBy: e.PerformedBy,
			CompletedAt: e.Timestamp,
		})
	}
	return out
}

func progress(schema model.WorkflowSchema, status model.ExecutionStatus, done []model.CompletedStep) model.Progress {
	p := model.Progress{TotalSteps: len(schema.Steps)}

	seen := make(map[string]bool, len(done))
	for _, c := range done {
		if !seen[c.StepID] {
			seen[c.StepID] = true
			p.CompletedSteps++
		}
	}

	switch {
	case status == model.StatusCompleted:
		p.Percent = 100
	case p.TotalSteps > 0:
		p.Percent = math.Round(float64(p.CompletedSteps)/float64(p.TotalSteps)*1000) / 10
	}
	return p
}
