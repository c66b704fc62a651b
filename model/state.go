package model

import "time"

// WorkflowState is the read model of an execution. It is recomputed from
// the execution, its pinned definition and its audit trail on every query.
type WorkflowState struct {
	ExecutionID       string               `json:"execution_id"`
	TaskID            string               `json:"task_id"`
	WorkflowName      string               `json:"workflow_name"`
	DefinitionID      string               `json:"definition_id"`
	DefinitionVersion int                  `json:"definition_version"`
	Status            ExecutionStatus      `json:"status"`
	CurrentStep       *StepView            `json:"current_step,omitempty"`
	AvailableActions  []AvailableAction    `json:"available_actions"`
	ValidationRules   []ValidationRuleView `json:"validation_rules"`
	PossibleNextSteps []NextStepPreview    `json:"possible_next_steps"`
	CompletedSteps    []CompletedStep      `json:"completed_steps"`
	Progress          Progress             `json:"progress"`
	Context           Context              `json:"context"`
	StartedAt         time.Time            `json:"started_at"`
	StartedBy         string               `json:"started_by"`
	LastUpdated       time.Time            `json:"last_updated"`
	CompletedAt       *time.Time           `json:"completed_at,omitempty"`
	ErrorMessage      string               `json:"error_message,omitempty"`
}

// StepView describes the current step.
type StepView struct {
	StepID       string   `json:"step_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Type         StepType `json:"type"`
	IsTerminal   bool     `json:"is_terminal"`
	RequiresNote bool     `json:"requires_note"`
}

// AvailableAction is an action the caller may execute now, annotated with
// presentational hints.
type AvailableAction struct {
	ActionID string           `json:"action_id"`
	Name     string           `json:"name"`
	Label    string           `json:"label"`
	Type     ActionType       `json:"type"`
	Color    string           `json:"color"`
	Options  []DecisionOption `json:"options,omitempty"`
}

// DecisionOption is one choice of a Decide action.
type DecisionOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Color string `json:"color"`
}

// ValidationRuleView projects a step validation rule for display.
type ValidationRuleView struct {
	Field        string   `json:"field"`
	Type         RuleType `json:"type"`
	Value        string   `json:"value,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	IsValid      bool     `json:"is_valid"`
}

// NextStepPreview describes one transition leaving the current step.
type NextStepPreview struct {
	TransitionID  string `json:"transition_id"`
	StepID        string `json:"step_id"`
	StepName      string `json:"step_name"`
	TriggerAction string `json:"trigger_action"`
	Label         string `json:"label"`
	Conditional   bool   `json:"conditional"`
	IsTerminal    bool   `json:"is_terminal"`
}

// CompletedStep is one successful action taken from the audit trail.
type CompletedStep struct {
	StepID      string    `json:"step_id"`
	StepName    string    `json:"step_name"`
	Action      string    `json:"action"`
	Decision    string    `json:"decision,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	NextStepID  string    `json:"next_step_id,omitempty"`
	PerformedBy string    `json:"performed_by"`
	CompletedAt time.Time `json:"completed_at"`
}

// Progress summarises how far an execution has travelled.
type Progress struct {
	CompletedSteps int     `json:"completed_steps"`
	TotalSteps     int     `json:"total_steps"`
	Percent        float64 `json:"percent"`
}

// ActionRequest asks the engine to apply one action to an execution.
type ActionRequest struct {
	ActionID       string  `json:"action_id"`
	PerformedBy    string  `json:"performed_by"`
	Decision       string  `json:"decision,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	AdditionalData Context `json:"additional_data,omitempty"`
	IdempotencyKey string  `json:"-"`
}

// ActionResult is the envelope returned by a successful action.
type ActionResult struct {
	Success           bool           `json:"success"`
	Message           string         `json:"message"`
	PreviousStepID    string         `json:"previous_step_id"`
	NextStepID        string         `json:"next_step_id,omitempty"`
	WorkflowCompleted bool           `json:"workflow_completed"`
	State             *WorkflowState `json:"state,omitempty"`
}
