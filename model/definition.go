package model

import (
	"strings"
	"time"
)

// StepType classifies a step by how it is driven.
type StepType string

const (
	StepAction    StepType = "Action"
	StepDecision  StepType = "Decision"
	StepAutoCheck StepType = "AutoCheck"
	StepManual    StepType = "Manual"
	StepTerminal  StepType = "Terminal"
)

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	switch t {
	case StepAction, StepDecision, StepAutoCheck, StepManual, StepTerminal:
		return true
	}
	return false
}

// ActionType classifies an action exposed by a step.
type ActionType string

const (
	ActionComplete ActionType = "Complete"
	ActionDecide   ActionType = "Decide"
	ActionSkip     ActionType = "Skip"
	ActionRestart  ActionType = "Restart"
	ActionCustom   ActionType = "Custom"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionComplete, ActionDecide, ActionSkip, ActionRestart, ActionCustom:
		return true
	}
	return false
}

// Logic joins a condition to its predecessor.
type Logic string

const (
	LogicAnd Logic = "And"
	LogicOr  Logic = "Or"
)

// IsOr reports whether l starts a new condition chain. Anything other than
// Or, including the empty value, joins by And.
func (l Logic) IsOr() bool {
	return strings.EqualFold(string(l), string(LogicOr))
}

// Operator names a comparison applied by a condition.
type Operator string

const (
	OpEquals             Operator = "Equals"
	OpNotEquals          Operator = "NotEquals"
	OpGreaterThan        Operator = "GreaterThan"
	OpLessThan           Operator = "LessThan"
	OpGreaterThanOrEqual Operator = "GreaterThanOrEqual"
	OpLessThanOrEqual    Operator = "LessThanOrEqual"
	OpContains           Operator = "Contains"
	OpNotContains        Operator = "NotContains"
	OpStartsWith         Operator = "StartsWith"
	OpEndsWith           Operator = "EndsWith"
	OpIn                 Operator = "In"
	OpNotIn              Operator = "NotIn"
	OpIsNull             Operator = "IsNull"
	OpIsNotNull          Operator = "IsNotNull"
)

var operatorAliases = map[string]Operator{
	"==": OpEquals,
	"!=": OpNotEquals,
	">":  OpGreaterThan,
	"<":  OpLessThan,
	">=": OpGreaterThanOrEqual,
	"<=": OpLessThanOrEqual,
}

var knownOperators = []Operator{
	OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpGreaterThanOrEqual,
	OpLessThanOrEqual, OpContains, OpNotContains, OpStartsWith, OpEndsWith,
	OpIn, OpNotIn, OpIsNull, OpIsNotNull,
}

// Normalize maps symbolic aliases and case variants onto the canonical
// operator name. Unknown operators are returned unchanged with ok=false.
func (o Operator) Normalize() (Operator, bool) {
	s := strings.TrimSpace(string(o))
	if alias, ok := operatorAliases[s]; ok {
		return alias, true
	}
	for _, known := range knownOperators {
		if strings.EqualFold(s, string(known)) {
			return known, true
		}
	}
	return o, false
}

// RuleType names a field validation rule.
type RuleType string

const (
	RuleRequired  RuleType = "Required"
	RuleMinLength RuleType = "MinLength"
	RuleMaxLength RuleType = "MaxLength"
	RulePattern   RuleType = "Pattern"
	RuleRange     RuleType = "Range"
	RuleCustom    RuleType = "Custom"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleRequired, RuleMinLength, RuleMaxLength, RulePattern, RuleRange, RuleCustom:
		return true
	}
	return false
}

// WorkflowDefinition is a stored, versioned workflow schema. Rows are never
// mutated in place once published; a new version supersedes the old one.
type WorkflowDefinition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Version     int            `json:"version"`
	Description string         `json:"description,omitempty"`
	IsActive    bool           `json:"is_active"`
	Checksum    string         `json:"checksum,omitempty"`
	Schema      WorkflowSchema `json:"schema"`
	CreatedBy   string         `json:"created_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// WorkflowSchema is the declarative process document exchanged with
// authoring tools.
type WorkflowSchema struct {
	WorkflowID    string           `yaml:"workflow_id" json:"workflow_id"`
	Name          string           `yaml:"name" json:"name"`
	Description   string           `yaml:"description,omitempty" json:"description,omitempty"`
	InitialStepID string           `yaml:"initial_step_id" json:"initial_step_id"`
	Steps         []StepDefinition `yaml:"steps" json:"steps"`
	Transitions   []Transition     `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	Metadata      Context          `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Step returns the step with the given ID.
func (s *WorkflowSchema) Step(id string) (*StepDefinition, bool) {
	for i := range s.Steps {
		if s.Steps[i].StepID == id {
			return &s.Steps[i], true
		}
	}
	return nil, false
}

// TransitionsFrom returns transitions leaving stepID in declaration order.
func (s *WorkflowSchema) TransitionsFrom(stepID string) []Transition {
	var out []Transition
	for _, t := range s.Transitions {
		if t.FromStepID == stepID {
			out = append(out, t)
		}
	}
	return out
}

// StepDefinition is one node of a workflow schema.
type StepDefinition struct {
	StepID      string             `yaml:"step_id" json:"step_id"`
	Name        string             `yaml:"name" json:"name"`
	Description string             `yaml:"description,omitempty" json:"description,omitempty"`
	Type        StepType           `yaml:"type" json:"type"`
	IsTerminal  bool               `yaml:"is_terminal,omitempty" json:"is_terminal,omitempty"`
	Config      StepConfig         `yaml:"config,omitempty" json:"config"`
	Actions     []ActionDefinition `yaml:"actions,omitempty" json:"actions,omitempty"`
	Metadata    Context            `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Terminal reports whether reaching this step ends the workflow.
func (s *StepDefinition) Terminal() bool {
	return s.IsTerminal || s.Type == StepTerminal
}

// Action returns the action with the given ID.
func (s *StepDefinition) Action(id string) (*ActionDefinition, bool) {
	for i := range s.Actions {
		if s.Actions[i].ActionID == id {
			return &s.Actions[i], true
		}
	}
	return nil, false
}

// EnabledActions returns the actions that can currently be executed.
func (s *StepDefinition) EnabledActions() []ActionDefinition {
	var out []ActionDefinition
	for _, a := range s.Actions {
		if a.IsEnabled {
			out = append(out, a)
		}
	}
	return out
}

// StepConfig holds per-step execution settings.
type StepConfig struct {
	RequiresNote    bool             `yaml:"requires_note,omitempty" json:"requires_note"`
	AutoExecute     bool             `yaml:"auto_execute,omitempty" json:"auto_execute"`
	TimeoutMinutes  int              `yaml:"timeout_minutes,omitempty" json:"timeout_minutes,omitempty"`
	ValidationRules []ValidationRule `yaml:"validation_rules,omitempty" json:"validation_rules,omitempty"`
}

// ActionDefinition is an action a step exposes to callers.
type ActionDefinition struct {
	ActionID  string     `yaml:"action_id" json:"action_id"`
	Name      string     `yaml:"name" json:"name"`
	Label     string     `yaml:"label,omitempty" json:"label,omitempty"`
	Type      ActionType `yaml:"type" json:"type"`
	IsEnabled bool       `yaml:"is_enabled" json:"is_enabled"`
}

// Transition is a directed edge between two steps.
type Transition struct {
	TransitionID  string      `yaml:"transition_id" json:"transition_id"`
	FromStepID    string      `yaml:"from_step_id" json:"from_step_id"`
	ToStepID      string      `yaml:"to_step_id" json:"to_step_id"`
	TriggerAction string      `yaml:"trigger_action" json:"trigger_action"`
	Conditions    []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Metadata      Context     `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Condition is a boolean test against a context field.
type Condition struct {
	Field    string   `yaml:"field" json:"field"`
	Operator Operator `yaml:"operator" json:"operator"`
	Value    Value    `yaml:"value,omitempty" json:"value"`
	Logic    Logic    `yaml:"logic,omitempty" json:"logic,omitempty"`
}

// ValidationRule constrains one input field of an action request.
type ValidationRule struct {
	Field        string   `yaml:"field" json:"field"`
	Type         RuleType `yaml:"type" json:"type"`
	Value        string   `yaml:"value,omitempty" json:"value,omitempty"`
	ErrorMessage string   `yaml:"error_message,omitempty" json:"error_message,omitempty"`
}
