package model

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	StatusActive    ExecutionStatus = "Active"
	StatusCompleted ExecutionStatus = "Completed"
	StatusSuspended ExecutionStatus = "Suspended"
	StatusFailed    ExecutionStatus = "Failed"
	StatusCancelled ExecutionStatus = "Cancelled"
)

// Final reports whether no further transition is possible from s.
func (s ExecutionStatus) Final() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// WorkflowExecution is the persisted run of one workflow for one task. It
// is a snapshot that can always be re-derived from its audit trail.
type WorkflowExecution struct {
	ID            string          `json:"id"`
	TaskID        string          `json:"task_id"`
	DefinitionID  string          `json:"definition_id"`
	CurrentStepID string          `json:"current_step_id"`
	Status        ExecutionStatus `json:"status"`
	Context       Context         `json:"context"`
	StartedAt     time.Time       `json:"started_at"`
	StartedBy     string          `json:"started_by"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	LastUpdated   time.Time       `json:"last_updated"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Version       int             `json:"version"`
}

// AuditResult records the outcome of an audited operation.
type AuditResult string

const (
	ResultSuccess   AuditResult = "Success"
	ResultFailed    AuditResult = "Failed"
	ResultSuspended AuditResult = "Suspended"
	ResultActive    AuditResult = "Active"
	ResultCompleted AuditResult = "Completed"
	ResultCancelled AuditResult = "Cancelled"
)

// Synthetic audit actions written by lifecycle transitions.
const (
	AuditWorkflowStarted   = "workflow_started"
	AuditWorkflowCompleted = "workflow_completed"
	AuditWorkflowSuspended = "workflow_suspended"
	AuditWorkflowResumed   = "workflow_resumed"
	AuditWorkflowFailed    = "workflow_failed"
	AuditWorkflowCancelled = "workflow_cancelled"
)

// AuditEntry is one immutable record of the audit trail.
type AuditEntry struct {
	ID                  string      `json:"id"`
	ExecutionID         string      `json:"execution_id"`
	StepID              string      `json:"step_id"`
	StepName            string      `json:"step_name,omitempty"`
	Action              string      `json:"action"`
	Result              AuditResult `json:"result"`
	PreviousStepID      string      `json:"previous_step_id,omitempty"`
	NextStepID          string      `json:"next_step_id,omitempty"`
	Decision            string      `json:"decision,omitempty"`
	Notes               string      `json:"notes,omitempty"`
	Cause               string      `json:"cause,omitempty"`
	ConditionsEvaluated string      `json:"conditions_evaluated,omitempty"`
	ContextSnapshot     Context     `json:"context_snapshot"`
	PerformedBy         string      `json:"performed_by"`
	DurationMs          *int64      `json:"duration_ms,omitempty"`
	Timestamp           time.Time   `json:"timestamp"`
	Sequence            int64       `json:"sequence"`
}

// Bug is the subset of a bug record the assessment workflow consumes.
type Bug struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Severity         string   `json:"severity"`
	AffectedVersions []string `json:"affected_versions"`
}

// AssessmentTask is one product instance a bug must be assessed against.
type AssessmentTask struct {
	TaskID         string `json:"task_id"`
	ProductName    string `json:"product_name"`
	ProductVersion string `json:"product_version"`
	ClientName     string `json:"client_name,omitempty"`
	StudyName      string `json:"study_name,omitempty"`
}
