package workflow

import (
	"time"

	"github.com/pitabwire/bugtriage/model"
)

// Recorder receives engine events for metrics. Implementations must be
// safe for concurrent use.
type Recorder interface {
	WorkflowStarted(workflow string)
	ActionExecuted(workflow, stepID, actionID, outcome string, d time.Duration)
	WorkflowFinished(workflow string, status model.ExecutionStatus)
	StepTimedOut(workflow, stepID string)
}

// Action outcomes passed to Recorder.ActionExecuted.
const (
	OutcomeSuccess    = "success"
	OutcomeRejected   = "rejected"
	OutcomeNoMatch    = "no_transition"
	OutcomeConflict   = "conflict"
	OutcomeError      = "error"
	OutcomeDuplicated = "duplicate"
)

type nopRecorder struct{}

func (nopRecorder) WorkflowStarted(string) {}
func (nopRecorder) ActionExecuted(string, string, string, string, time.Duration) {}
func (nopRecorder) WorkflowFinished(string, model.ExecutionStatus) {}
func (nopRecorder) StepTimedOut(string, string) {}
