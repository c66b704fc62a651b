package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/bugtriage/model"
)

// Replayed is the execution snapshot rebuilt from an audit trail.
type Replayed struct {
	CurrentStepID string
	Status        model.ExecutionStatus
	Context       model.Context
	CompletedAt   *time.Time
	ErrorMessage  string
	// Path is the sequence of step pointers visited, starting with the
	// initial step.
	Path []string
}

// ErrEmptyTrail is returned when a trail has no workflow_started entry.
var ErrEmptyTrail = errors.New("audit trail has no workflow_started entry")

// Replay folds an ordered audit trail into the execution snapshot it
// describes. Entries before workflow_started are ignored.
func Replay(trail []model.AuditEntry) (Replayed, error) {
	var r Replayed
	started := false

	for _, e := range trail {
		if !started {
			if e.Action != model.AuditWorkflowStarted {
				continue
			}
			started = true
			r.CurrentStepID = firstNonEmpty(e.NextStepID, e.StepID)
			r.Status = model.StatusActive
			r.Context = e.ContextSnapshot.Clone()
			r.Path = []string{r.CurrentStepID}
			continue
		}

		switch e.Action {
		case model.AuditWorkflowCompleted:
			r.Status = model.StatusCompleted
			t := e.Timestamp
			r.CompletedAt = &t
		case model.AuditWorkflowSuspended:
			r.Status = model.StatusSuspended
		case model.AuditWorkflowResumed:
			r.Status = model.StatusActive
		case model.AuditWorkflowCancelled:
			r.Status = model.StatusCancelled
		case model.AuditWorkflowFailed:
			r.Status = model.StatusFailed
			r.ErrorMessage = e.Notes
		default:
			if e.Result != model.ResultSuccess {
				continue
			}
			if e.NextStepID != "" && e.NextStepID != r.CurrentStepID {
				r.CurrentStepID = e.NextStepID
				r.Path = append(r.Path, e.NextStepID)
			}
		}
		if e.ContextSnapshot != nil {
			r.Context = e.ContextSnapshot.Clone()
		}
	}

	if !started {
		return Replayed{}, ErrEmptyTrail
	}
	return r, nil
}

// Verify reports how exec diverges from its replayed trail. A nil error
// means the snapshot is consistent.
func Verify(exec model.WorkflowExecution, trail []model.AuditEntry) error {
	r, err := Replay(trail)
	if err != nil {
		return err
	}

	var diffs []error
	if exec.CurrentStepID != r.CurrentStepID {
		diffs = append(diffs, fmt.Errorf("current step %q, trail says %q", exec.CurrentStepID, r.CurrentStepID))
	}
	if exec.Status != r.Status {
		diffs = append(diffs, fmt.Errorf("status %s, trail says %s", exec.Status, r.Status))
	}
	if !exec.Context.Equal(r.Context) {
		diffs = append(diffs, errors.New("context differs from last snapshot"))
	}
	return errors.Join(diffs...)
}

// Repair rewrites the execution snapshot from its audit trail when the two
// diverge. It reports whether a change was committed.
func (m *Manager) Repair(ctx context.Context, executionID string) (model.WorkflowExecution, bool, error) {
	exec, err := m.store.Get(ctx, executionID)
	if err != nil {
		return model.WorkflowExecution{}, false, err
	}
	trail, err := m.store.GetAuditTrail(ctx, executionID)
	if err != nil {
		return model.WorkflowExecution{}, false, err
	}
	if Verify(exec, trail) == nil {
		return exec, false, nil
	}

	r, err := Replay(trail)
	if err != nil {
		return model.WorkflowExecution{}, false, err
	}
	exec.CurrentStepID = r.CurrentStepID
	exec.Status = r.Status
	exec.Context = r.Context
	exec.CompletedAt = r.CompletedAt
	if r.Status == model.StatusFailed {
		exec.ErrorMessage = r.ErrorMessage
	}
	exec.LastUpdated = m.now()

	if err := m.store.Commit(ctx, exec); err != nil {
		return model.WorkflowExecution{}, false, err
	}
	exec.Version++
	return exec, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
