package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/bugtriage/model"
)

// Manager applies lifecycle transitions to executions. Every transition
// is committed together with the audit entry that records it.
type Manager struct {
	store Store
	now   func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the backing store.
func (m *Manager) Store() Store { return m.store }

// Create starts a new execution for taskID at initialStepID.
func (m *Manager) Create(ctx context.Context, taskID, definitionID, initialStepID string, initial model.Context, startedBy string) (model.WorkflowExecution, error) {
	now := m.now()
	exec := model.WorkflowExecution{
		ID:            uuid.New().String(),
		TaskID:        taskID,
		DefinitionID:  definitionID,
		CurrentStepID: initialStepID,
		Status:        model.StatusActive,
		Context:       initial.Clone(),
		StartedAt:     now,
		StartedBy:     startedBy,
		LastUpdated:   now,
		Version:       1,
	}

	started := m.entry(exec, model.AuditEntry{
		StepID:      initialStepID,
		Action:      model.AuditWorkflowStarted,
		Result:      model.ResultActive,
		NextStepID:  initialStepID,
		PerformedBy: startedBy,
	}, now)

	if err := m.store.Create(ctx, exec, started); err != nil {
		return model.WorkflowExecution{}, err
	}
	return exec, nil
}

// Get returns an execution by ID.
func (m *Manager) Get(ctx context.Context, executionID string) (model.WorkflowExecution, error) {
	return m.store.Get(ctx, executionID)
}

// GetByTask returns the execution of a task.
func (m *Manager) GetByTask(ctx context.Context, taskID string) (model.WorkflowExecution, error) {
	return m.store.GetByTask(ctx, taskID)
}

// AdvanceStep moves exec to newStepID and commits entry with it. A nil
// updated context keeps the current one. exec must be the snapshot the
// caller read; a concurrent change yields CONFLICT.
func (m *Manager) AdvanceStep(ctx context.Context, exec model.WorkflowExecution, newStepID string, updated model.Context, entry model.AuditEntry) (model.WorkflowExecution, error) {
	if exec.Status != model.StatusActive {
		return model.WorkflowExecution{}, model.NewWorkflowNotActiveError(exec.Status)
	}

	now := m.now()
	exec.CurrentStepID = newStepID
	if updated != nil {
		exec.Context = updated.Clone()
	}
	exec.LastUpdated = now

	if err := m.store.Commit(ctx, exec, m.entry(exec, entry, now)); err != nil {
		return model.WorkflowExecution{}, err
	}
	exec.Version++
	return exec, nil
}

// Complete marks exec Completed. The entries are committed first, then the
// workflow_completed entry, all in one unit.
func (m *Manager) Complete(ctx context.Context, exec model.WorkflowExecution, performedBy string, entries ...model.AuditEntry) (model.WorkflowExecution, error) {
	if exec.Status != model.StatusActive {
		return model.WorkflowExecution{}, model.NewWorkflowNotActiveError(exec.Status)
	}

	now := m.now()
	exec.Status = model.StatusCompleted
	exec.CompletedAt = &now
	exec.LastUpdated = now

	all := make([]model.AuditEntry, 0, len(entries)+1)
	for _, e := range entries {
		all = append(all, m.entry(exec, e, now))
	}
	all = append(all, m.entry(exec, model.AuditEntry{
		StepID:      exec.CurrentStepID,
		Action:      model.AuditWorkflowCompleted,
		Result:      model.ResultCompleted,
		PerformedBy: performedBy,
	}, now))

	if err := m.store.Commit(ctx, exec, all...); err != nil {
		return model.WorkflowExecution{}, err
	}
	exec.Version++
	return exec, nil
}

// Suspend pauses an Active execution.
func (m *Manager) Suspend(ctx context.Context, executionID, reason, performedBy string) (model.WorkflowExecution, error) {
	return m.transition(ctx, executionID, performedBy, func(exec *model.WorkflowExecution) (model.AuditEntry, error) {
		if exec.Status != model.StatusActive {
			return model.AuditEntry{}, model.NewInvalidStateError(fmt.Sprintf("cannot suspend a workflow that is %s", exec.Status))
		}
		exec.Status = model.StatusSuspended
		return model.AuditEntry{Action: model.AuditWorkflowSuspended, Result: model.ResultSuspended, Notes: reason}, nil
	})
}

// Resume reactivates a Suspended execution. Any other status is an
// INVALID_STATE error.
func (m *Manager) Resume(ctx context.Context, executionID, performedBy string) (model.WorkflowExecution, error) {
	return m.transition(ctx, executionID, performedBy, func(exec *model.WorkflowExecution) (model.AuditEntry, error) {
		if exec.Status != model.StatusSuspended {
			return model.AuditEntry{}, model.NewInvalidStateError(fmt.Sprintf("cannot resume a workflow that is %s", exec.Status))
		}
		exec.Status = model.StatusActive
		return model.AuditEntry{Action: model.AuditWorkflowResumed, Result: model.ResultActive}, nil
	})
}

// Fail marks a non-final execution Failed. message goes to the execution
// and the audit notes; cause, when set, is kept in the audit entry's own
// field.
func (m *Manager) Fail(ctx context.Context, executionID, message string, cause error, performedBy string) (model.WorkflowExecution, error) {
	return m.transition(ctx, executionID, performedBy, func(exec *model.WorkflowExecution) (model.AuditEntry, error) {
		if exec.Status.Final() {
			return model.AuditEntry{}, model.NewInvalidStateError(fmt.Sprintf("cannot fail a workflow that is %s", exec.Status))
		}
		exec.Status = model.StatusFailed
		exec.ErrorMessage = message
		entry := model.AuditEntry{Action: model.AuditWorkflowFailed, Result: model.ResultFailed, Notes: message}
		if cause != nil {
			entry.Cause = cause.Error()
		}
		return entry, nil
	})
}

// Cancel stops a non-final execution for good.
func (m *Manager) Cancel(ctx context.Context, executionID, reason, performedBy string) (model.WorkflowExecution, error) {
	return m.transition(ctx, executionID, performedBy, func(exec *model.WorkflowExecution) (model.AuditEntry, error) {
		if exec.Status.Final() {
			return model.AuditEntry{}, model.NewInvalidStateError(fmt.Sprintf("cannot cancel a workflow that is %s", exec.Status))
		}
		exec.Status = model.StatusCancelled
		return model.AuditEntry{Action: model.AuditWorkflowCancelled, Result: model.ResultCancelled, Notes: reason}, nil
	})
}

// AppendAuditLog appends entry without changing the execution.
func (m *Manager) AppendAuditLog(ctx context.Context, exec model.WorkflowExecution, entry model.AuditEntry) error {
	return m.store.AppendAuditLog(ctx, m.entry(exec, entry, m.now()))
}

// GetAuditTrail returns the ordered audit trail of an execution.
func (m *Manager) GetAuditTrail(ctx context.Context, executionID string) ([]model.AuditEntry, error) {
	return m.store.GetAuditTrail(ctx, executionID)
}

func (m *Manager) transition(
	ctx context.Context,
	executionID, performedBy string,
	apply func(*model.WorkflowExecution) (model.AuditEntry, error),
) (model.WorkflowExecution, error) {
	exec, err := m.store.Get(ctx, executionID)
	if err != nil {
		return model.WorkflowExecution{}, err
	}

	entry, err := apply(&exec)
	if err != nil {
		return model.WorkflowExecution{}, err
	}

	now := m.now()
	exec.LastUpdated = now
	entry.StepID = exec.CurrentStepID
	entry.PerformedBy = performedBy

	if err := m.store.Commit(ctx, exec, m.entry(exec, entry, now)); err != nil {
		return model.WorkflowExecution{}, err
	}
	exec.Version++
	return exec, nil
}

// entry fills the identity, timestamp and snapshot of e from exec.
func (m *Manager) entry(exec model.WorkflowExecution, e model.AuditEntry, now time.Time) model.AuditEntry {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.ExecutionID = exec.ID
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.ContextSnapshot == nil {
		e.ContextSnapshot = exec.Context.Clone()
	}
	return e
}
