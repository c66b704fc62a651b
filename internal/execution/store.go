// Package execution owns the durable workflow execution record and its
// append-only audit trail. Every state change of an execution is written
// together with the audit entries that explain it.
package execution

import (
	"context"
	"time"

	"github.com/pitabwire/bugtriage/model"
)

// Store persists executions and audit entries.
type Store interface {
	// Create inserts a new execution and its workflow_started entry in one
	// unit. Returns ALREADY_STARTED if the task already has an execution.
	Create(ctx context.Context, exec model.WorkflowExecution, started model.AuditEntry) error

	// Get retrieves an execution by ID. Returns WORKFLOW_NOT_FOUND if absent.
	Get(ctx context.Context, executionID string) (model.WorkflowExecution, error)

	// GetByTask retrieves the execution of a task. Returns
	// WORKFLOW_NOT_FOUND if absent.
	GetByTask(ctx context.Context, taskID string) (model.WorkflowExecution, error)

	// Commit persists exec and appends entries in one unit. exec.Version
	// must equal the stored version; the stored version becomes
	// exec.Version+1. Returns CONFLICT on a version mismatch, in which case
	// nothing is written.
	Commit(ctx context.Context, exec model.WorkflowExecution, entries ...model.AuditEntry) error

	// AppendAuditLog appends one entry without touching the execution.
	AppendAuditLog(ctx context.Context, entry model.AuditEntry) error

	// GetAuditTrail returns the entries of an execution ordered by
	// timestamp, ties broken by insertion order.
	GetAuditTrail(ctx context.Context, executionID string) ([]model.AuditEntry, error)

	// FindActive lists executions in the Active state.
	FindActive(ctx context.Context, filters Filters) ([]model.WorkflowExecution, error)
}

// Filters narrow FindActive. After resumes a listing past the last row of
// the previous page.
type Filters struct {
	DefinitionID  string
	UpdatedBefore time.Time
	After         *Cursor
	Limit         int
}

// Cursor is a position in FindActive order: last_updated, then ID.
type Cursor struct {
	LastUpdated time.Time
	ID          string
}

// CursorOf returns the position just past exec.
func CursorOf(exec model.WorkflowExecution) *Cursor {
	return &Cursor{LastUpdated: exec.LastUpdated, ID: exec.ID}
}

func (c *Cursor) before(exec model.WorkflowExecution) bool {
	if exec.LastUpdated.Equal(c.LastUpdated) {
		return c.ID < exec.ID
	}
	return c.LastUpdated.Before(exec.LastUpdated)
}
