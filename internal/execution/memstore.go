package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pitabwire/bugtriage/model"
)

// MemoryStore is an in-memory Store for development and testing. Every
// method runs in one critical section, so a Commit is atomic.
type MemoryStore struct {
	mu     sync.RWMutex
	execs  map[string]model.WorkflowExecution // key: execution ID
	byTask map[string]string                  // task ID -> execution ID
	audit  map[string][]model.AuditEntry      // key: execution ID
	seq    int64
}

// NewMemoryStore creates a new in-memory execution store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		execs:  make(map[string]model.WorkflowExecution),
		byTask: make(map[string]string),
		audit:  make(map[string][]model.AuditEntry),
	}
}

// Create inserts exec and its started entry.
func (s *MemoryStore) Create(_ context.Context, exec model.WorkflowExecution, started model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTask[exec.TaskID]; exists {
		return model.NewAlreadyStartedError(exec.TaskID)
	}
	if _, exists := s.execs[exec.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("workflow execution %q already exists", exec.ID))
	}

	exec.Context = exec.Context.Clone()
	s.execs[exec.ID] = exec
	s.byTask[exec.TaskID] = exec.ID
	s.appendLocked(started)
	return nil
}

// Get retrieves an execution by ID.
func (s *MemoryStore) Get(_ context.Context, executionID string) (model.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.execs[executionID]
	if !ok {
		return model.WorkflowExecution{}, executionNotFound(executionID)
	}
	exec.Context = exec.Context.Clone()
	return exec, nil
}

// GetByTask retrieves the execution of a task.
func (s *MemoryStore) GetByTask(_ context.Context, taskID string) (model.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byTask[taskID]
	if !ok {
		return model.WorkflowExecution{}, model.NewWorkflowNotFoundError(taskID)
	}
	exec := s.execs[id]
	exec.Context = exec.Context.Clone()
	return exec, nil
}

// Commit persists exec with optimistic locking and appends entries.
func (s *MemoryStore) Commit(_ context.Context, exec model.WorkflowExecution, entries ...model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.execs[exec.ID]
	if !ok {
		return executionNotFound(exec.ID)
	}
	if existing.Version != exec.Version {
		return model.NewConflictError(
			fmt.Sprintf("workflow execution %q version conflict (expected %d, got %d)", exec.ID, exec.Version, existing.Version),
		)
	}

	exec.Version++
	exec.TaskID = existing.TaskID
	exec.Context = exec.Context.Clone()
	s.execs[exec.ID] = exec
	for _, e := range entries {
		s.appendLocked(e)
	}
	return nil
}

// AppendAuditLog appends one entry.
func (s *MemoryStore) AppendAuditLog(_ context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.execs[entry.ExecutionID]; !ok {
		return executionNotFound(entry.ExecutionID)
	}
	s.appendLocked(entry)
	return nil
}

// GetAuditTrail returns a sorted copy of the execution's entries.
func (s *MemoryStore) GetAuditTrail(_ context.Context, executionID string) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.execs[executionID]; !ok {
		return nil, executionNotFound(executionID)
	}

	entries := s.audit[executionID]
	result := make([]model.AuditEntry, len(entries))
	copy(result, entries)
	sortTrail(result)
	return result, nil
}

// FindActive returns Active executions, least recently updated first.
func (s *MemoryStore) FindActive(_ context.Context, filters Filters) ([]model.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowExecution
	for _, exec := range s.execs {
		if exec.Status != model.StatusActive {
			continue
		}
		if filters.DefinitionID != "" && exec.DefinitionID != filters.DefinitionID {
			continue
		}
		if !filters.UpdatedBefore.IsZero() && !exec.LastUpdated.Before(filters.UpdatedBefore) {
			continue
		}
		if filters.After != nil && !filters.After.before(exec) {
			continue
		}
		exec.Context = exec.Context.Clone()
		result = append(result, exec)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].LastUpdated.Equal(result[j].LastUpdated) {
			return result[i].ID < result[j].ID
		}
		return result[i].LastUpdated.Before(result[j].LastUpdated)
	})
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}
	return result, nil
}

// Len returns the number of executions. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.execs)
}

func (s *MemoryStore) appendLocked(e model.AuditEntry) {
	s.seq++
	e.Sequence = s.seq
	e.ContextSnapshot = e.ContextSnapshot.Clone()
	s.audit[e.ExecutionID] = append(s.audit[e.ExecutionID], e)
}

func sortTrail(entries []model.AuditEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Sequence < entries[j].Sequence
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}

func executionNotFound(id string) *model.ErrorEnvelope {
	return &model.ErrorEnvelope{
		Code:    model.ErrWorkflowNotFound,
		Message: fmt.Sprintf("workflow execution %q not found", id),
	}
}
