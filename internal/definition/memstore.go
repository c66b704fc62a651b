package definition

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/bugtriage/model"
)

// MemoryStore is an in-memory Store for development and testing.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]model.WorkflowDefinition // keyed by ID
}

// NewMemoryStore creates a new in-memory definition store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]model.WorkflowDefinition)}
}

// LoadByName returns the newest active version with the given name.
func (s *MemoryStore) LoadByName(_ context.Context, name string) (model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *model.WorkflowDefinition
	for _, d := range s.rows {
		if d.Name != name || !d.IsActive {
			continue
		}
		if best == nil || d.Version > best.Version {
			d := d
			best = &d
		}
	}
	if best == nil {
		return model.WorkflowDefinition{}, model.NewDefinitionNotFoundError(name)
	}
	return *best, nil
}

// Get returns a definition by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.rows[id]
	if !ok {
		return model.WorkflowDefinition{}, model.NewNotFoundError(fmt.Sprintf("workflow definition %q not found", id))
	}
	return d, nil
}

// Save inserts or updates the row keyed by name and version.
func (s *MemoryStore) Save(_ context.Context, def model.WorkflowDefinition) (model.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for id, existing := range s.rows {
		if existing.Name == def.Name && existing.Version == def.Version {
			existing.Description = def.Description
			existing.Schema = def.Schema
			existing.Checksum = def.Checksum
			existing.IsActive = def.IsActive
			existing.UpdatedAt = now
			s.rows[id] = existing
			return existing, nil
		}
	}

	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if _, exists := s.rows[def.ID]; exists {
		return model.WorkflowDefinition{}, model.NewConflictError(fmt.Sprintf("workflow definition %q already exists", def.ID))
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	s.rows[def.ID] = def
	return def, nil
}

// Create inserts def, deactivating the other versions of its name when def
// is active.
func (s *MemoryStore) Create(_ context.Context, def model.WorkflowDefinition) (model.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.rows {
		if existing.Name == def.Name && existing.Version == def.Version {
			return model.WorkflowDefinition{}, versionTaken(def)
		}
	}
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if _, exists := s.rows[def.ID]; exists {
		return model.WorkflowDefinition{}, model.NewConflictError(fmt.Sprintf("workflow definition %q already exists", def.ID))
	}

	now := time.Now().UTC()
	if def.IsActive {
		for id, existing := range s.rows {
			if existing.Name == def.Name && existing.IsActive {
				existing.IsActive = false
				existing.UpdatedAt = now
				s.rows[id] = existing
			}
		}
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now
	s.rows[def.ID] = def
	return def, nil
}

// SetActive flips the active flag of one row.
func (s *MemoryStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.rows[id]
	if !ok {
		return model.NewNotFoundError(fmt.Sprintf("workflow definition %q not found", id))
	}
	d.IsActive = active
	d.UpdatedAt = time.Now().UTC()
	s.rows[id] = d
	return nil
}

// ListVersions returns every version of name, newest first.
func (s *MemoryStore) ListVersions(_ context.Context, name string) ([]model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.WorkflowDefinition
	for _, d := range s.rows {
		if d.Name == name {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}
