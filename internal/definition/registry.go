package definition

import (
	"context"
	"maps"
	"sync/atomic"

	"github.com/pitabwire/bugtriage/model"
)

// snapshot is an immutable map of definitions indexed by ID.
type snapshot struct {
	byID map[string]model.WorkflowDefinition
}

// Registry is a read-through cache in front of a Store. A published schema
// never changes, so rows fetched by ID are cached indefinitely.
// Name lookups always go to the store so a new publish is seen at once.
type Registry struct {
	store Store
	snap  atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry over store.
func NewRegistry(store Store) *Registry {
	r := &Registry{store: store}
	r.snap.Store(&snapshot{byID: map[string]model.WorkflowDefinition{}})
	return r
}

// Get returns the definition with the given ID, loading it on a miss.
func (r *Registry) Get(ctx context.Context, id string) (model.WorkflowDefinition, error) {
	if def, ok := r.snap.Load().byID[id]; ok {
		return def, nil
	}
	def, err := r.store.Get(ctx, id)
	if err != nil {
		return model.WorkflowDefinition{}, err
	}
	r.remember(def)
	return def, nil
}

// LoadByName resolves the active definition for name.
func (r *Registry) LoadByName(ctx context.Context, name string) (model.WorkflowDefinition, error) {
	def, err := r.store.LoadByName(ctx, name)
	if err != nil {
		return model.WorkflowDefinition{}, err
	}
	r.remember(def)
	return def, nil
}

// Len returns the number of cached definitions.
func (r *Registry) Len() int {
	return len(r.snap.Load().byID)
}

// remember swaps in a copy of the snapshot that includes def. Concurrent
// writers may drop each other's entries; that only costs a reload.
func (r *Registry) remember(def model.WorkflowDefinition) {
	cur := r.snap.Load()
	if _, ok := cur.byID[def.ID]; ok {
		return
	}
	next := &snapshot{byID: make(map[string]model.WorkflowDefinition, len(cur.byID)+1)}
	maps.Copy(next.byID, cur.byID)
	next.byID[def.ID] = def
	r.snap.Store(next)
}
