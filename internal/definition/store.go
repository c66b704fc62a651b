package definition

import (
	"context"
	"fmt"

	"github.com/pitabwire/bugtriage/model"
)

// Store persists versioned workflow definitions.
type Store interface {
	// LoadByName returns the newest active version with the given name.
	// Returns DEFINITION_NOT_FOUND if none is active.
	LoadByName(ctx context.Context, name string) (model.WorkflowDefinition, error)

	// Get returns a definition by row ID regardless of its active flag.
	// Executions use this to resolve the version they are pinned to.
	Get(ctx context.Context, id string) (model.WorkflowDefinition, error)

	// Save inserts the definition, or replaces the mutable fields
	// (description, schema, checksum, active flag) of the row with the same
	// name and version. It never deactivates other versions.
	Save(ctx context.Context, def model.WorkflowDefinition) (model.WorkflowDefinition, error)

	// Create inserts def as a new row and never touches an existing one.
	// Returns CONFLICT when the name and version are already taken. When
	// def is active, every other active version of the name is deactivated
	// in the same write.
	Create(ctx context.Context, def model.WorkflowDefinition) (model.WorkflowDefinition, error)

	// SetActive flips the active flag of one row.
	SetActive(ctx context.Context, id string, active bool) error

	// ListVersions returns every version of a name, newest first.
	ListVersions(ctx context.Context, name string) ([]model.WorkflowDefinition, error)
}

func versionTaken(def model.WorkflowDefinition) error {
	return model.NewConflictError(fmt.Sprintf("workflow definition %s v%d already exists", def.Name, def.Version))
}
