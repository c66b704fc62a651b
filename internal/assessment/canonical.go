package assessment

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/pitabwire/bugtriage/internal/definition"
	"github.com/pitabwire/bugtriage/model"
)

// WorkflowName is the name of the canonical assessment workflow.
const WorkflowName = "bug_assessment"

// Terminal steps of the canonical workflow.
const (
	StepKeepAsNew    = "keep_as_new"
	StepCloseWontFix = "close_wont_fix"
	StepNotAffected  = "not_affected"
)

//go:embed bug_assessment.yaml
var canonicalYAML []byte

// CanonicalDocument parses the embedded bug_assessment schema.
func CanonicalDocument() (definition.Document, error) {
	return definition.NewLoader().Parse(canonicalYAML, "embedded:bug_assessment.yaml")
}

// DefinitionLookup finds the active version of a named workflow.
type DefinitionLookup interface {
	LoadByName(ctx context.Context, name string) (model.WorkflowDefinition, error)
}

// EnsureCanonical publishes the embedded schema when no active
// bug_assessment definition exists. It reports whether a version was
// published.
func EnsureCanonical(ctx context.Context, defs DefinitionLookup, publisher *definition.Publisher, by string) (model.WorkflowDefinition, bool, error) {
	def, err := defs.LoadByName(ctx, WorkflowName)
	if err == nil {
		return def, false, nil
	}
	if !model.IsCode(err, model.ErrDefinitionNotFound) {
		return model.WorkflowDefinition{}, false, fmt.Errorf("load %s: %w", WorkflowName, err)
	}

	doc, err := CanonicalDocument()
	if err != nil {
		return model.WorkflowDefinition{}, false, err
	}
	def, err = publisher.Publish(ctx, doc.Schema, doc.Checksum, by)
	if err != nil {
		return model.WorkflowDefinition{}, false, fmt.Errorf("publish %s: %w", WorkflowName, err)
	}
	return def, true, nil
}
