package definition

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/bugtriage/model"
)

// Publisher turns schema documents into active definition versions. A
// publish validates the schema and inserts it as max(version)+1, which
// deactivates every older active version. Published rows are never
// rewritten; a concurrent publisher that took the same version number
// makes this one re-read the versions and try the next.
type Publisher struct {
	store  Store
	logger *zap.Logger
}

// publishAttempts bounds the retries after losing a version race.
const publishAttempts = 5

// NewPublisher creates a Publisher over store.
func NewPublisher(store Store, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{store: store, logger: logger}
}

// Publish validates and activates schema as a new version. Schemas with
// error-level problems return INVALID_DEFINITION and nothing is written.
func (p *Publisher) Publish(ctx context.Context, schema model.WorkflowSchema, checksum, by string) (model.WorkflowDefinition, error) {
	report := Validate(schema)
	if !report.Valid() {
		return model.WorkflowDefinition{}, model.NewInvalidDefinitionError(report.FieldErrors())
	}
	for _, w := range report.Warnings {
		p.logger.Warn("workflow definition warning",
			zap.String("workflow", schema.Name),
			zap.String("path", w.Path),
			zap.String("message", w.Message),
		)
	}

	var saved model.WorkflowDefinition
	for attempt := 1; ; attempt++ {
		versions, err := p.store.ListVersions(ctx, schema.Name)
		if err != nil {
			return model.WorkflowDefinition{}, fmt.Errorf("list versions of %s: %w", schema.Name, err)
		}
		next := 1
		if len(versions) > 0 {
			next = versions[0].Version + 1
		}

		saved, err = p.store.Create(ctx, model.WorkflowDefinition{
			Name:        schema.Name,
			Version:     next,
			Description: schema.Description,
			IsActive:    true,
			Checksum:    checksum,
			Schema:      schema,
			CreatedBy:   by,
		})
		if err == nil {
			break
		}
		if !model.IsCode(err, model.ErrConflict) || attempt == publishAttempts {
			return model.WorkflowDefinition{}, fmt.Errorf("create %s v%d: %w", schema.Name, next, err)
		}
		p.logger.Debug("workflow definition version taken, retrying",
			zap.String("workflow", schema.Name),
			zap.Int("version", next),
			zap.Int("attempt", attempt),
		)
	}

	p.logger.Info("workflow definition published",
		zap.String("workflow", saved.Name),
		zap.Int("version", saved.Version),
		zap.String("id", saved.ID),
	)
	return saved, nil
}

// SyncResult reports what Sync did with each document.
type SyncResult struct {
	Published []model.WorkflowDefinition
	Unchanged []string
	Failed    map[string]error
}

// Sync publishes every document whose checksum differs from the active
// version of the same name. Failures are collected per source file and do
// not stop the remaining documents.
func (p *Publisher) Sync(ctx context.Context, docs []Document, by string) SyncResult {
	res := SyncResult{Failed: make(map[string]error)}
	for _, doc := range docs {
		active, err := p.store.LoadByName(ctx, doc.Schema.Name)
		switch {
		case err == nil && active.Checksum == doc.Checksum:
			res.Unchanged = append(res.Unchanged, doc.Schema.Name)
			continue
		case err != nil && !model.IsCode(err, model.ErrDefinitionNotFound):
			res.Failed[doc.SourceFile] = err
			continue
		}

		saved, err := p.Publish(ctx, doc.Schema, doc.Checksum, by)
		if err != nil {
			p.logger.Error("workflow definition rejected",
				zap.String("source", doc.SourceFile),
				zap.Error(err),
			)
			res.Failed[doc.SourceFile] = err
			continue
		}
		res.Published = append(res.Published, saved)
	}
	return res
}
