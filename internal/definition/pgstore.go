package definition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/bugtriage/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5. The schema document
// is stored as JSONB.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL definition store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const (
	uniqueViolation   = "23505"
	nameVersionUnique = "workflow_definitions_name_version_key"
)

const definitionColumns = `id, name, version, description, is_active, checksum, schema, created_by, created_at, updated_at`

// LoadByName returns the newest active version with the given name.
func (s *PgStore) LoadByName(ctx context.Context, name string) (model.WorkflowDefinition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+definitionColumns+`
		FROM workflow_definitions
		WHERE name = $1 AND is_active
		ORDER BY version DESC
		LIMIT 1`,
		name,
	)
	def, err := scanDefinition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowDefinition{}, model.NewDefinitionNotFoundError(name)
	}
	return def, err
}

// Get returns a definition by ID.
func (s *PgStore) Get(ctx context.Context, id string) (model.WorkflowDefinition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+definitionColumns+`
		FROM workflow_definitions
		WHERE id = $1`,
		id,
	)
	def, err := scanDefinition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowDefinition{}, model.NewNotFoundError(fmt.Sprintf("workflow definition %q not found", id))
	}
	return def, err
}

// Save upserts on (name, version).
func (s *PgStore) Save(ctx context.Context, def model.WorkflowDefinition) (model.WorkflowDefinition, error) {
	schemaJSON, err := json.Marshal(def.Schema)
	if err != nil {
		return model.WorkflowDefinition{}, fmt.Errorf("marshal schema: %w", err)
	}

	now := time.Now().UTC()
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO workflow_definitions (
			id, name, version, description, is_active, checksum, schema,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (name, version) DO UPDATE SET
			description = EXCLUDED.description,
			is_active = EXCLUDED.is_active,
			checksum = EXCLUDED.checksum,
			schema = EXCLUDED.schema,
			updated_at = EXCLUDED.updated_at
		RETURNING `+definitionColumns,
		def.ID, def.Name, def.Version, def.Description, def.IsActive, def.Checksum, schemaJSON,
		def.CreatedBy, def.CreatedAt, now,
	)
	saved, err := scanDefinition(row)
	if err != nil {
		return model.WorkflowDefinition{}, fmt.Errorf("upsert workflow definition: %w", err)
	}
	return saved, nil
}

// Create inserts def without an upsert. The deactivation of older versions
// runs in the same transaction, so a lost race leaves nothing behind.
func (s *PgStore) Create(ctx context.Context, def model.WorkflowDefinition) (model.WorkflowDefinition, error) {
	schemaJSON, err := json.Marshal(def.Schema)
	if err != nil {
		return model.WorkflowDefinition{}, fmt.Errorf("marshal schema: %w", err)
	}

	now := time.Now().UTC()
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}

	var created model.WorkflowDefinition
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO workflow_definitions (
				id, name, version, description, is_active, checksum, schema,
				created_by, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+definitionColumns,
			def.ID, def.Name, def.Version, def.Description, def.IsActive, def.Checksum, schemaJSON,
			def.CreatedBy, def.CreatedAt, now,
		)
		var err error
		created, err = scanDefinition(row)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == nameVersionUnique {
				return versionTaken(def)
			}
			return fmt.Errorf("insert workflow definition: %w", err)
		}
		if !def.IsActive {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE workflow_definitions SET is_active = FALSE, updated_at = $1
			WHERE name = $2 AND id <> $3 AND is_active`,
			now, def.Name, created.ID,
		)
		if err != nil {
			return fmt.Errorf("deactivate older versions of %s: %w", def.Name, err)
		}
		return nil
	})
	if err != nil {
		return model.WorkflowDefinition{}, err
	}
	return created, nil
}

// SetActive flips the active flag of one row.
func (s *PgStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_definitions SET is_active = $1, updated_at = $2
		WHERE id = $3`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update workflow definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("workflow definition %q not found", id))
	}
	return nil
}

// ListVersions returns every version of name, newest first.
func (s *PgStore) ListVersions(ctx context.Context, name string) ([]model.WorkflowDefinition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+definitionColumns+`
		FROM workflow_definitions
		WHERE name = $1
		ORDER BY version DESC`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("query workflow definitions: %w", err)
	}
	defer rows.Close()

	var out []model.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

// HealthCheck pings the pool.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanDefinition(row pgx.Row) (model.WorkflowDefinition, error) {
	var def model.WorkflowDefinition
	var schemaJSON []byte
	var description, checksum, createdBy *string

	err := row.Scan(
		&def.ID, &def.Name, &def.Version, &description, &def.IsActive, &checksum, &schemaJSON,
		&createdBy, &def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return def, err
		}
		return def, fmt.Errorf("scan workflow definition: %w", err)
	}
	def.Description = deref(description)
	def.Checksum = deref(checksum)
	def.CreatedBy = deref(createdBy)

	if err := json.Unmarshal(schemaJSON, &def.Schema); err != nil {
		return def, fmt.Errorf("unmarshal schema: %w", err)
	}
	return def, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
