// Package migrate applies the PostgreSQL schema used by the definition and
// execution stores. Migrations are ordered, recorded in schema_migrations
// and applied each in its own transaction.
package migrate

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Migration is one forward schema change.
type Migration struct {
	Version string
	Name    string
	Up      []string
}

// Migrations lists every schema change in application order.
var Migrations = []Migration{
	{
		Version: "20250301090000",
		Name:    "create_workflow_definitions",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS workflow_definitions (
				id           TEXT PRIMARY KEY,
				name         TEXT NOT NULL,
				version      INTEGER NOT NULL,
				description  TEXT,
				is_active    BOOLEAN NOT NULL DEFAULT FALSE,
				checksum     TEXT,
				schema       JSONB NOT NULL,
				created_by   TEXT,
				created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (name, version)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_workflow_definitions_active
				ON workflow_definitions (name, version DESC)
				WHERE is_active`,
		},
	},
	{
		Version: "20250301090100",
		Name:    "create_workflow_executions",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS workflow_executions (
				id               TEXT PRIMARY KEY,
				task_id          TEXT NOT NULL UNIQUE,
				definition_id    TEXT NOT NULL REFERENCES workflow_definitions (id),
				current_step_id  TEXT NOT NULL,
				status           TEXT NOT NULL,
				context          JSONB NOT NULL DEFAULT '{}',
				started_at       TIMESTAMPTZ NOT NULL,
				started_by       TEXT NOT NULL,
				completed_at     TIMESTAMPTZ,
				last_updated     TIMESTAMPTZ NOT NULL,
				error_message    TEXT,
				version          INTEGER NOT NULL DEFAULT 1
			)`,
			`CREATE INDEX IF NOT EXISTS idx_workflow_executions_status
				ON workflow_executions (status, last_updated)`,
		},
	},
	{
		Version: "20250301090200",
		Name:    "create_workflow_audit_logs",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS workflow_audit_logs (
				seq                   BIGSERIAL PRIMARY KEY,
				id                    TEXT NOT NULL UNIQUE,
				execution_id          TEXT NOT NULL REFERENCES workflow_executions (id) ON DELETE CASCADE,
				step_id               TEXT NOT NULL,
				step_name             TEXT,
				action                TEXT NOT NULL,
				result                TEXT NOT NULL,
				previous_step_id      TEXT,
				next_step_id          TEXT,
				decision              TEXT,
				notes                 TEXT,
				conditions_evaluated  TEXT,
				context_snapshot      JSONB NOT NULL DEFAULT '{}',
				performed_by          TEXT NOT NULL,
				duration_ms           BIGINT,
				created_at            TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_workflow_audit_logs_execution
				ON workflow_audit_logs (execution_id, created_at, seq)`,
		},
	},
	{
		Version: "20250415120000",
		Name:    "add_workflow_audit_logs_cause",
		Up: []string{
			`ALTER TABLE workflow_audit_logs ADD COLUMN IF NOT EXISTS cause TEXT`,
		},
	},
}

// Apply runs every migration not yet recorded in schema_migrations.
func Apply(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return err
	}

	for _, m := range Migrations {
		if applied[m.Version] {
			continue
		}
		if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for _, stmt := range m.Up {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				m.Version, m.Name,
			)
			return err
		}); err != nil {
			return fmt.Errorf("migration %s_%s: %w", m.Version, m.Name, err)
		}
		logger.Info("migration applied", zap.String("version", m.Version), zap.String("name", m.Name))
	}
	return nil
}

// Pending returns the migrations not yet applied.
func Pending(ctx context.Context, pool *pgxpool.Pool) ([]Migration, error) {
	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return nil, err
	}
	var out []Migration
	for _, m := range Migrations {
		if !applied[m.Version] {
			out = append(out, m)
		}
	}
	return out, nil
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan schema_migrations: %w", err)
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}
