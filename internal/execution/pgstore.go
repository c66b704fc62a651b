package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/bugtriage/model"
)

const uniqueViolation = "23505"

// PgStore is a PostgreSQL-backed Store using pgx/v5. Create and Commit run
// in a single transaction each.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL execution store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const executionColumns = `id, task_id, definition_id, current_step_id, status, context,
	started_at, started_by, completed_at, last_updated, error_message, version`

// Create inserts exec and its started entry in one transaction.
func (s *PgStore) Create(ctx context.Context, exec model.WorkflowExecution, started model.AuditEntry) error {
	ctxJSON, err := json.Marshal(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO workflow_executions (`+executionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			exec.ID, exec.TaskID, exec.DefinitionID, exec.CurrentStepID, exec.Status, ctxJSON,
			exec.StartedAt, exec.StartedBy, exec.CompletedAt, exec.LastUpdated, nullable(exec.ErrorMessage), exec.Version,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "workflow_executions_task_id_key" {
				return model.NewAlreadyStartedError(exec.TaskID)
			}
			return fmt.Errorf("insert workflow execution: %w", err)
		}
		return insertAudit(ctx, tx, started)
	})
}

// Get retrieves an execution by ID.
func (s *PgStore) Get(ctx context.Context, executionID string) (model.WorkflowExecution, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+executionColumns+`
		FROM workflow_executions
		WHERE id = $1`,
		executionID,
	)
	exec, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowExecution{}, executionNotFound(executionID)
	}
	return exec, err
}

// GetByTask retrieves the execution of a task.
func (s *PgStore) GetByTask(ctx context.Context, taskID string) (model.WorkflowExecution, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+executionColumns+`
		FROM workflow_executions
		WHERE task_id = $1`,
		taskID,
	)
	exec, err := scanExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WorkflowExecution{}, model.NewWorkflowNotFoundError(taskID)
	}
	return exec, err
}

// Commit updates the execution guarded by its version and appends entries
// in the same transaction.
func (s *PgStore) Commit(ctx context.Context, exec model.WorkflowExecution, entries ...model.AuditEntry) error {
	ctxJSON, err := json.Marshal(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE workflow_executions SET
				current_step_id = $1,
				status = $2,
				context = $3,
				completed_at = $4,
				last_updated = $5,
				error_message = $6,
				version = $7
			WHERE id = $8 AND version = $9`,
			exec.CurrentStepID, exec.Status, ctxJSON, exec.CompletedAt, exec.LastUpdated,
			nullable(exec.ErrorMessage), exec.Version+1,
			exec.ID, exec.Version,
		)
		if err != nil {
			return fmt.Errorf("update workflow execution: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.NewConflictError(
				fmt.Sprintf("workflow execution %q version conflict (expected %d)", exec.ID, exec.Version),
			)
		}
		for _, e := range entries {
			if err := insertAudit(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendAuditLog appends one entry.
func (s *PgStore) AppendAuditLog(ctx context.Context, entry model.AuditEntry) error {
	return insertAudit(ctx, s.pool, entry)
}

// GetAuditTrail returns the entries of an execution in timestamp order.
func (s *PgStore) GetAuditTrail(ctx context.Context, executionID string) ([]model.AuditEntry, error) {
	if _, err := s.Get(ctx, executionID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT seq, id, execution_id, step_id, step_name, action, result,
		       previous_step_id, next_step_id, decision, notes, cause, conditions_evaluated,
		       context_snapshot, performed_by, duration_ms, created_at
		FROM workflow_audit_logs
		WHERE execution_id = $1
		ORDER BY created_at ASC, seq ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query workflow audit logs: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var snapshot []byte
		var stepName, prev, next, decision, notes, cause, conds *string
		if err := rows.Scan(
			&e.Sequence, &e.ID, &e.ExecutionID, &e.StepID, &stepName, &e.Action, &e.Result,
			&prev, &next, &decision, &notes, &cause, &conds,
			&snapshot, &e.PerformedBy, &e.DurationMs, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan workflow audit log: %w", err)
		}
		e.StepName = deref(stepName)
		e.PreviousStepID = deref(prev)
		e.NextStepID = deref(next)
		e.Decision = deref(decision)
		e.Notes = deref(notes)
		e.Cause = deref(cause)
		e.ConditionsEvaluated = deref(conds)
		if err := json.Unmarshal(snapshot, &e.ContextSnapshot); err != nil {
			return nil, fmt.Errorf("unmarshal context snapshot: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindActive returns Active executions, least recently updated first.
func (s *PgStore) FindActive(ctx context.Context, filters Filters) ([]model.WorkflowExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE status = $1`
	args := []any{model.StatusActive}

	if filters.DefinitionID != "" {
		args = append(args, filters.DefinitionID)
		query += fmt.Sprintf(" AND definition_id = $%d", len(args))
	}
	if !filters.UpdatedBefore.IsZero() {
		args = append(args, filters.UpdatedBefore)
		query += fmt.Sprintf(" AND last_updated < $%d", len(args))
	}
	if filters.After != nil {
		args = append(args, filters.After.LastUpdated, filters.After.ID)
		query += fmt.Sprintf(" AND (last_updated, id) > ($%d, $%d)", len(args)-1, len(args))
	}
	query += " ORDER BY last_updated ASC, id ASC"
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query active executions: %w", err)
	}
	defer rows.Close()

	var out []model.WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// HealthCheck pings the pool.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func insertAudit(ctx context.Context, db execer, e model.AuditEntry) error {
	snapshot, err := json.Marshal(e.ContextSnapshot)
	if err != nil {
		return fmt.Errorf("marshal context snapshot: %w", err)
	}

	_, err = db.Exec(ctx, `
		INSERT INTO workflow_audit_logs (
			id, execution_id, step_id, step_name, action, result,
			previous_step_id, next_step_id, decision, notes, cause, conditions_evaluated,
			context_snapshot, performed_by, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.ID, e.ExecutionID, e.StepID, nullable(e.StepName), e.Action, e.Result,
		nullable(e.PreviousStepID), nullable(e.NextStepID), nullable(e.Decision), nullable(e.Notes),
		nullable(e.Cause), nullable(e.ConditionsEvaluated), snapshot, e.PerformedBy, e.DurationMs, e.Timestamp,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return executionNotFound(e.ExecutionID)
		}
		return fmt.Errorf("insert workflow audit log: %w", err)
	}
	return nil
}

func scanExecution(row pgx.Row) (model.WorkflowExecution, error) {
	var exec model.WorkflowExecution
	var ctxJSON []byte
	var errMsg *string
	var completedAt *time.Time

	err := row.Scan(
		&exec.ID, &exec.TaskID, &exec.DefinitionID, &exec.CurrentStepID, &exec.Status, &ctxJSON,
		&exec.StartedAt, &exec.StartedBy, &completedAt, &exec.LastUpdated, &errMsg, &exec.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return exec, err
		}
		return exec, fmt.Errorf("scan workflow execution: %w", err)
	}
	exec.ErrorMessage = deref(errMsg)
	exec.StartedAt = exec.StartedAt.UTC()
	exec.LastUpdated = exec.LastUpdated.UTC()
	if completedAt != nil {
		t := completedAt.UTC()
		exec.CompletedAt = &t
	}

	exec.Context = model.Context{}
	if err := json.Unmarshal(ctxJSON, &exec.Context); err != nil {
		return exec, fmt.Errorf("unmarshal context: %w", err)
	}
	return exec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
