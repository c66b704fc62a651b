package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/bugtriage/internal/execution"
	"github.com/pitabwire/bugtriage/internal/observability"
	"github.com/pitabwire/bugtriage/model"
)

const timeoutBatchSize = 500

// ProcessTimeouts suspends Active executions whose current step has been
// idle for longer than its timeoutMinutes. Active executions are walked
// in pages of timeoutBatchSize until none are left, so executions parked
// on untimed steps never hide newer timed ones. It returns the number of
// executions suspended. Per-execution failures are logged and skipped.
func (e *Engine) ProcessTimeouts(ctx context.Context) (int, error) {
	now := e.now()
	filters := execution.Filters{
		UpdatedBefore: now,
		Limit:         timeoutBatchSize,
	}

	suspended, scanned := 0, 0
	for {
		page, err := e.execs.Store().FindActive(ctx, filters)
		if err != nil {
			return suspended, fmt.Errorf("find active executions: %w", err)
		}
		for _, exec := range page {
			ok, err := e.processTimeout(ctx, exec, now)
			if err != nil {
				e.logger.Warn("timeout processing failed",
					append(observability.ExecutionFields(exec), zap.Error(err))...,
				)
				continue
			}
			if ok {
				suspended++
			}
		}
		scanned += len(page)
		if len(page) < timeoutBatchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return suspended, err
		}
		filters.After = execution.CursorOf(page[len(page)-1])
	}

	e.logger.Debug("timeout sweep finished",
		zap.Int("scanned", scanned),
		zap.Int("suspended", suspended),
	)
	return suspended, nil
}

func (e *Engine) processTimeout(ctx context.Context, exec model.WorkflowExecution, now time.Time) (bool, error) {
	def, err := e.defs.Get(ctx, exec.DefinitionID)
	if err != nil {
		return false, err
	}
	step, ok := def.Schema.Step(exec.CurrentStepID)
	if !ok || step.Config.TimeoutMinutes <= 0 {
		return false, nil
	}

	limit := time.Duration(step.Config.TimeoutMinutes) * time.Minute
	if now.Sub(exec.LastUpdated) <= limit {
		return false, nil
	}

	reason := fmt.Sprintf("step %q exceeded its timeout of %d minutes", step.StepID, step.Config.TimeoutMinutes)
	if _, err := e.execs.Suspend(ctx, exec.ID, reason, "system"); err != nil {
		if model.IsCode(err, model.ErrInvalidState) || model.IsCode(err, model.ErrConflict) {
			// Changed under us; the next pass will see the new state.
			return false, nil
		}
		return false, err
	}

	e.recorder.StepTimedOut(def.Name, step.StepID)
	e.logger.Info("workflow suspended on step timeout",
		append(observability.ExecutionFields(exec), zap.Int("timeout_minutes", step.Config.TimeoutMinutes))...,
	)
	return true, nil
}

// RunTimeouts calls ProcessTimeouts every interval until ctx is done.
func (e *Engine) RunTimeouts(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ProcessTimeouts(ctx); err != nil {
				e.logger.Error("timeout sweep failed", zap.Error(err))
			}
		}
	}
}
