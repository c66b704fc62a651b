// Package workflow interprets workflow schemas against executions. The
// Engine is the only component that advances an execution in response to
// an action, and every advance is committed together with its audit entry.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/bugtriage/internal/execution"
	"github.com/pitabwire/bugtriage/internal/observability"
	"github.com/pitabwire/bugtriage/internal/rules"
	"github.com/pitabwire/bugtriage/model"
)

const defaultIdempotencyTTL = 24 * time.Hour

// Definitions resolves workflow definitions. *definition.Registry
// satisfies it.
type Definitions interface {
	LoadByName(ctx context.Context, name string) (model.WorkflowDefinition, error)
	Get(ctx context.Context, id string) (model.WorkflowDefinition, error)
}

// Engine manages the lifecycle of workflow executions.
type Engine struct {
	defs     Definitions
	execs    *execution.Manager
	rules    *rules.Evaluator
	logger   *zap.Logger
	recorder Recorder
	idem     IdempotencyStore
	idemTTL  time.Duration
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithIdempotencyStore enables deduplication of keyed ExecuteAction calls.
func WithIdempotencyStore(store IdempotencyStore, ttl time.Duration) Option {
	return func(e *Engine) {
		e.idem = store
		if ttl > 0 {
			e.idemTTL = ttl
		}
	}
}

// WithClock overrides the time source used for durations and timeouts.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a new workflow engine.
func NewEngine(defs Definitions, execs *execution.Manager, opts ...Option) *Engine {
	e := &Engine{
		defs:     defs,
		execs:    execs,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		idemTTL:  defaultIdempotencyTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.rules = rules.NewEvaluator(e.logger)
	return e
}

// StartWorkflow creates the execution of taskID on the active version of
// the named workflow.
func (e *Engine) StartWorkflow(
	ctx context.Context,
	taskID, workflowName string,
	initial model.Context,
	startedBy string,
) (exec model.WorkflowExecution, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.start",
		observability.AttrTaskID.String(taskID),
		observability.AttrWorkflow.String(workflowName),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	def, err := e.defs.LoadByName(ctx, workflowName)
	if err != nil {
		return model.WorkflowExecution{}, err
	}
	initialStep := strings.TrimSpace(def.Schema.InitialStepID)
	if initialStep == "" {
		return model.WorkflowExecution{}, model.NewNoInitialStepError(workflowName)
	}
	if _, ok := def.Schema.Step(initialStep); !ok {
		return model.WorkflowExecution{}, model.NewNoInitialStepError(workflowName)
	}

	exec, err = e.execs.Create(ctx, taskID, def.ID, initialStep, initial, startedBy)
	if err != nil {
		return model.WorkflowExecution{}, err
	}

	observability.AnnotateExecution(ctx, exec)
	e.recorder.WorkflowStarted(def.Name)
	observability.LoggerFrom(ctx, e.logger).Info("workflow started",
		append(observability.ExecutionFields(exec),
			zap.String("workflow", def.Name),
			zap.Int("definition_version", def.Version),
		)...,
	)
	return exec, nil
}

// GetWorkflowState recomputes the read model of the task's execution.
func (e *Engine) GetWorkflowState(ctx context.Context, taskID string) (state model.WorkflowState, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.state", observability.AttrTaskID.String(taskID))
	defer func() { observability.EndSpanWithError(span, err) }()

	exec, err := e.execs.GetByTask(ctx, taskID)
	if err != nil {
		return model.WorkflowState{}, err
	}
	return e.stateOf(ctx, exec)
}

func (e *Engine) stateOf(ctx context.Context, exec model.WorkflowExecution) (model.WorkflowState, error) {
	def, err := e.defs.Get(ctx, exec.DefinitionID)
	if err != nil {
		return model.WorkflowState{}, err
	}
	trail, err := e.execs.GetAuditTrail(ctx, exec.ID)
	if err != nil {
		return model.WorkflowState{}, err
	}
	return projectState(def, exec, trail), nil
}

// ExecuteAction applies one action to the task's execution. Validation
// failures never mutate state. Errors that are not part of the workflow
// error vocabulary are logged and returned as EXECUTION_ERROR.
func (e *Engine) ExecuteAction(ctx context.Context, taskID string, req model.ActionRequest) (result model.ActionResult, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.execute_action",
		observability.AttrTaskID.String(taskID),
		observability.AttrActionID.String(req.ActionID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	logger := observability.LoggerFrom(ctx, e.logger).With(
		zap.String("task_id", taskID),
		zap.String("action_id", req.ActionID),
	)

	var idemKey, reqPrint string
	if e.idem != nil && req.IdempotencyKey != "" {
		idemKey = FormatIdempotencyKey(taskID, req.IdempotencyKey)
		reqPrint = fingerprint(req)
		cached, err := e.idem.Lookup(ctx, idemKey, reqPrint)
		if err != nil {
			return model.ActionResult{}, asWorkflowError(logger, "idempotency lookup failed", err)
		}
		if cached != nil {
			span.SetAttributes(observability.AttrIdemHit.Bool(true))
			var wf string
			if cached.State != nil {
				wf = cached.State.WorkflowName
			}
			e.recorder.ActionExecuted(wf, cached.PreviousStepID, req.ActionID, OutcomeDuplicated, 0)
			logger.Debug("idempotent replay", zap.String("idempotency_key", req.IdempotencyKey))
			return *cached, nil
		}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("action panicked", zap.Any("panic", r))
			result, err = model.ActionResult{}, model.NewExecutionError()
		}
	}()

	result, err = e.executeAction(ctx, logger, taskID, req)
	if err != nil {
		return model.ActionResult{}, asWorkflowError(logger, "action failed", err)
	}

	if idemKey != "" {
		if err := e.idem.Remember(ctx, idemKey, reqPrint, result, e.idemTTL); err != nil {
			logger.Warn("failed to store idempotency result", zap.Error(err))
		}
	}
	return result, nil
}

// asWorkflowError passes error envelopes through and logs anything else
// before replacing it with EXECUTION_ERROR.
func asWorkflowError(logger *zap.Logger, msg string, err error) error {
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return env
	}
	logger.Error(msg, zap.Error(err))
	return model.NewExecutionError()
}

func (e *Engine) executeAction(ctx context.Context, logger *zap.Logger, taskID string, req model.ActionRequest) (model.ActionResult, error) {
	start := e.now()

	exec, err := e.execs.GetByTask(ctx, taskID)
	if err != nil {
		return model.ActionResult{}, err
	}
	if exec.Status != model.StatusActive {
		return model.ActionResult{}, model.NewWorkflowNotActiveError(exec.Status)
	}

	def, err := e.defs.Get(ctx, exec.DefinitionID)
	if err != nil {
		return model.ActionResult{}, fmt.Errorf("load pinned definition %s: %w", exec.DefinitionID, err)
	}
	schema := def.Schema
	step, ok := schema.Step(exec.CurrentStepID)
	if !ok {
		msg := fmt.Sprintf("current step %q is not part of %s v%d", exec.CurrentStepID, def.Name, def.Version)
		if _, ferr := e.execs.Fail(ctx, exec.ID, msg, nil, "system"); ferr != nil {
			logger.Error("failed to mark execution failed", zap.Error(ferr))
		}
		e.recorder.WorkflowFinished(def.Name, model.StatusFailed)
		return model.ActionResult{}, errors.New(msg)
	}

	if err := e.validateAction(step, req); err != nil {
		e.recorder.ActionExecuted(def.Name, step.StepID, req.ActionID, OutcomeRejected, e.now().Sub(start))
		return model.ActionResult{}, err
	}

	updated := exec.Context.Clone().Merge(req.AdditionalData)
	if req.Decision != "" {
		updated[contextKey(step.StepID, "decision")] = model.String(req.Decision)
	}
	if req.Notes != "" {
		updated[contextKey(step.StepID, "notes")] = model.String(req.Notes)
	}

	tr, explain := resolveNext(e.rules, &schema, step, req, updated)
	outgoing := len(schema.TransitionsFrom(step.StepID))
	if tr == nil && !step.Terminal() && outgoing > 0 {
		logger.Warn("no valid transition",
			zap.String("step_id", step.StepID),
			zap.String("decision", req.Decision),
		)
		e.recorder.ActionExecuted(def.Name, step.StepID, req.ActionID, OutcomeNoMatch, e.now().Sub(start))
		return model.ActionResult{}, model.NewInvalidTransitionError(
			fmt.Sprintf("no valid transition from step %q for action %q", step.StepID, req.ActionID),
		)
	}

	elapsed := e.now().Sub(start)
	durationMs := elapsed.Milliseconds()
	entry := model.AuditEntry{
		StepID:              step.StepID,
		StepName:            step.Name,
		Action:              req.ActionID,
		Result:              model.ResultSuccess,
		PreviousStepID:      step.StepID,
		Decision:            req.Decision,
		Notes:               req.Notes,
		ConditionsEvaluated: explain,
		ContextSnapshot:     updated,
		PerformedBy:         req.PerformedBy,
		DurationMs:          &durationMs,
	}

	completes := step.Terminal() || tr == nil
	if tr != nil {
		entry.NextStepID = tr.ToStepID
		if to, ok := schema.Step(tr.ToStepID); ok && to.Terminal() {
			completes = true
		}
	}

	if completes {
		if tr != nil {
			exec.CurrentStepID = tr.ToStepID
		}
		exec.Context = updated
		exec, err = e.execs.Complete(ctx, exec, req.PerformedBy, entry)
	} else {
		exec, err = e.execs.AdvanceStep(ctx, exec, tr.ToStepID, updated, entry)
	}
	if err != nil {
		if model.IsCode(err, model.ErrConflict) {
			e.recorder.ActionExecuted(def.Name, step.StepID, req.ActionID, OutcomeConflict, elapsed)
		}
		return model.ActionResult{}, err
	}

	observability.AnnotateExecution(ctx, exec)
	e.recorder.ActionExecuted(def.Name, step.StepID, req.ActionID, OutcomeSuccess, elapsed)
	if completes {
		e.recorder.WorkflowFinished(def.Name, model.StatusCompleted)
	}
	logger.Info("action executed",
		zap.String("execution_id", exec.ID),
		zap.String("from_step", step.StepID),
		zap.String("to_step", entry.NextStepID),
		zap.Bool("completed", completes),
	)

	trail, err := e.execs.GetAuditTrail(ctx, exec.ID)
	if err != nil {
		return model.ActionResult{}, err
	}
	state := projectState(def, exec, trail)

	msg := fmt.Sprintf("Moved from %s to %s", step.StepID, entry.NextStepID)
	if completes {
		msg = "Workflow completed"
	}
	return model.ActionResult{
		Success:           true,
		Message:           msg,
		PreviousStepID:    step.StepID,
		NextStepID:        entry.NextStepID,
		WorkflowCompleted: completes,
		State:             &state,
	}, nil
}

// validateAction checks req against the current step. All problems are
// reported together in one VALIDATION_ERROR.
func (e *Engine) validateAction(step *model.StepDefinition, req model.ActionRequest) error {
	action, ok := step.Action(req.ActionID)
	if !ok || !action.IsEnabled {
		return validationError([]model.FieldError{{
			Field:   "action_id",
			Code:    "NOT_AVAILABLE",
			Message: fmt.Sprintf("action %q is not available on step %q", req.ActionID, step.StepID),
		}})
	}

	var details []model.FieldError
	if step.Config.RequiresNote && strings.TrimSpace(req.Notes) == "" {
		details = append(details, model.FieldError{
			Field:   "notes",
			Code:    "REQUIRED",
			Message: "notes are required for this step",
		})
	}
	if step.Type == model.StepDecision && action.Type == model.ActionDecide &&
		req.Decision != DecisionYes && req.Decision != DecisionNo {
		details = append(details, model.FieldError{
			Field:   "decision",
			Code:    "INVALID_VALUE",
			Message: `decision must be "Yes" or "No"`,
		})
	}

	if len(step.Config.ValidationRules) > 0 {
		input := model.Context{}
		if req.Notes != "" {
			input["notes"] = model.String(req.Notes)
		}
		if req.Decision != "" {
			input["decision"] = model.String(req.Decision)
		}
		input.Merge(req.AdditionalData)

		res := e.rules.ValidateInput(step.Config.ValidationRules, input)
		details = append(details, res.Details...)
	}

	if len(details) > 0 {
		return validationError(details)
	}
	return nil
}

func validationError(details []model.FieldError) *model.ErrorEnvelope {
	env := model.NewValidationError(details)
	msgs := make([]string, len(details))
	for i, d := range details {
		msgs[i] = d.Message
	}
	env.Message = strings.Join(msgs, "; ")
	return env
}

// GetAuditTrail returns the ordered audit trail of the task's execution.
func (e *Engine) GetAuditTrail(ctx context.Context, taskID string) ([]model.AuditEntry, error) {
	exec, err := e.execs.GetByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return e.execs.GetAuditTrail(ctx, exec.ID)
}

// Suspend pauses the task's execution.
func (e *Engine) Suspend(ctx context.Context, taskID, reason, performedBy string) (model.WorkflowState, error) {
	return e.lifecycle(ctx, taskID, func(exec model.WorkflowExecution) (model.WorkflowExecution, error) {
		return e.execs.Suspend(ctx, exec.ID, reason, performedBy)
	})
}

// Resume reactivates the task's suspended execution.
func (e *Engine) Resume(ctx context.Context, taskID, performedBy string) (model.WorkflowState, error) {
	return e.lifecycle(ctx, taskID, func(exec model.WorkflowExecution) (model.WorkflowExecution, error) {
		return e.execs.Resume(ctx, exec.ID, performedBy)
	})
}

// Cancel stops the task's execution for good.
func (e *Engine) Cancel(ctx context.Context, taskID, reason, performedBy string) (model.WorkflowState, error) {
	return e.lifecycle(ctx, taskID, func(exec model.WorkflowExecution) (model.WorkflowExecution, error) {
		updated, err := e.execs.Cancel(ctx, exec.ID, reason, performedBy)
		if err == nil {
			if def, derr := e.defs.Get(ctx, exec.DefinitionID); derr == nil {
				e.recorder.WorkflowFinished(def.Name, model.StatusCancelled)
			}
		}
		return updated, err
	})
}

func (e *Engine) lifecycle(
	ctx context.Context,
	taskID string,
	apply func(model.WorkflowExecution) (model.WorkflowExecution, error),
) (model.WorkflowState, error) {
	exec, err := e.execs.GetByTask(ctx, taskID)
	if err != nil {
		return model.WorkflowState{}, err
	}
	exec, err = apply(exec)
	if err != nil {
		return model.WorkflowState{}, err
	}
	return e.stateOf(ctx, exec)
}
