package assessment

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pitabwire/bugtriage/internal/observability"
	"github.com/pitabwire/bugtriage/model"
)

const defaultMaxAutoSteps = 10

// autoNote is recorded on actions the generator executes itself.
const autoNote = "Evaluated automatically from bug and product data"

// Engine is the part of the workflow engine the generator drives.
type Engine interface {
	StartWorkflow(ctx context.Context, taskID, workflowName string, initial model.Context, startedBy string) (model.WorkflowExecution, error)
	GetWorkflowState(ctx context.Context, taskID string) (model.WorkflowState, error)
	ExecuteAction(ctx context.Context, taskID string, req model.ActionRequest) (model.ActionResult, error)
}

// Outcome reports what happened to one task.
type Outcome struct {
	TaskID      string               `json:"task_id"`
	ExecutionID string               `json:"execution_id,omitempty"`
	AutoSteps   int                  `json:"auto_steps"`
	State       *model.WorkflowState `json:"state,omitempty"`
	Error       *model.ErrorEnvelope `json:"error,omitempty"`
	Err         error                `json:"-"`
}

// Result classifies the outcome as "failed", "completed" or "started".
func (o Outcome) Result() string {
	switch {
	case o.Err != nil || o.Error != nil:
		return "failed"
	case o.State != nil && o.State.Status == model.StatusCompleted:
		return "completed"
	default:
		return "started"
	}
}

// Generator starts assessment workflows and drains their leading
// AutoCheck steps.
type Generator struct {
	engine       Engine
	logger       *zap.Logger
	workflow     string
	maxAutoSteps int
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithLogger sets the generator logger.
func WithLogger(logger *zap.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = logger }
}

// WithMaxAutoSteps bounds how many AutoCheck steps one task may drain.
func WithMaxAutoSteps(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.maxAutoSteps = n
		}
	}
}

// WithWorkflow overrides the workflow started for each task.
func WithWorkflow(name string) GeneratorOption {
	return func(g *Generator) { g.workflow = name }
}

// NewGenerator creates a Generator over engine.
func NewGenerator(engine Engine, opts ...GeneratorOption) *Generator {
	g := &Generator{
		engine:       engine,
		logger:       zap.NewNop(),
		workflow:     WorkflowName,
		maxAutoSteps: defaultMaxAutoSteps,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

// Generate starts one execution per task. A failing task is logged and
// recorded in its Outcome; it never stops the remaining tasks.
func (g *Generator) Generate(ctx context.Context, bug model.Bug, tasks []model.AssessmentTask, by string) []Outcome {
	ctx, span := observability.StartSpan(ctx, "assessment.generate",
		observability.AttrBugID.String(bug.ID),
		attribute.Int("task.count", len(tasks)),
	)
	defer span.End()

	logger := observability.LoggerFrom(ctx, g.logger).With(zap.String("bug_id", bug.ID))
	outcomes := make([]Outcome, 0, len(tasks))
	for _, task := range tasks {
		out := g.generate(ctx, bug, task, by)
		if out.Err != nil {
			logger.Warn("assessment task not generated",
				zap.String("task_id", task.TaskID),
				zap.Int("auto_steps", out.AutoSteps),
				zap.Error(out.Err),
			)
			var env *model.ErrorEnvelope
			if !errors.As(out.Err, &env) {
				env = model.NewExecutionError()
			}
			out.Error = env
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (g *Generator) generate(ctx context.Context, bug model.Bug, task model.AssessmentTask, by string) Outcome {
	out := Outcome{TaskID: task.TaskID}
	if task.TaskID == "" {
		out.Err = model.NewBadRequestError("task_id is required")
		return out
	}

	exec, err := g.engine.StartWorkflow(ctx, task.TaskID, g.workflow, BuildContext(bug, task), by)
	if err != nil {
		out.Err = err
		return out
	}
	out.ExecutionID = exec.ID

	state, err := g.engine.GetWorkflowState(ctx, task.TaskID)
	if err != nil {
		out.Err = err
		return out
	}
	out.State = &state

	out.AutoSteps, out.Err = g.drain(ctx, task.TaskID, &state, by)
	out.State = &state
	return out
}

// drain executes the sole action of each AutoCheck step while the
// execution stays Active. state is updated in place.
func (g *Generator) drain(ctx context.Context, taskID string, state *model.WorkflowState, by string) (int, error) {
	steps := 0
	for isAutoCheck(*state) {
		if steps >= g.maxAutoSteps {
			return steps, model.NewWorkflowChainLimitError(g.maxAutoSteps)
		}
		if len(state.AvailableActions) != 1 {
			return steps, model.NewInvalidStateError(fmt.Sprintf(
				"auto-check step %q exposes %d actions, want exactly one",
				state.CurrentStep.StepID, len(state.AvailableActions)))
		}

		action := state.AvailableActions[0]
		result, err := g.engine.ExecuteAction(ctx, taskID, model.ActionRequest{
			ActionID:    action.ActionID,
			PerformedBy: by,
			Notes:       autoNote,
		})
		if err != nil {
			return steps, err
		}
		steps++

		if result.State != nil {
			*state = *result.State
			continue
		}
		next, err := g.engine.GetWorkflowState(ctx, taskID)
		if err != nil {
			return steps, err
		}
		*state = next
	}
	return steps, nil
}

func isAutoCheck(s model.WorkflowState) bool {
	return s.Status == model.StatusActive &&
		s.CurrentStep != nil &&
		s.CurrentStep.Type == model.StepAutoCheck
}
