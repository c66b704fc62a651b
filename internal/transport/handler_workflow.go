package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/bugtriage/internal/assessment"
	"github.com/pitabwire/bugtriage/internal/observability"
	"github.com/pitabwire/bugtriage/internal/workflow"
	"github.com/pitabwire/bugtriage/model"
)

const (
	maxBodyBytes         = 1 << 20
	idempotencyKeyHeader = "Idempotency-Key"
)

type handlers struct {
	engine    *workflow.Engine
	generator *assessment.Generator
	defs      DefinitionSource
	metrics   *observability.Metrics
	logger    *zap.Logger
}

type startRequest struct {
	Workflow string        `json:"workflow"`
	Context  model.Context `json:"context"`
}

type actionRequest struct {
	ActionID       string        `json:"action_id"`
	Decision       string        `json:"decision"`
	Notes          string        `json:"notes"`
	AdditionalData model.Context `json:"additional_data"`
}

type lifecycleRequest struct {
	Reason string `json:"reason"`
}

func (h *handlers) startWorkflow(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requireRequestContext(w, r)
	if !ok {
		return
	}
	var body startRequest
	if err := decodeBody(r, &body, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if strings.TrimSpace(body.Workflow) == "" {
		h.fail(w, r, model.NewBadRequestError("workflow is required"))
		return
	}

	exec, err := h.engine.StartWorkflow(r.Context(), chi.URLParam(r, "taskId"), body.Workflow, body.Context, rctx.Actor())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, exec)
}

func (h *handlers) getState(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.GetWorkflowState(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

func (h *handlers) executeAction(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requireRequestContext(w, r)
	if !ok {
		return
	}
	var body actionRequest
	if err := decodeBody(r, &body, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if body.ActionID == "" {
		h.fail(w, r, model.NewBadRequestError("action_id is required"))
		return
	}

	taskID := chi.URLParam(r, "taskId")
	logger := observability.LoggerFrom(r.Context(), h.logger)
	if ce := logger.Check(zap.DebugLevel, "action requested"); ce != nil && len(body.AdditionalData) > 0 {
		ce.Write(
			zap.String("task_id", taskID),
			zap.String("action_id", body.ActionID),
			zap.Any("additional_data", observability.RedactContext(body.AdditionalData)),
		)
	}

	result, err := h.engine.ExecuteAction(r.Context(), taskID, model.ActionRequest{
		ActionID:       body.ActionID,
		PerformedBy:    rctx.Actor(),
		Decision:       body.Decision,
		Notes:          body.Notes,
		AdditionalData: body.AdditionalData,
		IdempotencyKey: r.Header.Get(idempotencyKeyHeader),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (h *handlers) auditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.GetAuditTrail(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"data":        entries,
		"total_count": len(entries),
	})
}

func (h *handlers) suspend(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(taskID string, body lifecycleRequest, actor string) (model.WorkflowState, error) {
		return h.engine.Suspend(r.Context(), taskID, body.Reason, actor)
	})
}

func (h *handlers) resume(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(taskID string, _ lifecycleRequest, actor string) (model.WorkflowState, error) {
		return h.engine.Resume(r.Context(), taskID, actor)
	})
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(taskID string, body lifecycleRequest, actor string) (model.WorkflowState, error) {
		return h.engine.Cancel(r.Context(), taskID, body.Reason, actor)
	})
}

func (h *handlers) lifecycle(
	w http.ResponseWriter,
	r *http.Request,
	op func(taskID string, body lifecycleRequest, actor string) (model.WorkflowState, error),
) {
	rctx, ok := requireRequestContext(w, r)
	if !ok {
		return
	}
	var body lifecycleRequest
	if err := decodeBody(r, &body, true); err != nil {
		h.fail(w, r, err)
		return
	}
	state, err := op(chi.URLParam(r, "taskId"), body, rctx.Actor())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

func (h *handlers) getDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.defs.LoadByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, def)
}

// fail writes err stamped with the current trace ID. Errors that do not
// carry an envelope are logged and rendered as INTERNAL_ERROR.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFrom(r.Context(), h.logger)
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		logger.Error("unhandled error", zap.Error(err))
		ee = model.NewInternalError()
	} else if StatusFor(ee.Code) >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("code", ee.Code), zap.Error(err))
	}
	out := *ee
	out.TraceID = observability.TraceIDFromContext(r.Context())
	WriteError(w, &out)
}

func requireRequestContext(w http.ResponseWriter, r *http.Request) (*model.RequestContext, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return nil, false
	}
	return rctx, true
}

// decodeBody decodes a JSON request body into v. An empty body is accepted
// only when allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	if r.Body == nil {
		if allowEmpty {
			return nil
		}
		return model.NewBadRequestError("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return model.NewBadRequestError("request body is required")
		}
		return model.NewBadRequestError("invalid JSON body")
	}
	return nil
}
