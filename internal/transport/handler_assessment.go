package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/bugtriage/model"
)

type assessmentRequest struct {
	Bug   model.Bug              `json:"bug"`
	Tasks []model.AssessmentTask `json:"tasks"`
}

func (h *handlers) generateAssessments(w http.ResponseWriter, r *http.Request) {
	rctx, ok := requireRequestContext(w, r)
	if !ok {
		return
	}
	var body assessmentRequest
	if err := decodeBody(r, &body, false); err != nil {
		h.fail(w, r, err)
		return
	}
	bugID := chi.URLParam(r, "bugId")
	if body.Bug.ID != "" && body.Bug.ID != bugID {
		h.fail(w, r, model.NewBadRequestError("bug.id does not match the URL"))
		return
	}
	body.Bug.ID = bugID
	if len(body.Tasks) == 0 {
		h.fail(w, r, model.NewValidationError([]model.FieldError{
			{Field: "tasks", Code: "REQUIRED", Message: "at least one task is required"},
		}))
		return
	}

	outcomes := h.generator.Generate(r.Context(), body.Bug, body.Tasks, rctx.Actor())
	failed := 0
	for _, out := range outcomes {
		result := out.Result()
		if result == "failed" {
			failed++
		}
		if h.metrics != nil {
			h.metrics.RecordAssessmentTask(result)
		}
	}

	status := http.StatusCreated
	if failed > 0 {
		status = http.StatusMultiStatus
	}
	WriteJSON(w, status, map[string]any{
		"bug_id":   bugID,
		"outcomes": outcomes,
		"failed":   failed,
	})
}
