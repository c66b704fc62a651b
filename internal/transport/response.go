// Package transport exposes the workflow engine and the assessment
// generator over HTTP: the chi router, its middleware chain, bearer-token
// authentication and the JSON handlers.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/bugtriage/model"
)

// StatusFor maps an envelope code to its HTTP status. Unknown codes are
// server errors.
func StatusFor(code string) int {
	switch code {
	case model.ErrBadRequest:
		return http.StatusBadRequest
	case model.ErrUnauthorized:
		return http.StatusUnauthorized
	case model.ErrNotFound, model.ErrWorkflowNotFound, model.ErrDefinitionNotFound:
		return http.StatusNotFound
	case model.ErrConflict, model.ErrWorkflowNotActive, model.ErrAlreadyStarted, model.ErrInvalidState:
		return http.StatusConflict
	case model.ErrValidationError, model.ErrInvalidDefinition, model.ErrNoInitialStep,
		model.ErrInvalidTransition, model.ErrWorkflowChainLimit:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteJSON renders body with status. A nil body writes headers only.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError renders err as {"error": envelope}. Anything that is not an
// *model.ErrorEnvelope becomes INTERNAL_ERROR with a fixed message.
func WriteError(w http.ResponseWriter, err error) {
	var env *model.ErrorEnvelope
	if !errors.As(err, &env) {
		env = model.NewInternalError()
	}
	WriteJSON(w, StatusFor(env.Code), errorBody{Error: env})
}
