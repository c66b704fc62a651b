package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pitabwire/bugtriage/model"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v", rec.Body, err)
	}
	return body.Error
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"task_id": "task-1"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d", rec.Code)
	}
	for k, want := range map[string]string{
		"Content-Type":           "application/json; charset=utf-8",
		"X-Content-Type-Options": "nosniff",
	} {
		if got := rec.Header().Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if rec.Body.String() != "{\"task_id\":\"task-1\"}\n" {
		t.Errorf("body = %q", rec.Body)
	}

	empty := httptest.NewRecorder()
	WriteJSON(empty, http.StatusNoContent, nil)
	if empty.Body.Len() != 0 {
		t.Errorf("nil body wrote %q", empty.Body)
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"envelope", model.NewWorkflowNotFoundError("task-9"), http.StatusNotFound, model.ErrWorkflowNotFound},
		{"wrapped envelope", fmt.Errorf("start: %w", model.NewAlreadyStartedError("task-1")), http.StatusConflict, model.ErrAlreadyStarted},
		{"validation", model.NewValidationError([]model.FieldError{{Field: "notes", Code: "MinLength"}}), http.StatusUnprocessableEntity, model.ErrValidationError},
		{"plain error", errors.New("pq: relation \"workflow_executions\" does not exist"), http.StatusInternalServerError, model.ErrInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			env := decodeError(t, rec)
			if env.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", env.Code, tt.wantCode)
			}
			if tt.wantCode == model.ErrInternalError && env.Message == tt.err.Error() {
				t.Error("internal error text leaked to the client")
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	want := map[string]int{
		model.ErrBadRequest:         http.StatusBadRequest,
		model.ErrUnauthorized:       http.StatusUnauthorized,
		model.ErrNotFound:           http.StatusNotFound,
		model.ErrConflict:           http.StatusConflict,
		model.ErrValidationError:    http.StatusUnprocessableEntity,
		model.ErrInternalError:      http.StatusInternalServerError,
		model.ErrWorkflowNotFound:   http.StatusNotFound,
		model.ErrWorkflowNotActive:  http.StatusConflict,
		model.ErrDefinitionNotFound: http.StatusNotFound,
		model.ErrInvalidDefinition:  http.StatusUnprocessableEntity,
		model.ErrNoInitialStep:      http.StatusUnprocessableEntity,
		model.ErrAlreadyStarted:     http.StatusConflict,
		model.ErrInvalidTransition:  http.StatusUnprocessableEntity,
		model.ErrInvalidState:       http.StatusConflict,
		model.ErrExecutionError:     http.StatusInternalServerError,
		model.ErrWorkflowChainLimit: http.StatusUnprocessableEntity,
		"NOT_A_CODE":                http.StatusInternalServerError,
	}
	for code, status := range want {
		if got := StatusFor(code); got != status {
			t.Errorf("StatusFor(%s) = %d, want %d", code, got, status)
		}
	}
}
