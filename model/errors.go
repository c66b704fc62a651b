package model

import (
	"errors"
	"fmt"
)

// Error codes carried in ErrorEnvelope.Code. The transport maps each to an
// HTTP status.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"

	ErrWorkflowNotFound   = "WORKFLOW_NOT_FOUND"
	ErrWorkflowNotActive  = "WORKFLOW_NOT_ACTIVE"
	ErrDefinitionNotFound = "DEFINITION_NOT_FOUND"
	ErrInvalidDefinition  = "INVALID_DEFINITION"
	ErrNoInitialStep      = "NO_INITIAL_STEP"
	ErrAlreadyStarted     = "ALREADY_STARTED"
	ErrInvalidTransition  = "INVALID_TRANSITION"
	ErrInvalidState       = "INVALID_STATE"
	ErrExecutionError     = "EXECUTION_ERROR"
	ErrWorkflowChainLimit = "WORKFLOW_CHAIN_LIMIT"
)

// ErrorEnvelope is a caller-facing failure. Packages return it unwrapped or
// wrapped with %w; the transport renders it as the response body.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

func (e *ErrorEnvelope) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches another envelope with the same code, so
// errors.Is(err, &ErrorEnvelope{Code: ErrConflict}) works through wrapping.
func (e *ErrorEnvelope) Is(target error) bool {
	t, ok := target.(*ErrorEnvelope)
	return ok && t.Code == e.Code
}

type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodeOf returns the code of the envelope in err's chain, or "".
func CodeOf(err error) string {
	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env.Code
	}
	return ""
}

func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

func envelope(code, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: code, Message: msg}
}

func NewBadRequestError(msg string) *ErrorEnvelope   { return envelope(ErrBadRequest, msg) }
func NewUnauthorizedError(msg string) *ErrorEnvelope { return envelope(ErrUnauthorized, msg) }
func NewNotFoundError(msg string) *ErrorEnvelope     { return envelope(ErrNotFound, msg) }
func NewConflictError(msg string) *ErrorEnvelope     { return envelope(ErrConflict, msg) }

func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return envelope(ErrInvalidTransition, msg)
}

func NewInvalidStateError(msg string) *ErrorEnvelope { return envelope(ErrInvalidState, msg) }

func NewValidationError(details []FieldError) *ErrorEnvelope {
	e := envelope(ErrValidationError, "One or more fields are invalid")
	e.Details = details
	return e
}

// NewInternalError hides the cause; log it before returning this.
func NewInternalError() *ErrorEnvelope {
	return envelope(ErrInternalError, "An unexpected error occurred")
}

// NewExecutionError is the opaque failure for an action that broke for
// reasons the caller cannot fix.
func NewExecutionError() *ErrorEnvelope {
	return envelope(ErrExecutionError, "The action could not be executed")
}

func NewWorkflowNotFoundError(taskID string) *ErrorEnvelope {
	return envelope(ErrWorkflowNotFound, fmt.Sprintf("no workflow execution exists for task %q", taskID))
}

func NewWorkflowNotActiveError(status ExecutionStatus) *ErrorEnvelope {
	return envelope(ErrWorkflowNotActive, fmt.Sprintf("workflow is %s", status))
}

func NewDefinitionNotFoundError(name string) *ErrorEnvelope {
	return envelope(ErrDefinitionNotFound, fmt.Sprintf("no active workflow definition named %q", name))
}

// NewInvalidDefinitionError carries one detail per structural problem.
func NewInvalidDefinitionError(details []FieldError) *ErrorEnvelope {
	e := envelope(ErrInvalidDefinition, "workflow definition failed validation")
	e.Details = details
	return e
}

func NewNoInitialStepError(name string) *ErrorEnvelope {
	return envelope(ErrNoInitialStep, fmt.Sprintf("workflow definition %q has no initial step", name))
}

func NewAlreadyStartedError(taskID string) *ErrorEnvelope {
	return envelope(ErrAlreadyStarted, fmt.Sprintf("a workflow execution already exists for task %q", taskID))
}

func NewWorkflowChainLimitError(limit int) *ErrorEnvelope {
	return envelope(ErrWorkflowChainLimit, fmt.Sprintf("auto steps exceeded the chain limit of %d", limit))
}
