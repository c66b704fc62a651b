package model

import (
	"context"
	"errors"
	"slices"
)

// ErrMissingSubject is returned by RequestContext.Validate when the caller
// could not be identified.
var ErrMissingSubject = errors.New("request context has no subject")

// RequestContext identifies who is acting on a request and how to correlate
// what they did. Middleware builds one per request; nothing mutates it after.
type RequestContext struct {
	SubjectID     string
	Email         string
	Roles         []string
	Claims        map[string]any
	CorrelationID string
	TraceID       string
}

func (rc *RequestContext) Validate() error {
	if rc == nil || rc.SubjectID == "" {
		return ErrMissingSubject
	}
	return nil
}

// Actor is the name written to performedBy: email if known, else subject.
func (rc *RequestContext) Actor() string {
	switch {
	case rc == nil:
		return ""
	case rc.Email != "":
		return rc.Email
	default:
		return rc.SubjectID
	}
}

func (rc *RequestContext) HasRole(role string) bool {
	return rc != nil && slices.Contains(rc.Roles, role)
}

type requestContextKey struct{}

func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom returns the caller attached to ctx, or nil for
// background work such as the repair command.
func RequestContextFrom(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(requestContextKey{}).(*RequestContext); ok {
		return rc
	}
	return nil
}
