package model

import (
	"context"
	"errors"
	"testing"
)

func TestRequestContext_Validate(t *testing.T) {
	cases := map[string]struct {
		rc   *RequestContext
		want error
	}{
		"subject":    {&RequestContext{SubjectID: "user-1"}, nil},
		"email only": {&RequestContext{Email: "qa@example.com"}, ErrMissingSubject},
		"nil":        {nil, ErrMissingSubject},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if err := tc.rc.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRequestContext_Actor(t *testing.T) {
	var none *RequestContext
	cases := []struct {
		rc   *RequestContext
		want string
	}{
		{&RequestContext{SubjectID: "user-1", Email: "qa@example.com"}, "qa@example.com"},
		{&RequestContext{SubjectID: "svc-intake"}, "svc-intake"},
		{none, ""},
	}
	for _, tc := range cases {
		if got := tc.rc.Actor(); got != tc.want {
			t.Errorf("Actor() = %q, want %q", got, tc.want)
		}
	}
}

func TestRequestContext_HasRole(t *testing.T) {
	rc := &RequestContext{Roles: []string{"triager", "lead"}}
	if !rc.HasRole("lead") || rc.HasRole("viewer") {
		t.Errorf("HasRole over %v", rc.Roles)
	}
	var none *RequestContext
	if none.HasRole("lead") {
		t.Error("nil context has no roles")
	}
}

func TestRequestContextFrom(t *testing.T) {
	if RequestContextFrom(context.Background()) != nil {
		t.Error("empty context should yield nil")
	}
	rc := &RequestContext{SubjectID: "user-1", CorrelationID: "corr-1"}
	if got := RequestContextFrom(WithRequestContext(context.Background(), rc)); got != rc {
		t.Errorf("got %+v", got)
	}
}
