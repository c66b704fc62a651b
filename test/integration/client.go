package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/pitabwire/bugtriage/model"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.do(http.MethodGet, path, nil, token, nil)
}

func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.do(http.MethodGet, path, nil, token, headers)
}

// POST sends body as JSON. A nil body sends no payload.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.do(http.MethodPost, path, body, token, nil)
}

func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.do(http.MethodPost, path, body, token, headers)
}

func (h *TestHarness) do(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("encode %s %s body: %v", method, path, err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, payload)
	if err != nil {
		h.t.Fatalf("build %s %s: %v", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// ReadBody drains and closes the response body.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	return drain(h.t, resp)
}

func drain(t testing.TB, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return raw
}

func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	raw := h.ReadBody(resp)
	if err := json.Unmarshal(raw, target); err != nil {
		h.t.Fatalf("decode body: %v\n%s", err, raw)
	}
}

// AssertStatus reports a status mismatch without stopping the test.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	raw := drain(t, resp)
	if resp.StatusCode != want {
		t.Errorf("status = %d, want %d\n%s", resp.StatusCode, want, raw)
	}
}

// AssertJSON stops the test on a status mismatch, then decodes the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, want int, target any) {
	t.Helper()
	raw := drain(t, resp)
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d\n%s", resp.StatusCode, want, raw)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		t.Fatalf("decode body: %v\n%s", err, raw)
	}
}

// AssertError checks an error response and returns its envelope.
func (h *TestHarness) AssertError(t *testing.T, resp *http.Response, want int, code string) model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, want, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %s, want %s: %s", body.Error.Code, code, body.Error.Message)
	}
	return body.Error
}
