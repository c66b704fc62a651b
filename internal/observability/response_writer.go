package observability

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// StatusRecorder remembers the status code and body size a handler wrote.
type StatusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

// NewStatusRecorder wraps w. Status reads 200 until the handler sets one.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (w *StatusRecorder) Status() int { return w.status }
func (w *StatusRecorder) Bytes() int  { return w.bytes }

func (w *StatusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status, w.wroteHeader = code, true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *StatusRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (w *StatusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// routePattern is the matched chi route, or the raw path outside a router.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := strings.TrimSuffix(rctx.RoutePattern(), "/*"); p != "" {
			return p
		}
	}
	return r.URL.Path
}
