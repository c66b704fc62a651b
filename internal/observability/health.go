package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Build metadata, set with -ldflags "-X".
var (
	Version = "dev"
	Commit  = "unknown"
)

var startedAt = time.Now()

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Readiness is the set of probes behind /ready. The zero value reports
// ready.
type Readiness struct {
	names  []string
	checks []HealthChecker
	// Timeout bounds each probe; zero means probeTimeout.
	Timeout time.Duration
}

const probeTimeout = 2 * time.Second

// Add registers a probe. A nil checker is ignored so optional
// dependencies can be added unconditionally.
func (rd *Readiness) Add(name string, c HealthChecker) *Readiness {
	if c != nil {
		rd.names = append(rd.names, name)
		rd.checks = append(rd.checks, c)
	}
	return rd
}

// Probe is the outcome of one readiness check.
type Probe struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Report is the /ready body.
type Report struct {
	Status string           `json:"status"`
	Checks map[string]Probe `json:"checks"`
}

// Ready reports whether every probe succeeded.
func (r Report) Ready() bool { return r.Status == "ready" }

// Run executes all probes concurrently.
func (rd *Readiness) Run(ctx context.Context) Report {
	timeout := rd.Timeout
	if timeout <= 0 {
		timeout = probeTimeout
	}

	probes := make([]Probe, len(rd.checks))
	var wg sync.WaitGroup
	for i, c := range rd.checks {
		wg.Go(func() {
			probes[i] = probe(ctx, c, timeout)
		})
	}
	wg.Wait()

	rep := Report{Status: "ready", Checks: make(map[string]Probe, len(probes))}
	for i, p := range probes {
		rep.Checks[rd.names[i]] = p
		if p.Status != "ok" {
			rep.Status = "not_ready"
		}
	}
	return rep
}

func probe(parent context.Context, c HealthChecker, timeout time.Duration) Probe {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	err := c.HealthCheck(ctx)
	p := Probe{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		p.Status = "error"
		p.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			p.Error = "timed out after " + timeout.String()
		}
	}
	return p
}

// HandleReady serves the readiness report: 200 when ready, 503 otherwise.
func HandleReady(rd *Readiness) http.HandlerFunc {
	if rd == nil {
		rd = &Readiness{}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rep := rd.Run(r.Context())
		status := http.StatusOK
		if !rep.Ready() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, rep)
	}
}

// HandleHealth serves liveness with build metadata and process uptime.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"version":        Version,
			"commit":         Commit,
			"uptime_seconds": int64(time.Since(startedAt).Seconds()),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
