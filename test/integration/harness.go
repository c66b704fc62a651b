// Package integration drives a complete triage server over HTTP: the
// production router and middleware, a local token issuer, and in-memory,
// miniredis or Postgres container storage.
package integration

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/pitabwire/bugtriage/internal/assessment"
	"github.com/pitabwire/bugtriage/internal/config"
	"github.com/pitabwire/bugtriage/internal/definition"
	"github.com/pitabwire/bugtriage/internal/execution"
	"github.com/pitabwire/bugtriage/internal/observability"
	"github.com/pitabwire/bugtriage/internal/pgtest"
	"github.com/pitabwire/bugtriage/internal/transport"
	"github.com/pitabwire/bugtriage/internal/workflow"
)

// TestHarness is one running server plus handles on its internals.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	Engine *workflow.Engine
	// Redis is set only under WithRedis.
	Redis *miniredis.Miniredis
	Clock *Clock
}

// Clock is the fake time shared by the engine and execution manager.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type HarnessOption func(*harnessOptions)

type harnessOptions struct {
	postgres bool
	redis    bool
}

// WithPostgres stores definitions and executions in a Postgres container.
// Tests using it skip under -short.
func WithPostgres() HarnessOption {
	return func(o *harnessOptions) { o.postgres = true }
}

// WithRedis keeps idempotency records in miniredis.
func WithRedis() HarnessOption {
	return func(o *harnessOptions) { o.redis = true }
}

// wiring collects what the router needs while the harness is assembled.
type wiring struct {
	defs      definition.Store
	execs     execution.Store
	idem      workflow.IdempotencyStore
	readiness *observability.Readiness
}

// NewTestHarness starts a server that lives until t finishes. Definitions
// come from testdata/definitions plus the built-in bug_assessment workflow.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()
	var o harnessOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
	h := &TestHarness{
		t:      t,
		Clock:  &Clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		issuer: newTokenIssuer(t),
	}
	w := h.storage(o)

	registry := definition.NewRegistry(w.defs)
	publishDefinitions(t, registry, definition.NewPublisher(w.defs, logger))
	w.readiness.Add("definitions", observability.HealthCheckFunc(func(ctx context.Context) error {
		_, err := registry.LoadByName(ctx, assessment.WorkflowName)
		return err
	}))

	gatherer := prometheus.NewRegistry()
	metrics := observability.NewMetrics(gatherer)
	h.Engine = workflow.NewEngine(registry,
		execution.NewManager(w.execs, execution.WithClock(h.Clock.Now)),
		workflow.WithLogger(logger),
		workflow.WithRecorder(metrics),
		workflow.WithIdempotencyStore(w.idem, 0),
		workflow.WithClock(h.Clock.Now),
	)

	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = 10 * time.Second
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Identity.Issuer = h.issuer.Issuer()
	cfg.Identity.Audience = h.issuer.Audience()
	cfg.Identity.JWKSURL = h.issuer.JWKSURL()

	keys := transport.NewJWKSClient(cfg.Identity.JWKSURL, time.Hour, logger)
	w.readiness.Add("identity_provider", keys)

	h.server = httptest.NewServer(transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, keys),
		Engine:       h.Engine,
		Generator:    assessment.NewGenerator(h.Engine, assessment.WithLogger(logger)),
		Definitions:  registry,
		Metrics:      metrics,
		Gatherer:     gatherer,
		Readiness:    w.readiness,
	}))
	t.Cleanup(h.server.Close)
	return h
}

func (h *TestHarness) storage(o harnessOptions) wiring {
	w := wiring{readiness: new(observability.Readiness)}

	if o.postgres {
		pool := pgtest.Pool(h.t)
		execs := execution.NewPgStore(pool)
		w.defs, w.execs = definition.NewPgStore(pool), execs
		w.readiness.Add("database", execs)
	} else {
		w.defs, w.execs = definition.NewMemoryStore(), execution.NewMemoryStore()
	}

	if !o.redis {
		w.idem = workflow.NewMemoryIdempotencyStore()
		return w
	}
	h.Redis = miniredis.RunT(h.t)
	client := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
	h.t.Cleanup(func() { _ = client.Close() })
	idem := workflow.NewRedisIdempotencyStore(client)
	w.idem = idem
	w.readiness.Add("idempotency_store", idem)
	return w
}

func publishDefinitions(t *testing.T, registry *definition.Registry, pub *definition.Publisher) {
	t.Helper()
	ctx := context.Background()

	docs, err := definition.NewLoader().LoadAll([]string{filepath.Join(testdataDir(), "definitions")})
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if res := pub.Sync(ctx, docs, "harness"); len(res.Failed) > 0 {
		t.Fatalf("publish definitions: %v", res.Failed)
	}
	if _, _, err := assessment.EnsureCanonical(ctx, registry, pub, "harness"); err != nil {
		t.Fatalf("publish %s: %v", assessment.WorkflowName, err)
	}
}

func (h *TestHarness) GenerateToken(c TestClaims) string        { return h.issuer.GenerateToken(c) }
func (h *TestHarness) GenerateExpiredToken(c TestClaims) string { return h.issuer.GenerateExpiredToken(c) }

func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}
