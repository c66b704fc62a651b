package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/bugtriage/internal/assessment"
	"github.com/pitabwire/bugtriage/internal/config"
	"github.com/pitabwire/bugtriage/internal/observability"
	"github.com/pitabwire/bugtriage/internal/workflow"
	"github.com/pitabwire/bugtriage/model"
)

// DefinitionSource resolves the active definition of a workflow.
type DefinitionSource interface {
	LoadByName(ctx context.Context, name string) (model.WorkflowDefinition, error)
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Authenticate func(http.Handler) http.Handler
	Engine       *workflow.Engine
	Generator    *assessment.Generator
	Definitions  DefinitionSource
	Metrics      *observability.Metrics
	Gatherer     prometheus.Gatherer
	Readiness    *observability.Readiness
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{
		engine:    deps.Engine,
		generator: deps.Generator,
		defs:      deps.Definitions,
		metrics:   deps.Metrics,
		logger:    logger,
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		gatherer := deps.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler(gatherer))
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = Anonymous(deps.Config.Identity.AnonymousActor)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(Identify(deps.Config.Identity.ClaimPaths))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Route("/api/tasks/{taskId}/workflow", func(r chi.Router) {
			r.Post("/", h.startWorkflow)
			r.Get("/", h.getState)
			r.Post("/actions", h.executeAction)
			r.Get("/audit", h.auditTrail)
			r.Post("/suspend", h.suspend)
			r.Post("/resume", h.resume)
			r.Post("/cancel", h.cancel)
		})
		r.Post("/api/bugs/{bugId}/assessments", h.generateAssessments)
		r.Get("/api/workflows/{name}", h.getDefinition)
	})

	return r
}
