package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/bugtriage/internal/config"
	"github.com/pitabwire/bugtriage/model"
)

const tracerName = "github.com/pitabwire/bugtriage"

// Span attribute keys.
var (
	AttrTaskID      = attribute.Key("triage.task_id")
	AttrExecutionID = attribute.Key("triage.execution_id")
	AttrWorkflow    = attribute.Key("triage.workflow")
	AttrStepID      = attribute.Key("triage.step_id")
	AttrStatus      = attribute.Key("triage.status")
	AttrActionID    = attribute.Key("triage.action_id")
	AttrBugID       = attribute.Key("triage.bug_id")
	AttrIdemHit     = attribute.Key("triage.idempotency_hit")
)

const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

const defaultSamplingRate = 0.1

// InitTracing installs a global TracerProvider and the W3C trace context
// and baggage propagators. With tracing disabled nothing is installed and
// the shutdown func does nothing. Call shutdown before exit to flush.
func InitTracing(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (shutdown func(context.Context) error, err error) {
	shutdown = func(context.Context) error { return nil }
	if !cfg.Enabled {
		return shutdown, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
		attribute.String("service.commit", Commit),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg)),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLP, "":
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported exporter %q (use %s or %s)", cfg.Exporter, ExporterOTLP, ExporterStdout)
	}
}

// newSampler samples root spans at cfg.SamplingRate (clamped to (0,1],
// default 0.1) and follows the parent decision otherwise.
func newSampler(cfg config.TracingConfig) sdktrace.Sampler {
	rate := cfg.SamplingRate
	switch {
	case rate <= 0:
		rate = defaultSamplingRate
	case rate > 1:
		rate = 1
	}

	root := sdktrace.AlwaysSample()
	if rate < 1 {
		root = sdktrace.TraceIDRatioBased(rate)
	}
	sampler := sdktrace.ParentBased(root)
	if cfg.ForceSampleErrors {
		return recordDropped{sampler}
	}
	return sampler
}

// recordDropped keeps spans the delegate drops in RecordOnly mode, so
// EndSpanWithError can still mark failed actions on unsampled traces.
type recordDropped struct {
	sdktrace.Sampler
}

func (s recordDropped) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	res := s.Sampler.ShouldSample(p)
	if res.Decision == sdktrace.Drop {
		res.Decision = sdktrace.RecordOnly
	}
	return res
}

func (s recordDropped) Description() string {
	return "RecordDropped{" + s.Sampler.Description() + "}"
}

// Tracer returns the service tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts an internal span with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpanWithError records err, if any, and ends the span. Envelope errors
// also carry their code as an attribute.
func EndSpanWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if code := model.CodeOf(err); code != "" {
			span.SetAttributes(attribute.String("triage.error_code", code))
		}
	}
	span.End()
}

// AnnotateExecution adds the execution's identity and position to the span
// in ctx.
func AnnotateExecution(ctx context.Context, exec model.WorkflowExecution) {
	trace.SpanFromContext(ctx).SetAttributes(
		AttrExecutionID.String(exec.ID),
		AttrTaskID.String(exec.TaskID),
		AttrStepID.String(exec.CurrentStepID),
		AttrStatus.String(string(exec.Status)),
	)
}

// TraceIDFromContext returns the active trace ID, or "".
func TraceIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// TracingMiddleware starts a server span per request, continuing any
// inbound traceparent and echoing the trace context on the response. Once
// the router has matched, the span is renamed to the route pattern.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := Tracer().Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()

		propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

		rec := NewStatusRecorder(w)
		next.ServeHTTP(rec, r.WithContext(ctx))

		pattern := routePattern(r)
		span.SetName(r.Method + " " + pattern)
		span.SetAttributes(
			semconv.HTTPRoute(pattern),
			semconv.HTTPResponseStatusCode(rec.status),
		)
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}
