package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/bugtriage/internal/config"
	"github.com/pitabwire/bugtriage/model"
)

type loggerKey struct{}

// Log format names accepted by ObservabilityConfig.LogFormat.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// NewLogger builds the process logger. Output goes to stdout; the format is
// JSON unless cfg.LogFormat is "console". Every entry carries the service
// name and build version.
//
// Levels:
//   - error: store or broker failures, panics, 5xx responses
//   - warn:  rejected actions, unmatched transitions, skipped definitions
//   - info:  workflow lifecycle, definition publishes, server start/stop
//   - debug: condition explanations, idempotent replays, watcher events
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	return newLogger(zapcore.Lock(os.Stdout), cfg.LogFormat, level), nil
}

func newLogger(out zapcore.WriteSyncer, format string, level zapcore.Level) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var enc zapcore.Encoder
	if strings.EqualFold(format, LogFormatConsole) {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, out, zap.NewAtomicLevelAt(level))
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	).With(
		zap.String("service", "bug-triage"),
		zap.String("version", Version),
	)
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context logger annotated with the caller's
// actor, correlation ID and trace ID.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("actor", rctx.Actor()),
		zap.String("correlation_id", rctx.CorrelationID),
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}
	return logger.With(fields...)
}

// ExecutionFields identifies an execution in log entries.
func ExecutionFields(exec model.WorkflowExecution) []zap.Field {
	return []zap.Field{
		zap.String("execution_id", exec.ID),
		zap.String("task_id", exec.TaskID),
		zap.String("step_id", exec.CurrentStepID),
		zap.String("status", string(exec.Status)),
	}
}

const redacted = "[REDACTED]"

// sensitiveKeys are context keys never written to logs. Matching is
// case-insensitive.
var sensitiveKeys = map[string]bool{
	"password":       true,
	"secret":         true,
	"token":          true,
	"api_key":        true,
	"authorization":  true,
	"email":          true,
	"reporter_email": true,
	"phone":          true,
	"patient_id":     true,
}

// RedactContext returns a copy of c with sensitive keys replaced, recursing
// into nested maps. extra names additional keys to hide.
func RedactContext(c model.Context, extra ...string) model.Context {
	if c == nil {
		return nil
	}
	hide := func(k string) bool {
		k = strings.ToLower(k)
		if sensitiveKeys[k] {
			return true
		}
		for _, e := range extra {
			if strings.EqualFold(e, k) {
				return true
			}
		}
		return false
	}

	var walk func(model.Context) model.Context
	walk = func(in model.Context) model.Context {
		out := make(model.Context, len(in))
		for k, v := range in {
			switch {
			case hide(k):
				out[k] = model.String(redacted)
			case v.Kind() == model.KindMap:
				m, _ := v.AsMap()
				out[k] = model.Map(walk(m))
			default:
				out[k] = v
			}
		}
		return out
	}
	return walk(c)
}
