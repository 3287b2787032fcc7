package logz

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Init installs a JSON production logger as the zap global.
func Init(level, service string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	if service != "" {
		l = l.With(zap.String("service", service))
	}
	zap.ReplaceGlobals(l)
	return l
}

func NewLogger() *zap.Logger {
	return zap.L()
}

// Drop flushes buffered entries. Sync errors on stdout are expected inside Lambda.
func Drop() {
	_ = zap.L().Sync()
}

// ForInvocation binds the global logger to one Lambda invocation. The caller
// field is omitted for anonymous requests; trace fields only appear inside a
// valid span.
func ForInvocation(ctx context.Context, requestID, caller string) *zap.Logger {
	l := zap.L().With(zap.String("request_id", requestID))
	if caller != "" {
		l = l.With(zap.String("user", caller))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		l = l.With(
			zap.Stringer("trace_id", sc.TraceID()),
			zap.Stringer("span_id", sc.SpanID()),
			zap.Bool("sampled", sc.IsSampled()),
		)
	}
	return l
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
