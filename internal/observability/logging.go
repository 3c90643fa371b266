package observability

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/ria/internal/config"
	"github.com/pitabwire/ria/model"
)

// Context key for the logger.
type loggerKey struct{}

// NewLogger creates a zap.Logger configured for JSON output to stdout.
//
// Levels:
//   - error: store failures, panics, faulted entries, 5xx responses
//   - warn:  4xx responses, idempotency store failures, generator warnings
//   - info:  requests, service registration, startup and shutdown
//   - debug: redacted snapshots of faulted entities
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
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
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or the provided
// fallback if none is found.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns a logger enriched with RequestContext fields.
// If no logger is in the context, the fallback is used.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("tenant_id", rctx.TenantID),
		zap.String("subject_id", rctx.SubjectID),
		zap.String("correlation_id", rctx.CorrelationID),
	}

	// Include trace_id if present.
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}

	return logger.With(fields...)
}

// sensitiveFields names entity members whose values never reach the logs.
var sensitiveFields = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"api_key":       true,
	"authorization": true,
	"credit_card":   true,
	"email":         true,
	"phone":         true,
}

// RedactEntity renders entity through its JSON form with sensitive members
// replaced by "[REDACTED]". extra adds member names to the default set.
// Values that do not encode as a JSON object are returned as nil.
func RedactEntity(entity any, extra ...string) map[string]any {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}

	redact := make(map[string]bool, len(sensitiveFields)+len(extra))
	for k := range sensitiveFields {
		redact[k] = true
	}
	for _, f := range extra {
		redact[strings.ToLower(f)] = true
	}
	return redactFields(fields, redact)
}

func redactFields(fields map[string]any, redact map[string]bool) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if redact[strings.ToLower(k)] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = redactValue(v, redact)
	}
	return out
}

func redactValue(v any, redact map[string]bool) any {
	switch v := v.(type) {
	case map[string]any:
		return redactFields(v, redact)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactValue(item, redact)
		}
		return out
	default:
		return v
	}
}
