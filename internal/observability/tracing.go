package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
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

	"github.com/pitabwire/ria/internal/config"
	"github.com/pitabwire/ria/model"
)

const tracerName = "github.com/pitabwire/ria"

// Span names used by the service host.
const (
	SpanSubmit = "ria.submit"
	SpanEntry  = "ria.entry"
)

// Attribute keys for domain service spans.
var (
	AttrService    = attribute.Key("ria.service")
	AttrOperation  = attribute.Key("ria.operation")
	AttrEntryID    = attribute.Key("ria.entry_id")
	AttrEntryCount = attribute.Key("ria.entry_count")
	AttrEntryState = attribute.Key("ria.entry_state")
	AttrTenantID   = attribute.Key("ria.tenant_id")
	AttrSubjectID  = attribute.Key("ria.subject_id")
	AttrReplayed   = attribute.Key("ria.replayed")
)

// InitTracing installs the global TracerProvider. The returned function
// flushes pending spans.
func InitTracing(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp", "":
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout)", cfg.Exporter)
	}
}

// newSampler samples root spans at the configured ratio, 10% when unset,
// and follows the caller's decision for remote parents.
func newSampler(cfg config.TracingConfig) sdktrace.Sampler {
	rate := cfg.SamplingRate
	if rate <= 0 {
		rate = 0.1
	}
	if rate >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span with the package-level tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	var opts []trace.SpanStartOption
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	return Tracer().Start(ctx, name, opts...)
}

// StartOperationSpan starts the span of a query or invoke call, tagged with
// the caller recorded in ctx.
func StartOperationSpan(ctx context.Context, kind, service, operation string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		AttrService.String(service),
		AttrOperation.String(operation),
	}
	attrs = append(attrs, callerAttributes(ctx)...)
	return StartSpan(ctx, "ria."+kind, attrs...)
}

// StartSubmitSpan starts the span covering a whole change set.
func StartSubmitSpan(ctx context.Context, service string, entries int) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		AttrService.String(service),
		AttrEntryCount.Int(entries),
	}
	attrs = append(attrs, callerAttributes(ctx)...)
	return StartSpan(ctx, SpanSubmit, attrs...)
}

// StartEntrySpan starts the child span of one change set entry.
func StartEntrySpan(ctx context.Context, operation string, entryID int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanEntry,
		AttrOperation.String(operation),
		AttrEntryID.Int(entryID),
	)
}

// EndEntrySpan records the final state of an entry and ends its span.
func EndEntrySpan(span trace.Span, state model.EntryState, err error) {
	span.SetAttributes(AttrEntryState.String(state.String()))
	EndSpanWithError(span, err)
}

// MarkReplayed flags the active span as served from a stored response.
func MarkReplayed(ctx context.Context) {
	trace.SpanFromContext(ctx).SetAttributes(AttrReplayed.Bool(true))
}

func callerAttributes(ctx context.Context) []attribute.KeyValue {
	rctx := model.RequestContextFrom(ctx)
	if !rctx.IsAuthenticated() {
		return nil
	}
	return []attribute.KeyValue{
		AttrTenantID.String(rctx.TenantID),
		AttrSubjectID.String(rctx.SubjectID),
	}
}

// EndSpanWithError ends a span, setting its status to error if err is non-nil.
func EndSpanWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceIDFromContext returns the trace ID of the active span, or "" when
// there is none.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// TracingMiddleware starts a server span per request, continuing any W3C
// traceparent sent by the client. Spans are renamed after the matched chi
// route so service and operation names do not explode span cardinality.
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
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				span.SetName(r.Method + " " + pattern)
				span.SetAttributes(semconv.HTTPRoute(pattern))
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}

// InjectTraceHeaders writes the trace context of ctx into outbound request
// headers.
func InjectTraceHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
