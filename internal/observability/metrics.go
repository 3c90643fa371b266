package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDurationBuckets      = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	operationDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	responseSizeBuckets      = prometheus.ExponentialBuckets(128, 4, 7)
	entryCountBuckets        = []float64{1, 2, 5, 10, 25, 50, 100, 250}
)

// unmatchedRoute labels requests that matched no chi route.
const unmatchedRoute = "unmatched"

// Submit outcomes.
const (
	SubmitOK       = "ok"
	SubmitHasError = "has_error"
	SubmitFailed   = "failed"
)

// Metrics holds all Prometheus metric instruments of the service host.
type Metrics struct {
	reg prometheus.Registerer

	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Change set metrics
	SubmitsTotal      *prometheus.CounterVec
	SubmitDuration    *prometheus.HistogramVec
	SubmitEntries     *prometheus.HistogramVec
	EntryOutcomeTotal *prometheus.CounterVec

	// Operation metrics
	OperationInvocationsTotal *prometheus.CounterVec
	OperationDuration         *prometheus.HistogramVec

	// Code generation metrics
	CodegenRunsTotal        *prometheus.CounterVec
	CodegenDiagnosticsTotal *prometheus.CounterVec

	// System metrics
	ServicesRegistered prometheus.Gauge
}

// InitMetrics creates the instruments of the service host and registers
// them with reg.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ria_http_requests_total",
			Help: "HTTP requests served, by route and status code.",
		}, []string{"method", "route", "code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ria_http_request_duration_seconds",
			Help:    "Time to serve an HTTP request, by route.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "route"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ria_http_response_size_bytes",
			Help:    "Size of HTTP response bodies, by route.",
			Buckets: responseSizeBuckets,
		}, []string{"method", "route"}),

		// Change sets
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ria_submits_total",
			Help: "Total number of change set submits by outcome.",
		}, []string{"service", "outcome"}),
		SubmitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ria_submit_duration_seconds",
			Help:    "Change set submit duration in seconds.",
			Buckets: operationDurationBuckets,
		}, []string{"service"}),
		SubmitEntries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ria_submit_entries",
			Help:    "Number of entries per submitted change set.",
			Buckets: entryCountBuckets,
		}, []string{"service"}),
		EntryOutcomeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ria_entry_outcomes_total",
			Help: "Total number of change set entries by final state.",
		}, []string{"service", "state"}),

		// Operations
		OperationInvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ria_operation_invocations_total",
			Help: "Total number of query and invoke operation calls.",
		}, []string{"service", "operation", "status"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ria_operation_duration_seconds",
			Help:    "Query and invoke operation duration in seconds.",
			Buckets: operationDurationBuckets,
		}, []string{"service", "operation"}),

		// Code generation
		CodegenRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ria_codegen_runs_total",
			Help: "Total number of client code generation passes.",
		}, []string{"status"}),
		CodegenDiagnosticsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ria_codegen_diagnostics_total",
			Help: "Total number of diagnostics logged during code generation.",
		}, []string{"severity"}),

		// System
		ServicesRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ria_services_registered",
			Help: "Number of domain services exposed by the host.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSizeBytes,
		m.SubmitsTotal,
		m.SubmitDuration,
		m.SubmitEntries,
		m.EntryOutcomeTotal,
		m.OperationInvocationsTotal,
		m.OperationDuration,
		m.CodegenRunsTotal,
		m.CodegenDiagnosticsTotal,
		m.ServicesRegistered,
	)

	return m
}

// RecordSubmit records a change set submit. states counts the entries by
// their final state name.
func (m *Metrics) RecordSubmit(service, outcome string, states map[string]int, duration time.Duration) {
	m.SubmitsTotal.WithLabelValues(service, outcome).Inc()
	m.SubmitDuration.WithLabelValues(service).Observe(duration.Seconds())
	total := 0
	for state, n := range states {
		m.EntryOutcomeTotal.WithLabelValues(service, state).Add(float64(n))
		total += n
	}
	m.SubmitEntries.WithLabelValues(service).Observe(float64(total))
}

// RecordOperation records a query or invoke operation call.
func (m *Metrics) RecordOperation(service, operation, status string, duration time.Duration) {
	m.OperationInvocationsTotal.WithLabelValues(service, operation, status).Inc()
	m.OperationDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordCodegen records a generation pass and the diagnostics it logged.
func (m *Metrics) RecordCodegen(status string, errors, warnings int) {
	m.CodegenRunsTotal.WithLabelValues(status).Inc()
	m.CodegenDiagnosticsTotal.WithLabelValues("error").Add(float64(errors))
	m.CodegenDiagnosticsTotal.WithLabelValues("warning").Add(float64(warnings))
}

// SetServicesRegistered sets the number of exposed domain services.
func (m *Metrics) SetServicesRegistered(count int) {
	m.ServicesRegistered.Set(float64(count))
}

// WatchCache exports the hit and miss counters of a memoizing cache under
// the given cache label.
func (m *Metrics) WatchCache(name string, stats func() (hits, misses int64)) {
	labels := prometheus.Labels{"cache": name}
	m.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "ria_cache_hits_total",
			Help:        "Total number of cache hits.",
			ConstLabels: labels,
		}, func() float64 {
			hits, _ := stats()
			return float64(hits)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "ria_cache_misses_total",
			Help:        "Total number of cache misses.",
			ConstLabels: labels,
		}, func() float64 {
			_, misses := stats()
			return float64(misses)
		}),
	)
}

// InstrumentHTTP counts and times the requests served by next. Requests are
// labelled with their chi route pattern, which is only known once the
// router has matched, so the label is resolved after next returns.
func (m *Metrics) InstrumentHTTP(next http.Handler) http.Handler {
	route := promhttp.WithLabelFromCtx("route", routeLabel)
	h := promhttp.InstrumentHandlerResponseSize(m.HTTPResponseSizeBytes, next, route)
	h = promhttp.InstrumentHandlerDuration(m.HTTPRequestDuration, h, route)
	return promhttp.InstrumentHandlerCounter(m.HTTPRequestsTotal, h, route)
}

func routeLabel(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics of g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
