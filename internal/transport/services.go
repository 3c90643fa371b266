package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/ria/internal/catalog"
	"github.com/pitabwire/ria/internal/changeset"
	"github.com/pitabwire/ria/internal/observability"
	"github.com/pitabwire/ria/model"
)

// Factory returns the domain service instance that serves one request.
type Factory func(ctx context.Context) (any, error)

// Singleton returns a Factory that always serves svc. Use it for services
// that keep no per-request state.
func Singleton(svc any) Factory {
	return func(context.Context) (any, error) { return svc, nil }
}

// Host exposes registered domain services over HTTP. Every service shares
// the host's catalog and reconciler.
type Host struct {
	catalog    *catalog.Catalog
	reconciler *changeset.Reconciler
	metrics    *observability.Metrics
	logger     *zap.Logger

	mu       sync.RWMutex
	services map[string]*registration
}

type registration struct {
	desc    *catalog.Description
	factory Factory
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithMetrics records operation metrics on m.
func WithMetrics(m *observability.Metrics) HostOption {
	return func(h *Host) { h.metrics = m }
}

// WithHostLogger sets the fallback logger for requests that carry none.
func WithHostLogger(l *zap.Logger) HostOption {
	return func(h *Host) { h.logger = l }
}

// NewHost creates a Host describing services through cat and processing
// submits through rec.
func NewHost(cat *catalog.Catalog, rec *changeset.Reconciler, opts ...HostOption) *Host {
	h := &Host{
		catalog:    cat,
		reconciler: rec,
		logger:     zap.NewNop(),
		services:   make(map[string]*registration),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register describes the service produced by factory and exposes it under
// its description name.
func (h *Host) Register(factory Factory) (*catalog.Description, error) {
	svc, err := factory(context.Background())
	if err != nil {
		return nil, fmt.Errorf("creating service: %w", err)
	}
	desc, err := h.catalog.Describe(svc)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.services[desc.Name()]; dup {
		return nil, fmt.Errorf("service %s is already registered", desc.Name())
	}
	h.services[desc.Name()] = &registration{desc: desc, factory: factory}
	if h.metrics != nil {
		h.metrics.SetServicesRegistered(len(h.services))
	}
	return desc, nil
}

// Descriptions returns the registered service descriptions sorted by name.
func (h *Host) Descriptions() []*catalog.Description {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*catalog.Description, 0, len(h.services))
	for _, reg := range h.services {
		out = append(out, reg.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// HasServices reports whether at least one service is registered.
func (h *Host) HasServices() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.services) > 0
}

// Routes mounts the service endpoints on r.
func (h *Host) Routes(r chi.Router) {
	r.Get("/services", h.handleList)
	r.Route("/services/{service}", func(r chi.Router) {
		r.Get("/", h.handleDescribe)
		r.Get("/openapi.json", h.handleOpenAPI)
		r.Get("/query/{operation}", h.handleQuery)
		r.Post("/query/{operation}", h.handleQuery)
		r.Post("/invoke/{operation}", h.handleInvoke)
		r.Post("/submit", h.handleSubmit)
	})
}

// --- listing ---

type serviceInfo struct {
	Name        string          `json:"name"`
	EntityTypes []string        `json:"entity_types"`
	Operations  []operationInfo `json:"operations"`
}

type operationInfo struct {
	Name                  string                `json:"name"`
	Kind                  model.DomainOperation `json:"kind"`
	Parameters            []parameterInfo       `json:"parameters,omitempty"`
	ReturnType            string                `json:"return_type,omitempty"`
	RequiresAuthorization bool                  `json:"requires_authorization,omitempty"`
}

type parameterInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func describeService(desc *catalog.Description) serviceInfo {
	info := serviceInfo{Name: desc.Name(), EntityTypes: []string{}}
	for _, t := range desc.EntityTypes() {
		info.EntityTypes = append(info.EntityTypes, t.FullName())
	}
	for _, op := range desc.Operations() {
		oi := operationInfo{
			Name:                  op.Name,
			Kind:                  op.Operation,
			RequiresAuthorization: op.RequiresAuthorization(),
		}
		if op.ReturnType != nil {
			oi.ReturnType = op.ReturnType.FullName()
		}
		for _, p := range op.Parameters {
			oi.Parameters = append(oi.Parameters, parameterInfo{Name: p.Name, Type: p.Type.FullName()})
		}
		info.Operations = append(info.Operations, oi)
	}
	return info
}

func (h *Host) handleList(w http.ResponseWriter, r *http.Request) {
	descs := h.Descriptions()
	out := make([]serviceInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, describeService(d))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"services": out})
}

func (h *Host) handleDescribe(w http.ResponseWriter, r *http.Request) {
	reg, err := h.lookup(chi.URLParam(r, "service"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, describeService(reg.desc))
}

// --- operations ---

// QueryResponse is the body returned by a query.
type QueryResponse struct {
	Results    any `json:"results"`
	TotalCount int `json:"total_count"`
}

// InvokeResponse is the body returned by an invoke operation.
type InvokeResponse struct {
	Result any `json:"result"`
}

func (h *Host) handleQuery(w http.ResponseWriter, r *http.Request) {
	h.serveOperation(w, r, "query", func(desc *catalog.Description, name string) (*catalog.Entry, bool) {
		return desc.QueryMethod(name)
	}, func(op *catalog.Entry, result any, total int) any {
		results, count := normalizeResults(result)
		if total >= 0 {
			count = total
		}
		if q, ok := op.OperationAttribute().(model.Query); ok && q.ResultLimit > 0 {
			results = limitResults(results, q.ResultLimit)
		}
		return QueryResponse{Results: results, TotalCount: count}
	})
}

func (h *Host) handleInvoke(w http.ResponseWriter, r *http.Request) {
	h.serveOperation(w, r, "invoke", func(desc *catalog.Description, name string) (*catalog.Entry, bool) {
		op, ok := desc.Operation(name)
		if !ok || op.Operation != model.OperationInvoke {
			return nil, false
		}
		return op, true
	}, func(_ *catalog.Entry, result any, _ int) any {
		return InvokeResponse{Result: result}
	})
}

func (h *Host) serveOperation(
	w http.ResponseWriter,
	r *http.Request,
	kind string,
	resolve func(*catalog.Description, string) (*catalog.Entry, bool),
	respond func(op *catalog.Entry, result any, total int) any,
) {
	reg, err := h.lookup(chi.URLParam(r, "service"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	name := chi.URLParam(r, "operation")
	op, ok := resolve(reg.desc, name)
	if !ok {
		h.fail(w, r, model.NewNotFoundError(fmt.Sprintf("%s has no operation %q", reg.desc.Name(), name)))
		return
	}

	ctx, span := observability.StartOperationSpan(r.Context(), kind, reg.desc.Name(), op.Name)
	start := time.Now()
	result, total, err := h.callOperation(ctx, r, reg, op)
	observability.EndSpanWithError(span, err)
	h.recordOperation(reg.desc.Name(), op.Name, err, time.Since(start))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, respond(op, result, total))
}

func (h *Host) callOperation(ctx context.Context, r *http.Request, reg *registration, op *catalog.Entry) (any, int, error) {
	if err := op.Authorize(model.RequestContextFrom(ctx)); err != nil {
		return nil, -1, err
	}
	args, err := readArguments(r, op)
	if err != nil {
		return nil, -1, err
	}
	if results := h.reconciler.ValidateArguments(ctx, op, args); len(results) > 0 {
		return nil, -1, model.NewValidationError(fieldErrors(results))
	}
	svc, err := reg.factory(ctx)
	if err != nil {
		return nil, -1, err
	}
	return op.Invoke(ctx, svc, args)
}

func (h *Host) recordOperation(service, operation string, err error, d time.Duration) {
	if h.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	h.metrics.RecordOperation(service, operation, status, d)
}

// readArguments decodes the operation's parameters by name from a JSON
// object body, or from the query string when there is no body. Missing
// parameters take their zero value.
func readArguments(r *http.Request, op *catalog.Entry) ([]any, error) {
	raw := make(map[string]json.RawMessage)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, model.NewBadRequestError("Request body too large")
		}
		return nil, model.NewBadRequestError("Unreadable request body")
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, model.NewBadRequestError("Invalid JSON body: " + err.Error())
		}
	} else {
		q := r.URL.Query()
		for _, p := range op.Parameters {
			if !q.Has(p.Name) {
				continue
			}
			v := q.Get(p.Name)
			if p.Type.Reflect != nil && p.Type.Reflect.Kind() == reflect.String {
				raw[p.Name], _ = json.Marshal(v)
			} else {
				raw[p.Name] = json.RawMessage(v)
			}
		}
	}

	args := make([]any, len(op.Parameters))
	for i, p := range op.Parameters {
		if p.Type.Reflect == nil {
			return nil, fmt.Errorf("%s: parameter %s has no runtime type", op.Name, p.Name)
		}
		target := reflect.New(p.Type.Reflect)
		if v, ok := raw[p.Name]; ok {
			if err := json.Unmarshal(v, target.Interface()); err != nil {
				return nil, model.NewValidationError([]model.FieldError{{
					Field:   p.Name,
					Code:    "invalid",
					Message: fmt.Sprintf("%s must be a %s", p.Name, p.Type.FullName()),
				}})
			}
		}
		args[i] = target.Elem().Interface()
	}
	return args, nil
}

// normalizeResults turns a query result into a JSON array and its length.
func normalizeResults(result any) (any, int) {
	if result == nil {
		return []any{}, 0
	}
	rv := reflect.ValueOf(result)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}, 0
		}
		return result, rv.Len()
	case reflect.Pointer:
		if rv.IsNil() {
			return []any{}, 0
		}
	}
	return []any{result}, 1
}

// limitResults truncates a result slice to at most limit elements. The
// total count still reports the untruncated size.
func limitResults(results any, limit int) any {
	rv := reflect.ValueOf(results)
	if rv.Kind() != reflect.Slice || rv.Len() <= limit {
		return results
	}
	return rv.Slice(0, limit).Interface()
}

func fieldErrors(results []model.ValidationResult) []model.FieldError {
	out := make([]model.FieldError, 0, len(results))
	for _, res := range results {
		fe := model.FieldError{Code: res.ErrorCode, Message: res.Message}
		if fe.Code == "" {
			fe.Code = "invalid"
		}
		if len(res.Members) > 0 {
			fe.Field = res.Members[0]
		}
		out = append(out, fe)
	}
	return out
}

// --- submit ---

func (h *Host) handleSubmit(w http.ResponseWriter, r *http.Request) {
	reg, err := h.lookup(chi.URLParam(r, "service"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req model.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, model.NewBadRequestError("Invalid JSON body: "+err.Error()))
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("X-Idempotency-Key")
	}
	if len(req.Entries) == 0 {
		h.fail(w, r, model.NewBadRequestError("Change set has no entries"))
		return
	}

	svc, err := reg.factory(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := h.reconciler.SubmitWire(r.Context(), svc, &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// --- helpers ---

func (h *Host) lookup(name string) (*registration, error) {
	h.mu.RLock()
	reg, ok := h.services[name]
	h.mu.RUnlock()
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("service %q is not registered", name))
	}
	return reg, nil
}

// fail writes err and logs it when it is not a client error.
func (h *Host) fail(w http.ResponseWriter, r *http.Request, err error) {
	ee := toEnvelope(err)
	if ee.Code == model.ErrInternalError {
		observability.RequestLogger(r.Context(), h.logger).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	if ee.TraceID == "" {
		if id := observability.TraceIDFromContext(r.Context()); id != "" {
			cp := *ee
			cp.TraceID = id
			ee = &cp
		}
	}
	WriteJSONError(w, ee)
}

// SubmitMetrics adapts submit events to Prometheus metrics.
type SubmitMetrics struct {
	Metrics *observability.Metrics
}

// OnSubmit implements changeset.Observer.
func (s SubmitMetrics) OnSubmit(_ context.Context, ev changeset.SubmitEvent) {
	outcome := observability.SubmitOK
	switch {
	case ev.Error != "":
		outcome = observability.SubmitFailed
	case ev.HasError:
		outcome = observability.SubmitHasError
	}
	states := make(map[string]int, len(ev.States))
	for st, n := range ev.States {
		states[st.String()] += n
	}
	s.Metrics.RecordSubmit(ev.Service, outcome, states, ev.Duration)
}
