// Package integration provides a reusable test harness for end-to-end
// integration testing of the ria service host. It starts a full HTTP server
// with the sample services, an in-memory entity store, a Redis-backed
// idempotency store, and a test JWT issuer.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/pitabwire/ria/client"
	"github.com/pitabwire/ria/internal/catalog"
	"github.com/pitabwire/ria/internal/changeset"
	"github.com/pitabwire/ria/internal/config"
	"github.com/pitabwire/ria/internal/observability"
	"github.com/pitabwire/ria/internal/rolepolicy"
	"github.com/pitabwire/ria/internal/sample"
	"github.com/pitabwire/ria/internal/store"
	"github.com/pitabwire/ria/internal/transport"
	"github.com/pitabwire/ria/internal/typesys"
	"github.com/pitabwire/ria/model"
)

// DefaultTenant is the tenant seeded with the sample catalog.
const DefaultTenant = "acme-corp"

// TestHarness encapsulates a fully wired service host for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Wired components, for tests that inspect state behind the API.
	Entities   *store.Entities
	Redis      *miniredis.Miniredis
	Metrics    *observability.Metrics
	Registry   *prometheus.Registry
	Reconciler *changeset.Reconciler

	cfg *config.Config
}

// HarnessOption changes how NewTestHarness wires the host.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout time.Duration
	maxBodyBytes   int64
	idempotency    bool
	seedTenants    []string
	wrap           func(http.Handler) http.Handler
	rolePolicy     string
}

// WithHandlerTimeout bounds each request's context by d.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithMaxBodyBytes sets the request body limit.
func WithMaxBodyBytes(n int64) HarnessOption {
	return func(c *harnessConfig) {
		c.maxBodyBytes = n
	}
}

// WithoutIdempotency disables submit deduplication.
func WithoutIdempotency() HarnessOption {
	return func(c *harnessConfig) {
		c.idempotency = false
	}
}

// WithSeededTenants seeds the sample catalog for each tenant instead of
// DefaultTenant alone.
func WithSeededTenants(tenants ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.seedTenants = tenants
	}
}

// WithHandlerWrapper wraps the router, for example to inject faults in
// front of it.
func WithHandlerWrapper(wrap func(http.Handler) http.Handler) HarnessOption {
	return func(c *harnessConfig) {
		c.wrap = wrap
	}
}

// WithRolePolicy expands token roles through the role policy file at path.
func WithRolePolicy(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.rolePolicy = path
	}
}

// NewTestHarness wires the host the way riaserver does, over in-memory
// stores, and serves it until the test ends.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		maxBodyBytes:   1 << 20,
		idempotency:    true,
		seedTenants:    []string{DefaultTenant},
	}
	for _, opt := range opts {
		opt(hc)
	}

	logger := zaptest.NewLogger(t)
	h := &TestHarness{t: t}

	// Step 1: Create JWT issuer.
	h.issuer = newTokenIssuer(t)

	// Step 2: Build config.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.MaxBodyBytes = hc.maxBodyBytes
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Enabled = true
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	h.cfg.Observability.Metrics.Enabled = true

	// Step 3: Build the entity store and seed it.
	universe := typesys.NewUniverse()
	h.Entities = store.NewEntities(store.NewMemoryStore(), universe)
	for _, tenant := range hc.seedTenants {
		ctx := model.WithRequestContext(context.Background(), &model.RequestContext{TenantID: tenant})
		if err := sample.Seed(ctx, h.Entities); err != nil {
			t.Fatalf("seed tenant %s: %v", tenant, err)
		}
	}

	// Step 4: Build metrics on a private registry.
	h.Registry = prometheus.NewRegistry()
	h.Metrics = observability.InitMetrics(h.Registry)

	// Step 5: Build the reconciler, optionally deduplicating through Redis.
	cat := catalog.New(universe)
	recOpts := []changeset.Option{
		changeset.WithConflictDetector(h.Entities),
		changeset.WithPersister(h.Entities),
		changeset.WithLogger(logger),
		changeset.WithObserver(transport.SubmitMetrics{Metrics: h.Metrics}),
	}
	readiness := observability.ReadinessChecks{EntityStore: h.Entities}
	if hc.idempotency {
		h.Redis = miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		t.Cleanup(func() { rdb.Close() })
		idem := changeset.NewRedisIdempotencyStore(rdb)
		recOpts = append(recOpts, changeset.WithIdempotencyStore(idem, time.Hour))
		readiness.IdempotencyStore = idem
	}
	h.Reconciler = changeset.New(cat, recOpts...)

	// Step 6: Register the sample services.
	host := transport.NewHost(cat, h.Reconciler,
		transport.WithMetrics(h.Metrics),
		transport.WithHostLogger(logger),
	)
	if err := sample.Register(host, h.Entities); err != nil {
		t.Fatalf("register services: %v", err)
	}
	readiness.ServicesRegistered = host.HasServices

	// Step 7: Build router with full middleware chain.
	var roles transport.RoleResolver
	if hc.rolePolicy != "" {
		policy, err := rolepolicy.NewStaticPolicy(hc.rolePolicy)
		if err != nil {
			t.Fatalf("load role policy: %v", err)
		}
		roles = rolepolicy.NewResolver(policy, h.cfg.Identity.RoleCacheTTL)
	}
	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), h.cfg.Identity.JWKSCacheTTL, logger)
	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Logger:       logger,
		Host:         host,
		Metrics:      h.Metrics,
		Gatherer:     h.Registry,
		Readiness:    readiness,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Roles:        roles,
	})

	// Step 8: Start test server.
	var handler http.Handler = router
	if hc.wrap != nil {
		handler = hc.wrap(router)
	}
	h.server = httptest.NewServer(handler)
	t.Cleanup(func() {
		h.server.Close()
	})

	return h
}

// GenerateToken signs a token for claims, valid for an hour.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken signs a token for claims that is already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// Transport returns a client transport for the test server sending token.
// Extra options are applied after the defaults.
func (h *TestHarness) Transport(token string, opts ...client.HTTPOption) *client.HTTPTransport {
	base := []client.HTTPOption{
		client.WithHTTPClient(h.server.Client()),
		client.WithRetry(1, time.Millisecond),
		client.WithTransportLogger(zaptest.NewLogger(h.t)),
	}
	if token != "" {
		base = append(base, client.WithToken(token))
	}
	return client.NewHTTPTransport(h.server.URL, append(base, opts...)...)
}

// TenantContext returns a context scoped to tenant for direct store access.
func TenantContext(tenant string) context.Context {
	return model.WithRequestContext(context.Background(), &model.RequestContext{TenantID: tenant})
}

// RequestOption adjusts a request built by GET or POST.
type RequestOption func(*http.Request)

// WithHeader sets header k to v on the request.
func WithHeader(k, v string) RequestOption {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

// GET sends a GET to path, authenticated with token unless it is empty.
func (h *TestHarness) GET(path, token string, opts ...RequestOption) *http.Response {
	h.t.Helper()
	return h.send(http.MethodGet, path, nil, token, opts)
}

// POST sends body to path as JSON. A string body is sent verbatim, which
// lets tests submit malformed payloads.
func (h *TestHarness) POST(path string, body any, token string, opts ...RequestOption) *http.Response {
	h.t.Helper()
	return h.send(http.MethodPost, path, body, token, opts)
}

func (h *TestHarness) send(method, path string, body any, token string, opts []RequestOption) *http.Response {
	h.t.Helper()

	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		if payload, err = json.Marshal(b); err != nil {
			h.t.Fatalf("encode %s %s body: %v", method, path, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	h.t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, method, h.server.URL+path, bytes.NewReader(payload))
	if err != nil {
		h.t.Fatalf("build %s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := h.server.Client().Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	h.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ReadBody drains the response body.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read %s response: %v", resp.Request.URL.Path, err)
	}
	return data
}

// ParseJSON decodes the response body into target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	data := h.ReadBody(resp)
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("decode %s response: %v\n%s", resp.Request.URL.Path, err, data)
	}
}

// AssertStatus reports an error, with the body, when resp does not carry
// status want.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Errorf("%s %s: status %d, want %d\n%s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, h.ReadBody(resp))
	}
}

// AssertJSON stops the test unless resp carries status want, then decodes
// the body into target.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, want int, target any) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d\n%s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, h.ReadBody(resp))
	}
	h.ParseJSON(resp, target)
}

// ManagerClaims returns TestClaims for a user administering the catalog
// and fulfilling orders.
func ManagerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-manager",
		TenantID:  DefaultTenant,
		Email:     "manager@acme.example.com",
		Roles:     []string{sample.RoleCatalogAdmin, sample.RoleFulfilment},
	}
}

// ClerkClaims returns TestClaims for an authenticated user without roles.
func ClerkClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-clerk",
		TenantID:  DefaultTenant,
		Email:     "clerk@acme.example.com",
	}
}

// OtherTenantClaims returns TestClaims for a manager of another tenant.
func OtherTenantClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-globex",
		TenantID:  "globex",
		Email:     "manager@globex.example.com",
		Roles:     []string{sample.RoleCatalogAdmin, sample.RoleFulfilment},
	}
}

// ErrorBody is the error response written by the host.
type ErrorBody struct {
	Error model.ErrorEnvelope `json:"error"`
}

// SubmitBody builds a submit request body from wire entries.
func SubmitBody(key string, entries ...map[string]any) map[string]any {
	body := map[string]any{"entries": entries}
	if key != "" {
		body["idempotency_key"] = key
	}
	return body
}

// FormatJSON renders v for failure messages.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
