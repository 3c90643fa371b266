package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"net/http"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/ria/internal/sample"
	"github.com/pitabwire/ria/internal/store"
)

// ==========================================================================
// Authentication Tests
// ==========================================================================

func TestSecurity_AnonymousProtectedOperations_Return401(t *testing.T) {
	h := NewTestHarness(t)

	requests := []struct {
		name string
		path string
		body any
	}{
		{"order query", "/services/OrderService/query/GetOrders", nil},
		{"order invoke", "/services/OrderService/invoke/OrderTotal", map[string]any{"number": "SO-1"}},
		{"order submit", "/services/OrderService/submit", SubmitBody("", map[string]any{
			"id": 0, "operation": "Insert", "type": "Order",
			"entity": map[string]any{"number": "SO-1", "customer": "Ada"},
		})},
		{"catalog insert", "/services/CatalogService/submit", SubmitBody("", map[string]any{
			"id": 0, "operation": "Insert", "type": "Category",
			"entity": map[string]any{"id": 9, "name": "Dairy"},
		})},
	}

	for _, tt := range requests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.body == nil {
				resp = h.GET(tt.path, "")
			} else {
				resp = h.POST(tt.path, tt.body, "")
			}
			h.AssertStatus(t, resp, http.StatusUnauthorized)
		})
	}
}

func TestSecurity_ExpiredJWT_Returns401(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateExpiredToken(ManagerClaims())

	resp := h.GET("/services", token)
	var body ErrorBody
	h.AssertJSON(t, resp, http.StatusUnauthorized, &body)
	if body.Error.Message != "Token expired" {
		t.Errorf("message = %q, want Token expired", body.Error.Message)
	}
}

func TestSecurity_InvalidSignature_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	// Generate a token signed with a different RSA key (not in JWKS).
	differentKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	claims := jwt.MapClaims{
		"iss":       "https://auth.test.ria.dev",
		"aud":       "ria-services-test",
		"sub":       "user-1",
		"tenant_id": DefaultTenant,
		"email":     "user@acme.com",
		"roles":     []any{sample.RoleCatalogAdmin},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(differentKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	resp := h.GET("/services", signed)
	h.AssertStatus(t, resp, http.StatusUnauthorized)
}

func TestSecurity_NoneAlgorithm_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	// Craft a "none" algorithm token manually.
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"admin","tenant_id":"acme-corp","iss":"https://auth.test.ria.dev","aud":"ria-services-test","roles":["catalog-admin"]}`))
	noneToken := header + "." + payload + "."

	resp := h.GET("/services", noneToken)
	h.AssertStatus(t, resp, http.StatusUnauthorized)
}

func TestSecurity_MalformedToken_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/services", "not.a.valid.jwt.token")
	h.AssertStatus(t, resp, http.StatusUnauthorized)

	resp = h.GET("/services", "", WithHeader("Authorization", "Basic dXNlcjpwYXNz"))
	h.AssertStatus(t, resp, http.StatusUnauthorized)
}

func TestSecurity_ValidJWT_Returns200(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ClerkClaims())

	resp := h.GET("/services/OrderService/query/GetOrders", token)
	h.AssertStatus(t, resp, http.StatusOK)
}

// ==========================================================================
// Cross-Tenant Isolation Tests
// ==========================================================================

func TestSecurity_TenantIsolation_SubmitsStayInTenant(t *testing.T) {
	h := NewTestHarness(t)
	globex := h.GenerateToken(OtherTenantClaims())

	// The other tenant starts with an empty catalog.
	resp := h.GET("/services/CatalogService/query/GetProducts", globex)
	var empty productResults
	h.AssertJSON(t, resp, http.StatusOK, &empty)
	if len(empty.Results) != 0 {
		t.Fatalf("globex sees %d products, want 0", len(empty.Results))
	}

	// Change sets persist once every entry has run, so the category goes
	// first on its own.
	resp = h.POST("/services/CatalogService/submit", SubmitBody("", map[string]any{
		"id": 0, "operation": "Insert", "type": "Category",
		"entity": map[string]any{"id": 1, "name": "Hardware"},
	}), globex)
	h.AssertStatus(t, resp, http.StatusOK)
	resp = h.POST("/services/CatalogService/submit", SubmitBody("", map[string]any{
		"id": 0, "operation": "Insert", "type": "Product",
		"entity": map[string]any{"name": "Anvil", "price": 99, "category_id": 1},
	}), globex)
	h.AssertStatus(t, resp, http.StatusOK)

	acme, err := store.Load[sample.Product](TenantContext(DefaultTenant), h.Entities, "1")
	if err != nil {
		t.Fatalf("load acme product: %v", err)
	}
	if acme.Name != "Espresso Beans" {
		t.Errorf("acme product 1 = %q, want Espresso Beans", acme.Name)
	}
	other, err := store.Load[sample.Product](TenantContext("globex"), h.Entities, "1")
	if err != nil {
		t.Fatalf("load globex product: %v", err)
	}
	if other.Name != "Anvil" {
		t.Errorf("globex product 1 = %q, want Anvil", other.Name)
	}
}

func TestSecurity_TenantIDFromJWT_NotRequestHeader(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OtherTenantClaims())

	resp := h.GET("/services/CatalogService/query/GetProducts", token, WithHeader("X-Tenant-Id", DefaultTenant))
	var body productResults
	h.AssertJSON(t, resp, http.StatusOK, &body)
	if len(body.Results) != 0 {
		t.Errorf("request header switched tenant: got %d products", len(body.Results))
	}
}

// ==========================================================================
// Privilege Escalation Prevention Tests
// ==========================================================================

func deleteProductBody(id int) map[string]any {
	return SubmitBody("", map[string]any{
		"id": 0, "operation": "Delete", "type": "Product",
		"entity": map[string]any{"id": id, "name": "x", "category_id": 1, "version": 1},
	})
}

func TestSecurity_ClerkCannotDeleteProduct(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.POST("/services/CatalogService/submit", deleteProductBody(2), h.GenerateToken(ClerkClaims()))
	var body ErrorBody
	h.AssertJSON(t, resp, http.StatusForbidden, &body)
	if body.Error.Code != "FORBIDDEN" {
		t.Errorf("code = %q, want FORBIDDEN", body.Error.Code)
	}

	if _, err := store.Load[sample.Product](TenantContext(DefaultTenant), h.Entities, "2"); err != nil {
		t.Errorf("product 2 should still exist: %v", err)
	}

	resp = h.POST("/services/CatalogService/submit", deleteProductBody(2), h.GenerateToken(ManagerClaims()))
	h.AssertStatus(t, resp, http.StatusOK)
	if _, err := store.Load[sample.Product](TenantContext(DefaultTenant), h.Entities, "2"); err == nil {
		t.Error("product 2 should be deleted by a catalog admin")
	}
}

func TestSecurity_RolePolicyGrantsInheritedRoles(t *testing.T) {
	shopManager := ClerkClaims()
	shopManager.Roles = []string{"shop-manager"}

	plain := NewTestHarness(t)
	resp := plain.POST("/services/CatalogService/submit", deleteProductBody(2), plain.GenerateToken(shopManager))
	plain.AssertStatus(t, resp, http.StatusForbidden)

	h := NewTestHarness(t, WithRolePolicy("testdata/roles.yaml"))
	resp = h.POST("/services/CatalogService/submit", deleteProductBody(2), h.GenerateToken(shopManager))
	h.AssertStatus(t, resp, http.StatusOK)
	if _, err := store.Load[sample.Product](TenantContext(DefaultTenant), h.Entities, "2"); err == nil {
		t.Error("product 2 should be deleted through the inherited catalog-admin role")
	}
}

func TestSecurity_AuthorizationCoversWholeChangeSet(t *testing.T) {
	h := NewTestHarness(t)

	// An allowed insert travelling with a forbidden delete must not be applied.
	body := SubmitBody("",
		map[string]any{
			"id": 0, "operation": "Insert", "type": "Product",
			"entity": map[string]any{"name": "Chai", "price": 4, "category_id": 1},
		},
		map[string]any{
			"id": 1, "operation": "Delete", "type": "Product",
			"entity": map[string]any{"id": 3, "name": "x", "category_id": 2, "version": 1},
		},
	)
	resp := h.POST("/services/CatalogService/submit", body, h.GenerateToken(ClerkClaims()))
	h.AssertStatus(t, resp, http.StatusForbidden)

	if _, err := store.Load[sample.Product](TenantContext(DefaultTenant), h.Entities, "5"); err == nil {
		t.Error("insert was applied although the change set was refused")
	}
}

// ==========================================================================
// Information Leakage Tests
// ==========================================================================

func TestSecurity_ErrorResponseNoStackTrace(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.POST("/services/CatalogService/submit", deleteProductBody(1), h.GenerateToken(ClerkClaims()))
	body := string(h.ReadBody(resp))

	sensitivePatterns := []string{
		"goroutine",
		".go:",
		"panic",
		"runtime.",
		"/internal/",
		"localhost",
	}
	for _, pattern := range sensitivePatterns {
		if strings.Contains(body, pattern) {
			t.Errorf("error response contains sensitive pattern %q: %s", pattern, body)
		}
	}
}

func TestSecurity_InvalidBodyIsRejected(t *testing.T) {
	h := NewTestHarness(t, WithMaxBodyBytes(256))
	token := h.GenerateToken(ManagerClaims())

	t.Run("malformed json", func(t *testing.T) {
		resp := h.POST("/services/CatalogService/submit", `{"entries":`, token)
		h.AssertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("oversized body", func(t *testing.T) {
		resp := h.POST("/services/CatalogService/submit", SubmitBody("", map[string]any{
			"id": 0, "operation": "Insert", "type": "Product",
			"entity": map[string]any{"name": strings.Repeat("x", 512), "category_id": 1},
		}), token)
		h.AssertStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("unknown entity type", func(t *testing.T) {
		resp := h.POST("/services/CatalogService/submit", SubmitBody("", map[string]any{
			"id": 0, "operation": "Insert", "type": "Order",
			"entity": map[string]any{"number": "SO-1"},
		}), token)
		h.AssertStatus(t, resp, http.StatusBadRequest)
	})
}

// ==========================================================================
// Security Headers Tests
// ==========================================================================

func TestSecurity_HeadersOnEveryResponse(t *testing.T) {
	h := NewTestHarness(t)
	clerk := h.GenerateToken(ClerkClaims())

	want := map[string]string{
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Referrer-Policy":           "no-referrer",
		"Cache-Control":             "no-store",
	}
	responses := []struct {
		name   string
		resp   *http.Response
		status int
	}{
		{"catalog listing", h.GET("/services", clerk), http.StatusOK},
		{"anonymous protected query", h.GET("/services/OrderService/query/GetOrders", ""), http.StatusUnauthorized},
		{"unknown operation", h.GET("/services/CatalogService/query/NoSuchQuery", clerk), http.StatusNotFound},
		{"health", h.GET("/health", ""), http.StatusOK},
	}
	for _, r := range responses {
		t.Run(r.name, func(t *testing.T) {
			h.AssertStatus(t, r.resp, r.status)
			for name, value := range want {
				if got := r.resp.Header.Get(name); got != value {
					t.Errorf("%s = %q, want %q", name, got, value)
				}
			}
		})
	}
}

func TestSecurity_CorrelationID(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ClerkClaims())

	generated := h.GET("/services", token).Header.Get("X-Correlation-Id")
	if generated == "" {
		t.Error("a correlation id should be generated when the client sends none")
	}

	echoed := h.GET("/services", token, WithHeader("X-Correlation-Id", "pos-terminal-42")).Header.Get("X-Correlation-Id")
	if echoed != "pos-terminal-42" {
		t.Errorf("X-Correlation-Id = %q, want the client's id echoed", echoed)
	}

	long := strings.Repeat("a", 512)
	replaced := h.GET("/services", token, WithHeader("X-Correlation-Id", long)).Header.Get("X-Correlation-Id")
	if replaced == long || replaced == "" {
		t.Errorf("oversized correlation id should be replaced, got %d bytes", len(replaced))
	}
}

func TestSecurity_CORS(t *testing.T) {
	h := NewTestHarness(t)

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantOrigin string
		wantStatus int
	}{
		{"allowed origin", http.MethodGet, "http://localhost:3000", false, "http://localhost:3000", http.StatusOK},
		{"disallowed origin", http.MethodGet, "https://evil.example.com", false, "", http.StatusOK},
		{"preflight", http.MethodOptions, "http://localhost:3000", true, "http://localhost:3000", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []RequestOption{WithHeader("Origin", tt.origin)}
			if tt.preflight {
				opts = append(opts, WithHeader("Access-Control-Request-Method", http.MethodPost))
			}
			var resp *http.Response
			if tt.method == http.MethodOptions {
				resp = h.send(http.MethodOptions, "/services/CatalogService/submit", nil, "", opts)
			} else {
				resp = h.GET("/health", "", opts...)
			}

			h.AssertStatus(t, resp, tt.wantStatus)
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}
