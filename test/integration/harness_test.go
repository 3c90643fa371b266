package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/ria/internal/observability"
	"github.com/pitabwire/ria/internal/sample"
	"github.com/pitabwire/ria/internal/store"
)

type productBody struct {
	ID         int     `json:"id"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Status     int     `json:"status"`
	CategoryID int     `json:"category_id"`
	Version    int     `json:"version"`
}

type productResults struct {
	Results    []productBody `json:"results"`
	TotalCount int           `json:"total_count"`
}

func TestHarness_HealthEndpoints(t *testing.T) {
	h := NewTestHarness(t)

	t.Run("health", func(t *testing.T) {
		resp := h.GET("/health", "")
		var body observability.HealthResponse
		h.AssertJSON(t, resp, http.StatusOK, &body)
		if body.Status != "ok" {
			t.Errorf("health status = %q, want ok", body.Status)
		}
	})

	t.Run("ready", func(t *testing.T) {
		resp := h.GET("/ready", "")
		var body observability.ReadinessResponse
		h.AssertJSON(t, resp, http.StatusOK, &body)
		for _, check := range []string{"services", "entity_store", "idempotency_store"} {
			if body.Checks[check].Status != "ok" {
				t.Errorf("check %s = %+v, want ok", check, body.Checks[check])
			}
		}
	})

	t.Run("ready without redis", func(t *testing.T) {
		h := NewTestHarness(t)
		h.Redis.Close()
		resp := h.GET("/ready", "")
		h.AssertStatus(t, resp, http.StatusServiceUnavailable)
	})
}

func TestHarness_ServiceListing(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/services", h.GenerateToken(ClerkClaims()))
	var body struct {
		Services []struct {
			Name       string `json:"name"`
			Operations []struct {
				Name string `json:"name"`
				Kind string `json:"kind"`
			} `json:"operations"`
		} `json:"services"`
	}
	h.AssertJSON(t, resp, http.StatusOK, &body)

	kinds := make(map[string]string)
	for _, svc := range body.Services {
		for _, op := range svc.Operations {
			kinds[svc.Name+"."+op.Name] = op.Kind
		}
	}
	for name, want := range map[string]string{
		"CatalogService.GetProducts":     "Query",
		"CatalogService.InsertProduct":   "Insert",
		"CatalogService.Discontinue":     "Custom",
		"CatalogService.CountByCategory": "Invoke",
		"OrderService.Ship":              "Custom",
		"OrderService.DeleteOrderLine":   "Delete",
	} {
		if kinds[name] != want {
			t.Errorf("%s kind = %q, want %q", name, kinds[name], want)
		}
	}

	t.Run("unknown service", func(t *testing.T) {
		resp := h.GET("/services/NoSuchService/", "")
		h.AssertStatus(t, resp, http.StatusNotFound)
	})
}

func TestHarness_AnonymousCatalogQuery(t *testing.T) {
	h := NewTestHarness(t)

	// Anonymous callers have no tenant and see an empty catalog.
	resp := h.GET("/services/CatalogService/query/GetProducts", "")
	var anon productResults
	h.AssertJSON(t, resp, http.StatusOK, &anon)
	if len(anon.Results) != 0 {
		t.Errorf("anonymous results = %d, want 0", len(anon.Results))
	}

	resp = h.GET("/services/CatalogService/query/GetProducts", h.GenerateToken(ClerkClaims()))
	var body productResults
	h.AssertJSON(t, resp, http.StatusOK, &body)
	if len(body.Results) != 4 || body.TotalCount != 4 {
		t.Errorf("results = %d, total = %d, want 4 and 4", len(body.Results), body.TotalCount)
	}
}

func TestHarness_OrderServiceRequiresAuthentication(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/services/OrderService/query/GetOrders", "")
	var errBody ErrorBody
	h.AssertJSON(t, resp, http.StatusUnauthorized, &errBody)
	if errBody.Error.Code != "UNAUTHORIZED" {
		t.Errorf("code = %q, want UNAUTHORIZED", errBody.Error.Code)
	}

	resp = h.GET("/services/OrderService/query/GetOrders", h.GenerateToken(ClerkClaims()))
	h.AssertStatus(t, resp, http.StatusOK)
}

func TestHarness_SubmitOverHTTP(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ManagerClaims())

	resp := h.POST("/services/CatalogService/submit", SubmitBody("",
		map[string]any{
			"id":        0,
			"operation": "Insert",
			"type":      "Product",
			"entity":    map[string]any{"name": "Oat Milk", "price": 2.4, "category_id": 1},
		},
	), token)
	var out struct {
		HasError bool `json:"has_error"`
		Entries  []struct {
			State  string      `json:"state"`
			Entity productBody `json:"entity"`
		} `json:"entries"`
	}
	h.AssertJSON(t, resp, http.StatusOK, &out)
	if out.HasError || out.Entries[0].State != "Succeeded" {
		t.Fatalf("submit = %s", FormatJSON(out))
	}
	if out.Entries[0].Entity.ID != 5 || out.Entries[0].Entity.Version != 1 {
		t.Errorf("inserted = %+v, want id 5 version 1", out.Entries[0].Entity)
	}

	stored, err := store.Load[sample.Product](TenantContext(DefaultTenant), h.Entities, "5")
	if err != nil {
		t.Fatalf("load stored product: %v", err)
	}
	if stored.Name != "Oat Milk" {
		t.Errorf("stored name = %q", stored.Name)
	}

	if got := testutil.ToFloat64(h.Metrics.SubmitsTotal.WithLabelValues("CatalogService", observability.SubmitOK)); got != 1 {
		t.Errorf("ok submits = %v, want 1", got)
	}
}

func TestHarness_InvokeOperation(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ClerkClaims())

	resp := h.POST("/services/CatalogService/invoke/CountByCategory", map[string]any{"categoryID": 2}, token)
	var body struct {
		Result int `json:"result"`
	}
	h.AssertJSON(t, resp, http.StatusOK, &body)
	if body.Result != 2 {
		t.Errorf("CountByCategory(2) = %d, want 2", body.Result)
	}

	t.Run("queries are not invocable", func(t *testing.T) {
		resp := h.POST("/services/CatalogService/invoke/GetProducts", map[string]any{}, token)
		h.AssertStatus(t, resp, http.StatusNotFound)
	})
}

func TestHarness_MetricsEndpoint(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(ClerkClaims())
	h.AssertStatus(t, h.GET("/services/CatalogService/query/GetProducts", token), http.StatusOK)

	body := string(h.ReadBody(h.GET("/metrics", "")))
	for _, want := range []string{
		`ria_operation_invocations_total{operation="GetProducts",service="CatalogService",status="ok"} 1`,
		"ria_http_requests_total",
		"ria_services_registered 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
