package sample

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pitabwire/ria/internal/catalog"
	"github.com/pitabwire/ria/internal/changeset"
	"github.com/pitabwire/ria/internal/config"
	"github.com/pitabwire/ria/internal/store"
	"github.com/pitabwire/ria/internal/transport"
	"github.com/pitabwire/ria/internal/typesys"
	"github.com/pitabwire/ria/model"
)

const testTenant = "acme"

type fixture struct {
	entities *store.Entities
	router   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	u := typesys.NewUniverse()
	entities := store.NewEntities(store.NewMemoryStore(), u)
	if err := Seed(tenantCtx(testTenant), entities); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	cat := catalog.New(u)
	rec := changeset.New(cat,
		changeset.WithConflictDetector(entities),
		changeset.WithPersister(entities),
	)
	host := transport.NewHost(cat, rec)
	if err := Register(host, entities); err != nil {
		t.Fatalf("Register: %v", err)
	}

	router := transport.NewRouter(transport.Dependencies{
		Config: config.Defaults(),
		Host:   host,
		Authenticate: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				claims := map[string]any{"tenant_id": testTenant}
				if tenant := r.Header.Get("X-Test-Tenant"); tenant != "" {
					claims["tenant_id"] = tenant
				}
				if sub := r.Header.Get("X-Test-Subject"); sub != "" {
					claims["sub"] = sub
					claims["roles"] = r.Header.Get("X-Test-Roles")
				}
				next.ServeHTTP(w, r.WithContext(transport.WithClaims(r.Context(), claims)))
			})
		},
	})
	return &fixture{entities: entities, router: router}
}

func tenantCtx(tenant string) context.Context {
	return model.WithRequestContext(context.Background(), &model.RequestContext{TenantID: tenant})
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %s: %v", w.Body.String(), err)
	}
	return v
}

type productPage struct {
	Results    []*Product `json:"results"`
	TotalCount int        `json:"total_count"`
}

func (f *fixture) submit(t *testing.T, service, body string, headers ...string) model.SubmitResponse {
	t.Helper()
	w := f.do(t, "POST", "/services/"+service+"/submit", body, headers...)
	if w.Code != 200 {
		t.Fatalf("submit status = %d, body = %s", w.Code, w.Body)
	}
	return decode[model.SubmitResponse](t, w)
}

func TestDescribe(t *testing.T) {
	cat := catalog.New(typesys.NewUniverse())

	desc, err := cat.Describe(NewCatalogService(nil))
	if err != nil {
		t.Fatalf("Describe(CatalogService): %v", err)
	}
	kinds := map[string]model.DomainOperation{
		"GetProductsByCategory": model.OperationQuery,
		"SearchProducts":        model.OperationQuery,
		"InsertProduct":         model.OperationInsert,
		"UpdateProduct":         model.OperationUpdate,
		"DeleteProduct":         model.OperationDelete,
		"Discontinue":           model.OperationCustom,
		"AdjustPrice":           model.OperationCustom,
		"CountByCategory":       model.OperationInvoke,
	}
	for name, want := range kinds {
		op, ok := desc.Operation(name)
		if !ok {
			t.Errorf("operation %s missing", name)
			continue
		}
		if op.Operation != want {
			t.Errorf("%s kind = %v, want %v", name, op.Operation, want)
		}
	}
	if _, ok := desc.EntityByName("Category"); !ok {
		t.Error("Category should be an entity of CatalogService")
	}

	orders, err := cat.Describe(NewOrderService(nil))
	if err != nil {
		t.Fatalf("Describe(OrderService): %v", err)
	}
	if _, ok := orders.EntityByName("OrderLine"); !ok {
		t.Error("OrderLine should be reachable through the Order_Lines composition")
	}
	for _, op := range orders.Operations() {
		if !op.RequiresAuthorization() {
			t.Errorf("%s should inherit the service authentication requirement", op.Name)
		}
	}
}

func TestCatalogQueries(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/services/CatalogService/query/GetProductsByCategory?categoryID=2", "")
	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	page := decode[productPage](t, w)
	if len(page.Results) != 1 || page.Results[0].Name != "Sourdough Loaf" {
		t.Errorf("results = %+v, want only the active bakery product", page.Results)
	}
	if page.TotalCount != 2 {
		t.Errorf("total_count = %d, want 2", page.TotalCount)
	}

	w = f.do(t, "POST", "/services/CatalogService/query/SearchProducts", `{"term":"TEA"}`)
	page = decode[productPage](t, w)
	if len(page.Results) != 1 || page.Results[0].ID != 2 {
		t.Errorf("search results = %+v", page.Results)
	}

	w = f.do(t, "POST", "/services/CatalogService/query/SearchProducts", `{"term":"t"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("short term status = %d, want 422", w.Code)
	}

	w = f.do(t, "GET", "/services/CatalogService/query/GetProduct?id=42", "")
	if w.Code != 404 {
		t.Errorf("missing product status = %d, want 404", w.Code)
	}

	w = f.do(t, "POST", "/services/CatalogService/invoke/CountByCategory", `{"categoryID":1}`)
	if got := decode[struct{ Result int }](t, w).Result; got != 2 {
		t.Errorf("CountByCategory = %d, want 2", got)
	}
}

func TestCatalogTenantIsolation(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/services/CatalogService/query/GetProducts", "", "X-Test-Tenant", "globex")
	page := decode[productPage](t, w)
	if len(page.Results) != 0 {
		t.Errorf("another tenant sees %d products, want 0", len(page.Results))
	}
}

func TestInsertProduct(t *testing.T) {
	f := newFixture(t)

	resp := f.submit(t, "CatalogService", `{"entries":[
		{"id":1,"operation":"Insert","type":"Product","entity":{"name":"Oolong","price":8,"category_id":1}},
		{"id":2,"operation":"Insert","type":"Product","entity":{"name":"Rye","price":4,"category_id":2}}
	]}`)
	if resp.HasError {
		t.Fatalf("unexpected error: %+v", resp.Entries)
	}
	var first Product
	json.Unmarshal(resp.Entries[0].Entity, &first)
	if first.ID != 5 || first.Version != 1 {
		t.Errorf("first insert = %+v, want id 5 version 1", first)
	}

	stored, err := store.Load[Product](tenantCtx(testTenant), f.entities, "6")
	if err != nil {
		t.Fatalf("second insert not persisted: %v", err)
	}
	if stored.Name != "Rye" {
		t.Errorf("stored name = %q", stored.Name)
	}
}

func TestInsertProduct_rejected(t *testing.T) {
	f := newFixture(t)

	resp := f.submit(t, "CatalogService", `{"entries":[
		{"id":1,"operation":"Insert","type":"Product","entity":{"name":"Ghost","category_id":9}},
		{"id":2,"operation":"Insert","type":"Product","entity":{"name":"","category_id":1}}
	]}`)
	if !resp.HasError {
		t.Fatal("submit should report errors")
	}
	for _, e := range resp.Entries {
		if e.State != model.EntryValidationFailed || len(e.ValidationErrors) == 0 {
			t.Errorf("entry %d state = %v errors = %v", e.ID, e.State, e.ValidationErrors)
		}
	}
	if members := resp.Entries[0].ValidationErrors[0].Members; len(members) != 1 || members[0] != "category_id" {
		t.Errorf("members = %v, want [category_id]", members)
	}

	all, _ := store.LoadAll[Product](tenantCtx(testTenant), f.entities)
	if len(all) != 4 {
		t.Errorf("stored products = %d, want the seeded 4", len(all))
	}
}

func TestUpdateProduct_conflict(t *testing.T) {
	f := newFixture(t)

	resp := f.submit(t, "CatalogService", `{"entries":[{
		"id":1,"operation":"Update","type":"Product","has_member_changes":true,
		"entity":{"id":1,"name":"Espresso","price":15,"category_id":1,"version":0},
		"original_entity":{"id":1,"name":"Espresso Beans","price":14.5,"category_id":1,"version":0}
	}]}`)
	e := resp.Entries[0]
	if e.State != model.EntryConflictDetected {
		t.Fatalf("state = %v, want ConflictDetected", e.State)
	}
	if len(e.ConflictMembers) != 1 || e.ConflictMembers[0] != "version" {
		t.Errorf("conflict members = %v, want [version]", e.ConflictMembers)
	}
	var current Product
	json.Unmarshal(e.StoreEntity, &current)
	if current.Version != 1 {
		t.Errorf("store entity version = %d, want 1", current.Version)
	}

	resp = f.submit(t, "CatalogService", `{"entries":[{
		"id":1,"operation":"Update","type":"Product","has_member_changes":true,
		"entity":{"id":1,"name":"Espresso","price":15,"category_id":1,"version":1},
		"original_entity":{"id":1,"name":"Espresso Beans","price":14.5,"category_id":1,"version":1}
	}]}`)
	if resp.HasError {
		t.Fatalf("fresh update failed: %+v", resp.Entries[0])
	}
	stored, _ := store.Load[Product](tenantCtx(testTenant), f.entities, "1")
	if stored.Name != "Espresso" || stored.Version != 2 {
		t.Errorf("stored = %+v, want renamed at version 2", stored)
	}
}

func TestEntityActions(t *testing.T) {
	f := newFixture(t)
	body := `{"entries":[{
		"id":1,"operation":"Update","type":"Product",
		"entity":{"id":2,"name":"Green Tea","price":6.25,"category_id":1,"version":1},
		"entity_actions":[{"name":"Discontinue"},{"name":"AdjustPrice","args":[10]}]
	}]}`

	w := f.do(t, "POST", "/services/CatalogService/submit", body)
	if w.Code != 401 {
		t.Fatalf("anonymous entity action status = %d, want 401", w.Code)
	}

	resp := f.submit(t, "CatalogService", body, "X-Test-Subject", "u1")
	if resp.HasError {
		t.Fatalf("unexpected error: %+v", resp.Entries[0])
	}
	stored, _ := store.Load[Product](tenantCtx(testTenant), f.entities, "2")
	if stored.Status != ProductDiscontinued {
		t.Errorf("status = %v, want discontinued", stored.Status)
	}
	if stored.Price != 6.88 {
		t.Errorf("price = %v, want 6.88", stored.Price)
	}
}

func TestDeleteProduct_requiresRole(t *testing.T) {
	f := newFixture(t)
	body := `{"entries":[{"id":1,"operation":"Delete","type":"Product",
		"entity":{"id":4,"name":"Rye Crackers","price":3.75,"status":1,"category_id":2,"version":1}}]}`

	w := f.do(t, "POST", "/services/CatalogService/submit", body, "X-Test-Subject", "u1")
	if w.Code != 403 {
		t.Fatalf("status = %d, want 403 without catalog-admin", w.Code)
	}

	resp := f.submit(t, "CatalogService", body, "X-Test-Subject", "u1", "X-Test-Roles", RoleCatalogAdmin)
	if resp.HasError || resp.Entries[0].Entity != nil {
		t.Errorf("delete = %+v", resp.Entries[0])
	}
	if _, err := store.Load[Product](tenantCtx(testTenant), f.entities, "4"); err == nil {
		t.Error("product 4 should be deleted")
	}
}

func TestOrders(t *testing.T) {
	f := newFixture(t)
	auth := []string{"X-Test-Subject", "u1"}

	if w := f.do(t, "GET", "/services/OrderService/query/GetOrders", ""); w.Code != 401 {
		t.Errorf("anonymous GetOrders status = %d, want 401", w.Code)
	}

	resp := f.submit(t, "OrderService", `{"entries":[
		{"id":1,"operation":"Insert","type":"Order","entity":{"number":"SO-1","customer":"ada"},"associations":{"lines":[2,3]}},
		{"id":2,"operation":"Insert","type":"OrderLine","entity":{"order_number":"SO-1","line":1,"product_id":1,"quantity":2}},
		{"id":3,"operation":"Insert","type":"OrderLine","entity":{"order_number":"SO-1","line":2,"product_id":3,"quantity":1}}
	]}`, auth...)
	if resp.HasError {
		t.Fatalf("order insert failed: %+v", resp.Entries)
	}

	w := f.do(t, "POST", "/services/OrderService/invoke/OrderTotal", `{"number":"SO-1"}`, auth...)
	if got := decode[struct{ Result float64 }](t, w).Result; got != 34 {
		t.Errorf("OrderTotal = %v, want 34", got)
	}

	w = f.do(t, "GET", "/services/OrderService/query/GetOrder?number=SO-1", "", auth...)
	order := decode[struct{ Results []*Order }](t, w).Results
	if len(order) != 1 || len(order[0].Lines) != 2 {
		t.Fatalf("GetOrder = %+v", order)
	}

	resp = f.submit(t, "OrderService", `{"entries":[
		{"id":1,"operation":"Insert","type":"OrderLine","entity":{"order_number":"SO-1","line":3,"product_id":4,"quantity":1}}
	]}`, auth...)
	if !resp.HasError {
		t.Error("a line for a discontinued product should be rejected")
	}
}

func TestOrderActions(t *testing.T) {
	f := newFixture(t)
	auth := []string{"X-Test-Subject", "u1"}
	f.submit(t, "OrderService", `{"entries":[
		{"id":1,"operation":"Insert","type":"Order","entity":{"number":"SO-2","customer":"bob"}}
	]}`, auth...)

	ship := `{"entries":[{"id":1,"operation":"Update","type":"Order",
		"entity":{"number":"SO-2","customer":"bob","status":0,"version":1},
		"entity_actions":[{"name":"Ship"}]}]}`
	if w := f.do(t, "POST", "/services/OrderService/submit", ship, auth...); w.Code != 403 {
		t.Errorf("Ship without fulfilment role status = %d, want 403", w.Code)
	}
	resp := f.submit(t, "OrderService", ship, "X-Test-Subject", "u1", "X-Test-Roles", RoleFulfilment)
	if resp.HasError {
		t.Fatalf("Ship failed: %+v", resp.Entries[0])
	}

	resp = f.submit(t, "OrderService", `{"entries":[{"id":1,"operation":"Update","type":"Order",
		"entity":{"number":"SO-2","customer":"bob","status":1,"version":1},
		"entity_actions":[{"name":"Cancel"}]}]}`, auth...)
	e := resp.Entries[0]
	if e.State != model.EntryValidationFailed {
		t.Errorf("cancel of a shipped order state = %v, want ValidationFailed", e.State)
	}
}
