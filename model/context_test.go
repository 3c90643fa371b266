package model

import (
	"context"
	"slices"
	"testing"
)

func TestRequestContext_roles(t *testing.T) {
	rc := &RequestContext{SubjectID: "user-1", Roles: []string{"catalog-admin", "fulfilment"}}

	tests := []struct {
		name  string
		check func(*RequestContext) bool
		want  bool
	}{
		{"has role", func(rc *RequestContext) bool { return rc.HasRole("catalog-admin") }, true},
		{"missing role", func(rc *RequestContext) bool { return rc.HasRole("auditor") }, false},
		{"empty role", func(rc *RequestContext) bool { return rc.HasRole("") }, false},
		{"any of", func(rc *RequestContext) bool { return rc.HasAnyRole("auditor", "fulfilment") }, true},
		{"none of", func(rc *RequestContext) bool { return rc.HasAnyRole("auditor", "guest") }, false},
		{"any of nothing", func(rc *RequestContext) bool { return rc.HasAnyRole() }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(rc); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestContext_nilReceiver(t *testing.T) {
	var rc *RequestContext
	if rc.IsAuthenticated() || rc.HasRole("catalog-admin") || rc.HasAnyRole("catalog-admin") {
		t.Error("a nil RequestContext is anonymous and holds no roles")
	}
}

func TestRequestContext_IsAuthenticated(t *testing.T) {
	if (&RequestContext{TenantID: "acme"}).IsAuthenticated() {
		t.Error("context without subject should be anonymous")
	}
	if !(&RequestContext{SubjectID: "user-1"}).IsAuthenticated() {
		t.Error("context with subject should be authenticated")
	}
}

func TestRequestContext_WithRoles(t *testing.T) {
	rc := &RequestContext{SubjectID: "user-1", TenantID: "acme", Roles: []string{"shop-manager"}}
	expanded := rc.WithRoles([]string{"catalog-admin", "shop-manager"})

	if !slices.Equal(rc.Roles, []string{"shop-manager"}) {
		t.Errorf("original roles = %v, should be unchanged", rc.Roles)
	}
	if expanded.SubjectID != "user-1" || expanded.TenantID != "acme" || !expanded.HasRole("catalog-admin") {
		t.Errorf("expanded = %+v", expanded)
	}
}

func TestRequestContextFrom(t *testing.T) {
	if RequestContextFrom(context.Background()) != nil {
		t.Error("empty context should carry no RequestContext")
	}
	rc := &RequestContext{SubjectID: "user-1", TenantID: "acme"}
	ctx := WithRequestContext(context.Background(), rc)
	if RequestContextFrom(ctx) != rc {
		t.Error("RequestContextFrom should return the attached context")
	}
}

func TestTenantFrom(t *testing.T) {
	if got := TenantFrom(context.Background()); got != "" {
		t.Errorf("TenantFrom(empty) = %q", got)
	}
	ctx := WithRequestContext(context.Background(), &RequestContext{TenantID: "acme"})
	if got := TenantFrom(ctx); got != "acme" {
		t.Errorf("TenantFrom = %q, want acme", got)
	}
}
