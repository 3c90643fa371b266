package model

import (
	"context"
	"slices"
)

// RequestContext carries the caller identity and tracing information for
// the lifetime of a request. It is immutable after construction and safe for
// concurrent reads.
type RequestContext struct {
	SubjectID     string
	Email         string
	TenantID      string
	Roles         []string
	Claims        map[string]any
	CorrelationID string
	TraceID       string
}

// IsAuthenticated reports whether the context carries a verified subject.
func (rc *RequestContext) IsAuthenticated() bool {
	return rc != nil && rc.SubjectID != ""
}

// HasRole reports whether the caller holds role.
func (rc *RequestContext) HasRole(role string) bool {
	return rc != nil && slices.Contains(rc.Roles, role)
}

// HasAnyRole reports whether the caller holds at least one of roles.
func (rc *RequestContext) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, rc.HasRole)
}

// WithRoles returns a copy of rc holding roles instead of its own.
func (rc *RequestContext) WithRoles(roles []string) *RequestContext {
	out := *rc
	out.Roles = roles
	return &out
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns
// nil if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// TenantFrom returns the tenant of the caller in ctx. Anonymous callers
// and contexts without a RequestContext have no tenant.
func TenantFrom(ctx context.Context) string {
	if rctx := RequestContextFrom(ctx); rctx != nil {
		return rctx.TenantID
	}
	return ""
}
