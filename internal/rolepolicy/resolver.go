package rolepolicy

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/ria/model"
)

// Expander computes the effective roles implied by granted roles.
type Expander interface {
	Expand(roles []string) []string
}

type cacheEntry struct {
	roles   []string
	expires time.Time
}

// Resolver caches the effective roles of callers. A zero TTL disables
// caching.
type Resolver struct {
	policy Expander
	ttl    time.Duration
	mu     sync.RWMutex
	cache  map[string]cacheEntry
}

// NewResolver creates a Resolver over policy.
func NewResolver(policy Expander, ttl time.Duration) *Resolver {
	return &Resolver{
		policy: policy,
		ttl:    ttl,
		cache:  make(map[string]cacheEntry),
	}
}

// The granted roles are part of the key so a refreshed token with new
// roles is never served stale grants.
func cacheKey(rctx *model.RequestContext) string {
	granted := slices.Clone(rctx.Roles)
	slices.Sort(granted)
	return rctx.SubjectID + ":" + rctx.TenantID + ":" + strings.Join(granted, ",")
}

// Resolve returns the effective roles of the caller.
func (r *Resolver) Resolve(rctx *model.RequestContext) []string {
	if r.ttl <= 0 {
		return r.policy.Expand(rctx.Roles)
	}
	key := cacheKey(rctx)

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expires) {
		r.mu.RUnlock()
		return entry.roles
	}
	r.mu.RUnlock()

	roles := r.policy.Expand(rctx.Roles)

	r.mu.Lock()
	r.cache[key] = cacheEntry{roles: roles, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return roles
}

// Invalidate clears cached roles for the given user and tenant.
func (r *Resolver) Invalidate(subjectID, tenantID string) {
	prefix := subjectID + ":" + tenantID + ":"
	r.mu.Lock()
	for key := range r.cache {
		if strings.HasPrefix(key, prefix) {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
}

// Reload re-reads the policy and drops every cached expansion.
func (r *Resolver) Reload() error {
	if s, ok := r.policy.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
	return nil
}
