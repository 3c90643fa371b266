// Package store persists entities as JSON documents keyed by tenant, entity
// type and key.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Document is one stored entity.
type Document struct {
	TenantID  string
	TypeName  string
	Key       string
	Version   string
	Data      json.RawMessage
	UpdatedAt time.Time
}

// MutationKind selects what a Mutation does.
type MutationKind int

// Mutation kinds.
const (
	MutationPut MutationKind = iota
	MutationCreate
	MutationDelete
)

// Mutation is one write applied by Store.Apply.
type Mutation struct {
	Kind     MutationKind
	Document Document
}

// Store persists documents.
type Store interface {
	// Get retrieves a document. Returns NOT_FOUND if it does not exist for
	// the tenant.
	Get(ctx context.Context, tenantID, typeName, key string) (Document, error)

	// List returns every document of a type for a tenant, ordered by key.
	List(ctx context.Context, tenantID, typeName string) ([]Document, error)

	// Apply performs all mutations atomically. A create of an existing
	// document fails with CONFLICT and a delete of a missing one with
	// NOT_FOUND; either leaves the store unchanged. Every written document
	// receives a new version.
	Apply(ctx context.Context, muts []Mutation) error

	// HealthCheck reports whether the store is reachable.
	HealthCheck(ctx context.Context) error
}
