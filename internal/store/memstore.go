package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/ria/model"
)

type docKey struct {
	tenantID, typeName, key string
}

// MemoryStore is an in-memory Store for tests and single-process hosts.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[docKey]Document
	now  func() time.Time
}

// NewMemoryStore creates a new in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[docKey]Document),
		now:  time.Now,
	}
}

// Get retrieves a document.
func (s *MemoryStore) Get(_ context.Context, tenantID, typeName, key string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[docKey{tenantID, typeName, key}]
	if !ok {
		return Document{}, notFound(typeName, key)
	}
	return doc, nil
}

// List returns every document of a type for a tenant, ordered by key.
func (s *MemoryStore) List(_ context.Context, tenantID, typeName string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Document
	for k, doc := range s.docs {
		if k.tenantID == tenantID && k.typeName == typeName {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Apply performs all mutations or none.
func (s *MemoryStore) Apply(_ context.Context, muts []Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check against the state the batch would see so that a create after a
	// delete of the same document in one batch succeeds.
	exists := func(k docKey) bool {
		_, ok := s.docs[k]
		return ok
	}
	pending := make(map[docKey]bool)
	for _, m := range muts {
		d := m.Document
		k := docKey{d.TenantID, d.TypeName, d.Key}
		present, seen := pending[k]
		if !seen {
			present = exists(k)
		}
		switch m.Kind {
		case MutationCreate:
			if present {
				return model.NewConflictError(fmt.Sprintf("%s %q already exists", d.TypeName, d.Key))
			}
			pending[k] = true
		case MutationPut:
			pending[k] = true
		case MutationDelete:
			if !present {
				return notFound(d.TypeName, d.Key)
			}
			pending[k] = false
		}
	}

	now := s.now().UTC()
	for _, m := range muts {
		d := m.Document
		k := docKey{d.TenantID, d.TypeName, d.Key}
		if m.Kind == MutationDelete {
			delete(s.docs, k)
			continue
		}
		d.Version = uuid.NewString()
		d.UpdatedAt = now
		s.docs[k] = d
	}
	return nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}

// Len returns the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func notFound(typeName, key string) error {
	return model.NewNotFoundError(fmt.Sprintf("%s %q not found", typeName, key))
}
