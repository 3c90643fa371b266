package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// WebContext groups the domain contexts of one application.
type WebContext struct {
	name      string
	transport Transport

	mu       sync.Mutex
	contexts []*DomainContext
}

// NewWebContext creates an empty application context.
func NewWebContext(name string, transport Transport) *WebContext {
	return &WebContext{name: name, transport: transport}
}

// Name returns the application name.
func (w *WebContext) Name() string { return w.name }

// Transport returns the transport shared by the domain contexts.
func (w *WebContext) Transport() Transport { return w.transport }

// Register adds a domain context.
func (w *WebContext) Register(dc *DomainContext) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.contexts = append(w.contexts, dc)
}

// Contexts returns the registered domain contexts in registration order.
func (w *WebContext) Contexts() []*DomainContext {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*DomainContext(nil), w.contexts...)
}

// HasChanges reports whether any domain context has pending changes.
func (w *WebContext) HasChanges() bool {
	for _, dc := range w.Contexts() {
		if dc.HasChanges() {
			return true
		}
	}
	return false
}

// SubmitChanges submits the pending changes of every domain context. Each
// context is submitted separately; all failures are returned joined.
func (w *WebContext) SubmitChanges(ctx context.Context) error {
	var errs []error
	for _, dc := range w.Contexts() {
		if !dc.HasChanges() {
			continue
		}
		if err := dc.SubmitChanges(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dc.ServiceName(), err))
		}
	}
	return errors.Join(errs...)
}
