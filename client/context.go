package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/pitabwire/ria/model"
)

// DomainContext is the client side of one domain service. Generated
// contexts embed it and register one EntitySet per entity type.
type DomainContext struct {
	service   string
	transport Transport

	mu   sync.Mutex
	sets []trackedSet
}

// NewDomainContext creates a context for the named service.
func NewDomainContext(service string, transport Transport) *DomainContext {
	return &DomainContext{service: service, transport: transport}
}

// ServiceName returns the name of the service the context talks to.
func (dc *DomainContext) ServiceName() string { return dc.service }

// Register adds set to the entity sets tracked by dc and returns it.
func Register[T Identifiable](dc *DomainContext, set *EntitySet[T]) *EntitySet[T] {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.sets = append(dc.sets, set)
	return set
}

// Load runs a query and attaches the returned entities to set. It returns
// the tracked instances and the total count reported by the server, which
// is -1 when the query does not report one.
func Load[T Identifiable](ctx context.Context, dc *DomainContext, set *EntitySet[T], query string, params map[string]any) ([]T, int, error) {
	res, err := dc.transport.Query(ctx, dc.service, query, params)
	if err != nil {
		return nil, 0, err
	}
	var items []T
	if err := json.Unmarshal(res.Results, &items); err != nil {
		return nil, 0, fmt.Errorf("%s.%s: decoding results: %w", dc.service, query, err)
	}
	out := make([]T, len(items))
	for i, it := range items {
		if out[i], err = set.Attach(it); err != nil {
			return nil, 0, err
		}
	}
	return out, res.TotalCount, nil
}

// LoadSingle runs a query returning at most one entity. A query that
// finds nothing returns the zero value without error.
func LoadSingle[T Identifiable](ctx context.Context, dc *DomainContext, set *EntitySet[T], query string, params map[string]any) (T, error) {
	var zero T
	res, err := dc.transport.Query(ctx, dc.service, query, params)
	if err != nil {
		return zero, err
	}
	if isNull(res.Results) {
		return zero, nil
	}
	// Servers send singleton results as a one element array.
	var items []T
	if strings.HasPrefix(strings.TrimSpace(string(res.Results)), "[") {
		if err := json.Unmarshal(res.Results, &items); err != nil {
			return zero, fmt.Errorf("%s.%s: decoding result: %w", dc.service, query, err)
		}
	} else {
		var item T
		if err := json.Unmarshal(res.Results, &item); err != nil {
			return zero, fmt.Errorf("%s.%s: decoding result: %w", dc.service, query, err)
		}
		items = append(items, item)
	}
	switch len(items) {
	case 0:
		return zero, nil
	case 1:
		return set.Attach(items[0])
	default:
		return zero, fmt.Errorf("%s.%s: expected at most one result, got %d", dc.service, query, len(items))
	}
}

// Invoke calls an invoke operation and decodes its result.
func Invoke[R any](ctx context.Context, dc *DomainContext, operation string, params map[string]any) (R, error) {
	var result R
	raw, err := dc.transport.Invoke(ctx, dc.service, operation, params)
	if err != nil {
		return result, err
	}
	if isNull(raw) {
		return result, nil
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("%s.%s: decoding result: %w", dc.service, operation, err)
	}
	return result, nil
}

// InvokeVoid calls an invoke operation without a result.
func InvokeVoid(ctx context.Context, dc *DomainContext, operation string, params map[string]any) error {
	_, err := dc.transport.Invoke(ctx, dc.service, operation, params)
	return err
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// HasChanges reports whether any tracked entity has pending changes.
func (dc *DomainContext) HasChanges() bool {
	for _, s := range dc.trackedSets() {
		if len(s.changes()) > 0 {
			return true
		}
	}
	return false
}

func (dc *DomainContext) trackedSets() []trackedSet {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return append([]trackedSet(nil), dc.sets...)
}

// SubmitError is returned when the server rejected at least one entity.
// The rejected entities carry their validation errors and conflicts.
type SubmitError struct {
	Entities []Identifiable
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit rejected %d entities", len(e.Entities))
}

// SubmitChanges sends every pending change as one change set. On success
// the submitted values become the new originals; on rejection the pending
// changes are kept and a *SubmitError lists the rejected entities.
func (dc *DomainContext) SubmitChanges(ctx context.Context) error {
	sets := dc.trackedSets()
	var submitted []Identifiable
	req := &model.SubmitRequest{IdempotencyKey: uuid.NewString()}
	for _, s := range sets {
		for _, e := range s.changes() {
			w, err := toWire(len(submitted), s.TypeName(), e)
			if err != nil {
				return err
			}
			submitted = append(submitted, e)
			req.Entries = append(req.Entries, w)
		}
	}
	if len(submitted) == 0 {
		return nil
	}

	resp, err := dc.transport.Submit(ctx, dc.service, req)
	if err != nil {
		return err
	}

	var rejected []Identifiable
	for _, w := range resp.Entries {
		if w.ID < 0 || w.ID >= len(submitted) {
			return fmt.Errorf("%s: submit response names unknown entry %d", dc.service, w.ID)
		}
		e := submitted[w.ID]
		ent := e.entity()
		ent.clearErrors()
		ent.validationErrors = w.ValidationErrors
		ent.conflictMembers = w.ConflictMembers
		ent.deleteConflict = w.IsDeleteConflict
		if ent.HasError() {
			rejected = append(rejected, e)
		}
	}
	if resp.HasError || len(rejected) > 0 {
		return &SubmitError{Entities: rejected}
	}

	for _, w := range resp.Entries {
		if w.Operation == model.OperationDelete || isNull(w.Entity) {
			continue
		}
		if err := json.Unmarshal(w.Entity, submitted[w.ID]); err != nil {
			return fmt.Errorf("%s: entry %d: %w", dc.service, w.ID, err)
		}
	}

	var errs []error
	for _, s := range sets {
		errs = append(errs, s.accept())
	}
	return errors.Join(errs...)
}

func toWire(id int, typeName string, e Identifiable) (model.WireEntry, error) {
	ent := e.entity()
	w := model.WireEntry{
		ID:            id,
		TypeName:      typeName,
		EntityActions: ent.actions,
	}
	switch ent.state {
	case New:
		w.Operation = model.OperationInsert
	case Deleted:
		w.Operation = model.OperationDelete
		w.OriginalEntity = ent.original
	default:
		w.Operation = model.OperationUpdate
		w.OriginalEntity = ent.original
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return w, fmt.Errorf("%s: encoding entity: %w", typeName, err)
	}
	w.Entity = raw
	if w.Operation == model.OperationUpdate {
		w.HasMemberChanges = !jsonEqual(raw, ent.original)
	}
	return w, nil
}

func jsonEqual(a, b json.RawMessage) bool {
	return string(a) == string(b)
}
