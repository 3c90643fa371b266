package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/pitabwire/ria/internal/changeset"
	"github.com/pitabwire/ria/internal/typesys"
	"github.com/pitabwire/ria/model"
)

// Entities stores entity values in a document Store, scoped to the tenant
// of the request. It detects concurrency conflicts and persists change sets
// for the reconciler.
type Entities struct {
	docs     Store
	universe *typesys.Universe
}

// NewEntities creates an entity store. u must be the universe the catalog
// describes services with.
func NewEntities(docs Store, u *typesys.Universe) *Entities {
	return &Entities{docs: docs, universe: u}
}

// HealthCheck reports whether the underlying store is reachable.
func (s *Entities) HealthCheck(ctx context.Context) error {
	return s.docs.HealthCheck(ctx)
}

// KeyOf formats the key members of entity. Composite keys are joined with
// "|" in declaration order.
func KeyOf(t *typesys.Type, entity any) (string, error) {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return "", fmt.Errorf("%s: nil entity", t.Name)
		}
		v = v.Elem()
	}
	keys := t.KeyProperties()
	if len(keys) == 0 {
		return "", fmt.Errorf("%s has no key members", t.Name)
	}
	parts := make([]string, len(keys))
	for i, p := range keys {
		f, ok := changeset.FieldOf(v, t, p)
		if !ok {
			return "", fmt.Errorf("%s: key member %s is unreachable", t.Name, p.Name)
		}
		parts[i] = fmt.Sprint(f.Interface())
	}
	return strings.Join(parts, "|"), nil
}

// encode marshals entity without its association members, which are
// stored as documents of their own.
func encode(t *typesys.Type, entity any) (json.RawMessage, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", t.Name, err)
	}
	var assoc []string
	for _, p := range t.AllProperties() {
		if p.Association != nil {
			assoc = append(assoc, jsonName(p))
		}
	}
	if len(assoc) == 0 {
		return data, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", t.Name, err)
	}
	for _, name := range assoc {
		delete(fields, name)
	}
	return json.Marshal(fields)
}

func jsonName(p *typesys.Property) string {
	if p.JSONName != "" {
		return p.JSONName
	}
	return p.Name
}

func (s *Entities) document(ctx context.Context, entity any) (Document, *typesys.Type, error) {
	t := s.universe.FromReflect(reflect.TypeOf(entity))
	key, err := KeyOf(t, entity)
	if err != nil {
		return Document{}, nil, err
	}
	data, err := encode(t, entity)
	if err != nil {
		return Document{}, nil, err
	}
	return Document{TenantID: model.TenantFrom(ctx), TypeName: t.Name, Key: key, Data: data}, t, nil
}

// DetectConflict compares original with the stored entity of the same key.
func (s *Entities) DetectConflict(ctx context.Context, t *typesys.Type, original any) error {
	key, err := KeyOf(t, original)
	if err != nil {
		return err
	}
	doc, err := s.docs.Get(ctx, model.TenantFrom(ctx), t.Name, key)
	if isNotFound(err) {
		return model.ErrDeleteConflict
	}
	if err != nil {
		return err
	}

	stored := reflect.New(t.Reflect).Interface()
	if err := json.Unmarshal(doc.Data, stored); err != nil {
		return fmt.Errorf("decode stored %s %q: %w", t.Name, key, err)
	}
	if members := changeset.DiffMembers(t, stored, original); len(members) > 0 {
		return &model.ConflictError{Members: members, StoreEntity: stored}
	}
	return nil
}

// Persist writes the outcome of every entry in one atomic batch: inserts
// are created, updates overwrite and deletes remove.
func (s *Entities) Persist(ctx context.Context, cs *model.ChangeSet) error {
	var muts []Mutation
	for _, e := range cs.Entries() {
		var kind MutationKind
		switch e.Operation {
		case model.OperationInsert:
			kind = MutationCreate
		case model.OperationUpdate:
			kind = MutationPut
		case model.OperationDelete:
			kind = MutationDelete
		default:
			continue
		}
		doc, _, err := s.document(ctx, e.Entity)
		if err != nil {
			return fmt.Errorf("entry %d: %w", e.ID, err)
		}
		muts = append(muts, Mutation{Kind: kind, Document: doc})
	}
	if len(muts) == 0 {
		return nil
	}
	return s.docs.Apply(ctx, muts)
}

// Seed creates entities outside of a change set.
func (s *Entities) Seed(ctx context.Context, entities ...any) error {
	muts := make([]Mutation, 0, len(entities))
	for _, entity := range entities {
		doc, _, err := s.document(ctx, entity)
		if err != nil {
			return err
		}
		muts = append(muts, Mutation{Kind: MutationCreate, Document: doc})
	}
	return s.docs.Apply(ctx, muts)
}

// Load returns the stored entity of type T with the given formatted key.
func Load[T any](ctx context.Context, s *Entities, key string) (*T, error) {
	t := s.universe.FromReflect(reflect.TypeFor[T]())
	doc, err := s.docs.Get(ctx, model.TenantFrom(ctx), t.Name, key)
	if err != nil {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal(doc.Data, v); err != nil {
		return nil, fmt.Errorf("decode %s %q: %w", t.Name, key, err)
	}
	return v, nil
}

// LoadAll returns every stored entity of type T, ordered by key.
func LoadAll[T any](ctx context.Context, s *Entities) ([]*T, error) {
	t := s.universe.FromReflect(reflect.TypeFor[T]())
	docs, err := s.docs.List(ctx, model.TenantFrom(ctx), t.Name)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(docs))
	for _, doc := range docs {
		v := new(T)
		if err := json.Unmarshal(doc.Data, v); err != nil {
			return nil, fmt.Errorf("decode %s %q: %w", t.Name, doc.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func isNotFound(err error) bool {
	var env *model.ErrorEnvelope
	return errors.As(err, &env) && env.Code == model.ErrNotFound
}
